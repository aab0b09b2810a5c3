package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventoryRecompute rebuilds cached stock projections from the ledger.
	TaskInventoryRecompute = "inventory:recompute"
	// DefaultRecomputeLimit bounds a sweep when the payload omits a limit.
	DefaultRecomputeLimit = 200
)

// RecomputePayload scopes a recompute run. Without a product id the run
// sweeps products flagged for recalculation.
type RecomputePayload struct {
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Limit     int        `json:"limit"`
}

// NewRecomputeTask constructs an Asynq task for a recompute run.
func NewRecomputeTask(productID *uuid.UUID, limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = DefaultRecomputeLimit
	}
	body, err := json.Marshal(RecomputePayload{ProductID: productID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventoryRecompute, body, asynq.Queue(QueueDefault)), nil
}
