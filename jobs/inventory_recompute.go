package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Recomputer rebuilds projections; *inventory.Service satisfies it.
type Recomputer interface {
	Recompute(ctx context.Context, id uuid.UUID) (inventory.RecomputeResult, error)
	RecomputeFlagged(ctx context.Context, limit int) ([]inventory.RecomputeResult, error)
}

// Locker obtains distributed locks; *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// RecomputeSummary reports the outcome of a run.
type RecomputeSummary struct {
	Skipped  bool
	Products int
	Drifted  int
}

// RecomputeJob runs recompute tasks under a redis lock.
type RecomputeJob struct {
	Service Recomputer
	Locker  Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
	Limit   int
}

// NewRecomputeJob constructs the job handler.
func NewRecomputeJob(service Recomputer, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics, limit int) *RecomputeJob {
	if limit <= 0 {
		limit = DefaultRecomputeLimit
	}
	return &RecomputeJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		LockTTL: 5 * time.Minute,
		Limit:   limit,
	}
}

// Handle executes an inventory:recompute task.
func (j *RecomputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload RecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run executes a recompute run. A run whose lock is already held by another
// worker is skipped without error.
func (j *RecomputeJob) Run(ctx context.Context, payload RecomputePayload) (summary RecomputeSummary, err error) {
	if j == nil || j.Service == nil {
		return summary, errors.New("inventory recompute: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskInventoryRecompute)
	defer func() {
		err = tracker.End(err)
	}()

	key := shared.InventoryRecomputeLockKey()
	if payload.ProductID != nil {
		key = shared.ProductRecomputeLockKey(payload.ProductID.String())
	}
	if j.Locker != nil {
		lock, lockErr := j.Locker.Obtain(ctx, key, j.lockTTL(), nil)
		if errors.Is(lockErr, redislock.ErrNotObtained) {
			j.log().Info("recompute already running, skipping", slog.String("lock", key))
			summary.Skipped = true
			return summary, nil
		}
		if lockErr != nil {
			return summary, lockErr
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
				j.log().Warn("release recompute lock", slog.String("lock", key), slog.Any("error", relErr))
			}
		}()
	}

	var results []inventory.RecomputeResult
	if payload.ProductID != nil {
		var res inventory.RecomputeResult
		if res, err = j.Service.Recompute(ctx, *payload.ProductID); err == nil {
			results = []inventory.RecomputeResult{res}
		}
	} else {
		limit := payload.Limit
		if limit <= 0 {
			limit = j.Limit
		}
		// Partial results are kept when some products fail.
		results, err = j.Service.RecomputeFlagged(ctx, limit)
	}

	summary.Products = len(results)
	for _, res := range results {
		if res.Drifted {
			summary.Drifted++
		}
	}
	j.Metrics.AddDrift(TaskInventoryRecompute, summary.Drifted)
	if err != nil {
		j.log().Error("inventory recompute", slog.Int("recomputed", summary.Products), slog.Any("error", err))
		return summary, err
	}
	j.log().Info("inventory recompute completed",
		slog.Int("products", summary.Products),
		slog.Int("drifted", summary.Drifted))
	return summary, nil
}

func (j *RecomputeJob) lockTTL() time.Duration {
	if j.LockTTL <= 0 {
		return 5 * time.Minute
	}
	return j.LockTTL
}

func (j *RecomputeJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
