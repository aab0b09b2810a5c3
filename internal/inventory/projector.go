package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultLowStockThreshold matches the dashboard's low stock band of 1-5 units.
var DefaultLowStockThreshold = decimal.NewFromInt(5)

// Projector derives stock status and rebuilds projections from the ledger.
type Projector struct {
	policy   ZeroStockPolicy
	lowStock decimal.Decimal
}

// NewProjector builds a Projector. A non-positive threshold falls back to the default.
func NewProjector(policy ZeroStockPolicy, lowStock decimal.Decimal) Projector {
	if !lowStock.IsPositive() {
		lowStock = DefaultLowStockThreshold
	}
	if policy == "" {
		policy = RetainCost
	}
	return Projector{policy: policy, lowStock: lowStock}
}

// Policy returns the zero-stock cost policy.
func (p Projector) Policy() ZeroStockPolicy {
	return p.policy
}

// LowStockThreshold returns the upper bound of the low stock band.
func (p Projector) LowStockThreshold() decimal.Decimal {
	return p.lowStock
}

// Classify maps a stock quantity to its status.
func (p Projector) Classify(stock decimal.Decimal) StockStatus {
	switch {
	case !stock.IsPositive():
		return StockOut
	case stock.LessThanOrEqual(p.lowStock):
		return StockLow
	default:
		return StockIn
	}
}

// Replay folds the ordered ledger of one product into its final position and
// reports the seq of the first stored entry whose balance chain disagrees with
// the replay (0 when the chain is intact).
func (p Projector) Replay(entries []LedgerEntry) (Position, int64, error) {
	var pos Position
	var chainBreak int64
	for i, entry := range entries {
		var mv Movement
		var err error
		if entry.Direction == DirectionRevalue {
			mv, err = pos.Revalue(entry.AverageCostAfter)
		} else {
			mv, err = pos.Apply(entry.Direction, entry.Qty, entry.Amount, p.policy)
		}
		if err != nil {
			return Position{}, 0, fmt.Errorf("inventory: replay seq %d: %w", entry.Seq, err)
		}
		pos = mv.After
		if chainBreak == 0 && !chainMatches(entry, int64(i+1), pos) {
			chainBreak = entry.Seq
		}
	}
	return pos, chainBreak, nil
}

func chainMatches(entry LedgerEntry, seq int64, pos Position) bool {
	return entry.Seq == seq &&
		entry.Balance.Equal(pos.Stock) &&
		entry.AverageCostAfter.Equal(pos.AverageCost)
}
