package inventory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	p := NewProjector(RetainCost, decimal.Zero)
	require.True(t, p.LowStockThreshold().Equal(DefaultLowStockThreshold))

	require.Equal(t, StockOut, p.Classify(dec("0")))
	require.Equal(t, StockOut, p.Classify(dec("-1")))
	require.Equal(t, StockLow, p.Classify(dec("1")))
	require.Equal(t, StockLow, p.Classify(dec("5")))
	require.Equal(t, StockIn, p.Classify(dec("5.0001")))
}

// buildLedger applies movements incrementally, the way AppendTx does, and
// returns the stored entries.
func buildLedger(t *testing.T, policy ZeroStockPolicy, moves []struct {
	dir    Direction
	qty    string
	amount string
}) ([]LedgerEntry, Position) {
	t.Helper()
	var pos Position
	productID := uuid.New()
	entries := make([]LedgerEntry, 0, len(moves))
	for i, m := range moves {
		mv, err := pos.Apply(m.dir, dec(m.qty), dec(m.amount), policy)
		require.NoError(t, err)
		pos = mv.After
		entries = append(entries, LedgerEntry{
			ID:               uuid.New(),
			ProductID:        productID,
			Seq:              int64(i + 1),
			Direction:        m.dir,
			Qty:              dec(m.qty),
			Amount:           dec(m.amount),
			Balance:          pos.Stock,
			AverageCostAfter: pos.AverageCost,
			CostBasis:        mv.CostBasis,
			COGS:             mv.COGS,
		})
	}
	return entries, pos
}

func sampleMoves() []struct {
	dir    Direction
	qty    string
	amount string
} {
	return []struct {
		dir    Direction
		qty    string
		amount string
	}{
		{DirectionIn, "10", "1000"},
		{DirectionIn, "10", "1400"},
		{DirectionOut, "5", "1000"},
		{DirectionOut, "15", "2500"},
		{DirectionIn, "3", "333.33"},
	}
}

func TestReplayMatchesIncremental(t *testing.T) {
	for _, policy := range []ZeroStockPolicy{RetainCost, ResetCost} {
		t.Run(string(policy), func(t *testing.T) {
			entries, incremental := buildLedger(t, policy, sampleMoves())
			pos, chainBreak, err := NewProjector(policy, decimal.Zero).Replay(entries)
			require.NoError(t, err)
			require.Zero(t, chainBreak)
			require.True(t, pos.Stock.Equal(incremental.Stock))
			require.True(t, pos.AverageCost.Equal(incremental.AverageCost))
		})
	}
}

func TestReplayPolicyChangesCarry(t *testing.T) {
	_, retained := buildLedger(t, RetainCost, sampleMoves())
	_, reset := buildLedger(t, ResetCost, sampleMoves())
	require.True(t, retained.Stock.Equal(reset.Stock))
	// retain: (0*120 + 333.33) / 3; reset starts from zero cost as well.
	require.True(t, retained.AverageCost.Equal(dec("111.11")), retained.AverageCost.String())
	require.True(t, reset.AverageCost.Equal(dec("111.11")), reset.AverageCost.String())
}

func TestReplayReportsChainBreak(t *testing.T) {
	entries, _ := buildLedger(t, RetainCost, sampleMoves())
	entries[2].Balance = dec("14")

	pos, chainBreak, err := NewProjector(RetainCost, decimal.Zero).Replay(entries)
	require.NoError(t, err)
	require.Equal(t, int64(3), chainBreak)
	require.True(t, pos.Stock.Equal(dec("3")))
}

func TestReplayEmptyLedger(t *testing.T) {
	pos, chainBreak, err := NewProjector(RetainCost, decimal.Zero).Replay(nil)
	require.NoError(t, err)
	require.Zero(t, chainBreak)
	require.True(t, pos.Stock.IsZero())
	require.True(t, pos.AverageCost.IsZero())
}

func TestReplayFailsOnOverdraw(t *testing.T) {
	entries := []LedgerEntry{{Seq: 1, Direction: DirectionOut, Qty: dec("1")}}
	_, _, err := NewProjector(RetainCost, decimal.Zero).Replay(entries)
	require.Error(t, err)
}

func TestReplayHonoursRevaluation(t *testing.T) {
	entries := []LedgerEntry{
		{Seq: 1, Direction: DirectionIn, Qty: dec("10"), Amount: dec("1000"), Balance: dec("10"), AverageCostAfter: dec("100")},
		{Seq: 2, Direction: DirectionRevalue, Qty: dec("10"), Amount: dec("1500"), Balance: dec("10"), AverageCostAfter: dec("150")},
		{Seq: 3, Direction: DirectionOut, Qty: dec("4"), Balance: dec("6"), AverageCostAfter: dec("150")},
	}
	pos, chainBreak, err := NewProjector(RetainCost, decimal.Zero).Replay(entries)
	require.NoError(t, err)
	require.Zero(t, chainBreak)
	require.True(t, pos.Stock.Equal(dec("6")))
	require.True(t, pos.AverageCost.Equal(dec("150")))
}
