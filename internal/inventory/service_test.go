package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/testing/memstore"
)

var fixedNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type recordingMetrics struct {
	mu         sync.Mutex
	appended   map[string]int
	rejected   map[string]int
	recomputed []bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{appended: map[string]int{}, rejected: map[string]int{}}
}

func (m *recordingMetrics) LedgerAppended(direction string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended[direction]++
}

func (m *recordingMetrics) StockRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) Recomputed(drifted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputed = append(m.recomputed, drifted)
}

type fixture struct {
	store   *memstore.Store
	audit   *memstore.AuditRecorder
	metrics *recordingMetrics
	svc     *inventory.Service
}

func newFixture(t *testing.T, policy inventory.ZeroStockPolicy) fixture {
	t.Helper()
	store := memstore.New()
	audit := &memstore.AuditRecorder{}
	metrics := newRecordingMetrics()
	svc := inventory.NewService(store.Inventory(), audit, metrics, inventory.ServiceConfig{
		ZeroStockPolicy: policy,
		Clock:           func() time.Time { return fixedNow },
	}, nil)
	return fixture{store: store, audit: audit, metrics: metrics, svc: svc}
}

func (f fixture) product(t *testing.T, name string) inventory.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), inventory.ProductInput{Name: name, SellingPrice: dec("200")})
	require.NoError(t, err)
	return p
}

func (f fixture) move(t *testing.T, id uuid.UUID, dir inventory.Direction, qty, price string) inventory.LedgerEntry {
	t.Helper()
	entry, err := f.svc.Append(context.Background(), inventory.AppendInput{
		ProductID: id,
		Direction: dir,
		Qty:       dec(qty),
		UnitPrice: dec(price),
	})
	require.NoError(t, err)
	return entry
}

func TestCreateProductDefaults(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()

	p, err := f.svc.CreateProduct(ctx, inventory.ProductInput{Name: "  Gula Pasir ", SKU: "GP-1"})
	require.NoError(t, err)
	require.Equal(t, "Gula Pasir", p.Name)
	require.Equal(t, "pcs", p.BaseUnit)
	require.True(t, p.Stock.IsZero())
	require.True(t, p.AverageCost.IsZero())
	require.Equal(t, inventory.ProductActive, p.Status)

	_, err = f.svc.CreateProduct(ctx, inventory.ProductInput{Name: "Other", SKU: "GP-1"})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = f.svc.CreateProduct(ctx, inventory.ProductInput{Name: " "})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateProduct(ctx, inventory.ProductInput{Name: "Neg", SellingPrice: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Equal(t, []string{"product:create"}, f.audit.Actions())
}

func TestAppendMovingAverage(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")

	first := f.move(t, p.ID, inventory.DirectionIn, "10", "100")
	require.Equal(t, int64(1), first.Seq)
	require.True(t, first.Balance.Equal(dec("10")))

	second := f.move(t, p.ID, inventory.DirectionIn, "10", "140")
	require.Equal(t, int64(2), second.Seq)
	require.True(t, second.AverageCostAfter.Equal(dec("120")))

	sale := f.move(t, p.ID, inventory.DirectionOut, "5", "200")
	require.Equal(t, int64(3), sale.Seq)
	require.True(t, sale.CostBasis.Equal(dec("120")))
	require.True(t, sale.COGS.Equal(dec("600")))
	require.True(t, sale.Amount.Equal(dec("1000")))
	require.True(t, sale.UnitPrice.Equal(dec("200")))
	require.True(t, sale.Balance.Equal(dec("15")))
	require.True(t, sale.SignedQty().Equal(dec("-5")))

	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("15")))
	require.True(t, got.AverageCost.Equal(dec("120")))
	require.False(t, got.NeedsRecalculation)

	require.Equal(t, 2, f.metrics.appended["IN"])
	require.Equal(t, 1, f.metrics.appended["OUT"])
}

func TestAppendWithPurchaseTotal(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	p := f.product(t, "Minyak")
	total := dec("100")

	entry, err := f.svc.Append(context.Background(), inventory.AppendInput{
		ProductID: p.ID,
		Direction: inventory.DirectionIn,
		Qty:       dec("3"),
		Amount:    &total,
	})
	require.NoError(t, err)
	require.True(t, entry.Amount.Equal(dec("100")))
	require.True(t, entry.UnitPrice.Equal(dec("33.3333")), entry.UnitPrice.String())
	require.True(t, entry.AverageCostAfter.Equal(dec("33.3333")))
}

func TestAppendRejectsInsufficientStock(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Kopi")
	f.move(t, p.ID, inventory.DirectionIn, "2", "50")

	_, err := f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: inventory.DirectionOut, Qty: dec("3"), UnitPrice: dec("80")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var stockErr *inventory.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "Kopi", stockErr.ProductName)
	require.True(t, stockErr.Available.Equal(dec("2")))
	require.True(t, stockErr.Requested.Equal(dec("3")))

	require.Len(t, f.store.Entries(p.ID), 1)
	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("2")))
	require.Equal(t, 1, f.metrics.rejected["insufficient_stock"])
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Teh")

	_, err := f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: inventory.DirectionIn, Qty: dec("0"), UnitPrice: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: inventory.DirectionIn, Qty: dec("0.00001"), UnitPrice: dec("1")})
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: "MOVE", Qty: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: inventory.DirectionIn, Qty: dec("1"), UnitPrice: dec("-1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Append(ctx, inventory.AppendInput{ProductID: uuid.New(), Direction: inventory.DirectionIn, Qty: dec("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, f.store.Entries(p.ID))
	require.Equal(t, 2, f.metrics.rejected["invalid_quantity"])
}

func TestZeroStockRetainFlagsProduct(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Sabun")
	f.move(t, p.ID, inventory.DirectionIn, "4", "25")
	f.move(t, p.ID, inventory.DirectionOut, "4", "40")

	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.IsZero())
	require.True(t, got.AverageCost.Equal(dec("25")))
	require.True(t, got.NeedsRecalculation)
	require.ErrorIs(t, got.Staleness(), shared.ErrRecalculationRequired)

	res, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, res.Drifted)

	got, err = f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, got.NeedsRecalculation)
	require.True(t, got.AverageCost.Equal(dec("25")))
}

func TestZeroStockResetClearsCost(t *testing.T) {
	f := newFixture(t, inventory.ResetCost)
	ctx := context.Background()
	p := f.product(t, "Sabun")
	f.move(t, p.ID, inventory.DirectionIn, "4", "25")
	f.move(t, p.ID, inventory.DirectionOut, "4", "40")

	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.AverageCost.IsZero())
	require.False(t, got.NeedsRecalculation)

	f.move(t, p.ID, inventory.DirectionIn, "2", "30")
	got, err = f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.AverageCost.Equal(dec("30")))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")
	f.move(t, p.ID, inventory.DirectionIn, "10", "140")
	f.move(t, p.ID, inventory.DirectionOut, "5", "200")

	first, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	second, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)

	require.Equal(t, 3, first.Entries)
	require.False(t, first.Drifted)
	require.True(t, first.Stock.Equal(second.Stock))
	require.True(t, first.AverageCost.Equal(second.AverageCost))
	require.True(t, second.Stock.Equal(dec("15")))
	require.True(t, second.AverageCost.Equal(dec("120")))
	require.Equal(t, []bool{false, false}, f.metrics.recomputed)
}

func TestRecomputeCorrectsDrift(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Garam")
	f.move(t, p.ID, inventory.DirectionIn, "8", "10")

	f.store.Tamper(p.ID, func(p *inventory.Product) {
		p.Stock = dec("99")
		p.AverageCost = dec("1")
	})

	res, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, res.Drifted)
	require.True(t, res.PreviousStock.Equal(dec("99")))
	require.True(t, res.Stock.Equal(dec("8")))
	require.True(t, res.AverageCost.Equal(dec("10")))
	require.Zero(t, res.ChainBreak)

	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("8")))
	require.True(t, got.AverageCost.Equal(dec("10")))

	again, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, again.Drifted)
	require.Contains(t, f.audit.Actions(), "product:recompute")
}

func TestRecomputeFlaggedSweepsOnlyFlagged(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	emptied := f.product(t, "Habis")
	f.move(t, emptied.ID, inventory.DirectionIn, "1", "10")
	f.move(t, emptied.ID, inventory.DirectionOut, "1", "15")
	stocked := f.product(t, "Ada")
	f.move(t, stocked.ID, inventory.DirectionIn, "3", "10")

	results, err := f.svc.RecomputeFlagged(ctx, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, emptied.ID, results[0].ProductID)

	results, err = f.svc.RecomputeFlagged(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestUpdateStockOverrideWritesCompensatingEntry(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")
	f.move(t, p.ID, inventory.DirectionIn, "10", "140")
	f.move(t, p.ID, inventory.DirectionOut, "5", "200")

	target := dec("20")
	name := "Beras Premium"
	got, err := f.svc.UpdateProduct(ctx, p.ID, inventory.ProductUpdate{Name: &name, Stock: &target})
	require.NoError(t, err)
	require.Equal(t, "Beras Premium", got.Name)
	require.True(t, got.Stock.Equal(dec("20")))
	require.True(t, got.AverageCost.Equal(dec("120")))
	require.True(t, got.NeedsRecalculation)

	entries := f.store.Entries(p.ID)
	require.Len(t, entries, 4)
	adj := entries[3]
	require.Equal(t, inventory.DirectionIn, adj.Direction)
	require.True(t, adj.Qty.Equal(dec("5")))
	require.Equal(t, "manual stock adjustment", adj.Note)

	down := dec("12")
	got, err = f.svc.UpdateProduct(ctx, p.ID, inventory.ProductUpdate{Stock: &down, Note: "stock opname"})
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("12")))
	entries = f.store.Entries(p.ID)
	require.Len(t, entries, 5)
	require.Equal(t, inventory.DirectionOut, entries[4].Direction)
	require.True(t, entries[4].COGS.Equal(dec("960")))
	require.Equal(t, "stock opname", entries[4].Note)

	res, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, res.Drifted)
	require.True(t, res.Stock.Equal(dec("12")))
}

func TestUpdateStockOverrideWithoutChangeWritesNothing(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")

	same := dec("10")
	got, err := f.svc.UpdateProduct(context.Background(), p.ID, inventory.ProductUpdate{Stock: &same})
	require.NoError(t, err)
	require.False(t, got.NeedsRecalculation)
	require.Len(t, f.store.Entries(p.ID), 1)

	negative := dec("-1")
	_, err = f.svc.UpdateProduct(context.Background(), p.ID, inventory.ProductUpdate{Stock: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateAverageCostOverrideValuesLaterSales(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")

	cost := dec("150")
	got, err := f.svc.UpdateProduct(ctx, p.ID, inventory.ProductUpdate{AverageCost: &cost})
	require.NoError(t, err)
	require.True(t, got.AverageCost.Equal(dec("150")))
	require.True(t, got.NeedsRecalculation)

	entries := f.store.Entries(p.ID)
	require.Len(t, entries, 2)
	reval := entries[1]
	require.Equal(t, inventory.DirectionRevalue, reval.Direction)
	require.True(t, reval.Qty.Equal(dec("10")))
	require.True(t, reval.Balance.Equal(dec("10")))
	require.True(t, reval.AverageCostAfter.Equal(dec("150")))
	require.True(t, reval.SignedQty().IsZero())

	sale := f.move(t, p.ID, inventory.DirectionOut, "1", "200")
	require.True(t, sale.CostBasis.Equal(dec("150")))
	require.True(t, sale.COGS.Equal(dec("150")))

	after, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, after.Stock.Equal(dec("9")))
	require.True(t, after.AverageCost.Equal(dec("150")))

	res, err := f.svc.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, res.Drifted)
	require.True(t, res.AverageCost.Equal(dec("150")))
	require.True(t, res.Stock.Equal(dec("9")))
	require.Equal(t, 1, f.metrics.appended[string(inventory.DirectionRevalue)])
}

func TestUpdateAverageCostOverrideAtZeroStock(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")
	f.move(t, p.ID, inventory.DirectionOut, "10", "200")

	cost := dec("80")
	got, err := f.svc.UpdateProduct(ctx, p.ID, inventory.ProductUpdate{AverageCost: &cost})
	require.NoError(t, err)
	require.True(t, got.AverageCost.Equal(dec("80")))
	require.True(t, got.NeedsRecalculation)
	require.Len(t, f.store.Entries(p.ID), 2)

	entry := f.move(t, p.ID, inventory.DirectionIn, "4", "50")
	require.True(t, entry.AverageCostAfter.Equal(dec("50")))
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()

	unused := f.product(t, "Unused")
	deactivated, err := f.svc.DeleteProduct(ctx, unused.ID)
	require.NoError(t, err)
	require.False(t, deactivated)
	_, err = f.svc.GetProduct(ctx, unused.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	used := f.product(t, "Used")
	f.move(t, used.ID, inventory.DirectionIn, "1", "10")
	deactivated, err = f.svc.DeleteProduct(ctx, used.ID)
	require.NoError(t, err)
	require.True(t, deactivated)

	got, err := f.svc.GetProduct(ctx, used.ID)
	require.NoError(t, err)
	require.Equal(t, inventory.ProductInactive, got.Status)
	require.Len(t, f.store.Entries(used.ID), 1)

	_, err = f.svc.Append(ctx, inventory.AppendInput{ProductID: used.ID, Direction: inventory.DirectionIn, Qty: dec("1"), UnitPrice: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	list, err := f.svc.ListProducts(ctx, inventory.ProductFilter{})
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = f.svc.DeleteProduct(ctx, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListProductsByStatus(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	out := f.product(t, "Alpha")
	low := f.product(t, "Bravo")
	f.move(t, low.ID, inventory.DirectionIn, "5", "1")
	plenty := f.product(t, "Charlie")
	f.move(t, plenty.ID, inventory.DirectionIn, "50", "1")

	all, err := f.svc.ListProducts(ctx, inventory.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "Alpha", all[0].Name)

	lows, err := f.svc.ListProducts(ctx, inventory.ProductFilter{Status: inventory.FilterLowStock})
	require.NoError(t, err)
	require.Len(t, lows, 1)
	require.Equal(t, low.ID, lows[0].ID)

	outs, err := f.svc.ListProducts(ctx, inventory.ProductFilter{Status: inventory.FilterOutOfStock})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, out.ID, outs[0].ID)

	stats, err := f.svc.ProductStats(ctx)
	require.NoError(t, err)
	require.Equal(t, inventory.ProductStats{Total: 3, LowStock: 1, OutOfStock: 1}, stats)

	inv, err := f.svc.InventoryStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, inv.TotalProducts)
	require.True(t, inv.TotalStockValue.Equal(dec("55")))

	found, err := f.svc.SearchProducts(ctx, "rav", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)

	none, err := f.svc.SearchProducts(ctx, "  ", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestEntriesForNewestFirst(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Beras")
	f.move(t, p.ID, inventory.DirectionIn, "10", "100")
	f.move(t, p.ID, inventory.DirectionOut, "1", "150")

	views, err := f.svc.EntriesFor(ctx, p.ID, shared.Page{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, int64(2), views[0].Seq)
	require.Equal(t, "Beras", views[0].ProductName)
	require.Equal(t, "pcs", views[0].ProductUnit)

	recent, err := f.svc.RecentAcrossProducts(ctx, shared.Page{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, int64(2), recent[0].Seq)

	_, err = f.svc.EntriesFor(ctx, uuid.New(), shared.Page{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestConcurrentSalesNeverOverdraw(t *testing.T) {
	f := newFixture(t, inventory.RetainCost)
	ctx := context.Background()
	p := f.product(t, "Limited")
	f.move(t, p.ID, inventory.DirectionIn, "10", "5")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Append(ctx, inventory.AppendInput{ProductID: p.ID, Direction: inventory.DirectionOut, Qty: dec("1"), UnitPrice: dec("9")})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, shared.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, ok)
	require.Equal(t, 15, rejected)
	entries := f.store.Entries(p.ID)
	require.Len(t, entries, 11)
	for i, e := range entries {
		require.Equal(t, int64(i+1), e.Seq)
	}
	got, err := f.svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.IsZero())
}
