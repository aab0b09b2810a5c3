//go:build integration

package app_test

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/testing/pgtest"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newServices(t *testing.T) (*app.Services, *pgxpool.Pool) {
	t.Helper()
	pool := pgtest.New(t)
	// Overlapping commits under REPEATABLE READ lose to serialization
	// failures until they run after the winner.
	t.Setenv("TX_MAX_ATTEMPTS", "20")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	return app.NewServices(cfg, pool, nil, observability.NewMetrics(), nil), pool
}

func buy(t *testing.T, svc *app.Services, lines ...trade.LineInput) trade.Transaction {
	t.Helper()
	txn, err := svc.Trade.Commit(context.Background(), trade.CommitInput{Type: inventory.DirectionIn, Lines: lines})
	require.NoError(t, err)
	return txn
}

func TestPostgresPurchaseSaleAndReport(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	p, err := svc.Inventory.CreateProduct(ctx, inventory.ProductInput{Name: "Beras", BaseUnit: "kg"})
	require.NoError(t, err)
	buy(t, svc, trade.LineInput{ProductID: p.ID, Qty: dec("10"), UnitPrice: dec("100")})
	buy(t, svc, trade.LineInput{ProductID: p.ID, Qty: dec("10"), UnitPrice: dec("140")})

	sale, err := svc.Trade.Commit(ctx, trade.CommitInput{
		Type:       inventory.DirectionOut,
		NewContact: &contacts.Inline{Name: "Ibu Sari"},
		Lines:      []trade.LineInput{{ProductID: p.ID, Qty: dec("5"), UnitPrice: dec("200")}},
	})
	require.NoError(t, err)
	require.True(t, sale.Items[0].COGS.Equal(dec("600")))

	got, err := svc.Inventory.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.Stock.Equal(dec("15")), got.Stock.String())
	require.True(t, got.AverageCost.Equal(dec("120")), got.AverageCost.String())

	history, err := svc.Inventory.EntriesFor(ctx, p.ID, shared.NewPage(0, 0))
	require.NoError(t, err)
	require.Len(t, history, 3)

	pl, err := svc.Financial.ProfitLoss(ctx, shared.DateRange{})
	require.NoError(t, err)
	require.True(t, pl.Revenue.Equal(dec("1000")))
	require.True(t, pl.COGS.Equal(dec("600")))

	res, err := svc.Inventory.Recompute(ctx, p.ID)
	require.NoError(t, err)
	require.False(t, res.Drifted)

	detail, err := svc.Trade.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, "Ibu Sari", detail.ContactName)
	require.Equal(t, "Beras", detail.Items[0].ProductName)
}

func TestPostgresOverlappingCommitsSerialize(t *testing.T) {
	svc, _ := newServices(t)
	ctx := context.Background()

	a, err := svc.Inventory.CreateProduct(ctx, inventory.ProductInput{Name: "Gula"})
	require.NoError(t, err)
	b, err := svc.Inventory.CreateProduct(ctx, inventory.ProductInput{Name: "Kopi"})
	require.NoError(t, err)
	buy(t, svc,
		trade.LineInput{ProductID: a.ID, Qty: dec("20"), UnitPrice: dec("10")},
		trade.LineInput{ProductID: b.ID, Qty: dec("20"), UnitPrice: dec("10")},
	)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		first, second := a.ID, b.ID
		if i%2 == 1 {
			first, second = b.ID, a.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Trade.Commit(ctx, trade.CommitInput{
				Type: inventory.DirectionOut,
				Lines: []trade.LineInput{
					{ProductID: first, Qty: dec("1"), UnitPrice: dec("15")},
					{ProductID: second, Qty: dec("1"), UnitPrice: dec("15")},
				},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, p := range []inventory.Product{a, b} {
		got, err := svc.Inventory.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		require.True(t, got.Stock.Equal(dec("10")), "%s stock %s", p.Name, got.Stock)

		res, err := svc.Inventory.Recompute(ctx, p.ID)
		require.NoError(t, err)
		require.False(t, res.Drifted)
		require.Equal(t, 11, res.Entries)
	}
}

func TestPostgresConstraints(t *testing.T) {
	svc, pool := newServices(t)
	ctx := context.Background()

	p, err := svc.Inventory.CreateProduct(ctx, inventory.ProductInput{Name: "Teh"})
	require.NoError(t, err)
	first := buy(t, svc, trade.LineInput{ProductID: p.ID, Qty: dec("5"), UnitPrice: dec("10")})

	_, err = svc.Trade.Commit(ctx, trade.CommitInput{
		Type:          inventory.DirectionIn,
		InvoiceNumber: first.InvoiceNumber,
		Lines:         []trade.LineInput{{ProductID: p.ID, Qty: dec("1"), UnitPrice: dec("10")}},
	})
	require.ErrorIs(t, err, shared.ErrDuplicateInvoice)

	in := trade.CommitInput{
		Type:           inventory.DirectionIn,
		IdempotencyKey: "idem-1",
		Lines:          []trade.LineInput{{ProductID: p.ID, Qty: dec("1"), UnitPrice: dec("10")}},
	}
	_, err = svc.Trade.Commit(ctx, in)
	require.NoError(t, err)
	_, err = svc.Trade.Commit(ctx, in)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Trade.Commit(ctx, trade.CommitInput{
		Type:  inventory.DirectionOut,
		Lines: []trade.LineInput{{ProductID: p.ID, Qty: dec("100"), UnitPrice: dec("10")}},
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	supplier, err := svc.Contacts.Create(ctx, contacts.Input{Name: "PT Sumber", Type: contacts.TypeSupplier})
	require.NoError(t, err)
	_, err = svc.Trade.Commit(ctx, trade.CommitInput{
		Type:      inventory.DirectionIn,
		ContactID: &supplier.ID,
		Lines:     []trade.LineInput{{ProductID: p.ID, Qty: dec("1"), UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	_, err = svc.Contacts.Delete(ctx, supplier.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = pool.Exec(ctx, `UPDATE stock_ledger SET qty = 99 WHERE product_id = $1`, p.ID)
	require.ErrorContains(t, err, "append-only")
}
