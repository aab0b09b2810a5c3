package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/trade"
)

type seedProduct struct {
	name, sku, unit, variant string
	price                    string
}

var products = []seedProduct{
	{name: "Beras Premium", sku: "BRS-5", unit: "sak", variant: "5kg", price: "78000"},
	{name: "Gula Pasir", sku: "GLA-1", unit: "kg", variant: "1kg", price: "17500"},
	{name: "Minyak Goreng", sku: "MYK-2", unit: "pcs", variant: "2L", price: "36000"},
	{name: "Kopi Bubuk", sku: "KPI-200", unit: "pcs", variant: "200g", price: "24000"},
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	if err := db.Migrate(cfg.PGDSN, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	svc := app.NewServices(cfg, pool, nil, observability.NewMetrics(), logger)

	fmt.Println("→ Seeding products...")
	ids := make([]inventory.Product, 0, len(products))
	for _, p := range products {
		product, err := svc.Inventory.CreateProduct(ctx, inventory.ProductInput{
			Name:         p.name,
			SKU:          p.sku,
			BaseUnit:     p.unit,
			Variant:      p.variant,
			SellingPrice: decimal.RequireFromString(p.price),
		})
		if errors.Is(err, shared.ErrConflict) {
			fmt.Printf("  skip %s (exists)\n", p.sku)
			continue
		}
		if err != nil {
			log.Fatalf("seed product %s: %v", p.sku, err)
		}
		ids = append(ids, product)
	}
	if len(ids) == 0 {
		fmt.Println("✓ Nothing to seed")
		return
	}

	fmt.Println("→ Seeding purchases...")
	today := shared.TruncateDay(time.Now().UTC())
	for day := 14; day >= 7; day -= 7 {
		date := today.AddDate(0, 0, -day)
		lines := make([]trade.LineInput, 0, len(ids))
		for i, p := range ids {
			cost := p.SellingPrice.Mul(decimal.RequireFromString("0.8")).Add(decimal.NewFromInt(int64(day * 10 * (i + 1))))
			lines = append(lines, trade.LineInput{ProductID: p.ID, Qty: decimal.NewFromInt(20), UnitPrice: shared.RoundCost(cost)})
		}
		if _, err := svc.Trade.Commit(ctx, trade.CommitInput{
			Type:       inventory.DirectionIn,
			Date:       &date,
			NewContact: &contacts.Inline{Name: "CV Sumber Rejeki", Phone: "0215550101"},
			Lines:      lines,
		}); err != nil {
			log.Fatalf("seed purchase: %v", err)
		}
	}

	fmt.Println("→ Seeding sales...")
	customers := []string{"Ibu Sari", "Pak Budi", "Warung Makmur"}
	for day := 6; day >= 0; day-- {
		date := today.AddDate(0, 0, -day)
		p := ids[day%len(ids)]
		if _, err := svc.Trade.Commit(ctx, trade.CommitInput{
			Type:       inventory.DirectionOut,
			Date:       &date,
			NewContact: &contacts.Inline{Name: customers[day%len(customers)]},
			Lines: []trade.LineInput{{
				ProductID: p.ID,
				Qty:       decimal.NewFromInt(int64(2 + day%3)),
				UnitPrice: p.SellingPrice,
			}},
		}); err != nil {
			log.Fatalf("seed sale: %v", err)
		}
	}

	fmt.Println("✓ Seed data ready")
}
