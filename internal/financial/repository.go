package financial

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository reads report aggregates from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SaleTotals sums OUT line subtotals and snapshotted COGS in range.
func (r *Repository) SaleTotals(ctx context.Context, dr shared.DateRange) (SaleTotals, error) {
	var totals SaleTotals
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(i.subtotal), 0), COALESCE(SUM(i.cogs), 0)
		FROM transaction_items i
		JOIN transactions t ON t.id = i.transaction_id
		WHERE t.type = 'OUT'
		  AND ($1::date IS NULL OR t.transaction_date >= $1::date)
		  AND ($2::date IS NULL OR t.transaction_date <= $2::date)`, dr.From, dr.To).
		Scan(&totals.Revenue, &totals.COGS)
	return totals, err
}

// DailyTotals groups transaction headers by day in range.
func (r *Repository) DailyTotals(ctx context.Context, dr shared.DateRange) ([]DailyTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT t.transaction_date,
		COALESCE(SUM(t.total_amount) FILTER (WHERE t.type = 'OUT'), 0),
		COALESCE(SUM(t.total_amount) FILTER (WHERE t.type = 'IN'), 0),
		COUNT(*) FILTER (WHERE t.type = 'OUT'),
		COUNT(*) FILTER (WHERE t.type = 'IN')
		FROM transactions t
		WHERE ($1::date IS NULL OR t.transaction_date >= $1::date)
		  AND ($2::date IS NULL OR t.transaction_date <= $2::date)
		GROUP BY t.transaction_date
		ORDER BY t.transaction_date`, dr.From, dr.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Day, &d.Sales, &d.Purchases, &d.SalesCount, &d.PurchaseCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
