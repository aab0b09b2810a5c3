package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.TxRunner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// WithTx executes the callback inside a retried repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const productColumns = `p.id, p.name, COALESCE(p.sku, ''), p.category, p.variant, p.base_unit,
	p.stock, p.average_cost, p.selling_price, p.needs_recalculation, p.status, p.created_at, p.updated_at`

const ledgerColumns = `l.id, l.product_id, l.seq, l.direction, l.qty, l.balance, l.unit_price, l.amount,
	l.cost_basis, l.cogs, l.average_cost_after, l.contact_id, l.invoice_number, l.transaction_id, l.note, l.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p      Product
		status string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.Variant, &p.BaseUnit,
		&p.Stock, &p.AverageCost, &p.SellingPrice, &p.NeedsRecalculation, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.Status = ProductStatus(status)
	return p, nil
}

func scanEntry(row rowScanner, extra ...any) (LedgerEntry, error) {
	var (
		e         LedgerEntry
		direction string
	)
	dest := []any{&e.ID, &e.ProductID, &e.Seq, &direction, &e.Qty, &e.Balance, &e.UnitPrice, &e.Amount,
		&e.CostBasis, &e.COGS, &e.AverageCostAfter, &e.ContactID, &e.InvoiceNumber, &e.TransactionID, &e.Note, &e.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return LedgerEntry{}, err
	}
	e.Direction = Direction(direction)
	return e, nil
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, shared.ErrNotFound)
	}
	return p, err
}

// ListProducts filters products by status and name.
func (r *Repository) ListProducts(ctx context.Context, query ProductQuery) ([]Product, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if !query.IncludeInactive {
		add("p.status = ?", string(ProductActive))
	}
	switch query.Status {
	case FilterOutOfStock:
		conds = append(conds, "p.stock <= 0")
	case FilterLowStock:
		add("p.stock > 0 AND p.stock <= ?", query.LowStockThreshold)
	}
	if query.Search != "" {
		add("(p.name ILIKE ? OR p.variant ILIKE ? OR COALESCE(p.sku, '') ILIKE ?)", "%"+query.Search+"%")
	}
	sql := `SELECT ` + productColumns + ` FROM products p`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, query.Page.Limit, query.Page.Offset)
	sql += fmt.Sprintf(" ORDER BY LOWER(p.name), p.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return r.queryProducts(ctx, sql, args...)
}

// SearchProducts matches active products for autocomplete.
func (r *Repository) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	sql := `SELECT ` + productColumns + ` FROM products p
		WHERE p.status = 'active' AND (p.name ILIKE $1 OR p.variant ILIKE $1 OR COALESCE(p.sku, '') ILIKE $1)
		ORDER BY LOWER(p.name), p.id LIMIT $2`
	return r.queryProducts(ctx, sql, "%"+term+"%", limit)
}

func (r *Repository) queryProducts(ctx context.Context, sql string, args ...any) ([]Product, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ProductStats counts active products per stock status.
func (r *Repository) ProductStats(ctx context.Context, lowStock decimal.Decimal) (ProductStats, error) {
	var stats ProductStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE stock > 0 AND stock <= $1),
		COUNT(*) FILTER (WHERE stock <= 0)
		FROM products WHERE status = 'active'`, lowStock).Scan(&stats.Total, &stats.LowStock, &stats.OutOfStock)
	return stats, err
}

// InventoryStats sums the valuation of active products.
func (r *Repository) InventoryStats(ctx context.Context) (InventoryStats, error) {
	var stats InventoryStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(ROUND(stock * average_cost, 2)), 0)
		FROM products WHERE status = 'active'`).Scan(&stats.TotalProducts, &stats.TotalStockValue)
	return stats, err
}

// ListEntries lists one product's ledger, newest first.
func (r *Repository) ListEntries(ctx context.Context, productID uuid.UUID, page shared.Page) ([]LedgerView, error) {
	return r.queryViews(ctx, `WHERE l.product_id = $1 ORDER BY l.seq DESC LIMIT $2 OFFSET $3`, productID, page.Limit, page.Offset)
}

// ListRecentEntries lists the global ledger, newest first.
func (r *Repository) ListRecentEntries(ctx context.Context, page shared.Page) ([]LedgerView, error) {
	return r.queryViews(ctx, `ORDER BY l.created_at DESC, l.id LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
}

func (r *Repository) queryViews(ctx context.Context, tail string, args ...any) ([]LedgerView, error) {
	sql := `SELECT ` + ledgerColumns + `, p.name, COALESCE(p.sku, ''), p.base_unit, COALESCE(c.name, '')
		FROM stock_ledger l
		JOIN products p ON p.id = l.product_id
		LEFT JOIN contacts c ON c.id = l.contact_id ` + tail
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	views := make([]LedgerView, 0)
	for rows.Next() {
		var v LedgerView
		entry, err := scanEntry(rows, &v.ProductName, &v.ProductSKU, &v.ProductUnit, &v.ContactName)
		if err != nil {
			return nil, err
		}
		v.LedgerEntry = entry
		views = append(views, v)
	}
	return views, rows.Err()
}

// FlaggedProductIDs returns products awaiting recomputation.
func (r *Repository) FlaggedProductIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE needs_recalculation ORDER BY updated_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) InsertProduct(ctx context.Context, p Product) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO products
		(id, name, sku, category, variant, base_unit, stock, average_cost, selling_price, needs_recalculation, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Name, p.SKU, p.Category, p.Variant, p.BaseUnit, p.Stock, p.AverageCost, p.SellingPrice,
		p.NeedsRecalculation, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err, "products_sku_key") {
		return fmt.Errorf("%w: sku %s already exists", shared.ErrConflict, p.SKU)
	}
	return err
}

func (r *txRepo) LockProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ANY($1) ORDER BY p.id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(ids))
	for _, id := range SortIDs(ids) {
		p, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", id, shared.ErrNotFound)
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *txRepo) LastEntry(ctx context.Context, productID uuid.UUID) (LedgerEntry, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM stock_ledger l WHERE l.product_id = $1 ORDER BY l.seq DESC LIMIT 1`, productID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return entry, true, nil
}

func (r *txRepo) ProductEntries(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM stock_ledger l WHERE l.product_id = $1 ORDER BY l.seq`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepo) InsertEntry(ctx context.Context, e LedgerEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_ledger
		(id, product_id, seq, direction, qty, balance, unit_price, amount, cost_basis, cogs, average_cost_after,
		 contact_id, invoice_number, transaction_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.ProductID, e.Seq, string(e.Direction), e.Qty, e.Balance, e.UnitPrice, e.Amount, e.CostBasis, e.COGS,
		e.AverageCostAfter, e.ContactID, e.InvoiceNumber, e.TransactionID, e.Note, e.CreatedAt)
	return err
}

func (r *txRepo) SaveProjection(ctx context.Context, productID uuid.UUID, p Projection) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock = $2, average_cost = $3,
		needs_recalculation = CASE WHEN $5 THEN $4 ELSE needs_recalculation OR $4 END,
		updated_at = NOW()
		WHERE id = $1`, productID, p.Stock, p.AverageCost, p.Flag, p.ClearFlag)
	return err
}

func (r *txRepo) UpdateProduct(ctx context.Context, p Product) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET name = $2, sku = NULLIF($3, ''), category = $4, variant = $5,
		base_unit = $6, selling_price = $7, average_cost = $8, needs_recalculation = $9, status = $10, updated_at = $11
		WHERE id = $1`, p.ID, p.Name, p.SKU, p.Category, p.Variant, p.BaseUnit, p.SellingPrice, p.AverageCost,
		p.NeedsRecalculation, string(p.Status), p.UpdatedAt)
	if db.IsUniqueViolation(err, "products_sku_key") {
		return fmt.Errorf("%w: sku %s already exists", shared.ErrConflict, p.SKU)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", p.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) HasEntries(ctx context.Context, productID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_ledger WHERE product_id = $1)`, productID).Scan(&exists)
	return exists, err
}

func (r *txRepo) DeleteProduct(ctx context.Context, productID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	return err
}
