package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// InvoiceConstraint backs invoice number uniqueness.
const InvoiceConstraint = "transactions_invoice_number_key"

// Repository persists transactions in PostgreSQL.
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
		return fn(ctx, &txRepo{
			TxRepository: inventory.NewTxRepository(tx),
			contactsTx:   contacts.NewTxRepository(tx),
			tx:           tx,
		})
	})
}

const headerColumns = `t.id, t.type, t.transaction_date, t.contact_id, COALESCE(c.name, ''), COALESCE(c.phone, ''),
	COALESCE(c.address, ''), t.invoice_number, t.payment_method, t.input_source, t.notes, t.total_amount, t.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeader(row rowScanner) (Transaction, error) {
	var (
		t   Transaction
		typ string
	)
	if err := row.Scan(&t.ID, &typ, &t.Date, &t.ContactID, &t.ContactName, &t.ContactPhone, &t.ContactAddress,
		&t.InvoiceNumber, &t.PaymentMethod, &t.InputSource, &t.Notes, &t.TotalAmount, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.Type = inventory.Direction(typ)
	return t, nil
}

func filterClause(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Type != "" {
		add("t.type = ?", string(filter.Type))
	}
	if filter.Range.From != nil {
		add("t.transaction_date >= ?", *filter.Range.From)
	}
	if filter.Range.To != nil {
		add("t.transaction_date <= ?", *filter.Range.To)
	}
	if filter.ContactID != nil {
		add("t.contact_id = ?", *filter.ContactID)
	}
	if filter.Search != "" {
		add("(t.invoice_number ILIKE ? OR COALESCE(c.name, '') ILIKE ? OR t.notes ILIKE ?)", "%"+filter.Search+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListTransactions lists headers newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error) {
	where, args := filterClause(filter)
	args = append(args, filter.Page.Limit, filter.Page.Offset)
	sql := `SELECT ` + headerColumns + ` FROM transactions t LEFT JOIN contacts c ON c.id = t.contact_id` + where +
		fmt.Sprintf(` ORDER BY t.transaction_date DESC, t.created_at DESC, t.id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTransaction loads a header with its items in line order.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	t, err := scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+`
		FROM transactions t LEFT JOIN contacts c ON c.id = t.contact_id WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Transaction{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.transaction_id, i.line_no, i.product_id, p.name, p.variant, i.qty, i.unit,
		i.unit_price, i.subtotal, i.cost_at_moment, i.cogs, i.ledger_entry_id, i.notes
		FROM transaction_items i JOIN products p ON p.id = i.product_id
		WHERE i.transaction_id = $1 ORDER BY i.line_no`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransactionID, &it.LineNo, &it.ProductID, &it.ProductName, &it.Variant, &it.Qty,
			&it.Unit, &it.UnitPrice, &it.Subtotal, &it.CostAtMoment, &it.COGS, &it.LedgerEntryID, &it.Notes); err != nil {
			return Transaction{}, err
		}
		t.Items = append(t.Items, it)
	}
	return t, rows.Err()
}

// Stats aggregates totals per type.
func (r *Repository) Stats(ctx context.Context, filter Filter) (Stats, error) {
	where, args := filterClause(filter)
	var s Stats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(t.total_amount) FILTER (WHERE t.type = 'IN'), 0),
		COALESCE(SUM(t.total_amount) FILTER (WHERE t.type = 'OUT'), 0)
		FROM transactions t LEFT JOIN contacts c ON c.id = t.contact_id`+where, args...).
		Scan(&s.TotalCount, &s.TotalAmountIn, &s.TotalAmountOut)
	return s, err
}

type contactsTx = contacts.TxRepository

type txRepo struct {
	inventory.TxRepository
	contactsTx
	tx pgx.Tx
}

func (r *txRepo) InvoiceExists(ctx context.Context, invoice string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE invoice_number = $1)`, invoice).Scan(&exists)
	return exists, err
}

func (r *txRepo) NextInvoiceSeq(ctx context.Context, prefix string) (int, error) {
	var next int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(SUBSTRING(invoice_number FROM LENGTH($1::text) + 1) AS INT)), 0) + 1
		FROM transactions
		WHERE invoice_number LIKE $1::text || '%' AND SUBSTRING(invoice_number FROM LENGTH($1::text) + 1) ~ '^[0-9]{1,9}$'`, prefix).Scan(&next)
	return next, err
}

func (r *txRepo) InsertTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions
		(id, type, transaction_date, contact_id, invoice_number, payment_method, input_source, notes, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, string(t.Type), t.Date, t.ContactID, t.InvoiceNumber, t.PaymentMethod, t.InputSource, t.Notes, t.TotalAmount, t.CreatedAt)
	if db.IsUniqueViolation(err, InvoiceConstraint) {
		return fmt.Errorf("%w: %s", shared.ErrDuplicateInvoice, t.InvoiceNumber)
	}
	return err
}

func (r *txRepo) InsertItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO transaction_items
			(id, transaction_id, line_no, product_id, qty, unit, unit_price, subtotal, cost_at_moment, cogs, ledger_entry_id, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			it.ID, it.TransactionID, it.LineNo, it.ProductID, it.Qty, it.Unit, it.UnitPrice, it.Subtotal,
			it.CostAtMoment, it.COGS, it.LedgerEntryID, it.Notes)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}
