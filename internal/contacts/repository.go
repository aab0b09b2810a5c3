package contacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Repository persists contacts in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.TxRunner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// WithTx executes the callback inside a retried transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const contactColumns = `c.id, c.name, c.type, c.phone, c.address, c.notes, c.archived, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c   Contact
		typ string
	)
	if err := row.Scan(&c.ID, &c.Name, &typ, &c.Phone, &c.Address, &c.Notes, &c.Archived, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Contact{}, err
	}
	c.Type = Type(typ)
	return c, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getContact(ctx context.Context, q querier, id uuid.UUID) (Contact, error) {
	c, err := scanContact(q.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("contact %s: %w", id, shared.ErrNotFound)
	}
	return c, err
}

// GetContact loads a contact by id, archived ones included.
func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (Contact, error) {
	return getContact(ctx, r.pool, id)
}

// ListContacts lists active contacts ordered by name.
func (r *Repository) ListContacts(ctx context.Context, filter Filter) ([]Contact, error) {
	conds := []string{"NOT c.archived"}
	var args []any
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("c.type = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(c.name ILIKE $%d OR c.phone ILIKE $%d)", len(args), len(args)))
	}
	args = append(args, filter.Page.Limit, filter.Page.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM contacts c WHERE %s ORDER BY c.name_key, c.id LIMIT $%d OFFSET $%d`,
		contactColumns, strings.Join(conds, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ContactStats counts transactions of a contact and sums their totals.
func (r *Repository) ContactStats(ctx context.Context, id uuid.UUID) (Stats, error) {
	var stats Stats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(total_amount), 0) FROM transactions WHERE contact_id = $1`, id).
		Scan(&stats.Count, &stats.TotalAmount)
	return stats, err
}

// Summary counts active customers and suppliers.
func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx, `SELECT
		COUNT(*) FILTER (WHERE type = 'CUSTOMER'),
		COUNT(*) FILTER (WHERE type = 'SUPPLIER')
		FROM contacts WHERE NOT archived`).Scan(&s.TotalCustomers, &s.TotalSuppliers)
	return s, err
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

func (r *txRepo) GetContact(ctx context.Context, id uuid.UUID) (Contact, error) {
	return getContact(ctx, r.tx, id)
}

func (r *txRepo) FindContactByName(ctx context.Context, name string, typ Type) (Contact, bool, error) {
	c, err := scanContact(r.tx.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts c
		WHERE c.name_key = $1 AND c.type = $2 AND NOT c.archived`, FoldName(name), string(typ)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, false, nil
	}
	if err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (r *txRepo) InsertContact(ctx context.Context, c Contact) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO contacts
		(id, name, name_key, type, phone, address, notes, archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, FoldName(c.Name), string(c.Type), c.Phone, c.Address, c.Notes, c.Archived, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *txRepo) UpdateContact(ctx context.Context, c Contact) error {
	tag, err := r.tx.Exec(ctx, `UPDATE contacts SET name = $2, name_key = $3, phone = $4, address = $5, notes = $6,
		archived = $7, updated_at = $8 WHERE id = $1`,
		c.ID, c.Name, FoldName(c.Name), c.Phone, c.Address, c.Notes, c.Archived, c.UpdatedAt)
	if db.IsUniqueViolation(err, db.ContactNameConstraint) {
		return fmt.Errorf("%w: contact %q already exists", shared.ErrConflict, c.Name)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("contact %s: %w", c.ID, shared.ErrNotFound)
	}
	return nil
}

func (r *txRepo) IsReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE contact_id = $1)
		OR EXISTS (SELECT 1 FROM stock_ledger WHERE contact_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

func (r *txRepo) DeleteContact(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	return err
}
