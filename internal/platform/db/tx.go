package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Beginner starts transactions; satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner executes units of work inside RepeatableRead transactions and
// retries them on serialization failures, deadlocks and ledger seq collisions.
type TxRunner struct {
	db          Beginner
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	onRetry     func()
}

// RunnerOption customises a TxRunner.
type RunnerOption func(*TxRunner)

// WithMaxAttempts bounds the number of attempts per unit of work.
func WithMaxAttempts(n int) RunnerOption {
	return func(r *TxRunner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *TxRunner) { r.logger = logger }
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(fn func()) RunnerOption {
	return func(r *TxRunner) { r.onRetry = fn }
}

// WithBackoff sets the base delay between attempts.
func WithBackoff(d time.Duration) RunnerOption {
	return func(r *TxRunner) { r.backoff = d }
}

// NewTxRunner builds a runner over the pool.
func NewTxRunner(db Beginner, opts ...RunnerOption) *TxRunner {
	r := &TxRunner{db: db, maxAttempts: 3, backoff: 10 * time.Millisecond, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes fn within a transaction, committing when it returns nil.
func (r *TxRunner) Run(ctx context.Context, fn func(pgx.Tx) error) error {
	if r == nil || r.db == nil {
		return errors.New("platform/db: tx runner not initialised")
	}
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}
		if r.onRetry != nil {
			r.onRetry()
		}
		r.logger.Debug("retrying transaction", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, lastErr)
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// Postgres error codes inspected by repositories.
const (
	CodeUniqueViolation      = "23505"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// Unique constraints whose violation means a concurrent writer won the race;
// the unit of work is retried against a fresh snapshot.
const (
	LedgerSeqConstraint   = "stock_ledger_product_seq_key"
	ContactNameConstraint = "contacts_name_type_key"
)

// ErrRetry asks the runner to run the unit of work again against a fresh snapshot.
var ErrRetry = errors.New("platform/db: retry unit of work")

// IsRetryable reports whether err is transient lock contention.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetry) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	case CodeUniqueViolation:
		return pgErr.ConstraintName == LedgerSeqConstraint || pgErr.ConstraintName == ContactNameConstraint
	}
	return false
}

// IsUniqueViolation reports whether err violates the named unique constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
