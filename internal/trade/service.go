package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// IdempotencyModule scopes transaction keys in idempotency_keys.
const IdempotencyModule = "transactions"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	Stats(ctx context.Context, filter Filter) (Stats, error)
}

// TxRepository spans ledger, contact and transaction writes of one commit.
// InsertTransaction fails with shared.ErrDuplicateInvoice when the invoice
// number is taken.
type TxRepository interface {
	inventory.TxRepository
	contacts.TxRepository
	InvoiceExists(ctx context.Context, invoice string) (bool, error)
	NextInvoiceSeq(ctx context.Context, prefix string) (int, error)
	InsertTransaction(ctx context.Context, txn Transaction) error
	InsertItems(ctx context.Context, items []Item) error
}

// IdempotencyPort reserves request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CacheBumper invalidates cached reports.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts commit outcomes.
type MetricsPort interface {
	TransactionRecorded(txType, outcome string)
}

// Service is the transaction processor.
type Service struct {
	repo      RepositoryPort
	inventory *inventory.Service
	contacts  *contacts.Service
	idem      IdempotencyPort
	cache     CacheBumper
	audit     AuditPort
	metrics   MetricsPort
	logger    *slog.Logger
	now       func() time.Time
}

// Deps groups collaborators of Service. Idem, Cache, Audit and Metrics are optional.
type Deps struct {
	Repo      RepositoryPort
	Inventory *inventory.Service
	Contacts  *contacts.Service
	Idem      IdempotencyPort
	Cache     CacheBumper
	Audit     AuditPort
	Metrics   MetricsPort
	Logger    *slog.Logger
	Clock     func() time.Time
}

// NewService builds Service.
func NewService(deps Deps) *Service {
	s := &Service{
		repo:      deps.Repo,
		inventory: deps.Inventory,
		contacts:  deps.Contacts,
		idem:      deps.Idem,
		cache:     deps.Cache,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       deps.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Commit validates and records a transaction with all of its ledger entries
// in one unit of work. Nothing is persisted when any line fails.
func (s *Service) Commit(ctx context.Context, input CommitInput) (txn Transaction, err error) {
	defer func() {
		s.observe(input.Type, err)
	}()
	if err := input.validate(); err != nil {
		return Transaction{}, err
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, IdempotencyModule); err != nil {
			return Transaction{}, err
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}()
	}

	var createdContact *contacts.Contact
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, createdContact, err = s.commitTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Error("bump report cache", slog.Any("error", err))
		}
	}
	if createdContact != nil {
		s.record(ctx, "contact:create", "contact", createdContact.ID, map[string]any{"name": createdContact.Name, "inline": true})
	}
	s.record(ctx, "transaction:commit", "transaction", txn.ID, map[string]any{
		"type":    string(txn.Type),
		"invoice": txn.InvoiceNumber,
		"total":   txn.TotalAmount.String(),
		"lines":   len(txn.Items),
	})
	s.logger.Info("transaction committed",
		slog.String("transaction_id", txn.ID.String()),
		slog.String("type", string(txn.Type)),
		slog.String("invoice", txn.InvoiceNumber),
		slog.Int("lines", len(txn.Items)))
	return txn, nil
}

func (s *Service) commitTx(ctx context.Context, tx TxRepository, input CommitInput) (Transaction, *contacts.Contact, error) {
	now := s.now().UTC()
	day := shared.TruncateDay(now)
	if input.Date != nil {
		day = shared.TruncateDay(*input.Date)
	}

	invoice := strings.TrimSpace(input.InvoiceNumber)
	generated := invoice == ""
	if generated {
		prefix := InvoicePrefix(day)
		seq, err := tx.NextInvoiceSeq(ctx, prefix)
		if err != nil {
			return Transaction{}, nil, err
		}
		invoice = FormatInvoice(day, seq)
	} else {
		exists, err := tx.InvoiceExists(ctx, invoice)
		if err != nil {
			return Transaction{}, nil, err
		}
		if exists {
			return Transaction{}, nil, fmt.Errorf("%w: %s", shared.ErrDuplicateInvoice, invoice)
		}
	}

	contact, created, err := s.contacts.ResolveTx(ctx, tx, input.ContactID, input.NewContact, ContactTypeFor(input.Type))
	if err != nil {
		return Transaction{}, nil, err
	}

	ids := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		ids = append(ids, line.ProductID)
	}
	locked, err := tx.LockProducts(ctx, inventory.SortIDs(ids))
	if err != nil {
		return Transaction{}, nil, err
	}
	products := make(map[uuid.UUID]inventory.Product, len(locked))
	for _, p := range locked {
		if p.Status != inventory.ProductActive {
			return Transaction{}, nil, fmt.Errorf("%w: product %s is inactive", shared.ErrValidation, p.Name)
		}
		products[p.ID] = p
	}
	if input.Type == inventory.DirectionOut {
		if err := checkAvailability(locked, input.Lines); err != nil {
			return Transaction{}, nil, err
		}
	}

	txn := Transaction{
		ID:            uuid.New(),
		Type:          input.Type,
		Date:          day,
		InvoiceNumber: invoice,
		PaymentMethod: valueOr(input.PaymentMethod, DefaultPaymentMethod),
		InputSource:   valueOr(input.InputSource, DefaultInputSource),
		Notes:         strings.TrimSpace(input.Notes),
		TotalAmount:   decimal.Zero,
		CreatedAt:     now,
	}
	if contact != nil {
		txn.ContactID = &contact.ID
		txn.ContactName = contact.Name
		txn.ContactPhone = contact.Phone
		txn.ContactAddress = contact.Address
	}
	subtotals := make([]decimal.Decimal, len(input.Lines))
	for i, line := range input.Lines {
		subtotals[i] = line.subtotal()
		txn.TotalAmount = txn.TotalAmount.Add(subtotals[i])
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		if generated && errors.Is(err, shared.ErrDuplicateInvoice) {
			return Transaction{}, nil, fmt.Errorf("%w: generated invoice %s taken", db.ErrRetry, invoice)
		}
		return Transaction{}, nil, err
	}

	items := make([]Item, 0, len(input.Lines))
	for i, line := range input.Lines {
		product := products[line.ProductID]
		amount := subtotals[i]
		entry, err := s.inventory.AppendTx(ctx, tx, product, inventory.AppendInput{
			ProductID:     product.ID,
			Direction:     input.Type,
			Qty:           line.Qty,
			UnitPrice:     line.UnitPrice,
			Amount:        &amount,
			ContactID:     txn.ContactID,
			InvoiceNumber: invoice,
			TransactionID: &txn.ID,
			Note:          strings.TrimSpace(line.Notes),
		})
		if err != nil {
			return Transaction{}, nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		items = append(items, Item{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			LineNo:        i + 1,
			ProductID:     product.ID,
			ProductName:   product.Name,
			Variant:       product.Variant,
			Qty:           entry.Qty,
			Unit:          valueOr(line.Unit, product.BaseUnit),
			UnitPrice:     shared.RoundCost(line.UnitPrice),
			Subtotal:      amount,
			CostAtMoment:  entry.CostBasis,
			COGS:          entry.COGS,
			LedgerEntryID: entry.ID,
			Notes:         strings.TrimSpace(line.Notes),
		})
	}
	if err := tx.InsertItems(ctx, items); err != nil {
		return Transaction{}, nil, err
	}
	txn.Items = items

	var createdContact *contacts.Contact
	if created {
		createdContact = contact
	}
	return txn, createdContact, nil
}

// checkAvailability rejects an OUT whose cumulative qty per product exceeds
// the projected stock. Products are checked in lock order.
func checkAvailability(locked []inventory.Product, lines []LineInput) error {
	need := make(map[uuid.UUID]decimal.Decimal, len(locked))
	for _, line := range lines {
		need[line.ProductID] = need[line.ProductID].Add(shared.RoundQty(line.Qty))
	}
	for _, p := range locked {
		if q := need[p.ID]; q.GreaterThan(p.Stock) {
			return &inventory.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   q,
				Available:   p.Stock,
			}
		}
	}
	return nil
}

// AddStock records a purchase of one product. The ledger amount equals the
// total buy price exactly.
func (s *Service) AddStock(ctx context.Context, input StockAddInput) (Transaction, error) {
	qty := shared.RoundQty(input.Qty)
	if !qty.IsPositive() {
		return Transaction{}, shared.ErrInvalidQuantity
	}
	total := shared.RoundMoney(input.TotalBuyPrice)
	if total.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: total buy price must not be negative", shared.ErrValidation)
	}
	var inline *contacts.Inline
	if input.ContactID == nil && strings.TrimSpace(input.SupplierName) != "" {
		inline = &contacts.Inline{Name: input.SupplierName, Phone: input.SupplierPhone, Address: input.SupplierAddress}
	}
	return s.Commit(ctx, CommitInput{
		Type:           inventory.DirectionIn,
		ContactID:      input.ContactID,
		NewContact:     inline,
		InvoiceNumber:  input.InvoiceNumber,
		Date:           input.Date,
		PaymentMethod:  input.PaymentMethod,
		InputSource:    StockAddSource,
		Notes:          input.Notes,
		IdempotencyKey: input.IdempotencyKey,
		Lines: []LineInput{{
			ProductID: input.ProductID,
			Qty:       qty,
			UnitPrice: shared.RoundCost(total.Div(qty)),
			Notes:     input.Notes,

			purchaseTotal: &total,
		}},
	})
}

// List returns transactions newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Transaction, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListTransactions(ctx, filter)
}

// Get loads a transaction with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// Stats aggregates counts and totals per type.
func (s *Service) Stats(ctx context.Context, filter Filter) (Stats, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.Stats(ctx, filter)
}

func (s *Service) observe(txType inventory.Direction, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.TransactionRecorded(string(txType), Outcome(err))
}

// Outcome classifies a commit result for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, shared.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidQuantity),
		errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrDuplicateInvoice),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrConflict):
		return "rejected"
	default:
		return "failed"
	}
}

func (s *Service) record(ctx context.Context, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
