package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, query ProductQuery) ([]Product, error)
	SearchProducts(ctx context.Context, term string, limit int) ([]Product, error)
	ProductStats(ctx context.Context, lowStock decimal.Decimal) (ProductStats, error)
	InventoryStats(ctx context.Context) (InventoryStats, error)
	ListEntries(ctx context.Context, productID uuid.UUID, page shared.Page) ([]LedgerView, error)
	ListRecentEntries(ctx context.Context, page shared.Page) ([]LedgerView, error)
	FlaggedProductIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// TxRepository exposes the operations that must run inside one unit of work.
// LockProducts returns the products ordered by id and holds their row locks
// until the unit of work ends; it fails with shared.ErrNotFound for unknown ids.
type TxRepository interface {
	InsertProduct(ctx context.Context, product Product) error
	LockProducts(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	LastEntry(ctx context.Context, productID uuid.UUID) (LedgerEntry, bool, error)
	ProductEntries(ctx context.Context, productID uuid.UUID) ([]LedgerEntry, error)
	InsertEntry(ctx context.Context, entry LedgerEntry) error
	SaveProjection(ctx context.Context, productID uuid.UUID, projection Projection) error
	UpdateProduct(ctx context.Context, product Product) error
	HasEntries(ctx context.Context, productID uuid.UUID) (bool, error)
	DeleteProduct(ctx context.Context, productID uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives ledger counters.
type MetricsPort interface {
	LedgerAppended(direction string)
	StockRejected(reason string)
	Recomputed(drifted bool)
}

// Service coordinates the ledger, valuation and projection of products.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	metrics   MetricsPort
	projector Projector
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ZeroStockPolicy   ZeroStockPolicy
	LowStockThreshold decimal.Decimal
	Clock             func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		metrics:   metrics,
		projector: NewProjector(cfg.ZeroStockPolicy, cfg.LowStockThreshold),
		logger:    logger,
		now:       now,
	}
}

// Projector exposes the status classifier configured for this service.
func (s *Service) Projector() Projector {
	return s.projector
}

// CreateProduct registers a product with zero stock.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	if input.SellingPrice.IsNegative() {
		return Product{}, fmt.Errorf("%w: selling price must not be negative", shared.ErrValidation)
	}
	unit := strings.TrimSpace(input.BaseUnit)
	if unit == "" {
		unit = "pcs"
	}
	now := s.now().UTC()
	product := Product{
		ID:           uuid.New(),
		Name:         name,
		SKU:          strings.TrimSpace(input.SKU),
		Category:     strings.TrimSpace(input.Category),
		Variant:      strings.TrimSpace(input.Variant),
		BaseUnit:     unit,
		Stock:        decimal.Zero,
		AverageCost:  decimal.Zero,
		SellingPrice: shared.RoundMoney(input.SellingPrice),
		Status:       ProductActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, "product:create", product.ID, map[string]any{"name": product.Name, "sku": product.SKU})
	return product, nil
}

// GetProduct loads a product with its cached projection.
func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts lists products filtered by projected status.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	if filter.Status == "" {
		filter.Status = FilterAll
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListProducts(ctx, ProductQuery{ProductFilter: filter, LowStockThreshold: s.projector.LowStockThreshold()})
}

// SearchProducts matches active products by name or variant for autocomplete.
func (s *Service) SearchProducts(ctx context.Context, term string, limit int) ([]Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []Product{}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.repo.SearchProducts(ctx, term, limit)
}

// ProductStats counts products per projected status.
func (s *Service) ProductStats(ctx context.Context) (ProductStats, error) {
	return s.repo.ProductStats(ctx, s.projector.LowStockThreshold())
}

// InventoryStats returns the product count and total stock value.
func (s *Service) InventoryStats(ctx context.Context) (InventoryStats, error) {
	return s.repo.InventoryStats(ctx)
}

// Append records a single movement for one product in its own unit of work.
func (s *Service) Append(ctx context.Context, input AppendInput) (LedgerEntry, error) {
	var entry LedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		products, err := tx.LockProducts(ctx, []uuid.UUID{input.ProductID})
		if err != nil {
			return err
		}
		entry, err = s.AppendTx(ctx, tx, products[0], input)
		return err
	})
	if err != nil {
		return LedgerEntry{}, err
	}
	s.record(ctx, "ledger:append", entry.ProductID, map[string]any{
		"direction": string(entry.Direction),
		"qty":       entry.Qty.String(),
		"seq":       entry.Seq,
	})
	return entry, nil
}

// AppendTx appends one ledger entry inside the caller's unit of work. The
// product must already be locked through tx.LockProducts. The balance chain
// continues from the product's last entry and the cached projection is
// updated before returning.
func (s *Service) AppendTx(ctx context.Context, tx TxRepository, product Product, input AppendInput) (LedgerEntry, error) {
	if !input.Direction.Valid() {
		return LedgerEntry{}, fmt.Errorf("%w: unknown direction %q", shared.ErrValidation, input.Direction)
	}
	qty := shared.RoundQty(input.Qty)
	if !qty.IsPositive() {
		s.metrics.StockRejected("invalid_quantity")
		return LedgerEntry{}, fmt.Errorf("%s: %w", product.Name, shared.ErrInvalidQuantity)
	}
	if input.UnitPrice.IsNegative() {
		return LedgerEntry{}, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	}
	if product.Status == ProductInactive {
		return LedgerEntry{}, fmt.Errorf("%w: product %s is inactive", shared.ErrValidation, product.Name)
	}

	tail, ok, err := tx.LastEntry(ctx, product.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	pos := Position{}
	seq := int64(1)
	if ok {
		pos = Position{Stock: tail.Balance, AverageCost: tail.AverageCostAfter}
		seq = tail.Seq + 1
	}

	unitPrice := input.UnitPrice
	amount := shared.RoundMoney(qty.Mul(unitPrice))
	if input.Amount != nil {
		amount = shared.RoundMoney(*input.Amount)
	}
	mv, err := pos.Apply(input.Direction, qty, amount, s.projector.Policy())
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) {
			s.metrics.StockRejected("insufficient_stock")
			return LedgerEntry{}, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   qty,
				Available:   pos.Stock,
			}
		}
		return LedgerEntry{}, err
	}
	if input.Direction == DirectionIn && input.Amount != nil {
		unitPrice = mv.CostBasis
	}

	entry := LedgerEntry{
		ID:               uuid.New(),
		ProductID:        product.ID,
		Seq:              seq,
		Direction:        input.Direction,
		Qty:              qty,
		Balance:          mv.After.Stock,
		UnitPrice:        shared.RoundCost(unitPrice),
		Amount:           amount,
		CostBasis:        mv.CostBasis,
		COGS:             mv.COGS,
		AverageCostAfter: mv.After.AverageCost,
		ContactID:        input.ContactID,
		InvoiceNumber:    input.InvoiceNumber,
		TransactionID:    input.TransactionID,
		Note:             input.Note,
		CreatedAt:        s.now().UTC(),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	projection := Projection{Stock: mv.After.Stock, AverageCost: mv.After.AverageCost, Flag: mv.Flag}
	if err := tx.SaveProjection(ctx, product.ID, projection); err != nil {
		return LedgerEntry{}, err
	}
	s.metrics.LedgerAppended(string(input.Direction))
	return entry, nil
}

// EntriesFor lists the ledger of one product, newest first.
func (s *Service) EntriesFor(ctx context.Context, productID uuid.UUID, page shared.Page) ([]LedgerView, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, productID, shared.NewPage(page.Limit, page.Offset))
}

// RecentAcrossProducts lists the global ledger, newest first.
func (s *Service) RecentAcrossProducts(ctx context.Context, page shared.Page) ([]LedgerView, error) {
	return s.repo.ListRecentEntries(ctx, shared.NewPage(page.Limit, page.Offset))
}

// UpdateProduct applies the administrative override path. A hand-edited
// stock is reconciled through a compensating ledger entry and a hand-edited
// average cost through a revaluation entry, so later movements and replays
// both value from it. Either raises needs_recalculation.
func (s *Service) UpdateProduct(ctx context.Context, id uuid.UUID, update ProductUpdate) (Product, error) {
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		product = locked[0]
		if err := applyDescriptive(&product, update); err != nil {
			return err
		}
		flag := false
		if update.Stock != nil {
			target := shared.RoundQty(*update.Stock)
			if target.IsNegative() {
				return fmt.Errorf("%w: stock must not be negative", shared.ErrValidation)
			}
			entry, adjusted, err := s.reconcileStock(ctx, tx, product, target, update)
			if err != nil {
				return err
			}
			if adjusted {
				product.Stock = entry.Balance
				product.AverageCost = entry.AverageCostAfter
				flag = true
			}
		}
		if update.AverageCost != nil {
			cost := shared.RoundCost(*update.AverageCost)
			if cost.IsNegative() {
				return fmt.Errorf("%w: average cost must not be negative", shared.ErrValidation)
			}
			if !cost.Equal(product.AverageCost) {
				if _, err := s.revalueTx(ctx, tx, product, cost, update.Note); err != nil {
					return err
				}
				product.AverageCost = cost
				flag = true
			}
		}
		product.NeedsRecalculation = product.NeedsRecalculation || flag
		product.UpdatedAt = s.now().UTC()
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, "product:update", product.ID, map[string]any{
		"stock":               product.Stock.String(),
		"average_cost":        product.AverageCost.String(),
		"needs_recalculation": product.NeedsRecalculation,
	})
	return product, nil
}

func (s *Service) reconcileStock(ctx context.Context, tx TxRepository, product Product, target decimal.Decimal, update ProductUpdate) (LedgerEntry, bool, error) {
	tail, ok, err := tx.LastEntry(ctx, product.ID)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	current, cost := decimal.Zero, decimal.Zero
	if ok {
		current, cost = tail.Balance, tail.AverageCostAfter
	}
	delta := target.Sub(current)
	if delta.IsZero() {
		return LedgerEntry{}, false, nil
	}
	note := strings.TrimSpace(update.Note)
	if note == "" {
		note = "manual stock adjustment"
	}
	input := AppendInput{ProductID: product.ID, Direction: DirectionOut, Qty: delta.Abs(), UnitPrice: cost, Note: note}
	if delta.IsPositive() {
		input.Direction = DirectionIn
		if update.AverageCost != nil && !update.AverageCost.IsNegative() {
			input.UnitPrice = *update.AverageCost
		}
	}
	entry, err := s.AppendTx(ctx, tx, product, input)
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return entry, true, nil
}

// revalueTx writes a revaluation entry restating the average cost of the
// stock on hand. With nothing on hand there is no stock to value; the next IN
// prices the product from its purchase cost, so only the cache is updated.
func (s *Service) revalueTx(ctx context.Context, tx TxRepository, product Product, cost decimal.Decimal, note string) (LedgerEntry, error) {
	tail, ok, err := tx.LastEntry(ctx, product.ID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if !ok || !tail.Balance.IsPositive() {
		return LedgerEntry{}, nil
	}
	pos := Position{Stock: tail.Balance, AverageCost: tail.AverageCostAfter}
	mv, err := pos.Revalue(cost)
	if err != nil {
		return LedgerEntry{}, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		note = "manual average cost revaluation"
	}
	entry := LedgerEntry{
		ID:               uuid.New(),
		ProductID:        product.ID,
		Seq:              tail.Seq + 1,
		Direction:        DirectionRevalue,
		Qty:              pos.Stock,
		Balance:          pos.Stock,
		UnitPrice:        mv.CostBasis,
		Amount:           shared.RoundMoney(pos.Stock.Mul(mv.CostBasis)),
		CostBasis:        mv.CostBasis,
		AverageCostAfter: mv.After.AverageCost,
		Note:             note,
		CreatedAt:        s.now().UTC(),
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	if err := tx.SaveProjection(ctx, product.ID, Projection{Stock: mv.After.Stock, AverageCost: mv.After.AverageCost}); err != nil {
		return LedgerEntry{}, err
	}
	s.metrics.LedgerAppended(string(DirectionRevalue))
	return entry, nil
}

func applyDescriptive(product *Product, update ProductUpdate) error {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return fmt.Errorf("%w: product name required", shared.ErrValidation)
		}
		product.Name = name
	}
	if update.SKU != nil {
		product.SKU = strings.TrimSpace(*update.SKU)
	}
	if update.Category != nil {
		product.Category = strings.TrimSpace(*update.Category)
	}
	if update.Variant != nil {
		product.Variant = strings.TrimSpace(*update.Variant)
	}
	if update.BaseUnit != nil && strings.TrimSpace(*update.BaseUnit) != "" {
		product.BaseUnit = strings.TrimSpace(*update.BaseUnit)
	}
	if update.SellingPrice != nil {
		if update.SellingPrice.IsNegative() {
			return fmt.Errorf("%w: selling price must not be negative", shared.ErrValidation)
		}
		product.SellingPrice = shared.RoundMoney(*update.SellingPrice)
	}
	return nil
}

// DeleteProduct removes a product, or deactivates it when the ledger
// references it. It reports whether the product was deactivated.
func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) (bool, error) {
	deactivated := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		referenced, err := tx.HasEntries(ctx, id)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteProduct(ctx, id)
		}
		product := locked[0]
		product.Status = ProductInactive
		product.UpdatedAt = s.now().UTC()
		deactivated = true
		return tx.UpdateProduct(ctx, product)
	})
	if err != nil {
		return false, err
	}
	action := "product:delete"
	if deactivated {
		action = "product:deactivate"
	}
	s.record(ctx, action, id, nil)
	return deactivated, nil
}

// Recompute rebuilds the cached projection of a product by replaying its full
// ledger and clears needs_recalculation. Running it again yields the same result.
func (s *Service) Recompute(ctx context.Context, id uuid.UUID) (RecomputeResult, error) {
	var result RecomputeResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockProducts(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		product := locked[0]
		entries, err := tx.ProductEntries(ctx, id)
		if err != nil {
			return err
		}
		pos, chainBreak, err := s.projector.Replay(entries)
		if err != nil {
			return err
		}
		result = RecomputeResult{
			ProductID:           id,
			Entries:             len(entries),
			Stock:               pos.Stock,
			AverageCost:         pos.AverageCost,
			PreviousStock:       product.Stock,
			PreviousAverageCost: product.AverageCost,
			ChainBreak:          chainBreak,
		}
		result.Drifted = chainBreak != 0 ||
			!product.Stock.Equal(pos.Stock) ||
			!product.AverageCost.Equal(pos.AverageCost)
		return tx.SaveProjection(ctx, id, Projection{Stock: pos.Stock, AverageCost: pos.AverageCost, ClearFlag: true})
	})
	if err != nil {
		return RecomputeResult{}, err
	}
	s.metrics.Recomputed(result.Drifted)
	if result.Drifted {
		s.logger.Warn("inventory projection drift corrected",
			slog.String("product_id", id.String()),
			slog.String("cached_stock", result.PreviousStock.String()),
			slog.String("ledger_stock", result.Stock.String()),
			slog.String("cached_average_cost", result.PreviousAverageCost.String()),
			slog.String("ledger_average_cost", result.AverageCost.String()),
			slog.Int64("chain_break_seq", result.ChainBreak))
	}
	s.record(ctx, "product:recompute", id, map[string]any{"drifted": result.Drifted, "entries": result.Entries})
	return result, nil
}

// RecomputeFlagged recomputes up to limit products flagged for recalculation.
func (s *Service) RecomputeFlagged(ctx context.Context, limit int) ([]RecomputeResult, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.repo.FlaggedProductIDs(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]RecomputeResult, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.Recompute(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("recompute %s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "product", EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// SortIDs returns the distinct ids in the order rows are locked.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

type noopMetrics struct{}

func (noopMetrics) LedgerAppended(string) {}
func (noopMetrics) StockRejected(string)  {}
func (noopMetrics) Recomputed(bool)       {}
