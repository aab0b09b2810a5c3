package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Direction enumerates ledger movement directions.
type Direction string

const (
	// DirectionIn represents an inbound movement (procurement).
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement (sale).
	DirectionOut Direction = "OUT"
	// DirectionRevalue restates the average cost of the stock on hand. Qty is
	// the stock valued and the balance is unchanged. Only the override path
	// writes it.
	DirectionRevalue Direction = "REVAL"
)

// Valid reports whether d is a movement direction accepted by Append.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// ProductStatus distinguishes active catalogue items from retired ones.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductInactive ProductStatus = "inactive"
)

// StockStatus is the projected availability of a product.
type StockStatus string

const (
	StockIn  StockStatus = "in_stock"
	StockLow StockStatus = "low_stock"
	StockOut StockStatus = "out_of_stock"
)

// StatusFilter selects products by projected availability.
type StatusFilter string

const (
	FilterAll        StatusFilter = "all"
	FilterLowStock   StatusFilter = "low_stock"
	FilterOutOfStock StatusFilter = "out_of_stock"
)

// ParseStatusFilter parses the status query parameter.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch StatusFilter(raw) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterLowStock, FilterOutOfStock:
		return StatusFilter(raw), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", shared.ErrValidation, raw)
}

// Product is a catalogue item with its cached ledger projection.
type Product struct {
	ID                 uuid.UUID
	Name               string
	SKU                string
	Category           string
	Variant            string
	BaseUnit           string
	Stock              decimal.Decimal
	AverageCost        decimal.Decimal
	SellingPrice       decimal.Decimal
	NeedsRecalculation bool
	Status             ProductStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StockValue is the projected value of the remaining stock.
func (p Product) StockValue() decimal.Decimal {
	return shared.RoundMoney(p.Stock.Mul(p.AverageCost))
}

// Staleness returns ErrRecalculationRequired when the projection is flagged.
func (p Product) Staleness() error {
	if p.NeedsRecalculation {
		return fmt.Errorf("product %s: %w", p.ID, shared.ErrRecalculationRequired)
	}
	return nil
}

// LedgerEntry is one immutable stock movement.
type LedgerEntry struct {
	ID               uuid.UUID
	ProductID        uuid.UUID
	Seq              int64
	Direction        Direction
	Qty              decimal.Decimal
	Balance          decimal.Decimal
	UnitPrice        decimal.Decimal
	Amount           decimal.Decimal
	CostBasis        decimal.Decimal
	COGS             decimal.Decimal
	AverageCostAfter decimal.Decimal
	ContactID        *uuid.UUID
	InvoiceNumber    string
	TransactionID    *uuid.UUID
	Note             string
	CreatedAt        time.Time
}

// SignedQty returns the quantity change with its direction applied.
func (e LedgerEntry) SignedQty() decimal.Decimal {
	switch e.Direction {
	case DirectionOut:
		return e.Qty.Neg()
	case DirectionRevalue:
		return decimal.Zero
	}
	return e.Qty
}

// LedgerView is a ledger entry joined with product and contact summaries.
type LedgerView struct {
	LedgerEntry
	ProductName string
	ProductSKU  string
	ProductUnit string
	ContactName string
}

// AppendInput describes a single movement to record. UnitPrice is the
// purchase cost (IN) or sale price (OUT) per unit; Amount overrides
// qty*unit price, e.g. with the exact purchase total of an IN.
type AppendInput struct {
	ProductID     uuid.UUID
	Direction     Direction
	Qty           decimal.Decimal
	UnitPrice     decimal.Decimal
	Amount        *decimal.Decimal
	ContactID     *uuid.UUID
	InvoiceNumber string
	TransactionID *uuid.UUID
	Note          string
}

// ProductInput registers a product with zero stock.
type ProductInput struct {
	Name         string
	SKU          string
	Category     string
	Variant      string
	BaseUnit     string
	SellingPrice decimal.Decimal
}

// ProductUpdate is the administrative override path. Nil fields are left untouched.
type ProductUpdate struct {
	Name         *string
	SKU          *string
	Category     *string
	Variant      *string
	BaseUnit     *string
	SellingPrice *decimal.Decimal
	Stock        *decimal.Decimal
	AverageCost  *decimal.Decimal
	Note         string
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Status          StatusFilter
	Search          string
	IncludeInactive bool
	Page            shared.Page
}

// ProductQuery is the repository form of ProductFilter.
type ProductQuery struct {
	ProductFilter
	LowStockThreshold decimal.Decimal
}

// ProductStats counts products per projected status.
type ProductStats struct {
	Total      int
	LowStock   int
	OutOfStock int
}

// InventoryStats summarises the valuation of the whole inventory.
type InventoryStats struct {
	TotalProducts   int
	TotalStockValue decimal.Decimal
}

// Projection is the cached stock/cost snapshot written after an append or
// replay. Flag raises needs_recalculation; a raised flag survives until a
// projection with ClearFlag is saved.
type Projection struct {
	Stock       decimal.Decimal
	AverageCost decimal.Decimal
	Flag        bool
	ClearFlag   bool
}

// RecomputeResult reports a full ledger replay. Drifted is set when the
// cache or the stored balance chain disagreed with the replay; ChainBreak is
// the seq of the first stored entry whose balance did not match.
type RecomputeResult struct {
	ProductID           uuid.UUID
	Entries             int
	Stock               decimal.Decimal
	AverageCost         decimal.Decimal
	PreviousStock       decimal.Decimal
	PreviousAverageCost decimal.Decimal
	Drifted             bool
	ChainBreak          int64
}

// InsufficientStockError names the product an OUT movement could not be served from.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s", name, e.Requested.String(), e.Available.String())
}

// Unwrap exposes the sentinel for errors.Is.
func (e *InsufficientStockError) Unwrap() error {
	return shared.ErrInsufficientStock
}
