// Package trade commits purchase (IN) and sale (OUT) transactions against the
// stock ledger.
package trade

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/contacts"
	"github.com/odyssey-erp/backoffice/internal/inventory"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Defaults applied to transaction headers.
const (
	DefaultPaymentMethod = "cash"
	DefaultInputSource   = "manual"
	StockAddSource       = "stock_add"
)

// Transaction is a committed purchase or sale.
type Transaction struct {
	ID             uuid.UUID
	Type           inventory.Direction
	Date           time.Time
	ContactID      *uuid.UUID
	ContactName    string
	ContactPhone   string
	ContactAddress string
	InvoiceNumber  string
	PaymentMethod  string
	InputSource    string
	Notes          string
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
	Items          []Item
}

// Item is one transaction line with the cost snapshotted at commit time.
type Item struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	LineNo        int
	ProductID     uuid.UUID
	ProductName   string
	Variant       string
	Qty           decimal.Decimal
	Unit          string
	UnitPrice     decimal.Decimal
	Subtotal      decimal.Decimal
	CostAtMoment  decimal.Decimal
	COGS          decimal.Decimal
	LedgerEntryID uuid.UUID
	Notes         string
}

// LineInput describes one requested line. The line subtotal is always
// qty × unit price rounded to the minor unit.
type LineInput struct {
	ProductID uuid.UUID
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
	Unit      string
	Notes     string

	// purchaseTotal is the exact IN amount set by AddStock.
	purchaseTotal *decimal.Decimal
}

// CommitInput is a transaction to commit atomically.
type CommitInput struct {
	Type           inventory.Direction
	ContactID      *uuid.UUID
	NewContact     *contacts.Inline
	InvoiceNumber  string
	Date           *time.Time
	PaymentMethod  string
	InputSource    string
	Notes          string
	Lines          []LineInput
	IdempotencyKey string
}

// StockAddInput is a single-product purchase with supplier information.
type StockAddInput struct {
	ProductID       uuid.UUID
	Qty             decimal.Decimal
	TotalBuyPrice   decimal.Decimal
	ContactID       *uuid.UUID
	SupplierName    string
	SupplierPhone   string
	SupplierAddress string
	InvoiceNumber   string
	Date            *time.Time
	PaymentMethod   string
	Notes           string
	IdempotencyKey  string
}

// Filter narrows transaction listings.
type Filter struct {
	Type      inventory.Direction
	Range     shared.DateRange
	Search    string
	ContactID *uuid.UUID
	Page      shared.Page
}

// Stats aggregates transactions matching a filter.
type Stats struct {
	TotalCount     int
	TotalAmountIn  decimal.Decimal
	TotalAmountOut decimal.Decimal
}

// ParseType reads a transaction type filter; "" and ALL match both.
func ParseType(raw string) (inventory.Direction, error) {
	d := inventory.Direction(strings.ToUpper(strings.TrimSpace(raw)))
	if d == "" || d == "ALL" {
		return "", nil
	}
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, raw)
	}
	return d, nil
}

// ContactTypeFor returns the contact type expected on a transaction.
func ContactTypeFor(d inventory.Direction) contacts.Type {
	if d == inventory.DirectionIn {
		return contacts.TypeSupplier
	}
	return contacts.TypeCustomer
}

// InvoicePrefix is the prefix of generated invoice numbers for day.
func InvoicePrefix(day time.Time) string {
	return "INV-" + day.UTC().Format("20060102") + "-"
}

// FormatInvoice renders a generated invoice number.
func FormatInvoice(day time.Time, seq int) string {
	return fmt.Sprintf("%s%05d", InvoicePrefix(day), seq)
}

func (in CommitInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: type must be IN or OUT", shared.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return fmt.Errorf("%w: at least one line item required", shared.ErrValidation)
	}
	for i, line := range in.Lines {
		if line.ProductID == uuid.Nil {
			return fmt.Errorf("%w: line %d: product required", shared.ErrValidation, i+1)
		}
		if !shared.RoundQty(line.Qty).IsPositive() {
			return fmt.Errorf("line %d: %w", i+1, shared.ErrInvalidQuantity)
		}
		if line.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d: unit price must not be negative", shared.ErrValidation, i+1)
		}
	}
	return nil
}

func (l LineInput) subtotal() decimal.Decimal {
	if l.purchaseTotal != nil {
		return shared.RoundMoney(*l.purchaseTotal)
	}
	return shared.RoundMoney(shared.RoundQty(l.Qty).Mul(l.UnitPrice))
}
