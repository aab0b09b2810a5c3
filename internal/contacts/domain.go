// Package contacts manages customers and suppliers referenced by transactions.
package contacts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Type separates customers from suppliers. It never changes after creation.
type Type string

const (
	TypeCustomer Type = "CUSTOMER"
	TypeSupplier Type = "SUPPLIER"
)

// Valid reports whether t is a known contact type.
func (t Type) Valid() bool {
	return t == TypeCustomer || t == TypeSupplier
}

// ParseType normalises a contact type from user input. Empty input yields "".
func ParseType(raw string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	if t == "" || t == "ALL" {
		return "", nil
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown contact type %q", shared.ErrValidation, raw)
	}
	return t, nil
}

// DeletePolicy controls what happens when a referenced contact is deleted.
type DeletePolicy string

const (
	// BlockDelete refuses to delete contacts referenced by transactions or the ledger.
	BlockDelete DeletePolicy = "block"
	// ArchiveDelete hides referenced contacts instead of deleting them.
	ArchiveDelete DeletePolicy = "archive"
)

// ParseDeletePolicy validates a configured policy name.
func ParseDeletePolicy(raw string) (DeletePolicy, error) {
	switch DeletePolicy(raw) {
	case "", BlockDelete:
		return BlockDelete, nil
	case ArchiveDelete:
		return ArchiveDelete, nil
	}
	return "", fmt.Errorf("contacts: unknown delete policy %q", raw)
}

// Contact is a customer or supplier.
type Contact struct {
	ID        uuid.UUID
	Name      string
	Type      Type
	Phone     string
	Address   string
	Notes     string
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Input carries the fields of a new contact.
type Input struct {
	Name    string
	Type    Type
	Phone   string
	Address string
	Notes   string
}

// Update carries optional field changes; the type cannot be changed.
type Update struct {
	Name    *string
	Phone   *string
	Address *string
	Notes   *string
}

// Inline is a contact described inside a transaction, found or created by name.
type Inline struct {
	Name    string
	Phone   string
	Address string
}

// Filter narrows contact listings.
type Filter struct {
	Type   Type
	Search string
	Page   shared.Page
}

// Stats aggregates the transactions of one contact.
type Stats struct {
	Count       int
	TotalAmount decimal.Decimal
}

// Summary counts active contacts per type.
type Summary struct {
	TotalCustomers int
	TotalSuppliers int
}

// FoldName returns the case-folded, NFC-normalised name with collapsed
// whitespace under which contacts are matched.
func FoldName(name string) string {
	folded := cases.Fold().String(norm.NFC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}
