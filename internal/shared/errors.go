package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or incomplete input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidQuantity occurs when a movement quantity is not positive.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrInsufficientStock occurs when an OUT movement exceeds the projected balance.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateInvoice occurs when an invoice number is already used.
	ErrDuplicateInvoice = errors.New("invoice number already used")
	// ErrConflict indicates the resource is referenced or already exists.
	ErrConflict = errors.New("conflict")
	// ErrConcurrencyConflict is returned once lock contention retries are exhausted.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	// ErrRecalculationRequired marks a projection served from a flagged cache.
	ErrRecalculationRequired = errors.New("projection requires recalculation")
)
