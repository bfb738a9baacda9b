package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/secondhand-orders/internal/domain/product"
)

// Sentinel errors for order operations.
var (
	ErrNotFound             = errors.New("order not found")
	ErrDuplicateOrderCode   = errors.New("order code already in use")
	ErrOrderCodeExhausted   = errors.New("could not allocate a unique order code")
	ErrPaymentSettled       = errors.New("payment already settled")
	ErrEmptyItems           = &ValidationError{Field: "items", Reason: "items required"}
	ErrUnknownPaymentMethod = &ValidationError{Field: "paymentMethod", Reason: "unrecognized payment method"}
	ErrUnknownState         = &ValidationError{Field: "state", Reason: "unrecognized order state"}
)

// ValidationError indicates malformed or missing order input. It is returned
// before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidItemError indicates a line item failed validation.
type InvalidItemError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid item %d (product %q): %s", e.Index, e.ProductID, e.Reason)
}

// ProductNotFoundError indicates a line item references a product that does
// not exist or was deleted.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Unwrap makes errors.Is(err, product.ErrNotFound) hold.
func (e *ProductNotFoundError) Unwrap() error {
	return product.ErrNotFound
}

// TransitionError is returned in strict mode for a non-forward state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("state transition %s -> %s not allowed", e.From, e.To)
}

// IsValidation reports whether err is any order input validation failure.
func IsValidation(err error) bool {
	var (
		verr *ValidationError
		ierr *InvalidItemError
	)
	return errors.As(err, &verr) || errors.As(err, &ierr)
}
