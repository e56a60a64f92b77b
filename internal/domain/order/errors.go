package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Error kinds. Every error returned by Service and QueryService matches at
// most one of them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid order state")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrConflict           = errors.New("order was modified concurrently")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// ErrEmptyCart is returned by PlaceOrder when empty checkouts are disabled.
var ErrEmptyCart = fmt.Errorf("%w: cart is empty", ErrInvalidArgument)

// NotFoundError indicates a referenced order or user does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ProductNotFoundError indicates a cart line references a product that is no
// longer in the catalog.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrNotFound }

// ProductUnavailableError indicates a cart line references a product that is
// in the catalog but withdrawn from sale.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

func (e *ProductUnavailableError) Is(target error) bool { return target == ErrInvalidArgument }

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Is(target error) bool { return target == ErrInvalidArgument }

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// InvalidStateError reports an operation not permitted in the order's
// current status.
type InvalidStateError struct {
	OrderID string
	Op      string
	Status  Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order %s in status %s", e.Op, e.OrderID, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// InvariantError reports that the persisted order disagrees with what was
// just written.
type InvariantError struct {
	OrderID string
	Want    Status
	Got     Status
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("order %s persisted with status %s, want %s", e.OrderID, e.Got, e.Want)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariantViolation }
