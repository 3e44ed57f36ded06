package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error taxonomy shared by every core operation. Callers match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	ErrValidation          = errors.New("validation failed")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError is returned when an export asks for more than the
// usable quantity of an item at a branch. Nothing is posted.
type InsufficientStockError struct {
	BranchID  string
	ItemID    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf(
		"insufficient stock: branch=%s item=%s requested=%s available=%s",
		e.BranchID, e.ItemID, e.Requested, e.Available,
	)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// invalidTransition wraps ErrInvalidState with the attempted move.
func invalidTransition(entity, id string, from, to any) error {
	return fmt.Errorf("%s %s: cannot move from %v to %v: %w", entity, id, from, to, ErrInvalidState)
}
