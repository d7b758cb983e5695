package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Base error kinds. Package-level errors wrap one of these with %w so callers
// can classify failures with errors.Is regardless of where they originated.
var (
	ErrValidation              = errors.New("validation error")
	ErrCartInvalid             = errors.New("cart invalid")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrPaymentFailed           = errors.New("payment failed")
	ErrPaymentTimeout          = errors.New("payment timeout")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOutOfOrderEvent         = errors.New("out of order event")
	ErrItemNotFound            = errors.New("item not found")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrUnavailable             = errors.New("unavailable")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrForbidden               = errors.New("forbidden")
)

// Kind names used in API responses.
const (
	KindValidation              = "ValidationError"
	KindCartInvalid             = "CartInvalid"
	KindInsufficientFunds       = "InsufficientFunds"
	KindPaymentFailed           = "PaymentFailed"
	KindPaymentTimeout          = "PaymentTimeout"
	KindInvalidStatusTransition = "InvalidStatusTransition"
	KindOutOfOrderEvent         = "OutOfOrderEvent"
	KindItemNotFound            = "ItemNotFound"
	KindNotFound                = "NotFoundError"
	KindConflict                = "Conflict"
	KindUnavailable             = "Unavailable"
	KindUnauthorized            = "Unauthorized"
	KindForbidden               = "Forbidden"
	KindInternal                = "InternalError"
)

var kinds = []struct {
	err  error
	name string
}{
	// ItemNotFound is checked before NotFound since it is the more specific kind.
	{ErrItemNotFound, KindItemNotFound},
	{ErrValidation, KindValidation},
	{ErrCartInvalid, KindCartInvalid},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrPaymentFailed, KindPaymentFailed},
	{ErrPaymentTimeout, KindPaymentTimeout},
	{ErrInvalidStatusTransition, KindInvalidStatusTransition},
	{ErrOutOfOrderEvent, KindOutOfOrderEvent},
	{ErrNotFound, KindNotFound},
	{ErrConflict, KindConflict},
	{ErrUnavailable, KindUnavailable},
	{ErrUnauthorized, KindUnauthorized},
	{ErrForbidden, KindForbidden},
}

// KindOf returns the taxonomy name of err, or KindInternal if err does not wrap a known kind.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrPaymentTimeout) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable)
}

// Validation wraps a formatted message as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CartError carries the individual problems found while validating a cart.
type CartError struct {
	Problems []string
}

func (e *CartError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCartInvalid, strings.Join(e.Problems, "; "))
}

func (e *CartError) Unwrap() error { return ErrCartInvalid }

// CartInvalid builds a CartError from the given problems.
func CartInvalid(problems []string) error {
	return &CartError{Problems: append([]string(nil), problems...)}
}
