package credits

import (
	"errors"
	"fmt"
)

// Precondition failures. Handlers map these to 4xx responses.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidPackage      = errors.New("invalid package")
	ErrInvalidPage         = errors.New("invalid page or limit")
	ErrLimitTooLarge       = errors.New("limit too large")
	ErrDuplicatePayment    = errors.New("payment already applied")
	ErrUnknownItem         = errors.New("unknown item")
	ErrItemPriceMismatch   = errors.New("item price mismatch")
	ErrItemAlreadyOwned    = errors.New("item already purchased")
)

var sentinels = []error{
	ErrInsufficientCredits,
	ErrInvalidAmount,
	ErrUserNotFound,
	ErrInvalidPackage,
	ErrInvalidPage,
	ErrLimitTooLarge,
	ErrDuplicatePayment,
	ErrUnknownItem,
	ErrItemPriceMismatch,
	ErrItemAlreadyOwned,
}

// LedgerError wraps a storage failure with the operation that hit it.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("credits: %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// wrap tags storage errors with op and passes sentinels through untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return &LedgerError{Op: op, Err: err}
}

// IsPrecondition reports whether err is a caller-visible precondition failure.
func IsPrecondition(err error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
