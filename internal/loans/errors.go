package loans

import (
	"errors"
	"fmt"
)

// Error taxonomy. The four base kinds drive HTTP status mapping and caller
// retry policy; the named conditions below wrap a kind so callers can match
// either the broad class or the specific condition with errors.Is.
var (
	// ErrNotFound: referenced loan or installment does not exist. Not retriable.
	ErrNotFound = errors.New("loans: not found")
	// ErrInvalidState: operation attempted against a loan or installment that
	// is not in the required state. Not retriable.
	ErrInvalidState = errors.New("loans: invalid state")
	// ErrInvalidInput: the caller must correct the request. Not retriable.
	ErrInvalidInput = errors.New("loans: invalid input")
	// ErrConcurrencyConflict: lost a per-loan mutation race. Retriable after reload.
	ErrConcurrencyConflict = errors.New("loans: concurrency conflict")
	// ErrStorageFailure: persistence unavailable. Retriable with backoff.
	ErrStorageFailure = errors.New("loans: storage failure")
)

var (
	// ErrAlreadyPaid: the installment is not pending.
	ErrAlreadyPaid = fmt.Errorf("installment already paid: %w", ErrInvalidState)
	// ErrNoPendingInstallments: the loan has nothing left to adjust or settle.
	ErrNoPendingInstallments = fmt.Errorf("no pending installments: %w", ErrInvalidState)
	// ErrExceedsOutstanding: part-payment amount is larger than the
	// outstanding principal.
	ErrExceedsOutstanding = fmt.Errorf("amount exceeds outstanding principal: %w", ErrInvalidInput)
)

// UserSafeMessage returns a caller-facing message for a domain error without
// leaking storage internals.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyPaid):
		return "installment is already paid"
	case errors.Is(err, ErrNoPendingInstallments):
		return "loan has no pending installments"
	case errors.Is(err, ErrExceedsOutstanding):
		return "amount exceeds the outstanding principal"
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrInvalidState):
		return "operation not allowed in the current state"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	case errors.Is(err, ErrConcurrencyConflict):
		return "another update is in progress, retry"
	default:
		return "internal error"
	}
}
