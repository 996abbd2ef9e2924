package domain

import "errors"

// Sentinel errors returned by the booking engine. Callers classify with
// errors.Is; the HTTP layer maps them to status codes.
var (
	// ErrConflict means the requested slot overlaps a blocking booking.
	// Returned synchronously, never leaves partial state behind.
	ErrConflict = errors.New("slot conflict")

	// ErrValidation covers advance-window, notice-period, capacity and
	// split-minimum violations.
	ErrValidation = errors.New("validation failed")

	// ErrPayment is an authorize/capture/refund failure. Any provisional
	// hold is released before this surfaces.
	ErrPayment = errors.New("payment failed")

	// ErrTimeout means lock acquisition or a gateway call exceeded its
	// bound. Safe to retry.
	ErrTimeout = errors.New("operation timed out")

	// ErrLockUnavailable means the lock substrate itself is unreachable.
	// Callers fall back to the ledger's own consistency check.
	ErrLockUnavailable = errors.New("lock substrate unavailable")

	// ErrStateTransition is an illegal lifecycle transition. No side effect.
	ErrStateTransition = errors.New("illegal state transition")

	ErrNotFound = errors.New("not found")
)
