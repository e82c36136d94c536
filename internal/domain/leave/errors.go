package leave

import "errors"

var (
	// ErrNotFound: the referenced policy, employee or balance does not exist
	// (or is retired/closed) for the given key.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation: an allowance change would leave totalAllowed
	// below days already used. Reported, never silently clamped.
	ErrInvariantViolation = errors.New("balance invariant violation")

	// ErrInsufficientBalance: an adjustment or consumption would drive
	// remaining negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrValidation: input outside allowed bounds.
	ErrValidation = errors.New("validation failed")

	// ErrConcurrencyConflict: a concurrent writer updated the same balance
	// row first. Callers should re-read and retry.
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)
