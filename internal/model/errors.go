package model

import "errors"

// Error classes. Every package-level sentinel in the engine wraps exactly one
// of these so the HTTP layer can map it with errors.Is.
var (
	// ErrConfiguration marks a broken session setup (market imbalance,
	// indivisible session size). Fatal: the session is never created.
	ErrConfiguration = errors.New("configuration fault")

	// ErrIntegrity marks a broken invariant at runtime, such as a step reached
	// with a missing upstream input. Fatal, never retried.
	ErrIntegrity = errors.New("integrity fault")

	// ErrInvalidInput marks a participant submission that must be corrected
	// and resubmitted on the same step.
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
