package shared

import "errors"

// Error kinds shared across the core. Domain packages wrap these so
// callers can branch with errors.Is without importing every package.
var (
	// ErrValidation indicates malformed or self-inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates a state machine violation.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInternalConsistency indicates stored data is already corrupt,
	// not a bad request. Surfaced loudly, never swallowed.
	ErrInternalConsistency = errors.New("internal consistency violation")
)
