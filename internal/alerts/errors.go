package alerts

import "errors"

// Engine errors
var (
	// ErrInvalidRule wraps the model validation error for a rejected rule
	ErrInvalidRule = errors.New("invalid rule")

	// ErrNotFound is returned for unknown keys, rules and samples
	ErrNotFound = errors.New("not found")
)
