package engine

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested job, member, or record does not exist.
var ErrNotFound = errors.New("not found")

// ErrBudgetExceeded signals that the enrichment budget window is exhausted.
// Callers must treat it as "enrichment unavailable", not as a hard failure.
var ErrBudgetExceeded = errors.New("enrichment budget exceeded")

// ErrUpstream signals a failure or timeout of the external inference call.
// For nudge generation it degrades the same way as ErrBudgetExceeded; only
// endpoints whose sole job is enrichment surface it to the caller.
var ErrUpstream = errors.New("upstream inference failure")

// InvalidInputError describes malformed or missing input, rejected before any
// side effect.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}
