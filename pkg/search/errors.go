package search

import (
	"errors"
	"fmt"
)

var (
	// Validation errors are the only errors returned to callers
	ErrEmptyQuery       = errors.New("search query must not be empty")
	ErrEmptyIntent      = errors.New("intent category must not be empty")
	ErrEmptySession     = errors.New("session id must not be empty")
	ErrUnknownCandidate = errors.New("unknown candidate")
)

// ExecutionError is a failure inside a ranked lookup. It is logged and
// reported through Metrics.Error, never returned.
type ExecutionError struct {
	Op    string
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("search %s failed for %q: %v", e.Op, e.Query, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
