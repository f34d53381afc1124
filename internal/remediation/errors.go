package remediation

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a job id does not exist in the store.
var ErrNotFound = errors.New("job not found")

// ValidationError rejects a malformed submission before any job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects a submission that exceeds the admission window for a
// scope. RetryAfter is the time until the window resets.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// ConflictError rejects an operation that is illegal in the job's current
// state, e.g. deleting or cancelling a job that is not in an eligible state.
type ConflictError struct {
	ID    string
	State State
	Op    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s job %s in state %s", e.Op, e.ID, e.State)
}
