package remediation

import (
	"context"
	"time"
)

// Store is the persistence interface for job records. The Store exclusively
// owns Job records; callers receive copies and route every mutation through
// Update.
type Store interface {
	// Create inserts the job unless an active (pending/running/retrying) job
	// already exists for the same host. Atomic with respect to concurrent
	// Create and Update calls touching the same host: two racing submissions
	// for one host yield exactly one created job. When a duplicate is
	// detected the existing active job is returned with created=false.
	Create(ctx context.Context, job *Job) (existing *Job, created bool, err error)

	// Get retrieves a job by id. Returns a copy.
	Get(ctx context.Context, id string) (*Job, bool, error)

	// Update applies mutate to the job under the store's write lock and
	// persists the result. The mutator returning false aborts the update
	// without error (used for state-guard checks). Returns the post-update
	// copy, or ErrNotFound.
	Update(ctx context.Context, id string, mutate func(*Job) bool) (*Job, error)

	// List returns jobs matching the filter, newest first. Read-only; never
	// blocks writers beyond a bounded snapshot.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// Delete removes a job record. Returns ErrNotFound for unknown ids.
	// State checks are the caller's responsibility.
	Delete(ctx context.Context, id string) error

	// FindActiveByHost returns the active job for a host, if any.
	FindActiveByHost(ctx context.Context, host string) (*Job, bool, error)

	// CountActive returns the number of jobs in non-terminal states.
	CountActive(ctx context.Context) (int, error)

	// PruneBefore removes terminal jobs whose completion time is before the
	// cutoff, returning how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
