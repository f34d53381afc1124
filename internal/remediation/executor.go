package remediation

import "context"

// Target identifies the host an executor acts on.
type Target struct {
	Host          string
	IP            string
	OSFamily      OSFamily
	CorrelationID string
}

// Outcome is the result of a single executor attempt. Kind is only meaningful
// when Success is false.
type Outcome struct {
	Success bool
	Detail  string
	Kind    ErrorKind
}

// Executor is the interface for the remote-execution backend that performs
// the actual restart. Calls are expected to be slow (seconds to tens of
// seconds), are safe for concurrent invocation, and must honor ctx
// cancellation of the local invocation; the remote action itself is not
// assumed interruptible.
type Executor interface {
	Run(ctx context.Context, tgt Target) (Outcome, error)
}
