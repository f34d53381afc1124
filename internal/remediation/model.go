package remediation

import "time"

// State tracks where a job is in its lifecycle.
type State string

const (
	// StatePending means created, not yet picked up by a worker
	StatePending State = "pending"

	// StateRunning means the executor is currently acting on the target host
	StateRunning State = "running"

	// StateSucceeded means the remediation completed successfully
	StateSucceeded State = "succeeded"

	// StateFailed means the remediation failed permanently or exhausted retries
	StateFailed State = "failed"

	// StateRetrying means the last attempt failed transiently and a backoff wait is in progress
	StateRetrying State = "retrying"

	// StateCancelled means an administrator cancelled the job before completion
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Active reports whether a job in this state counts against the
// one-active-job-per-host invariant.
func (s State) Active() bool {
	return s == StatePending || s == StateRunning || s == StateRetrying
}

// OSFamily identifies the target host's operating system class, which selects
// the remediation playbook.
type OSFamily string

const (
	OSLinux   OSFamily = "linux"
	OSWindows OSFamily = "windows"
	OSMacOS   OSFamily = "macos"
	OSUnknown OSFamily = "unknown"
)

// ErrorKind classifies an executor failure for retry policy.
type ErrorKind string

const (
	// ErrTransient is retry-eligible (network error, timeout, flapping connection)
	ErrTransient ErrorKind = "transient"

	// ErrPermanent is not retry-eligible (unreachable by design, invalid target, auth failure)
	ErrPermanent ErrorKind = "permanent"
)

// Job is one tracked remediation attempt for a target host.
type Job struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Host          string    `json:"host"`
	IP            string    `json:"ip"`
	OSFamily      OSFamily  `json:"os_family"`
	State         State     `json:"state"`
	Attempt       int       `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts"`
	TimeoutSec    int       `json:"timeout_seconds,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`

	// CancelRequested is set while the job is running and an admin has asked
	// for cancellation; the worker honors it once the in-flight executor call
	// returns. The remote action itself is never interrupted.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	States []State
	Host   string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Match reports whether j satisfies the filter. Shared by store
// implementations that filter in memory.
func (f Filter) Match(j *Job) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if j.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Host != "" && j.Host != f.Host {
		return false
	}
	if !f.Since.IsZero() && j.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && j.CreatedAt.After(f.Until) {
		return false
	}
	return true
}
