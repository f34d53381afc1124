package remediation

import "context"

// Notifier receives jobs that reached a terminal state. Delivery is
// best-effort: the service logs failures and never blocks a job on them.
type Notifier interface {
	Notify(ctx context.Context, job *Job) error
}
