package remediation

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy configures the delay between retry attempts: exponential
// growth from Base, doubling per attempt, capped at Cap, with proportional
// jitter to avoid thundering herds of restarts against the same executor.
type BackoffPolicy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // randomization factor in [0,1); 0 disables jitter
}

// DefaultBackoffPolicy mirrors the configured flag defaults.
var DefaultBackoffPolicy = BackoffPolicy{
	Base:   2 * time.Second,
	Cap:    30 * time.Second,
	Jitter: 0.5,
}

// newBackOff returns a fresh per-job backoff sequence. Each job run owns its
// own sequence; they are not safe for concurrent use.
func (p BackoffPolicy) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Base
	bo.MaxInterval = p.Cap
	bo.Multiplier = 2
	bo.RandomizationFactor = p.Jitter
	bo.Reset()
	return bo
}
