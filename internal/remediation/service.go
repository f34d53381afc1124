package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/linnemanlabs/remedy/internal/ratelimit"
)

// Config tunes the orchestrator. Zero values fall back to the documented
// defaults so tests can construct a Config with only the fields they care
// about.
type Config struct {
	MaxAttempts   int           // default attempts per job (overridable per request)
	ExecTimeout   time.Duration // default executor call timeout
	MaxConcurrent int64         // bound on concurrent executor calls
	Backoff       BackoffPolicy
	RequestLimits RequestLimits

	GlobalLimit  ratelimit.Config // admission budget across all callers
	PerHostLimit ratelimit.Config // admission budget per target host

	Retention     time.Duration // how long terminal jobs are kept
	SweepInterval time.Duration // how often the retention sweep runs
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 300 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoffPolicy
	}
	if c.RequestLimits.MaxAttemptsCeiling <= 0 {
		c.RequestLimits = DefaultRequestLimits
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	return c
}

// SubmitResult is the outcome of submitting a remediation request.
type SubmitResult struct {
	Job       *Job
	Duplicate bool
}

// Stats is the liveness surface exposed by the health endpoint.
type Stats struct {
	ActiveJobs int `json:"active_jobs"`
	QueueDepth int `json:"queue_depth"`
}

// globalScope is the rate-limiter key for the fleet-wide admission budget.
const globalScope = "global"

// Service is the business boundary for remediation operations: it validates
// and rate-limits submissions, enforces the one-active-job-per-host dedup
// invariant, and drives each job's retry/backoff lifecycle to a terminal
// state. All state lives in the Store; the Service never holds transition
// state only in local memory.
type Service struct {
	store    Store
	exec     Executor
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	cfg      Config

	global  *ratelimit.Limiter
	perHost *ratelimit.Limiter
	sem     *semaphore.Weighted
	queued  atomic.Int64

	// sleep is the backoff wait; replaced in tests to run without real time.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	waits map[string]context.CancelFunc // job id -> backoff-wait abort
}

// NewService creates a new remediation service. The notifier may be nil.
func NewService(store Store, exec Executor, logger log.Logger, metrics *Metrics, notifier Notifier, cfg Config) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:    store,
		exec:     exec,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		cfg:      cfg,
		global:   ratelimit.New(cfg.GlobalLimit),
		perHost:  ratelimit.New(cfg.PerHostLimit),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		sleep:    sleepCtx,
		waits:    make(map[string]context.CancelFunc),
	}
}

// Submit accepts a raw remediation payload: it validates, applies the global
// and per-host admission windows, and creates a job unless an active job for
// the host already exists. Accepted jobs execute asynchronously; the caller
// polls for the outcome.
func (s *Service) Submit(ctx context.Context, p *SubmitPayload) (*SubmitResult, error) {
	req, err := ValidateRequest(p, s.cfg.RequestLimits)
	if err != nil {
		s.metrics.submits("invalid")
		return nil, err
	}

	if retryAfter, ok := s.global.Admit(globalScope); !ok {
		s.metrics.submits("rate_limited")
		s.metrics.rateLimited(globalScope)
		return nil, &RateLimitError{Scope: globalScope, RetryAfter: retryAfter}
	}
	if retryAfter, ok := s.perHost.Admit(req.Host); !ok {
		s.metrics.submits("rate_limited")
		s.metrics.rateLimited("host")
		return nil, &RateLimitError{Scope: "host " + req.Host, RetryAfter: retryAfter}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	var timeoutSec int
	if req.Timeout > 0 {
		timeoutSec = int(req.Timeout / time.Second)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:            ulid.Make().String(),
		CorrelationID: req.CorrelationID,
		Host:          req.Host,
		IP:            req.IP,
		OSFamily:      req.OSFamily,
		State:         StatePending,
		MaxAttempts:   maxAttempts,
		TimeoutSec:    timeoutSec,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	existing, created, err := s.store.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if !created {
		s.metrics.submits("duplicate")
		return &SubmitResult{Job: existing, Duplicate: true}, nil
	}

	s.metrics.submits("accepted")
	s.metrics.activeJobs(1)

	// Run the job detached from the request context - pass only the ID so the
	// worker re-reads state from the store.
	go s.runJob(context.WithoutCancel(ctx), job.ID)

	return &SubmitResult{Job: job}, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Job, error) {
	return s.store.List(ctx, f)
}

// Cancel stops a job. A pending or retrying job is cancelled immediately and
// any backoff wait is aborted. A running job is marked for cancellation and
// transitions once the in-flight executor call returns; the remote action is
// never interrupted. Cancelling a terminal job returns a *ConflictError.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	var conflict bool
	job, err := s.store.Update(ctx, id, func(j *Job) bool {
		switch {
		case j.State.Terminal():
			conflict = true
			return false
		case j.State == StateRunning:
			j.CancelRequested = true
			return true
		default: // pending or retrying
			j.State = StateCancelled
			j.Detail = "cancelled by administrator"
			j.CompletedAt = time.Now().UTC()
			return true
		}
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, &ConflictError{ID: id, State: job.State, Op: "cancel"}
	}

	if job.State == StateCancelled {
		s.abortWait(id)
		s.finish(ctx, job)
		s.logger.Info(ctx, "job cancelled", "job_id", id, "host", job.Host)
	} else {
		s.logger.Info(ctx, "job cancellation requested", "job_id", id, "host", job.Host)
	}
	return job, nil
}

// Delete removes a job record. Only terminal jobs may be deleted: deleting an
// in-flight job would orphan the executor call with no tracking record.
func (s *Service) Delete(ctx context.Context, id string) error {
	job, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if !job.State.Terminal() {
		return &ConflictError{ID: id, State: job.State, Op: "delete"}
	}
	return s.store.Delete(ctx, id)
}

// Stats reports active job and queue depth counts for the health surface.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	active, err := s.store.CountActive(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		ActiveJobs: active,
		QueueDepth: int(s.queued.Load()),
	}, nil
}

// StartSweeper runs the retention sweep until ctx is cancelled, removing
// terminal jobs older than the configured retention.
func (s *Service) StartSweeper(ctx context.Context) {
	go func() {
		t := time.NewTicker(s.cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cutoff := time.Now().UTC().Add(-s.cfg.Retention)
				n, err := s.store.PruneBefore(ctx, cutoff)
				if err != nil {
					s.logger.Error(ctx, err, "retention sweep failed")
					continue
				}
				if n > 0 {
					s.metrics.pruned(n)
					s.logger.Info(ctx, "retention sweep", "pruned", n, "cutoff", cutoff)
				}
			}
		}
	}()
}

// runJob drives a single job from pending to a terminal state. Every
// transition is persisted through the store's atomic update before the worker
// proceeds, so a crash mid-retry leaves the store as the source of truth.
func (s *Service) runJob(ctx context.Context, id string) {
	defer s.metrics.activeJobs(-1)

	L := s.logger.With("job_id", id)

	s.queued.Add(1)
	s.metrics.queueDepth(1)
	err := s.sem.Acquire(ctx, 1)
	s.queued.Add(-1)
	s.metrics.queueDepth(-1)
	if err != nil {
		L.Error(ctx, err, "failed to acquire worker slot")
		return
	}
	defer s.sem.Release(1)

	bo := s.cfg.Backoff.newBackOff()

	for {
		job, err := s.store.Update(ctx, id, func(j *Job) bool {
			if j.State.Terminal() {
				return false
			}
			if j.CancelRequested {
				j.State = StateCancelled
				j.Detail = "cancelled by administrator"
				j.CompletedAt = time.Now().UTC()
				return true
			}
			j.State = StateRunning
			j.Attempt++
			j.NextRetryAt = time.Time{}
			return true
		})
		if err != nil {
			L.Error(ctx, err, "failed to transition job to running")
			return
		}
		if job.State.Terminal() {
			if job.State == StateCancelled && job.CancelRequested {
				s.finish(ctx, job)
			}
			return
		}

		L.Info(ctx, "executing remediation",
			"host", job.Host,
			"ip", job.IP,
			"os_family", job.OSFamily,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
		)

		outcome := s.execute(ctx, job)

		if outcome.Success {
			done, err := s.store.Update(ctx, id, func(j *Job) bool {
				if j.State.Terminal() {
					return false
				}
				// A cancel that raced the in-flight call wins: the job is
				// marked cancelled once the call returns, per the
				// non-interruptible-remote-action contract.
				if j.CancelRequested {
					j.State = StateCancelled
				} else {
					j.State = StateSucceeded
				}
				j.Detail = outcome.Detail
				j.ErrorKind = ""
				j.CompletedAt = time.Now().UTC()
				return true
			})
			if err != nil {
				L.Error(ctx, err, "failed to persist success")
				return
			}
			s.finish(ctx, done)
			L.Info(ctx, "remediation attempt finished", "host", done.Host, "state", done.State, "attempts", done.Attempt)
			return
		}

		permanent := outcome.Kind == ErrPermanent

		var delay time.Duration
		failed, err := s.store.Update(ctx, id, func(j *Job) bool {
			if j.State.Terminal() {
				return false
			}
			j.Detail = outcome.Detail
			j.ErrorKind = outcome.Kind
			switch {
			case j.CancelRequested:
				j.State = StateCancelled
				j.CompletedAt = time.Now().UTC()
			case permanent || j.Attempt >= j.MaxAttempts:
				j.State = StateFailed
				j.CompletedAt = time.Now().UTC()
			default:
				delay = bo.NextBackOff()
				j.State = StateRetrying
				j.NextRetryAt = time.Now().UTC().Add(delay)
			}
			return true
		})
		if err != nil {
			L.Error(ctx, err, "failed to persist attempt outcome")
			return
		}

		switch failed.State {
		case StateFailed:
			s.finish(ctx, failed)
			L.Warn(ctx, "remediation failed",
				"host", failed.Host,
				"attempts", failed.Attempt,
				"error_kind", failed.ErrorKind,
				"detail", failed.Detail,
			)
			return
		case StateCancelled:
			s.finish(ctx, failed)
			L.Info(ctx, "job cancelled after in-flight attempt", "host", failed.Host)
			return
		case StateRetrying:
			L.Info(ctx, "scheduling retry",
				"host", failed.Host,
				"attempt", failed.Attempt,
				"delay", delay.Round(time.Millisecond).String(),
			)
			if aborted := s.waitBackoff(ctx, id, delay); aborted {
				// Cancel fired during the wait; the cancel path already
				// stamped the terminal state.
				return
			}
		default:
			return
		}
	}
}

// execute runs one executor attempt under the job's timeout and normalizes
// the outcome: invocation errors and timeouts classify as transient, and a
// failure never leaves the detail string empty.
func (s *Service) execute(ctx context.Context, job *Job) Outcome {
	timeout := s.cfg.ExecTimeout
	if job.TimeoutSec > 0 {
		timeout = time.Duration(job.TimeoutSec) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome, err := s.exec.Run(cctx, Target{
		Host:          job.Host,
		IP:            job.IP,
		OSFamily:      job.OSFamily,
		CorrelationID: job.CorrelationID,
	})
	s.metrics.executor(err == nil && outcome.Success, time.Since(start))

	if err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			detail = fmt.Sprintf("executor timed out after %s", timeout)
		}
		return Outcome{Success: false, Detail: detail, Kind: ErrTransient}
	}
	if !outcome.Success {
		if outcome.Kind == "" {
			outcome.Kind = ErrTransient
		}
		if outcome.Detail == "" {
			outcome.Detail = "executor reported failure without detail"
		}
	}
	return outcome
}

// waitBackoff sleeps for the retry delay, abortable by Cancel. Returns true
// when the wait was aborted.
func (s *Service) waitBackoff(ctx context.Context, id string, d time.Duration) bool {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.waits[id] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waits, id)
		s.mu.Unlock()
	}()

	// A cancel can land between the retrying transition and the wait
	// registration above; re-check so it is never missed.
	if j, ok, err := s.store.Get(ctx, id); err == nil && ok && j.State.Terminal() {
		return true
	}

	return s.sleep(wctx, d) != nil
}

// finish records metrics for a terminal job and fires the notifier.
func (s *Service) finish(ctx context.Context, job *Job) {
	s.metrics.finished(job)
	if s.notifier == nil {
		return
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.notifier.Notify(nctx, job); err != nil {
			s.logger.Warn(nctx, "outcome notification failed", "job_id", job.ID, "error", err)
		}
	}()
}

// abortWait fires the backoff-wait cancel for a job, if one is pending.
func (s *Service) abortWait(id string) {
	s.mu.Lock()
	cancel := s.waits[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
