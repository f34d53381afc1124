package remediation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the remediation subsystem. A nil
// *Metrics is valid and records nothing, so tests can skip registration.
type Metrics struct {
	SubmitsTotal     *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	JobAttempts      prometheus.Histogram
	ExecutorDuration *prometheus.HistogramVec
	RateLimitedTotal *prometheus.CounterVec
	PrunedTotal      prometheus.Counter
	ActiveJobs       prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// NewMetrics registers and returns remediation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_submits_total",
			Help: "Total remediation submissions by result.",
		}, []string{"result"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_jobs_total",
			Help: "Total finished jobs by terminal state.",
		}, []string{"outcome"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_job_duration_seconds",
			Help:    "Wall time from job creation to terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~2048s
		}, []string{"outcome"}),
		JobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_job_attempts",
			Help:    "Executor attempts per finished job.",
			Buckets: prometheus.LinearBuckets(1, 1, 10), // 1 .. 10
		}),
		ExecutorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_executor_duration_seconds",
			Help:    "Duration of individual executor calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"outcome"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_rate_limited_total",
			Help: "Submissions rejected by the admission limiter, by scope.",
		}, []string{"scope"}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "remedy_jobs_pruned_total",
			Help: "Terminal jobs removed by the retention sweep.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_active_jobs",
			Help: "Jobs currently in a non-terminal state.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "remedy_queue_depth",
			Help: "Workers waiting for an executor slot.",
		}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.JobsTotal,
		m.JobDuration,
		m.JobAttempts,
		m.ExecutorDuration,
		m.RateLimitedTotal,
		m.PrunedTotal,
		m.ActiveJobs,
		m.QueueDepth,
	)

	return m
}

func (m *Metrics) submits(result string) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) rateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

func (m *Metrics) finished(j *Job) {
	if m == nil || j == nil {
		return
	}
	outcome := string(j.State)
	m.JobsTotal.WithLabelValues(outcome).Inc()
	if !j.CompletedAt.IsZero() {
		m.JobDuration.WithLabelValues(outcome).Observe(j.CompletedAt.Sub(j.CreatedAt).Seconds())
	}
	m.JobAttempts.Observe(float64(j.Attempt))
}

func (m *Metrics) executor(success bool, dur time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.ExecutorDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (m *Metrics) pruned(n int) {
	if m == nil {
		return
	}
	m.PrunedTotal.Add(float64(n))
}

func (m *Metrics) activeJobs(delta float64) {
	if m == nil {
		return
	}
	m.ActiveJobs.Add(delta)
}

func (m *Metrics) queueDepth(delta float64) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(delta)
}
