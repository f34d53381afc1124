// Package ratelimit provides a fixed-window admission limiter used to keep
// alert storms from overwhelming the remediation executor. Windows reset
// lazily on the next Admit after a boundary crossing; there is no background
// sweep and no timer dependency.
package ratelimit

import (
	"sync"
	"time"
)

// Config bounds admissions for one limiter: at most Limit admissions per
// Window per scope key.
type Config struct {
	Limit  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter counts admissions per scope key in fixed windows. A scope key is
// whatever the caller partitions on: a single well-known key for a global
// limit, or one key per target host.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	wins map[string]*window
}

// New returns a Limiter for the given config. A Limit of zero disables the
// limiter: every Admit succeeds.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:  cfg,
		now:  time.Now,
		wins: make(map[string]*window),
	}
}

// Admit records one admission attempt for the scope key. It returns ok=true
// when the request is within the window's budget, or ok=false with the time
// remaining until the window resets.
func (l *Limiter) Admit(key string) (retryAfter time.Duration, ok bool) {
	if l.cfg.Limit <= 0 {
		return 0, true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.wins[key]
	if w == nil || now.Sub(w.start) >= l.cfg.Window {
		// Window rolled over (or first sighting): reset lazily.
		l.wins[key] = &window{start: now, count: 1}
		l.pruneLocked(now)
		return 0, true
	}

	if w.count >= l.cfg.Limit {
		return w.start.Add(l.cfg.Window).Sub(now), false
	}

	w.count++
	return 0, true
}

// pruneLocked drops expired windows so the per-host map does not grow without
// bound across a large fleet. Called with the lock held, only on window
// rollover, so the sweep cost stays off the hot path.
func (l *Limiter) pruneLocked(now time.Time) {
	if len(l.wins) < 1024 {
		return
	}
	for k, w := range l.wins {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.wins, k)
		}
	}
}
