// Package memstore provides an in-memory implementation of remediation.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

// Store holds job records in memory. Suitable for dev/testing and for
// deployments that don't need jobs to survive a restart.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*remediation.Job // job ID -> record
	active map[string]string           // host -> active job ID (dedup index)
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*remediation.Job),
		active: make(map[string]string),
	}
}

// Create inserts the job unless the host already has an active one. The
// check and insert happen under one lock, so two racing submissions for the
// same host yield exactly one created job.
func (s *Store) Create(_ context.Context, job *remediation.Job) (*remediation.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[job.Host]; ok {
		if j := s.jobs[id]; j != nil && j.State.Active() {
			cp := *j
			return &cp, false, nil
		}
		// Stale index entry left by a direct Delete; fall through and replace.
	}

	cp := *job
	s.jobs[job.ID] = &cp
	s.active[job.Host] = job.ID
	out := cp
	return &out, true, nil
}

// Get retrieves a job by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*remediation.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	cp := *j
	return &cp, true, nil
}

// Update applies the mutator under the write lock and stamps UpdatedAt.
func (s *Store) Update(_ context.Context, id string, mutate func(*remediation.Job) bool) (*remediation.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, remediation.ErrNotFound
	}

	cp := *j
	if !mutate(&cp) {
		out := *j
		return &out, nil
	}
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[id] = &cp

	if !cp.State.Active() && s.active[cp.Host] == id {
		delete(s.active, cp.Host)
	}

	out := cp
	return &out, nil
}

// List returns jobs matching the filter, newest first. Takes a bounded
// snapshot under the read lock; sorting happens outside it.
func (s *Store) List(_ context.Context, f remediation.Filter) ([]*remediation.Job, error) {
	s.mu.RLock()
	matched := make([]*remediation.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Match(j) {
			cp := *j
			matched = append(matched, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Delete removes a job record.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return remediation.ErrNotFound
	}
	delete(s.jobs, id)
	if s.active[j.Host] == id {
		delete(s.active, j.Host)
	}
	return nil
}

// FindActiveByHost returns the active job for a host, if any.
func (s *Store) FindActiveByHost(_ context.Context, host string) (*remediation.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[host]
	if !ok {
		return nil, false, nil
	}
	j := s.jobs[id]
	if j == nil || !j.State.Active() {
		return nil, false, nil
	}
	cp := *j
	return &cp, true, nil
}

// CountActive returns the number of jobs in non-terminal states.
func (s *Store) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if j.State.Active() {
			n++
		}
	}
	return n, nil
}

// PruneBefore removes terminal jobs completed before the cutoff.
func (s *Store) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if j.State.Terminal() && !j.CompletedAt.IsZero() && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
