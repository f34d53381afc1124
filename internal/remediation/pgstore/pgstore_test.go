package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/remedy/internal/remediation"
	"github.com/linnemanlabs/remedy/internal/remediation/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("REMEDY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("REMEDY_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testJob(id, host string) *remediation.Job {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &remediation.Job{
		ID:            id,
		CorrelationID: "corr-" + id,
		Host:          host,
		IP:            "10.0.0.5",
		OSFamily:      remediation.OSLinux,
		State:         remediation.StatePending,
		MaxAttempts:   5,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("test-create-get-%d", time.Now().UnixNano())
	host := id + ".example.com"
	_, created, err := s.Create(ctx, testJob(id, host))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	t.Cleanup(func() { _ = s.Delete(ctx, id) })

	got, ok, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("job not found after Create")
	}
	if got.Host != host || got.State != remediation.StatePending || got.MaxAttempts != 5 {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if got.NextRetryAt.IsZero() != true || !got.CompletedAt.IsZero() {
		t.Errorf("zero timestamps not preserved: %+v", got)
	}
}

func TestCreateDuplicateActiveHost(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := fmt.Sprintf("test-dup-%d", time.Now().UnixNano())
	host := base + ".example.com"

	first, created, err := s.Create(ctx, testJob(base+"-1", host))
	if err != nil || !created {
		t.Fatalf("first Create: created=%v err=%v", created, err)
	}
	t.Cleanup(func() {
		_, _ = s.Update(ctx, first.ID, func(j *remediation.Job) bool {
			j.State = remediation.StateFailed
			return true
		})
		_ = s.Delete(ctx, first.ID)
	})

	existing, created, err := s.Create(ctx, testJob(base+"-2", host))
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if created {
		t.Fatal("second Create reported created=true for active host")
	}
	if existing.ID != first.ID {
		t.Errorf("existing.ID = %q, want %q", existing.ID, first.ID)
	}
}

func TestCreateConcurrentSameHost(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := fmt.Sprintf("test-race-%d", time.Now().UnixNano())
	host := base + ".example.com"

	const n = 8
	var wg sync.WaitGroup
	results := make(chan bool, n)
	ids := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%s-%d", base, i)
			_, created, err := s.Create(ctx, testJob(id, host))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			results <- created
			if created {
				ids <- id
			}
		}(i)
	}
	wg.Wait()
	close(results)
	close(ids)

	createdCount := 0
	for c := range results {
		if c {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("%d jobs created for one host, want exactly 1", createdCount)
	}
	for id := range ids {
		_, _ = s.Update(ctx, id, func(j *remediation.Job) bool {
			j.State = remediation.StateFailed
			return true
		})
		_ = s.Delete(ctx, id)
	}
}

func TestUpdateLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := fmt.Sprintf("test-update-%d", time.Now().UnixNano())
	_, _, err := s.Create(ctx, testJob(id, id+".example.com"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, id) })

	got, err := s.Update(ctx, id, func(j *remediation.Job) bool {
		j.State = remediation.StateRunning
		j.Attempt++
		return true
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.State != remediation.StateRunning || got.Attempt != 1 {
		t.Errorf("after update: state=%s attempt=%d", got.State, got.Attempt)
	}

	// Aborted mutator leaves the row untouched.
	got, err = s.Update(ctx, id, func(j *remediation.Job) bool {
		j.State = remediation.StateFailed
		return false
	})
	if err != nil {
		t.Fatalf("aborted Update: %v", err)
	}
	if got.State != remediation.StateRunning {
		t.Errorf("aborted update changed state to %s", got.State)
	}

	if _, err := s.Update(ctx, "missing-"+id, func(*remediation.Job) bool { return true }); err != remediation.ErrNotFound {
		t.Errorf("Update missing err = %v, want ErrNotFound", err)
	}

	// Terminal transition frees the host for a new job.
	_, err = s.Update(ctx, id, func(j *remediation.Job) bool {
		j.State = remediation.StateSucceeded
		j.CompletedAt = time.Now().UTC()
		return true
	})
	if err != nil {
		t.Fatalf("terminal Update: %v", err)
	}
	_, ok, err := s.FindActiveByHost(ctx, id+".example.com")
	if err != nil {
		t.Fatalf("FindActiveByHost: %v", err)
	}
	if ok {
		t.Error("terminal job still reported active")
	}
}

func TestListAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	base := fmt.Sprintf("test-list-%d", time.Now().UnixNano())
	host := base + ".example.com"

	j := testJob(base, host)
	if _, _, err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(ctx, base) })

	jobs, err := s.List(ctx, remediation.Filter{Host: host, States: []remediation.State{remediation.StatePending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != base {
		t.Fatalf("List = %+v, want single job %s", jobs, base)
	}

	_, err = s.Update(ctx, base, func(j *remediation.Job) bool {
		j.State = remediation.StateFailed
		j.Detail = "host unreachable"
		j.CompletedAt = time.Now().UTC().Add(-48 * time.Hour)
		return true
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	n, err := s.PruneBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if n < 1 {
		t.Errorf("pruned %d jobs, want >= 1", n)
	}
	if _, ok, _ := s.Get(ctx, base); ok {
		t.Error("pruned job still retrievable")
	}
}
