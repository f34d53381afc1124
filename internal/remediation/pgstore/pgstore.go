// Package pgstore provides a PostgreSQL implementation of remediation.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/remediation/pgstore")

//go:embed schema.sql
var schema string

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index when a second active job is inserted for a host.
const uniqueViolation = "23505"

const jobColumns = `id, correlation_id, host, ip, os_family, state, attempt, max_attempts,
	timeout_seconds, next_retry_at, detail, error_kind, cancel_requested,
	created_at, updated_at, completed_at`

// Store persists job records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Create inserts the job. The partial unique index on (host) for active
// states makes the dedup check-then-act atomic: a unique violation means an
// active job already exists, which is then returned with created=false.
func (s *Store) Create(ctx context.Context, job *remediation.Job) (*remediation.Job, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Create", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	// The existing active job can reach a terminal state between our failed
	// insert and the duplicate lookup; retry the insert in that window.
	for range 3 {
		_, err := s.pool.Exec(ctx, query,
			job.ID, job.CorrelationID, job.Host, job.IP, string(job.OSFamily),
			string(job.State), job.Attempt, job.MaxAttempts, job.TimeoutSec,
			nullTime(job.NextRetryAt), job.Detail, string(job.ErrorKind),
			job.CancelRequested, job.CreatedAt, job.UpdatedAt, nullTime(job.CompletedAt),
		)
		if err == nil {
			cp := *job
			return &cp, true, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, false, fmt.Errorf("insert job: %w", err)
		}

		existing, ok, err := s.FindActiveByHost(ctx, job.Host)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, false, err
		}
		if ok {
			return existing, false, nil
		}
	}
	return nil, false, fmt.Errorf("insert job for host %s: persistent unique violation", job.Host)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*remediation.Job, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return j, true, nil
}

// Update applies the mutator inside a transaction holding a row lock, so
// concurrent transitions to the same job serialize.
func (s *Store) Update(ctx context.Context, id string, mutate func(*remediation.Job) bool) (*remediation.Job, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	j, err := scanJob(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, remediation.ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !mutate(j) {
		return j, nil
	}
	j.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `UPDATE jobs SET
			correlation_id = $2, host = $3, ip = $4, os_family = $5, state = $6,
			attempt = $7, max_attempts = $8, timeout_seconds = $9, next_retry_at = $10,
			detail = $11, error_kind = $12, cancel_requested = $13,
			updated_at = $14, completed_at = $15
		WHERE id = $1`,
		j.ID, j.CorrelationID, j.Host, j.IP, string(j.OSFamily), string(j.State),
		j.Attempt, j.MaxAttempts, j.TimeoutSec, nullTime(j.NextRetryAt),
		j.Detail, string(j.ErrorKind), j.CancelRequested,
		j.UpdatedAt, nullTime(j.CompletedAt),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, f remediation.Filter) ([]*remediation.Job, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE TRUE`
	args := []any{}

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		args = append(args, states)
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	if f.Host != "" {
		args = append(args, f.Host)
		query += fmt.Sprintf(" AND host = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*remediation.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Delete removes a job record.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "pgstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return remediation.ErrNotFound
	}
	return nil
}

// FindActiveByHost returns the active job for a host, if any.
func (s *Store) FindActiveByHost(ctx context.Context, host string) (*remediation.Job, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.FindActiveByHost", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE host = $1 AND state IN ('pending', 'running', 'retrying')
		LIMIT 1`
	j, err := scanJob(s.pool.QueryRow(ctx, query, host))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return j, true, nil
}

// CountActive returns the number of jobs in non-terminal states.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.CountActive", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE state IN ('pending', 'running', 'retrying')`,
	).Scan(&n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("count active: %w", err)
	}
	return n, nil
}

// PruneBefore removes terminal jobs completed before the cutoff.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.PruneBefore", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs
		 WHERE state IN ('succeeded', 'failed', 'cancelled')
		   AND completed_at IS NOT NULL AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*remediation.Job, error) {
	var j remediation.Job
	var osFamily, state, kind string
	var nextRetry, completed *time.Time
	err := row.Scan(
		&j.ID, &j.CorrelationID, &j.Host, &j.IP, &osFamily, &state,
		&j.Attempt, &j.MaxAttempts, &j.TimeoutSec, &nextRetry,
		&j.Detail, &kind, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	j.OSFamily = remediation.OSFamily(osFamily)
	j.State = remediation.State(state)
	j.ErrorKind = remediation.ErrorKind(kind)
	if nextRetry != nil {
		j.NextRetryAt = *nextRetry
	}
	if completed != nil {
		j.CompletedAt = *completed
	}
	return &j, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
