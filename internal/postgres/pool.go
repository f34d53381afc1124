// Package postgres builds the shared pgx connection pool with tracing,
// structured query logging, and a metrics hook.
package postgres

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses the DSN, attaches the otel and logging tracers, and
// verifies connectivity with a ping before returning the pool.
func NewPool(ctx context.Context, dsn string, observer QueryObserver) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.ConnConfig.Tracer = wrapQueryTracer(
		otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName()),
		observer,
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
