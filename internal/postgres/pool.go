// Package postgres builds instrumented pgx connection pools: otelpgx spans,
// a slow and failed query log, a per-query observer, and per-request query
// totals for the board API.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Options tunes query instrumentation.
type Options struct {
	// SlowQuery is the log threshold; 0 logs every query. Failed queries are
	// always logged.
	SlowQuery time.Duration
	// Observer, when set, receives every query duration.
	Observer QueryObserver
}

// NewPool parses databaseURL, installs the query tracer, and verifies the
// connection.
func NewPool(ctx context.Context, databaseURL string, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = newQueryTracer(otelpgx.NewTracer(), opts)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
