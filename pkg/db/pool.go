// Package db provides the Postgres pool, schema migrations and the dispatch
// failure journal.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// Pool defaults. The journal issues one short insert per failed dispatch, so
// a small pool suffices.
const (
	DefaultMaxConns        int32 = 10
	DefaultMinConns        int32 = 1
	DefaultMaxConnIdleTime       = 5 * time.Minute
)

// PoolParams tunes the connection pool. Zero values use the defaults.
type PoolParams struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// poolConfig parses databaseURL and applies params over the defaults.
func poolConfig(databaseURL string, params PoolParams) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = DefaultMaxConns
	if params.MaxConns > 0 {
		config.MaxConns = params.MaxConns
	}
	config.MinConns = DefaultMinConns
	if params.MinConns > 0 {
		config.MinConns = params.MinConns
	}
	if config.MinConns > config.MaxConns {
		config.MinConns = config.MaxConns
	}
	config.MaxConnIdleTime = DefaultMaxConnIdleTime
	if params.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = params.MaxConnIdleTime
	}
	return config, nil
}

// NewPool opens a pool to databaseURL and verifies it with a ping.
func NewPool(ctx context.Context, databaseURL string, params ...PoolParams) (*pgxpool.Pool, error) {
	var p PoolParams
	if len(params) > 0 {
		p = params[0]
	}
	config, err := poolConfig(databaseURL, p)
	if err != nil {
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s - Connecting to %s/%s", logPrefix, config.ConnConfig.Host, config.ConnConfig.Database))
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max=%d, min=%d)", logPrefix, config.MaxConns, config.MinConns))
	return pool, nil
}
