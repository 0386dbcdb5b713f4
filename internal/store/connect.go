// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions controls how long Connect waits for the database.
type ConnectOptions struct {
	// Attempts is the number of pings after the first failure. Zero means
	// DefaultConnectAttempts.
	Attempts uint64
	// Backoff is the initial delay between pings; it doubles each attempt.
	Backoff time.Duration
}

// Connection defaults.
const (
	DefaultConnectAttempts = 6
	DefaultConnectBackoff  = 250 * time.Millisecond
)

// Connect opens a pool and pings until the database answers, backing off
// exponentially. It is meant for server start where the database container
// may still be booting.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	if opts.Attempts == 0 {
		opts.Attempts = DefaultConnectAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultConnectBackoff
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").Code("DB_CONFIG_INVALID").Wrap(err)
	}

	backoff := retry.WithMaxRetries(opts.Attempts, retry.NewExponential(opts.Backoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Debug("database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.In("store").Code("DB_UNAVAILABLE").With("attempts", attempt).Wrap(err)
	}
	return pool, nil
}
