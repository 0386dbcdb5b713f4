// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eventdock/eventdock/internal/apiserver"
	"github.com/eventdock/eventdock/internal/observability"
	"github.com/eventdock/eventdock/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the installation store for a database URL.
	// Default: openStore (in-memory when the URL is empty)
	StoreOpener func(ctx context.Context, databaseURL string) (*StoreHandle, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// APIServerFactory creates the platform API server.
	// Default: apiserver.New
	APIServerFactory func(st store.Store, token string, opts ...apiserver.Option) APIServer

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, reg *prometheus.Registry, ready observability.ReadinessChecker) ObservabilityServer
}

// StoreHandle is an open store plus its health check and cleanup.
type StoreHandle struct {
	Store store.Store
	// Ping reports whether the backing database is reachable.
	Ping func(ctx context.Context) error
	// Close releases the connection pool, if any.
	Close func()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// APIServer wraps the methods used from apiserver.Server.
type APIServer interface {
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = openStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = newMigrator
	}
	if out.APIServerFactory == nil {
		out.APIServerFactory = func(st store.Store, token string, opts ...apiserver.Option) APIServer {
			return apiserver.New(st, token, opts...)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, reg *prometheus.Registry, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, reg, ready)
		}
	}
	return &out
}

func newMigrator(databaseURL string) (Migrator, error) {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// openStore returns the in-memory store for an empty URL and a PostgreSQL
// store otherwise.
func openStore(ctx context.Context, databaseURL string) (*StoreHandle, error) {
	if databaseURL == "" {
		return &StoreHandle{
			Store: store.NewMemoryStore(),
			Ping:  func(context.Context) error { return nil },
			Close: func() {},
		}, nil
	}

	pool, err := store.Connect(ctx, databaseURL, store.ConnectOptions{})
	if err != nil {
		return nil, err
	}
	return &StoreHandle{
		Store: store.NewPostgresStore(pool),
		Ping:  pool.Ping,
		Close: pool.Close,
	}, nil
}
