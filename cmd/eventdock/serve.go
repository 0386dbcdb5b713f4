// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/eventdock/eventdock/internal/apiserver"
	"github.com/eventdock/eventdock/internal/config"
	"github.com/eventdock/eventdock/internal/observability"
)

// shutdownTimeout bounds graceful shutdown of each server.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reference platform API",
		Long: `Run the reference platform API: the plugin catalogue seeded from
plugins-dir, per-organization installations and bundle hosting. Without a
database-url the installations live in memory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// runServeWithDeps runs the API server until a signal arrives, ctx ends or
// a server fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	slog.Info("starting platform API",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"persistent", cfg.DatabaseURL != "")

	// Opening waits for the database, so migrations run once it answers.
	handle, err := deps.StoreOpener(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open store").Wrap(err)
	}
	defer handle.Close()

	if cfg.DatabaseURL != "" {
		if err := migrateUp(deps.MigratorFactory, cfg.DatabaseURL); err != nil {
			return err
		}
	}

	seeded, err := apiserver.Seed(ctx, handle.Store, cfg.PluginsDir)
	if err != nil {
		return oops.Code("CATALOG_SEED_FAILED").With("plugins_dir", cfg.PluginsDir).Wrap(err)
	}
	slog.Info("plugin catalogue seeded", "plugins", seeded, "plugins_dir", cfg.PluginsDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := observability.NewRegistry()
	apiServer := deps.APIServerFactory(handle.Store, cfg.APIToken,
		apiserver.WithLogger(slog.Default()),
		apiserver.WithMetrics(observability.NewHTTPMetrics(reg)))
	apiErrCh, err := apiServer.Start(cfg.ListenAddr)
	if err != nil {
		return oops.Code("API_SERVER_START_FAILED").With("addr", cfg.ListenAddr).Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "platform-api")

	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, reg, handle.Ping)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopServer(apiServer, "platform API")
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("Platform API listening on %s\n", apiServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	if obsServer != nil {
		stopServer(obsServer, "observability")
	}
	stopServer(apiServer, "platform API")

	slog.Info("shutdown complete")
	return nil
}

func stopServer(s interface{ Stop(context.Context) error }, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when an error arrives, the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
