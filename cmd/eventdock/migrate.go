// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/eventdock/eventdock/internal/config"
)

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(nil)
}

func newMigrateCmd(factory func(string) (Migrator, error)) *cobra.Command {
	if factory == nil {
		factory = newMigrator
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the platform API database schema",
		Long:  `Apply, roll back or inspect the PostgreSQL migrations of the platform API store.`,
	}

	withMigrator := func(run func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			url, err := databaseURL(cfg)
			if err != nil {
				return err
			}
			m, err := factory(url)
			if err != nil {
				return err
			}
			defer closeMigrator(m)
			return run(cmd, m, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			cmd.Println("Rolling back migrations...")
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Rollback completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return err
			}
			cmd.Printf("Current version: %d", st.Version)
			if st.Dirty {
				cmd.Print(" (dirty)")
			}
			cmd.Println()
			for _, mig := range st.Applied {
				cmd.Printf("  [x] %06d %s\n", mig.Version, mig.Name)
			}
			for _, mig := range st.Pending {
				cmd.Printf("  [ ] %06d %s\n", mig.Version, mig.Name)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long:  `Set the recorded schema version and clear the dirty flag after a failed migration was repaired by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Schema version forced to %d\n", v)
			return nil
		}),
	})

	return cmd
}

// databaseURL returns the configured database URL or a CONFIG_INVALID error.
func databaseURL(cfg *config.Config) (string, error) {
	if cfg.DatabaseURL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Hint("set " + config.EnvDatabaseURL + " or database-url").
			Errorf("database URL is required")
	}
	return cfg.DatabaseURL, nil
}

// parseForceVersion parses a migration version. Parsing stops at the first
// non-digit.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return v, nil
}

// migrateUp applies pending migrations at server start.
func migrateUp(factory func(string) (Migrator, error), url string) error {
	m, err := factory(url)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

func closeMigrator(m Migrator) {
	if err := m.Close(); err != nil {
		slog.Warn("failed to close migrator", "error", err)
	}
}
