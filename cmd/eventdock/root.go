// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eventdock/eventdock/internal/config"
	"github.com/eventdock/eventdock/internal/logging"
	"github.com/eventdock/eventdock/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the EventDock CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventdock",
		Short: "EventDock - plugin runtime for the EventDock ticketing platform",
		Long: `EventDock loads marketplace plugins from remote script bundles, manages
their installation lifecycle per organization and renders their UI
contributions into host extension points. It also ships the reference
platform API that serves the plugin catalogue.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (default $XDG_CONFIG_HOME/eventdock/"+xdg.ConfigFileName+" when present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPluginsCmd())

	return cmd
}

// loadConfig merges the config file, environment and cmd's flags, then
// installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		var err error
		if path, err = xdg.DefaultConfigFile(); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.SetDefault(logging.Setup("eventdock", version, cfg.LogFormat, cmd.ErrOrStderr()))
	return cfg, nil
}
