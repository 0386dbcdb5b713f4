// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package config loads EventDock settings from an optional YAML file,
// environment secrets and command-line flags, in increasing precedence.
package config

import (
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/eventdock/eventdock/internal/logging"
	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/capability"
)

// Environment variables that supply secrets.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvAPIToken    = "EVENTDOCK_API_TOKEN" //nolint:gosec // variable name, not a credential
)

// Defaults for flags without an obvious zero value.
const (
	DefaultAPIURL      = "http://127.0.0.1:8080"
	DefaultListenAddr  = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultSlotTimeout = 5 * time.Second
	DefaultPluginsDir  = "plugins"
	DefaultUserRole    = "admin"
)

// Config holds every EventDock setting.
type Config struct {
	LogFormat string `koanf:"log-format"`

	// Platform API client.
	APIURL             string   `koanf:"api-url"`
	APIToken           string   `koanf:"api-token"`
	OrganizationID     string   `koanf:"organization-id"`
	UserID             string   `koanf:"user-id"`
	UserEmail          string   `koanf:"user-email"`
	UserRole           string   `koanf:"user-role"`
	GrantedPermissions []string `koanf:"granted-permissions"`

	// Bundle loading and rendering.
	BundleContentTypes []string      `koanf:"bundle-content-types"`
	BundleTimeout      time.Duration `koanf:"bundle-timeout"`
	MaxBundleBytes     int64         `koanf:"max-bundle-bytes"`
	SlotTimeout        time.Duration `koanf:"slot-timeout"`

	// Reference API server.
	ListenAddr  string `koanf:"listen-addr"`
	MetricsAddr string `koanf:"metrics-addr"`
	DatabaseURL string `koanf:"database-url"`
	PluginsDir  string `koanf:"plugins-dir"`
}

// RegisterFlags defines a flag, with its default, for every key.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-format", logging.FormatJSON, "log format (json or text)")

	fs.String("api-url", DefaultAPIURL, "platform API base URL")
	fs.String("api-token", "", "platform API session token (prefer "+EnvAPIToken+")")
	fs.String("organization-id", "", "organization whose plugins are managed")
	fs.String("user-id", "", "acting user id")
	fs.String("user-email", "", "acting user email")
	fs.String("user-role", DefaultUserRole, "acting user role")
	fs.StringSlice("granted-permissions", []string{"*:*"}, "capability patterns the host may grant plugins")

	fs.StringSlice("bundle-content-types", plugin.DefaultScriptContentTypes, "media types accepted for plugin bundles")
	fs.Duration("bundle-timeout", plugin.DefaultBundleTimeout, "timeout for fetching one bundle")
	fs.Int64("max-bundle-bytes", plugin.DefaultMaxBundleBytes, "maximum bundle size in bytes")
	fs.Duration("slot-timeout", DefaultSlotTimeout, "timeout for rendering one extension point slot")

	fs.String("listen-addr", DefaultListenAddr, "platform API listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL URL (prefer "+EnvDatabaseURL+"; empty = in-memory store)")
	fs.String("plugins-dir", DefaultPluginsDir, "directory of plugin packages seeded into the catalog")
}

// Load merges the config file at path (skipped when empty), environment
// secrets and fs. fs must carry the flags from RegisterFlags; a nil fs
// uses the defaults.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs, os.Getenv)
}

func load(path string, fs *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	if fs == nil {
		fs = pflag.NewFlagSet("eventdock", pflag.ContinueOnError)
		RegisterFlags(fs)
	}

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	for key, env := range map[string]string{"database-url": EnvDatabaseURL, "api-token": EnvAPIToken} {
		if v := getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
			}
		}
	}

	// Flags override only when set explicitly; otherwise their defaults
	// fill keys nothing else provided.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.In("config").Code("CONFIG_LOAD_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	errb := oops.In("config").Code("CONFIG_INVALID")

	if err := logging.ValidateFormat(c.LogFormat); err != nil {
		return errb.Wrap(err)
	}
	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errb.With("api-url", c.APIURL).Errorf("api-url must be an absolute http(s) URL")
		}
	}
	if c.BundleTimeout <= 0 {
		return errb.With("bundle-timeout", c.BundleTimeout).Errorf("bundle-timeout must be positive")
	}
	if c.SlotTimeout <= 0 {
		return errb.With("slot-timeout", c.SlotTimeout).Errorf("slot-timeout must be positive")
	}
	if c.MaxBundleBytes <= 0 {
		return errb.With("max-bundle-bytes", c.MaxBundleBytes).Errorf("max-bundle-bytes must be positive")
	}
	if len(c.BundleContentTypes) == 0 || slices.Contains(c.BundleContentTypes, "") {
		return errb.Errorf("bundle-content-types must list at least one media type")
	}
	if _, err := capability.NewPolicy(c.GrantedPermissions); err != nil {
		return errb.With("granted-permissions", c.GrantedPermissions).Wrap(err)
	}
	return nil
}

// ValidateClient checks the settings the plugin commands need to talk to
// the platform API.
func (c *Config) ValidateClient() error {
	if err := c.Validate(); err != nil {
		return err
	}
	errb := oops.In("config").Code("CONFIG_INVALID").Hint("set it in the config file or with a flag")
	if c.APIURL == "" {
		return errb.Errorf("api-url is required")
	}
	if c.OrganizationID == "" {
		return errb.Errorf("organization-id is required")
	}
	if c.APIToken == "" {
		return errb.Hint("set " + EnvAPIToken).Errorf("api-token is required")
	}
	return nil
}

// ValidateServer checks the settings the reference API server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	errb := oops.In("config").Code("CONFIG_INVALID")
	if c.ListenAddr == "" {
		return errb.Errorf("listen-addr is required")
	}
	if c.APIToken == "" {
		return errb.Hint("set " + EnvAPIToken).Errorf("api-token is required to authenticate clients")
	}
	if c.MetricsAddr != "" && c.MetricsAddr == c.ListenAddr {
		return errb.With("addr", c.ListenAddr).Errorf("metrics-addr must differ from listen-addr")
	}
	return nil
}

// Policy compiles the granted permission patterns.
func (c *Config) Policy() (*capability.Policy, error) {
	p, err := capability.NewPolicy(c.GrantedPermissions)
	if err != nil {
		return nil, oops.In("config").Code("CONFIG_INVALID").With("granted-permissions", c.GrantedPermissions).Wrap(err)
	}
	return p, nil
}

// User is the acting user as plugins see it.
func (c *Config) User() plugin.UserSnapshot {
	return plugin.UserSnapshot{ID: c.UserID, Email: c.UserEmail, Role: c.UserRole}
}

// LoaderOptions maps the bundle settings onto loader options.
func (c *Config) LoaderOptions() []plugin.LoaderOption {
	return []plugin.LoaderOption{
		plugin.WithContentTypes(c.BundleContentTypes...),
		plugin.WithBundleTimeout(c.BundleTimeout),
		plugin.WithMaxBundleBytes(c.MaxBundleBytes),
	}
}
