// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package store persists the plugin catalogue and per-organization
// installations behind the reference platform API.
package store

import (
	"context"
	"errors"

	"github.com/eventdock/eventdock/internal/plugin"
)

// Error codes attached to store errors.
const (
	CodeNotFound         = "INSTALLATION_NOT_FOUND"
	CodeAlreadyInstalled = "PLUGIN_ALREADY_INSTALLED"
	CodeUnknownPlugin    = "PLUGIN_NOT_IN_CATALOG"
	CodeCorruptRecord    = "STORE_CORRUPT_RECORD"
)

// Sentinel errors, matchable with errors.Is.
var (
	ErrNotFound         = errors.New("installation not found")
	ErrAlreadyInstalled = errors.New("plugin already installed")
	ErrUnknownPlugin    = errors.New("plugin not in catalog")
)

// CatalogEntry is a manifest plus the bundle source it ships with.
type CatalogEntry struct {
	Manifest plugin.Manifest
	Bundle   []byte
}

// Store is the persistence contract of the reference platform API.
// Installation operations are scoped to an organization; an installation id
// from another organization is reported as ErrNotFound.
type Store interface {
	UpsertCatalog(ctx context.Context, entry CatalogEntry) error
	Catalog(ctx context.Context) ([]plugin.Manifest, error)
	Bundle(ctx context.Context, pluginID string) ([]byte, error)

	ListInstalled(ctx context.Context, orgID string) ([]plugin.InstalledPlugin, error)
	Install(ctx context.Context, orgID, pluginID, installedBy string) (*plugin.InstalledPlugin, error)
	Uninstall(ctx context.Context, orgID, installationID string) error
	SetEnabled(ctx context.Context, orgID, installationID string, enabled bool) (*plugin.InstalledPlugin, error)
	Configure(ctx context.Context, orgID, installationID string, config map[string]any) (*plugin.InstalledPlugin, error)
}
