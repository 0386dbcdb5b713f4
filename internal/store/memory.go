// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/eventdock/eventdock/internal/plugin"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	catalog   map[string]CatalogEntry
	installed map[string]*plugin.InstalledPlugin // installation id -> record
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		catalog:   make(map[string]CatalogEntry),
		installed: make(map[string]*plugin.InstalledPlugin),
		now:       time.Now,
	}
}

// UpsertCatalog adds or replaces a catalogue entry.
func (s *MemoryStore) UpsertCatalog(_ context.Context, entry CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[entry.Manifest.ID] = CatalogEntry{
		Manifest: *entry.Manifest.Clone(),
		Bundle:   slices.Clone(entry.Bundle),
	}
	return nil
}

// Catalog returns every catalogue manifest ordered by id.
func (s *MemoryStore) Catalog(_ context.Context) ([]plugin.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]plugin.Manifest, 0, len(s.catalog))
	for _, e := range s.catalog {
		out = append(out, *e.Manifest.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Bundle returns the bundle source for a catalogue plugin.
func (s *MemoryStore) Bundle(_ context.Context, pluginID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.catalog[pluginID]
	if !ok || len(e.Bundle) == 0 {
		return nil, oops.In("store").Code(CodeUnknownPlugin).With("plugin", pluginID).Wrap(ErrUnknownPlugin)
	}
	return slices.Clone(e.Bundle), nil
}

// ListInstalled returns an organization's installations ordered by install time.
func (s *MemoryStore) ListInstalled(_ context.Context, orgID string) ([]plugin.InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]plugin.InstalledPlugin, 0)
	for _, p := range s.installed {
		if p.OrganizationID == orgID {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Install records a new installation, enabled with an empty configuration.
func (s *MemoryStore) Install(_ context.Context, orgID, pluginID, _ string) (*plugin.InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.catalog[pluginID]; !ok {
		return nil, oops.In("store").Code(CodeUnknownPlugin).With("plugin", pluginID).Wrap(ErrUnknownPlugin)
	}
	for _, p := range s.installed {
		if p.OrganizationID == orgID && p.PluginID == pluginID {
			return nil, oops.In("store").Code(CodeAlreadyInstalled).
				With("plugin", pluginID).
				With("organization", orgID).
				Wrap(ErrAlreadyInstalled)
		}
	}

	now := s.now()
	p := &plugin.InstalledPlugin{
		ID:             ulid.Make().String(),
		OrganizationID: orgID,
		PluginID:       pluginID,
		Enabled:        true,
		Configuration:  map[string]any{},
		InstalledAt:    now,
		UpdatedAt:      now,
	}
	s.installed[p.ID] = p
	return p.Clone(), nil
}

// Uninstall removes an installation.
func (s *MemoryStore) Uninstall(_ context.Context, orgID, installationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookupLocked(orgID, installationID); err != nil {
		return err
	}
	delete(s.installed, installationID)
	return nil
}

// SetEnabled flips an installation's enabled flag.
func (s *MemoryStore) SetEnabled(_ context.Context, orgID, installationID string, enabled bool) (*plugin.InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupLocked(orgID, installationID)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled
	p.UpdatedAt = s.now()
	return p.Clone(), nil
}

// Configure replaces an installation's configuration.
func (s *MemoryStore) Configure(_ context.Context, orgID, installationID string, config map[string]any) (*plugin.InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupLocked(orgID, installationID)
	if err != nil {
		return nil, err
	}
	p.Configuration = make(map[string]any, len(config))
	maps.Copy(p.Configuration, config)
	p.UpdatedAt = s.now()
	return p.Clone(), nil
}

func (s *MemoryStore) lookupLocked(orgID, installationID string) (*plugin.InstalledPlugin, error) {
	p, ok := s.installed[installationID]
	if !ok || p.OrganizationID != orgID {
		return nil, oops.In("store").Code(CodeNotFound).
			With("installation", installationID).
			With("organization", orgID).
			Wrap(ErrNotFound)
	}
	return p, nil
}
