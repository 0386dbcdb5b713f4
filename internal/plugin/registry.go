// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Entry is one component registered against an extension point.
type Entry struct {
	ExtensionPoint string
	PluginID       string
	Component      Component
	Priority       int
	// Manifest is the manifest the plugin registered with. Treat as read-only.
	Manifest *Manifest

	seq uint64
}

// Registration is everything Rebuild needs to register one plugin.
type Registration struct {
	Manifest *Manifest
	Module   *LoadedModule
}

// Registry indexes extension point name to the components that implement
// it. It knows nothing about how modules were loaded.
//
// Registry is safe for concurrent use. Readers never observe a partially
// applied Register or Unregister.
type Registry struct {
	mu      sync.RWMutex
	points  map[string][]Entry
	plugins map[string][]string // plugin id -> points it occupies
	order   map[string]uint64   // plugin id -> first registration sequence
	nextSeq uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		points:  make(map[string][]Entry),
		plugins: make(map[string][]string),
		order:   make(map[string]uint64),
	}
}

// Register replaces all entries for pluginID with the components in table.
// Every key of table must be declared in manifest.ExtensionPoints; otherwise
// nothing changes and ErrExtensionPointMismatch is returned.
func (r *Registry) Register(pluginID string, manifest *Manifest, table map[string]Component) error {
	errb := oops.In("registry").With("plugin", pluginID)
	if manifest == nil {
		return errb.Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "manifest is nil")
	}

	var undeclared []string
	for point := range table {
		if !manifest.Declares(point) {
			undeclared = append(undeclared, point)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return errb.Code(CodeExtensionPointMismatch).
			With("extension_points", undeclared).
			Wrapf(ErrExtensionPointMismatch, "bundle exports %v not declared by manifest", undeclared)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.reserveLocked(pluginID)
	r.removeLocked(pluginID)

	points := make([]string, 0, len(table))
	for point, c := range table {
		entries := append(r.points[point], Entry{
			ExtensionPoint: point,
			PluginID:       pluginID,
			Component:      c,
			Priority:       manifest.Priority,
			Manifest:       manifest,
			seq:            seq,
		})
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Priority != entries[j].Priority {
				return entries[i].Priority > entries[j].Priority
			}
			return entries[i].seq < entries[j].seq
		})
		r.points[point] = entries
		RegistryEntries.WithLabelValues(point).Set(float64(len(entries)))
		points = append(points, point)
	}
	sort.Strings(points)
	r.plugins[pluginID] = points
	return nil
}

// Reserve fixes the tie-break order of the given plugins ahead of their
// registration, in argument order. Plugins that already hold a position keep
// it.
func (r *Registry) Reserve(pluginIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range pluginIDs {
		r.reserveLocked(id)
	}
}

func (r *Registry) reserveLocked(pluginID string) uint64 {
	seq, ok := r.order[pluginID]
	if !ok {
		r.nextSeq++
		seq = r.nextSeq
		r.order[pluginID] = seq
	}
	return seq
}

// Unregister removes every entry for pluginID. It is a no-op when the plugin
// has no entries.
func (r *Registry) Unregister(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(pluginID)
}

func (r *Registry) removeLocked(pluginID string) {
	for _, point := range r.plugins[pluginID] {
		entries := r.points[point]
		kept := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.PluginID != pluginID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(r.points, point)
		} else {
			r.points[point] = kept
		}
		RegistryEntries.WithLabelValues(point).Set(float64(len(kept)))
	}
	delete(r.plugins, pluginID)
}

// ComponentsFor returns the entries for an extension point ordered by
// priority descending, then registration order. The result is a copy and is
// never nil.
func (r *Registry) ComponentsFor(point string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.points[point]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Has reports whether pluginID currently has entries.
func (r *Registry) Has(pluginID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[pluginID]
	return ok
}

// Plugins returns the ids of registered plugins in sorted order.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Points returns extension point names that have at least one entry.
func (r *Registry) Points() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.points))
	for name := range r.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rebuild discards all entries, reserves order for the ids in order, then
// registers the given plugins. It never touches the network. Registrations
// that fail are skipped and their errors returned together.
func (r *Registry) Rebuild(order []string, regs []Registration) []error {
	r.Reset()
	r.Reserve(order...)
	var errs []error
	for _, reg := range regs {
		if reg.Module == nil {
			continue
		}
		if err := r.Register(reg.Module.PluginID, reg.Manifest, reg.Module.ExtensionPoints); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Reset removes every entry and forgets registration order.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for point := range r.points {
		RegistryEntries.WithLabelValues(point).Set(0)
	}
	r.points = make(map[string][]Entry)
	r.plugins = make(map[string][]string)
	r.order = make(map[string]uint64)
	r.nextSeq = 0
}
