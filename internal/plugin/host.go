// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Props is what a component receives when it is rendered.
type Props struct {
	Context ExtensionContext
	SDK     *SDK
}

// Component renders one extension point for one plugin. Render may block on
// I/O; the renderer runs each component on its own goroutine.
type Component interface {
	Render(ctx context.Context, props Props) (Node, error)
}

// ComponentFunc adapts a function to Component.
type ComponentFunc func(ctx context.Context, props Props) (Node, error)

// Render calls f.
func (f ComponentFunc) Render(ctx context.Context, props Props) (Node, error) {
	return f(ctx, props)
}

// Export is the raw definition a bundle registers when it is executed.
type Export struct {
	// Metadata is the bundle's self-description; it must decode as a manifest.
	Metadata any
	// ExtensionPoints maps point name to component.
	ExtensionPoints map[string]Component
	// Close releases runtime resources held by the bundle. Optional.
	Close func() error
}

// Executor runs a fetched bundle in some runtime and returns what it
// registered. Execute is called at most once per loaded module.
type Executor interface {
	Execute(ctx context.Context, pluginID string, source []byte) (*Export, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, pluginID string, source []byte) (*Export, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, pluginID string, source []byte) (*Export, error) {
	return f(ctx, pluginID, source)
}

// LoadedModule is a validated, executed bundle.
type LoadedModule struct {
	PluginID        string
	Metadata        *Manifest
	ExtensionPoints map[string]Component
	Digest          string
	LoadedAt        time.Time

	close func() error
}

// Component returns the component registered for a point.
func (m *LoadedModule) Component(point string) (Component, bool) {
	c, ok := m.ExtensionPoints[point]
	return c, ok
}

// Points returns the exported point names in sorted order.
func (m *LoadedModule) Points() []string {
	return slices.Sorted(maps.Keys(m.ExtensionPoints))
}

// Close releases the module's runtime resources.
func (m *LoadedModule) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}
