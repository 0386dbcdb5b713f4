// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package capability decides which platform API calls a plugin may make.
//
// Capabilities have the form "<verb>:<resource>", for example "read:orders"
// or "write:events". Grants are gobwas/glob patterns with ':' as the segment
// separator:
//   - '*' matches a single segment: "read:*" matches "read:orders"
//   - '**' matches any capability
//
// A plugin's effective grants are its declared permissions that the
// organization's Policy allows. Anything not granted is denied.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

// Separator splits a capability into verb and resource.
const Separator = ':'

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("capability %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, Separator)
		if err != nil {
			return nil, fmt.Errorf("capability %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

func matchAny(grants []compiledGrant, capability string) bool {
	for _, g := range grants {
		if g.glob.Match(capability) {
			return true
		}
	}
	return false
}

// Policy is the set of capability patterns an organization allows plugins
// to hold. A nil Policy allows everything.
type Policy struct {
	grants []compiledGrant
}

// NewPolicy compiles the allowed patterns.
func NewPolicy(patterns []string) (*Policy, error) {
	compiled, err := compile(patterns)
	if err != nil {
		return nil, err
	}
	return &Policy{grants: compiled}, nil
}

// Allows reports whether capability is permitted by the policy.
func (p *Policy) Allows(capability string) bool {
	if p == nil {
		return capability != ""
	}
	return matchAny(p.grants, capability)
}

// Filter returns the requested capabilities the policy allows, and the ones
// it refuses.
func (p *Policy) Filter(requested []string) (allowed, denied []string) {
	for _, c := range requested {
		if p.Allows(c) {
			allowed = append(allowed, c)
		} else {
			denied = append(denied, c)
		}
	}
	return allowed, denied
}

// Enforcer checks plugin capabilities at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use
// without calling NewEnforcer.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin id -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the capabilities of a plugin. If any pattern is invalid
// nothing changes.
func (e *Enforcer) SetGrants(plugin string, capabilities []string) error {
	if plugin == "" {
		return errors.New("plugin id cannot be empty")
	}

	compiled, err := compile(capabilities)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// IsRegistered reports whether SetGrants has been called for plugin. It
// distinguishes "unknown plugin" from "plugin lacks capability".
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.grants[plugin]
	return ok
}

// RemoveGrants forgets a plugin. Safe for unknown plugins.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.grants, plugin)
}

// GetGrants returns a copy of the patterns granted to plugin, or nil if the
// plugin is not registered.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// ListPlugins returns registered plugin ids in sorted order, never nil.
func (e *Enforcer) ListPlugins() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	plugins := make([]string, 0, len(e.grants))
	for id := range e.grants {
		plugins = append(plugins, id)
	}
	sort.Strings(plugins)
	return plugins
}

// Check reports whether plugin holds capability. Empty inputs and unknown
// plugins are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return false
	}
	return matchAny(grants, capability)
}
