// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"maps"
	"time"
)

// State is where a plugin is in its installation lifecycle.
type State string

// Lifecycle states.
const (
	StateNotInstalled State = "not_installed"
	StateInstalling   State = "installing"
	StateEnabled      State = "enabled"
	StateDisabled     State = "disabled"
	StateUninstalling State = "uninstalling"
	StateLoadFailed   State = "load_failed"
	StateIncompatible State = "incompatible"
)

// Installed reports whether the state corresponds to an installation record
// on the server.
func (s State) Installed() bool {
	switch s {
	case StateEnabled, StateDisabled, StateLoadFailed, StateIncompatible:
		return true
	default:
		return false
	}
}

// Transitioning reports whether an API call is changing the installation.
func (s State) Transitioning() bool {
	return s == StateInstalling || s == StateUninstalling
}

// InstalledPlugin is the server's record of a plugin installed in an
// organization.
type InstalledPlugin struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	PluginID       string         `json:"pluginId"`
	Enabled        bool           `json:"enabled"`
	Configuration  map[string]any `json:"configuration"`
	InstalledAt    time.Time      `json:"installedAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy with a non-nil configuration.
func (p *InstalledPlugin) Clone() *InstalledPlugin {
	if p == nil {
		return nil
	}
	c := *p
	c.Configuration = make(map[string]any, len(p.Configuration))
	maps.Copy(c.Configuration, p.Configuration)
	return &c
}

// Status is a point-in-time view of one plugin's lifecycle.
type Status struct {
	PluginID     string
	State        State
	Installation *InstalledPlugin
	Manifest     *Manifest
	// Err is the last load or compatibility error, if any.
	Err error
	// LoadedVersion is the version of the cached module, if one is cached.
	LoadedVersion string
}
