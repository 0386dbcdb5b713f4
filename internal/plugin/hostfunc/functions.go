// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package hostfunc exposes the plugin SDK to Lua bundles.
//
// Bundles see a global "platform" table at load time and receive an "sdk"
// and "context" table in the props of every component call. Functions that
// reach the platform API are capability-checked by plugin.ScopedAPI; the
// bindings here only translate between Lua and Go values.
//
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"log/slog"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/eventdock/eventdock/internal/plugin"
)

// GlobalName is the Lua global the platform module is installed under.
const GlobalName = "platform"

// Functions provides host functions to Lua plugins.
type Functions struct {
	logger *slog.Logger
}

// Option configures Functions.
type Option func(*Functions)

// WithLogger sets the logger plugin log calls are written to.
func WithLogger(l *slog.Logger) Option {
	return func(f *Functions) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates host functions.
func New(opts ...Option) *Functions {
	f := &Functions{logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register installs the platform module in L and returns it so callers can
// add fields such as register.
func (f *Functions) Register(ls *lua.LState, pluginID string) *lua.LTable {
	mod := ls.NewTable()

	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginID)))
	ls.SetField(mod, "new_request_id", ls.NewFunction(newRequestIDFn))
	ls.SetField(mod, "host_api_version", lua.LString(plugin.HostAPIVersion))

	points := ls.NewTable()
	for _, p := range plugin.KnownPoints() {
		points.Append(lua.LString(p))
	}
	ls.SetField(mod, "extension_points", points)

	ls.SetGlobal(GlobalName, mod)
	return mod
}

func (f *Functions) logFn(pluginID string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := f.logger.With("plugin", pluginID)
		switch level {
		case "debug":
			logger.Debug(message)
		case "info":
			logger.Info(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			L.ArgError(1, "level must be one of debug, info, warn, error")
		}
		return 0
	}
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}
