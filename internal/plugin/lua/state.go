// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package lua executes plugin bundles written in Lua.
//
// Each bundle gets its own long-lived state restricted to the base, table,
// string and math libraries. The restriction keeps bundles from touching the
// host filesystem by accident; it is not a security boundary.
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, channel, coroutine.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// Default VM limits for bundle states.
const (
	DefaultCallStackSize   = 256
	DefaultRegistrySize    = 1024 * 4
	DefaultRegistryMaxSize = 1024 * 256
)

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	// libraries allows overriding the default safe libraries for testing.
	libraries       []safeLibrary
	callStackSize   int
	registrySize    int
	registryMaxSize int
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries:       defaultSafeLibraries(),
		callStackSize:   DefaultCallStackSize,
		registrySize:    DefaultRegistrySize,
		registryMaxSize: DefaultRegistryMaxSize,
	}
}

// unsafeBaseFunctions lists base library functions that read files or
// compile arbitrary chunks at runtime.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// NewState creates a fresh Lua state with only safe libraries loaded. The
// state is bound to ctx while the libraries open; callers bind their own
// context for later calls.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       f.callStackSize,
		RegistrySize:        f.registrySize,
		RegistryMaxSize:     f.registryMaxSize,
		IncludeGoStackTrace: false,
	})
	L.SetContext(ctx)
	defer L.RemoveContext()

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}
