// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package lua

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"
)

func TestNewState_LibraryLoadError(t *testing.T) {
	failingLoader := func(L *luavm.LState) int {
		L.RaiseError("simulated library load failure")
		return 0
	}

	factory := &StateFactory{
		libraries: []safeLibrary{
			{"failing-lib", failingLoader},
		},
	}

	_, err := factory.NewState(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to open library failing-lib")
}

func TestDefaultSafeLibraries(t *testing.T) {
	var names []string
	for _, lib := range defaultSafeLibraries() {
		names = append(names, lib.name)
	}
	assert.ElementsMatch(t, []string{
		luavm.BaseLibName,
		luavm.TabLibName,
		luavm.StringLibName,
		luavm.MathLibName,
	}, names)
}

func TestModuleClose_Idempotent(t *testing.T) {
	L, err := NewStateFactory().NewState(context.Background())
	require.NoError(t, err)

	m := &module{L: L, pluginID: "test-plugin"}
	require.NoError(t, m.close())
	require.NoError(t, m.close())
	assert.True(t, m.closed)
}
