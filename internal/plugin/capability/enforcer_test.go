// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package capability_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventdock/eventdock/internal/plugin/capability"
)

func TestEnforcer_Check(t *testing.T) {
	tests := []struct {
		name       string
		grants     []string
		capability string
		want       bool
	}{
		{"exact match", []string{"read:orders"}, "read:orders", true},
		{"verb wildcard", []string{"read:*"}, "read:orders", true},
		{"resource wildcard", []string{"*:orders"}, "write:orders", true},
		{"super wildcard", []string{"**"}, "write:events", true},
		{"different resource", []string{"read:orders"}, "read:events", false},
		{"read does not imply write", []string{"read:*"}, "write:orders", false},
		{"empty grants", []string{}, "read:orders", false},
		{"bare verb is not a grant", []string{"read"}, "read:orders", false},
		{"empty capability", []string{"**"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := capability.NewEnforcer()
			require.NoError(t, e.SetGrants("stripe-payment", tt.grants))
			assert.Equal(t, tt.want, e.Check("stripe-payment", tt.capability))
		})
	}
}

func TestEnforcer_UnknownPluginDenied(t *testing.T) {
	e := capability.NewEnforcer()
	assert.False(t, e.Check("unknown", "read:orders"))
	assert.False(t, e.IsRegistered("unknown"))
}

func TestEnforcer_ZeroValue(t *testing.T) {
	var e capability.Enforcer
	assert.False(t, e.Check("p", "read:orders"))
	e.RemoveGrants("p")
	require.NoError(t, e.SetGrants("p", []string{"read:orders"}))
	assert.True(t, e.Check("p", "read:orders"))
}

func TestEnforcer_SetGrantsIsAtomic(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"read:orders"}))

	err := e.SetGrants("p", []string{"read:events", "[unclosed"})
	require.Error(t, err)
	assert.Equal(t, []string{"read:orders"}, e.GetGrants("p"))

	assert.Error(t, e.SetGrants("", []string{"read:orders"}))
	assert.Error(t, e.SetGrants("p", []string{""}))
}

func TestEnforcer_GetGrantsReturnsCopy(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("p", []string{"read:orders"}))

	got := e.GetGrants("p")
	got[0] = "**"
	assert.False(t, e.Check("p", "write:orders"))
	assert.Nil(t, e.GetGrants("other"))
}

func TestEnforcer_RemoveGrantsAndList(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("b", nil))
	require.NoError(t, e.SetGrants("a", []string{"read:*"}))
	assert.Equal(t, []string{"a", "b"}, e.ListPlugins())

	e.RemoveGrants("a")
	assert.False(t, e.Check("a", "read:orders"))
	assert.Equal(t, []string{"b"}, e.ListPlugins())
}

func TestEnforcer_ConcurrentAccess(t *testing.T) {
	e := capability.NewEnforcer()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = e.SetGrants("p", []string{"read:*"})
		}()
		go func() {
			defer wg.Done()
			_ = e.Check("p", "read:orders")
		}()
	}
	wg.Wait()
	assert.True(t, e.Check("p", "read:orders"))
}

func TestPolicy_Filter(t *testing.T) {
	p, err := capability.NewPolicy([]string{"read:*", "write:payments"})
	require.NoError(t, err)

	allowed, denied := p.Filter([]string{"read:orders", "write:payments", "write:events"})
	assert.Equal(t, []string{"read:orders", "write:payments"}, allowed)
	assert.Equal(t, []string{"write:events"}, denied)
}

func TestPolicy_NilAllowsEverything(t *testing.T) {
	var p *capability.Policy
	assert.True(t, p.Allows("write:events"))
	assert.False(t, p.Allows(""))
}

func TestNewPolicy_InvalidPattern(t *testing.T) {
	_, err := capability.NewPolicy([]string{"[bad"})
	assert.Error(t, err)
}
