// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/pkg/errutil"
)

func pluginIDs(entries []plugin.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PluginID
	}
	return ids
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := plugin.NewRegistry()
	m := testManifest("stripe-payment-plugin", plugin.PointAdminSettings, plugin.PointPaymentMethods)

	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{
		plugin.PointAdminSettings:  textComponent("settings"),
		plugin.PointPaymentMethods: textComponent("pay"),
	}))

	entries := r.ComponentsFor(plugin.PointPaymentMethods)
	require.Len(t, entries, 1)
	assert.Equal(t, m.ID, entries[0].PluginID)
	assert.Equal(t, plugin.PointPaymentMethods, entries[0].ExtensionPoint)
	assert.Same(t, m, entries[0].Manifest)

	assert.True(t, r.Has(m.ID))
	assert.Equal(t, []string{m.ID}, r.Plugins())
	assert.Equal(t, []string{plugin.PointAdminSettings, plugin.PointPaymentMethods}, r.Points())
}

func TestRegistry_ComponentsForUnknownPointIsEmpty(t *testing.T) {
	r := plugin.NewRegistry()
	entries := r.ComponentsFor("nowhere")
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestRegistry_OrdersByPriorityThenRegistration(t *testing.T) {
	r := plugin.NewRegistry()
	register := func(id string, priority int) {
		m := testManifest(id, plugin.PointPaymentMethods)
		m.Priority = priority
		require.NoError(t, r.Register(id, m, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent(id)}))
	}

	register("paypal", 0)
	register("stripe", 10)
	register("klarna", 0)
	register("adyen", 10)

	assert.Equal(t, []string{"stripe", "adyen", "paypal", "klarna"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))

	// Re-registering keeps the original position among equals.
	register("paypal", 0)
	assert.Equal(t, []string{"stripe", "adyen", "paypal", "klarna"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))

	// So does unregistering and coming back.
	r.Unregister("paypal")
	register("paypal", 0)
	assert.Equal(t, []string{"stripe", "adyen", "paypal", "klarna"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))
}

func TestRegistry_RegisterReplacesPreviousEntries(t *testing.T) {
	r := plugin.NewRegistry()
	m := testManifest("widgets", plugin.PointDashboardWidget, plugin.PointEventDetails)

	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{
		plugin.PointDashboardWidget: textComponent("v1"),
		plugin.PointEventDetails:    textComponent("v1"),
	}))
	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{
		plugin.PointDashboardWidget: textComponent("v2"),
	}))

	assert.Len(t, r.ComponentsFor(plugin.PointDashboardWidget), 1)
	assert.Empty(t, r.ComponentsFor(plugin.PointEventDetails))
}

func TestRegistry_RejectsUndeclaredPoints(t *testing.T) {
	r := plugin.NewRegistry()
	m := testManifest("stripe-payment-plugin", plugin.PointPaymentMethods)
	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent("v1")}))

	err := r.Register(m.ID, m, map[string]plugin.Component{
		plugin.PointPaymentMethods: textComponent("v2"),
		plugin.PointSeatingMap:     textComponent("v2"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrExtensionPointMismatch)
	errutil.AssertErrorCode(t, err, plugin.CodeExtensionPointMismatch)

	assert.Empty(t, r.ComponentsFor(plugin.PointSeatingMap))
	assert.Len(t, r.ComponentsFor(plugin.PointPaymentMethods), 1, "a rejected registration changes nothing")
}

func TestRegistry_RejectsNilManifest(t *testing.T) {
	r := plugin.NewRegistry()
	err := r.Register("x", nil, nil)
	assert.ErrorIs(t, err, plugin.ErrInvalidManifest)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	r := plugin.NewRegistry()
	m := testManifest("stripe-payment-plugin", plugin.PointPaymentMethods)
	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent("pay")}))

	r.Unregister(m.ID)
	r.Unregister(m.ID)
	r.Unregister("never-registered")

	assert.False(t, r.Has(m.ID))
	assert.Empty(t, r.ComponentsFor(plugin.PointPaymentMethods))
	assert.Empty(t, r.Points())
}

func TestRegistry_ComponentsForReturnsCopy(t *testing.T) {
	r := plugin.NewRegistry()
	m := testManifest("stripe-payment-plugin", plugin.PointPaymentMethods)
	require.NoError(t, r.Register(m.ID, m, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent("pay")}))

	entries := r.ComponentsFor(plugin.PointPaymentMethods)
	entries[0].PluginID = "mutated"

	assert.Equal(t, m.ID, r.ComponentsFor(plugin.PointPaymentMethods)[0].PluginID)
}

func TestRegistry_Rebuild(t *testing.T) {
	r := plugin.NewRegistry()
	stale := testManifest("stale", plugin.PointEventDetails)
	require.NoError(t, r.Register(stale.ID, stale, map[string]plugin.Component{plugin.PointEventDetails: textComponent("old")}))

	good := testManifest("good", plugin.PointEventDetails)
	bad := testManifest("bad", plugin.PointEventDetails)
	errs := r.Rebuild(nil, []plugin.Registration{
		{Manifest: good, Module: &plugin.LoadedModule{PluginID: "good", ExtensionPoints: map[string]plugin.Component{plugin.PointEventDetails: textComponent("good")}}},
		{Manifest: bad, Module: &plugin.LoadedModule{PluginID: "bad", ExtensionPoints: map[string]plugin.Component{plugin.PointSeatingMap: textComponent("bad")}}},
		{Manifest: good},
	})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], plugin.ErrExtensionPointMismatch)
	assert.Equal(t, []string{"good"}, r.Plugins())
}

func TestRegistry_ReserveFixesOrderBeforeRegistration(t *testing.T) {
	r := plugin.NewRegistry()
	register := func(id string) {
		m := testManifest(id, plugin.PointPaymentMethods)
		require.NoError(t, r.Register(id, m, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent(id)}))
	}

	r.Reserve("alpha", "beta", "gamma")
	register("gamma")
	register("beta")
	register("alpha")
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))

	// Reserving again never moves a plugin.
	r.Reserve("gamma", "alpha")
	register("alpha")
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))
}

func TestRegistry_RebuildReservesOrder(t *testing.T) {
	r := plugin.NewRegistry()
	first := testManifest("first", plugin.PointPaymentMethods)
	second := testManifest("second", plugin.PointPaymentMethods)

	r.Rebuild([]string{"first", "second"}, []plugin.Registration{
		{Manifest: second, Module: &plugin.LoadedModule{PluginID: "second", ExtensionPoints: map[string]plugin.Component{plugin.PointPaymentMethods: textComponent("second")}}},
	})
	require.NoError(t, r.Register("first", first, map[string]plugin.Component{plugin.PointPaymentMethods: textComponent("first")}))

	assert.Equal(t, []string{"first", "second"}, pluginIDs(r.ComponentsFor(plugin.PointPaymentMethods)))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := plugin.NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		id := fmt.Sprintf("plugin-%d", i)
		go func() {
			defer wg.Done()
			m := testManifest(id, plugin.PointDashboardWidget)
			_ = r.Register(id, m, map[string]plugin.Component{plugin.PointDashboardWidget: textComponent(id)})
			if i%2 == 0 {
				r.Unregister(id)
			}
		}()
		go func() {
			defer wg.Done()
			for _, e := range r.ComponentsFor(plugin.PointDashboardWidget) {
				assert.NotNil(t, e.Component)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, r.ComponentsFor(plugin.PointDashboardWidget), 10)
}
