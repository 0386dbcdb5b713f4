// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/capability"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, t plugin.Toast) {
	m.Called(ctx, t)
}

func toastMatching(id string, level plugin.ToastLevel, msg string) any {
	return mock.MatchedBy(func(t plugin.Toast) bool {
		return t.PluginID == id && t.Level == level && t.Message == msg && !t.At.IsZero()
	})
}

func TestController_NotifiesOperator(t *testing.T) {
	srv := newBundleServer(t)
	exec := newFakeExecutor()
	m := stripeTestManifest(srv)
	exec.serve(m, map[string]plugin.Component{
		plugin.PointAdminSettings:  textComponent("settings"),
		plugin.PointPaymentMethods: textComponent("pay"),
	})
	backend := newFakeBackend(m)

	n := &mockNotifier{}
	n.On("Notify", mock.Anything, toastMatching(stripeID, plugin.ToastSuccess, "Configuration saved")).Once()
	n.On("Notify", mock.Anything, mock.MatchedBy(func(t plugin.Toast) bool {
		return t.PluginID == stripeID && t.Level == plugin.ToastError
	})).Twice()

	ctrl := plugin.NewController(backend, plugin.NewLoader(exec), plugin.NewRegistry(), capability.NewEnforcer(),
		plugin.WithNotifier(n))
	ctx := context.Background()

	_, err := ctrl.Install(ctx, stripeID)
	require.NoError(t, err)

	_, err = ctrl.Configure(ctx, stripeID, map[string]any{"apiKey": "sk_test_1"})
	require.NoError(t, err)

	_, err = ctrl.Configure(ctx, stripeID, map[string]any{"apiKey": "nope"})
	require.Error(t, err)

	backend.failNext("set-enabled", errors.New("502 bad gateway"))
	require.Error(t, ctrl.Disable(ctx, stripeID))

	n.AssertExpectations(t)
	assert.Equal(t, plugin.StateEnabled, ctrl.Status(stripeID).State)
}
