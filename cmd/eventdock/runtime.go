// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/eventdock/eventdock/internal/api"
	"github.com/eventdock/eventdock/internal/config"
	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/capability"
	"github.com/eventdock/eventdock/internal/plugin/hostfunc"
	pluginlua "github.com/eventdock/eventdock/internal/plugin/lua"
)

// pluginRuntime is the host side of the plugin system for one CLI
// invocation: API client, loader, registry, lifecycle controller and
// renderer, wired once at the root.
type pluginRuntime struct {
	client     *api.Client
	loader     *plugin.Loader
	registry   *plugin.Registry
	controller *plugin.Controller
	renderer   *plugin.Renderer
}

// newPluginRuntime builds the runtime described by cfg. Toasts from the
// controller and from plugins are written to toasts.
func newPluginRuntime(cfg *config.Config, toasts io.Writer) (*pluginRuntime, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	client, err := api.NewClient(cfg.APIURL, cfg.APIToken, cfg.OrganizationID)
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	notifier := &writerNotifier{w: toasts}
	enforcer := capability.NewEnforcer()

	executor := pluginlua.NewExecutor(
		pluginlua.WithHostFunctions(hostfunc.New(hostfunc.WithLogger(logger))),
	)
	loader := plugin.NewLoader(executor, cfg.LoaderOptions()...)
	registry := plugin.NewRegistry()

	controller := plugin.NewController(client, loader, registry, enforcer,
		plugin.WithNotifier(notifier),
		plugin.WithPolicy(policy),
		plugin.WithLogger(logger),
	)
	factory := &plugin.SDKFactory{
		API:      client,
		Enforcer: enforcer,
		Notifier: notifier,
		User:     cfg.User(),
	}
	renderer := plugin.NewRenderer(registry, factory,
		plugin.WithSlotTimeout(cfg.SlotTimeout),
		plugin.WithPluginSource(controller),
	)

	return &pluginRuntime{
		client:     client,
		loader:     loader,
		registry:   registry,
		controller: controller,
		renderer:   renderer,
	}, nil
}

// Close unloads every cached module.
func (r *pluginRuntime) Close() {
	r.registry.Reset()
	r.loader.Reset()
}

// writerNotifier prints toasts as lines on w.
type writerNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func (n *writerNotifier) Notify(_ context.Context, t plugin.Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	source := t.PluginID
	if source == "" {
		source = "eventdock"
	}
	_, _ = fmt.Fprintf(n.w, "[%s] %s: %s\n", t.Level, source, t.Message) //nolint:errcheck // best effort
}
