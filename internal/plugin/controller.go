// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/eventdock/eventdock/internal/plugin/capability"
	"github.com/eventdock/eventdock/pkg/errutil"
)

// Backend is the platform API the controller drives. The organization and
// session are bound into the implementation.
type Backend interface {
	Catalog(ctx context.Context) ([]Manifest, error)
	Installed(ctx context.Context) ([]InstalledPlugin, error)
	Install(ctx context.Context, pluginID string) (*InstalledPlugin, error)
	Uninstall(ctx context.Context, installationID string) error
	SetEnabled(ctx context.Context, installationID string, enabled bool) (*InstalledPlugin, error)
	Configure(ctx context.Context, installationID string, config map[string]any) (*InstalledPlugin, error)
}

// DefaultSyncConcurrency bounds parallel bundle loads during Sync.
const DefaultSyncConcurrency = 8

type pluginState struct {
	state        State
	installation *InstalledPlugin
	manifest     *Manifest
	err          error
	// generation is bumped whenever the plugin leaves installed-enabled, so a
	// load that started earlier can tell its result is stale.
	generation uint64
}

// Controller keeps the registry consistent with the server's installed
// plugins. It is the only writer of the registry and the loader cache.
type Controller struct {
	backend     Backend
	loader      *Loader
	registry    *Registry
	enforcer    *capability.Enforcer
	policy      *capability.Policy
	notifier    Notifier
	hostVersion string
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	catalog map[string]*Manifest
	plugins map[string]*pluginState
}

// ControllerOption configures the Controller.
type ControllerOption func(*Controller)

// WithNotifier sets where operator-facing errors are shown.
func WithNotifier(n Notifier) ControllerOption {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithPolicy limits the capabilities plugins are granted.
func WithPolicy(p *capability.Policy) ControllerOption {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithHostVersion overrides the host API version used for compatibility
// checks.
func WithHostVersion(v string) ControllerOption {
	return func(c *Controller) {
		c.hostVersion = v
	}
}

// WithSyncConcurrency bounds parallel loads during Sync.
func WithSyncConcurrency(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController wires the lifecycle controller. Panics if a required
// collaborator is nil.
func NewController(backend Backend, loader *Loader, registry *Registry, enforcer *capability.Enforcer, opts ...ControllerOption) *Controller {
	if backend == nil {
		panic("plugin.NewController: backend cannot be nil")
	}
	if loader == nil {
		panic("plugin.NewController: loader cannot be nil")
	}
	if registry == nil {
		panic("plugin.NewController: registry cannot be nil")
	}
	if enforcer == nil {
		panic("plugin.NewController: enforcer cannot be nil")
	}
	c := &Controller{
		backend:     backend,
		loader:      loader,
		registry:    registry,
		enforcer:    enforcer,
		notifier:    LogNotifier{},
		hostVersion: HostAPIVersion,
		concurrency: DefaultSyncConcurrency,
		logger:      slog.Default(),
		catalog:     make(map[string]*Manifest),
		plugins:     make(map[string]*pluginState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync rebuilds local state from the server: it refreshes the catalogue and
// installed list, rebuilds the registry from cached modules and loads every
// enabled plugin that is not cached. Load failures are isolated per plugin
// and reported through Status; only API failures are returned.
func (c *Controller) Sync(ctx context.Context) (err error) {
	defer func() { c.record("sync", err) }()

	catalog, err := c.backend.Catalog(ctx)
	if err != nil {
		return c.apiFailure(ctx, "", "load the plugin catalogue", err)
	}
	installed, err := c.backend.Installed(ctx)
	if err != nil {
		return c.apiFailure(ctx, "", "load installed plugins", err)
	}

	type pending struct {
		id         string
		url        string
		generation uint64
	}
	var toLoad []pending
	var evict []string

	// Ties in the registry follow install order, not load completion.
	slices.SortStableFunc(installed, func(a, b InstalledPlugin) int {
		return a.InstalledAt.Compare(b.InstalledAt)
	})
	order := make([]string, 0, len(installed))
	for i := range installed {
		order = append(order, installed[i].PluginID)
	}

	c.mu.Lock()
	c.catalog = make(map[string]*Manifest, len(catalog))
	for i := range catalog {
		m := catalog[i]
		c.catalog[m.ID] = &m
	}

	seen := make(map[string]bool, len(installed))
	var regs []Registration
	for i := range installed {
		inst := installed[i]
		seen[inst.PluginID] = true

		st, ok := c.plugins[inst.PluginID]
		if !ok {
			st = &pluginState{}
			c.plugins[inst.PluginID] = st
		}
		st.generation++
		st.installation = inst.Clone()
		st.err = nil
		st.manifest = c.catalog[inst.PluginID]

		switch {
		case st.manifest == nil:
			st.state = StateLoadFailed
			st.err = notInCatalog(inst.PluginID)
			continue
		case !inst.Enabled:
			st.state = StateDisabled
			continue
		}

		if err := st.manifest.CheckCompatible(c.hostVersion); err != nil {
			st.state = StateIncompatible
			st.err = err
			continue
		}
		st.state = StateEnabled

		if mod, ok := c.loader.Cached(inst.PluginID); ok {
			if mod.Metadata.Version == st.manifest.Version {
				c.grantLocked(st.manifest)
				regs = append(regs, Registration{Manifest: st.manifest, Module: mod})
				continue
			}
			evict = append(evict, inst.PluginID)
		}
		toLoad = append(toLoad, pending{id: inst.PluginID, url: st.manifest.BundleURL, generation: st.generation})
	}

	for id, st := range c.plugins {
		if seen[id] {
			continue
		}
		st.generation++
		delete(c.plugins, id)
		c.enforcer.RemoveGrants(id)
		evict = append(evict, id)
	}

	for _, err := range c.registry.Rebuild(order, regs) {
		errutil.LogError(c.logger, "failed to register cached plugin", err)
	}
	c.mu.Unlock()

	for _, id := range evict {
		c.loader.Evict(id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, p := range toLoad {
		g.Go(func() error {
			// Isolation: one plugin's failure never cancels the others.
			_ = c.activate(gctx, p.id, p.url, p.generation) //nolint:errcheck // recorded in plugin state
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // goroutines never return errors

	c.logger.Info("plugins synchronized",
		"installed", len(installed),
		"loaded", len(toLoad),
		"registered", c.registry.Plugins())
	return nil
}

// Install installs pluginID for the organization, then loads and registers
// it. On API failure the plugin stays not installed. A load failure leaves
// the plugin installed in StateLoadFailed and is reported, not returned.
func (c *Controller) Install(ctx context.Context, pluginID string) (inst *InstalledPlugin, err error) {
	defer func() { c.record("install", err) }()
	errb := oops.In("controller").With("plugin", pluginID)

	manifest, err := c.catalogManifest(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if err := manifest.CheckCompatible(c.hostVersion); err != nil {
		c.notify(ctx, pluginID, ToastError, fmt.Sprintf("%s cannot be installed: %v", manifest.Name, err))
		return nil, err
	}

	c.mu.Lock()
	if st, ok := c.plugins[pluginID]; ok {
		c.mu.Unlock()
		if st.state.Transitioning() {
			return nil, errb.Code(CodeBusy).With("state", st.state).Wrapf(ErrBusy, "plugin is %s", st.state)
		}
		return st.installation.Clone(), nil
	}
	c.plugins[pluginID] = &pluginState{state: StateInstalling, manifest: manifest}
	c.mu.Unlock()

	created, err := c.backend.Install(ctx, pluginID)
	if err != nil {
		c.mu.Lock()
		delete(c.plugins, pluginID)
		c.mu.Unlock()
		return nil, c.apiFailure(ctx, pluginID, "install "+manifest.Name, err)
	}

	c.mu.Lock()
	st, ok := c.plugins[pluginID]
	if !ok {
		st = &pluginState{manifest: manifest}
		c.plugins[pluginID] = st
	}
	st.installation = created.Clone()
	st.state = StateDisabled
	if created.Enabled {
		st.state = StateEnabled
	}
	generation := st.generation
	c.mu.Unlock()

	c.logger.Info("plugin installed", "plugin", pluginID, "installation", created.ID)
	if created.Enabled {
		_ = c.activate(ctx, pluginID, manifest.BundleURL, generation) //nolint:errcheck // reported via notifier and Status
	}
	return created.Clone(), nil
}

// Uninstall removes the installation on the server, then unregisters the
// plugin and evicts its cached module. On API failure nothing changes.
func (c *Controller) Uninstall(ctx context.Context, pluginID string) (err error) {
	defer func() { c.record("uninstall", err) }()

	c.mu.Lock()
	st, err := c.installedLocked(pluginID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	prev := st.state
	installationID := st.installation.ID
	st.state = StateUninstalling
	c.mu.Unlock()

	if err := c.backend.Uninstall(ctx, installationID); err != nil {
		c.mu.Lock()
		if cur, ok := c.plugins[pluginID]; ok && cur == st && st.state == StateUninstalling {
			st.state = prev
		}
		c.mu.Unlock()
		return c.apiFailure(ctx, pluginID, "uninstall "+pluginID, err)
	}

	c.mu.Lock()
	st.generation++
	delete(c.plugins, pluginID)
	c.registry.Unregister(pluginID)
	c.enforcer.RemoveGrants(pluginID)
	c.mu.Unlock()

	c.loader.Evict(pluginID)
	c.logger.Info("plugin uninstalled", "plugin", pluginID)
	return nil
}

// Enable turns the plugin on and registers it, reusing the cached module
// when there is one.
func (c *Controller) Enable(ctx context.Context, pluginID string) (err error) {
	defer func() { c.record("enable", err) }()

	c.mu.Lock()
	st, err := c.installedLocked(pluginID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if st.state == StateEnabled && c.registry.Has(pluginID) {
		c.mu.Unlock()
		return nil
	}
	if st.state == StateIncompatible {
		err := st.err
		c.mu.Unlock()
		return err
	}
	if st.manifest == nil {
		c.mu.Unlock()
		return notInCatalog(pluginID)
	}
	installationID := st.installation.ID
	c.mu.Unlock()

	updated, err := c.backend.SetEnabled(ctx, installationID, true)
	if err != nil {
		return c.apiFailure(ctx, pluginID, "enable "+pluginID, err)
	}

	c.mu.Lock()
	if cur, ok := c.plugins[pluginID]; !ok || cur != st {
		c.mu.Unlock()
		return nil
	}
	st.installation = updated.Clone()
	st.state = StateEnabled
	st.err = nil
	st.generation++
	generation := st.generation
	bundleURL := st.manifest.BundleURL
	c.mu.Unlock()

	return c.activate(ctx, pluginID, bundleURL, generation)
}

// Disable turns the plugin off and removes its registry entries. The cached
// module is kept so a later Enable does not fetch again.
func (c *Controller) Disable(ctx context.Context, pluginID string) (err error) {
	defer func() { c.record("disable", err) }()

	c.mu.Lock()
	st, err := c.installedLocked(pluginID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	installationID := st.installation.ID
	c.mu.Unlock()

	updated, err := c.backend.SetEnabled(ctx, installationID, false)
	if err != nil {
		return c.apiFailure(ctx, pluginID, "disable "+pluginID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.plugins[pluginID]; !ok || cur != st {
		return nil
	}
	st.installation = updated.Clone()
	st.generation++
	if st.state != StateIncompatible {
		st.state = StateDisabled
		st.err = nil
	}
	c.registry.Unregister(pluginID)
	c.enforcer.RemoveGrants(pluginID)
	return nil
}

// Configure validates config against the plugin's schema and saves it.
func (c *Controller) Configure(ctx context.Context, pluginID string, config map[string]any) (inst *InstalledPlugin, err error) {
	defer func() { c.record("configure", err) }()

	c.mu.Lock()
	st, err := c.installedLocked(pluginID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	installationID := st.installation.ID
	manifest := st.manifest
	c.mu.Unlock()

	if manifest == nil {
		err := notInCatalog(pluginID)
		c.notify(ctx, pluginID, ToastError, "Configuration was not saved: "+errutil.Describe(err))
		return nil, err
	}
	if err := manifest.ConfigSchema.Validate(config); err != nil {
		c.notify(ctx, pluginID, ToastError, "Configuration was not saved: "+errutil.Describe(err))
		return nil, oops.In("controller").With("plugin", pluginID).Wrap(err)
	}

	updated, err := c.backend.Configure(ctx, installationID, config)
	if err != nil {
		return nil, c.apiFailure(ctx, pluginID, "save configuration for "+pluginID, err)
	}

	c.mu.Lock()
	if cur, ok := c.plugins[pluginID]; ok && cur == st {
		st.installation = updated.Clone()
	}
	c.mu.Unlock()

	c.notify(ctx, pluginID, ToastSuccess, "Configuration saved")
	return updated.Clone(), nil
}

// Reload evicts the plugin's cached module and loads it again. It is the
// manual retry for StateLoadFailed and the way to pick up a bundle updated
// in place.
func (c *Controller) Reload(ctx context.Context, pluginID string) (err error) {
	defer func() { c.record("reload", err) }()

	c.mu.Lock()
	st, err := c.installedLocked(pluginID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !st.installation.Enabled || st.state == StateIncompatible || st.manifest == nil {
		state := st.state
		c.mu.Unlock()
		return oops.In("controller").With("plugin", pluginID).With("state", state).
			Errorf("only enabled plugins can be reloaded")
	}
	st.generation++
	st.state = StateEnabled
	st.err = nil
	generation := st.generation
	bundleURL := st.manifest.BundleURL
	c.registry.Unregister(pluginID)
	c.mu.Unlock()

	c.loader.Evict(pluginID)
	return c.activate(ctx, pluginID, bundleURL, generation)
}

// activate loads the bundle and registers it if the plugin is still enabled
// at the same generation once the load completes. A plugin whose uninstall
// is in flight still registers: a successful uninstall removes it again and
// a failed one restores it as enabled.
func (c *Controller) activate(ctx context.Context, pluginID, bundleURL string, generation uint64) error {
	mod, err := c.loader.Load(ctx, pluginID, bundleURL)

	c.mu.Lock()
	st, ok := c.plugins[pluginID]
	if !ok || st.generation != generation || (st.state != StateEnabled && st.state != StateUninstalling) {
		c.mu.Unlock()
		c.logger.Debug("discarding stale plugin load", "plugin", pluginID)
		return nil
	}

	if err == nil {
		c.grantLocked(st.manifest)
		err = c.registry.Register(pluginID, st.manifest, mod.ExtensionPoints)
	}
	if err != nil {
		st.state = StateLoadFailed
		st.err = err
		name := st.manifest.Name
		c.mu.Unlock()

		errutil.LogError(c.logger.With("plugin", pluginID), "plugin failed to load", err)
		c.notify(ctx, pluginID, ToastError, fmt.Sprintf("%s is unavailable: %s", name, errutil.Describe(err)))
		return err
	}
	c.mu.Unlock()

	c.logger.Info("plugin registered", "plugin", pluginID, "extension_points", mod.Points())
	return nil
}

// grantLocked gives the plugin the declared permissions the policy allows.
func (c *Controller) grantLocked(m *Manifest) {
	allowed, denied := c.policy.Filter(m.RequiredPermissions)
	if len(denied) > 0 {
		c.logger.Warn("plugin permissions not granted", "plugin", m.ID, "denied", denied)
	}
	if err := c.enforcer.SetGrants(m.ID, allowed); err != nil {
		errutil.LogError(c.logger, "failed to set plugin grants", err)
	}
}

func (c *Controller) installedLocked(pluginID string) (*pluginState, error) {
	errb := oops.In("controller").With("plugin", pluginID)
	st, ok := c.plugins[pluginID]
	if !ok {
		return nil, errb.Code(CodeNotInstalled).Wrapf(ErrNotInstalled, "plugin %s is not installed", pluginID)
	}
	if st.state.Transitioning() {
		return nil, errb.Code(CodeBusy).With("state", st.state).Wrapf(ErrBusy, "plugin is %s", st.state)
	}
	if st.installation == nil {
		return nil, errb.Code(CodeNotInstalled).Wrapf(ErrNotInstalled, "plugin %s has no installation record", pluginID)
	}
	return st, nil
}

// catalogManifest looks pluginID up in the catalogue, fetching it once if
// the controller has not synced yet.
func (c *Controller) catalogManifest(ctx context.Context, pluginID string) (*Manifest, error) {
	c.mu.Lock()
	m, ok := c.catalog[pluginID]
	empty := len(c.catalog) == 0
	c.mu.Unlock()
	if ok {
		return m, nil
	}

	if empty {
		catalog, err := c.backend.Catalog(ctx)
		if err != nil {
			return nil, c.apiFailure(ctx, pluginID, "load the plugin catalogue", err)
		}
		c.mu.Lock()
		for i := range catalog {
			entry := catalog[i]
			c.catalog[entry.ID] = &entry
		}
		m, ok = c.catalog[pluginID]
		c.mu.Unlock()
		if ok {
			return m, nil
		}
	}

	return nil, notInCatalog(pluginID)
}

func notInCatalog(pluginID string) error {
	return oops.In("controller").
		Code(CodeNotInCatalog).
		With("plugin", pluginID).
		Wrapf(ErrNotInCatalog, "plugin %s is not in the catalogue", pluginID)
}

// Status returns the lifecycle state of one plugin.
func (c *Controller) Status(pluginID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.plugins[pluginID]
	if !ok {
		return Status{PluginID: pluginID, State: StateNotInstalled, Manifest: c.catalog[pluginID]}
	}
	return c.statusLocked(pluginID, st)
}

// Statuses returns every installed plugin's status sorted by id.
func (c *Controller) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Sorted(maps.Keys(c.plugins))
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.statusLocked(id, c.plugins[id]))
	}
	return out
}

func (c *Controller) statusLocked(pluginID string, st *pluginState) Status {
	s := Status{
		PluginID:     pluginID,
		State:        st.state,
		Installation: st.installation.Clone(),
		Manifest:     st.manifest,
		Err:          st.err,
	}
	if mod, ok := c.loader.Cached(pluginID); ok {
		s.LoadedVersion = mod.Metadata.Version
	}
	return s
}

// Catalog returns the catalogue as of the last sync, sorted by id.
func (c *Controller) Catalog() []*Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := slices.Sorted(maps.Keys(c.catalog))
	out := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.catalog[id])
	}
	return out
}

// Configuration implements PluginSource.
func (c *Controller) Configuration(pluginID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.plugins[pluginID]
	if !ok || st.installation == nil {
		return nil
	}
	return maps.Clone(st.installation.Configuration)
}

// FailedFor implements PluginSource.
func (c *Controller) FailedFor(point string) []Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Failure
	for _, id := range slices.Sorted(maps.Keys(c.plugins)) {
		st := c.plugins[id]
		if st.state != StateLoadFailed || st.manifest == nil || !st.manifest.Declares(point) {
			continue
		}
		out = append(out, Failure{PluginID: id, Reason: "failed to load"})
	}
	return out
}

// apiFailure reports an API error to the operator and returns it wrapped.
func (c *Controller) apiFailure(ctx context.Context, pluginID, action string, err error) error {
	wrapped := oops.In("controller").With("plugin", pluginID).With("action", action).Wrap(err)
	errutil.LogError(c.logger, "plugin API call failed", wrapped)
	c.notify(ctx, pluginID, ToastError, fmt.Sprintf("Could not %s: %s", action, errutil.Describe(err)))
	return wrapped
}

func (c *Controller) notify(ctx context.Context, pluginID string, level ToastLevel, msg string) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, Toast{PluginID: pluginID, Level: level, Message: msg, At: time.Now()})
}

func (c *Controller) record(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RecordLifecycleOperation(operation, status)
}
