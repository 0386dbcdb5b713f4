// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventdock/eventdock/internal/plugin"
)

func testManifest(id string, points ...string) *plugin.Manifest {
	return &plugin.Manifest{
		ID:              id,
		Name:            strings.ToUpper(id[:1]) + id[1:],
		Version:         "1.0.0",
		Category:        plugin.CategoryPayment,
		ExtensionPoints: points,
	}
}

func textComponent(text string) plugin.Component {
	return plugin.ComponentFunc(func(context.Context, plugin.Props) (plugin.Node, error) {
		return plugin.Node{Type: plugin.NodeText, Text: text}, nil
	})
}

func failingComponent(msg string) plugin.Component {
	return plugin.ComponentFunc(func(context.Context, plugin.Props) (plugin.Node, error) {
		return plugin.Node{}, errors.New(msg)
	})
}

func exportFor(m *plugin.Manifest, components map[string]plugin.Component) *plugin.Export {
	return &plugin.Export{Metadata: m.Clone(), ExtensionPoints: components}
}

// fakeExecutor returns the export registered for a plugin id and counts
// executions.
type fakeExecutor struct {
	mu      sync.Mutex
	exports map[string]func() (*plugin.Export, error)
	calls   map[string]int
	closed  atomic.Int32
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		exports: make(map[string]func() (*plugin.Export, error)),
		calls:   make(map[string]int),
	}
}

func (f *fakeExecutor) set(pluginID string, fn func() (*plugin.Export, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports[pluginID] = fn
}

func (f *fakeExecutor) serve(m *plugin.Manifest, components map[string]plugin.Component) {
	f.set(m.ID, func() (*plugin.Export, error) {
		exp := exportFor(m, components)
		exp.Close = func() error {
			f.closed.Add(1)
			return nil
		}
		return exp, nil
	})
}

func (f *fakeExecutor) Execute(_ context.Context, pluginID string, _ []byte) (*plugin.Export, error) {
	f.mu.Lock()
	f.calls[pluginID]++
	fn := f.exports[pluginID]
	f.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn()
}

func (f *fakeExecutor) count(pluginID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pluginID]
}

// bundleServer serves /bundles/<id>.lua with a script content type. Paths can
// be overridden with custom handlers.
type bundleServer struct {
	*httptest.Server
	hits  sync.Map // path -> *atomic.Int32
	delay time.Duration

	mu        sync.Mutex
	overrides map[string]http.HandlerFunc
}

func newBundleServer(t *testing.T) *bundleServer {
	t.Helper()
	s := &bundleServer{overrides: make(map[string]http.HandlerFunc)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *bundleServer) handle(w http.ResponseWriter, r *http.Request) {
	counter, _ := s.hits.LoadOrStore(r.URL.Path, &atomic.Int32{})
	counter.(*atomic.Int32).Add(1) //nolint:forcetypeassert // only counters are stored

	s.mu.Lock()
	h := s.overrides[r.URL.Path]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if h != nil {
		h(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/x-lua; charset=utf-8")
	_, _ = w.Write([]byte("-- bundle for " + r.URL.Path))
}

func (s *bundleServer) override(path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[path] = h
}

func (s *bundleServer) url(pluginID string) string {
	return s.URL + "/bundles/" + pluginID + ".lua"
}

func (s *bundleServer) count(pluginID string) int {
	v, ok := s.hits.Load("/bundles/" + pluginID + ".lua")
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load()) //nolint:forcetypeassert // only counters are stored
}

// toastSink records notifications.
type toastSink struct {
	mu     sync.Mutex
	toasts []plugin.Toast
}

func (s *toastSink) Notify(_ context.Context, t plugin.Toast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toasts = append(s.toasts, t)
}

func (s *toastSink) all() []plugin.Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]plugin.Toast, len(s.toasts))
	copy(out, s.toasts)
	return out
}

func (s *toastSink) levels(level plugin.ToastLevel) []plugin.Toast {
	var out []plugin.Toast
	for _, t := range s.all() {
		if t.Level == level {
			out = append(out, t)
		}
	}
	return out
}

// fakeBackend is an in-memory platform API for one organization.
type fakeBackend struct {
	mu        sync.Mutex
	catalog   []plugin.Manifest
	installed map[string]*plugin.InstalledPlugin // installation id -> record

	// fail makes the named operation return an error once.
	fail map[string]error
	// gate blocks the named operation until the channel is closed.
	gate map[string]chan struct{}
}

func newFakeBackend(catalog ...*plugin.Manifest) *fakeBackend {
	b := &fakeBackend{
		installed: make(map[string]*plugin.InstalledPlugin),
		fail:      make(map[string]error),
		gate:      make(map[string]chan struct{}),
	}
	for _, m := range catalog {
		b.catalog = append(b.catalog, *m.Clone())
	}
	return b
}

func (b *fakeBackend) check(op string) error {
	b.mu.Lock()
	gate := b.gate[op]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.fail[op]; ok {
		delete(b.fail, op)
		return err
	}
	return nil
}

func (b *fakeBackend) failNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[op] = err
}

func (b *fakeBackend) Catalog(context.Context) ([]plugin.Manifest, error) {
	if err := b.check("catalog"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Manifest, len(b.catalog))
	copy(out, b.catalog)
	return out, nil
}

func (b *fakeBackend) Installed(context.Context) ([]plugin.InstalledPlugin, error) {
	if err := b.check("installed"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.InstalledPlugin, 0, len(b.installed))
	for _, p := range b.installed {
		out = append(out, *p.Clone())
	}
	return out, nil
}

func (b *fakeBackend) Install(_ context.Context, pluginID string) (*plugin.InstalledPlugin, error) {
	if err := b.check("install"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &plugin.InstalledPlugin{
		ID:             "inst_" + pluginID,
		OrganizationID: "org_1",
		PluginID:       pluginID,
		Enabled:        true,
		Configuration:  map[string]any{},
		InstalledAt:    time.Now(),
		UpdatedAt:      time.Now(),
	}
	b.installed[p.ID] = p
	return p.Clone(), nil
}

func (b *fakeBackend) Uninstall(_ context.Context, installationID string) error {
	if err := b.check("uninstall"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.installed, installationID)
	return nil
}

func (b *fakeBackend) SetEnabled(_ context.Context, installationID string, enabled bool) (*plugin.InstalledPlugin, error) {
	if err := b.check("set-enabled"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.installed[installationID]
	if !ok {
		return nil, errors.New("not found")
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now()
	return p.Clone(), nil
}

func (b *fakeBackend) Configure(_ context.Context, installationID string, config map[string]any) (*plugin.InstalledPlugin, error) {
	if err := b.check("configure"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.installed[installationID]
	if !ok {
		return nil, errors.New("not found")
	}
	p.Configuration = config
	p.UpdatedAt = time.Now()
	return p.Clone(), nil
}

func (b *fakeBackend) configuration(installationID string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.installed[installationID]; ok {
		return p.Clone().Configuration
	}
	return nil
}
