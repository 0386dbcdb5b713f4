// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Loader defaults.
const (
	DefaultBundleTimeout  = 30 * time.Second
	DefaultMaxBundleBytes = 5 << 20
)

// DefaultScriptContentTypes lists the media types accepted as executable
// bundles.
var DefaultScriptContentTypes = []string{
	"text/x-lua",
	"application/x-lua",
	"text/lua",
	"application/lua",
}

// ErrLoadDiscarded is returned to callers of a load whose plugin was evicted
// while the bundle was in flight.
var ErrLoadDiscarded = errors.New("bundle load discarded after eviction")

const tracerName = "github.com/eventdock/eventdock/internal/plugin"

// Loader fetches, executes and caches plugin bundles. A bundle is fetched and
// executed at most once per plugin id until it is evicted.
type Loader struct {
	client       *http.Client
	executor     Executor
	contentTypes []string
	maxBytes     int64
	timeout      time.Duration
	tracer       trace.Tracer

	group  singleflight.Group
	mu     sync.Mutex
	cache  map[string]*LoadedModule
	epochs map[string]uint64
}

// LoaderOption configures the Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used to fetch bundles.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		l.client = c
	}
}

// WithContentTypes overrides the accepted bundle media types.
func WithContentTypes(types ...string) LoaderOption {
	return func(l *Loader) {
		if len(types) > 0 {
			l.contentTypes = slices.Clone(types)
		}
	}
}

// WithMaxBundleBytes caps the bundle size.
func WithMaxBundleBytes(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithBundleTimeout bounds one fetch-and-execute.
func WithBundleTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLoader creates a bundle loader. Panics if executor is nil.
func NewLoader(executor Executor, opts ...LoaderOption) *Loader {
	if executor == nil {
		panic("plugin.NewLoader: executor cannot be nil")
	}
	l := &Loader{
		client:       http.DefaultClient,
		executor:     executor,
		contentTypes: slices.Clone(DefaultScriptContentTypes),
		maxBytes:     DefaultMaxBundleBytes,
		timeout:      DefaultBundleTimeout,
		tracer:       otel.Tracer(tracerName),
		cache:        make(map[string]*LoadedModule),
		epochs:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the module for pluginID, fetching and executing the bundle at
// bundleURL if it is not cached. Concurrent calls for the same id share one
// fetch. The shared fetch is not cancelled when one caller's ctx is; ctx only
// bounds how long this caller waits.
func (l *Loader) Load(ctx context.Context, pluginID, bundleURL string) (*LoadedModule, error) {
	if m, ok := l.Cached(pluginID); ok {
		return m, nil
	}

	ch := l.group.DoChan(pluginID, func() (any, error) {
		if m, ok := l.Cached(pluginID); ok {
			return m, nil
		}

		l.mu.Lock()
		epoch := l.epochs[pluginID]
		l.mu.Unlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		m, err := l.load(fctx, pluginID, bundleURL)
		if err != nil {
			return nil, err
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.epochs[pluginID] != epoch {
			if cerr := m.Close(); cerr != nil {
				slog.Warn("failed to close discarded module", "plugin", pluginID, "error", cerr)
			}
			return nil, oops.In("loader").With("plugin", pluginID).Wrap(ErrLoadDiscarded)
		}
		l.cache[pluginID] = m
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, oops.In("loader").With("plugin", pluginID).Wrap(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LoadedModule), nil //nolint:forcetypeassert // flight only returns *LoadedModule
	}
}

// load performs one fetch, execute and validate cycle.
func (l *Loader) load(ctx context.Context, pluginID, bundleURL string) (mod *LoadedModule, err error) {
	ctx, span := l.tracer.Start(ctx, "plugin.load", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("plugin.bundle_url", bundleURL),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("loader").
				Code(CodeInvalidPluginStructure).
				With("plugin", pluginID).
				Wrapf(ErrInvalidPluginStructure, "bundle panicked during execution: %v", r)
		}
		result := LoadResultSuccess
		if err != nil {
			result = loadResult(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		RecordBundleLoad(result, time.Since(start))
		span.End()
	}()

	src, err := l.fetch(ctx, pluginID, bundleURL)
	if err != nil {
		return nil, err
	}

	exp, err := l.executor.Execute(ctx, pluginID, src)
	if err != nil {
		return nil, oops.In("loader").
			Code(CodeInvalidPluginStructure).
			With("plugin", pluginID).
			Hint("the bundle raised an error while registering").
			Wrapf(ErrInvalidPluginStructure, "execute: %v", err)
	}

	mod, err = validateExport(pluginID, exp)
	if err != nil {
		if exp != nil && exp.Close != nil {
			if cerr := exp.Close(); cerr != nil {
				slog.Warn("failed to close rejected bundle", "plugin", pluginID, "error", cerr)
			}
		}
		return nil, err
	}

	sum := sha256.Sum256(src)
	mod.Digest = hex.EncodeToString(sum[:])
	mod.LoadedAt = time.Now()

	slog.Info("loaded plugin bundle",
		"plugin", pluginID,
		"version", mod.Metadata.Version,
		"extension_points", mod.Points(),
		"bytes", len(src))
	return mod, nil
}

// fetch retrieves the bundle and checks status and content type before
// anything is executed.
func (l *Loader) fetch(ctx context.Context, pluginID, bundleURL string) ([]byte, error) {
	errb := oops.In("loader").With("plugin", pluginID).With("url", bundleURL)

	if bundleURL == "" {
		return nil, errb.Code(CodeBundleFetchFailed).Wrapf(ErrBundleFetch, "bundle URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bundleURL, nil)
	if err != nil {
		return nil, errb.Code(CodeBundleFetchFailed).Wrapf(ErrBundleFetch, "build request: %v", err)
	}
	req.Header.Set("Accept", strings.Join(l.contentTypes, ", "))

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errb.Code(CodeBundleFetchFailed).Wrapf(ErrBundleFetch, "%v", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // body fully consumed or abandoned
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errb.Code(CodeBundleFetchFailed).
			With("status", resp.StatusCode).
			Wrapf(ErrBundleFetch, "unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !slices.Contains(l.contentTypes, strings.ToLower(mediaType)) {
		return nil, errb.Code(CodeBundleContentType).
			With("content_type", contentType).
			Hint("check that the bundle host serves scripts with a script media type").
			Wrapf(ErrBundleContentType, "content type %q is not one of %v", contentType, l.contentTypes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, errb.Code(CodeBundleFetchFailed).Wrapf(ErrBundleFetch, "read body: %v", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, errb.Code(CodeBundleFetchFailed).Wrapf(ErrBundleFetch, "bundle exceeds %d bytes", l.maxBytes)
	}
	return body, nil
}

// validateExport turns what a bundle registered into a LoadedModule.
func validateExport(pluginID string, exp *Export) (*LoadedModule, error) {
	errb := oops.In("loader").Code(CodeInvalidPluginStructure).With("plugin", pluginID)

	if exp == nil {
		return nil, errb.Wrapf(ErrInvalidPluginStructure, "bundle did not register a definition")
	}
	if exp.Metadata == nil {
		return nil, errb.Wrapf(ErrInvalidPluginStructure, "definition has no metadata")
	}
	if len(exp.ExtensionPoints) == 0 {
		return nil, errb.Wrapf(ErrInvalidPluginStructure, "definition has no extensionPoints table")
	}

	meta, err := DecodeManifest(exp.Metadata)
	if err != nil {
		return nil, errb.Wrapf(ErrInvalidPluginStructure, "metadata: %v", err)
	}
	if meta.ID != pluginID {
		return nil, errb.With("metadata_id", meta.ID).Wrapf(ErrInvalidPluginStructure, "bundle registered as %q", meta.ID)
	}

	points := make(map[string]Component, len(exp.ExtensionPoints))
	var undeclared []string
	for name, c := range exp.ExtensionPoints {
		if c == nil {
			return nil, errb.With("extension_point", name).Wrapf(ErrInvalidPluginStructure, "component for %q is nil", name)
		}
		if !meta.Declares(name) {
			undeclared = append(undeclared, name)
		}
		points[name] = c
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return nil, errb.With("extension_points", undeclared).Wrapf(ErrInvalidPluginStructure, "metadata does not declare %v", undeclared)
	}

	return &LoadedModule{
		PluginID:        pluginID,
		Metadata:        meta,
		ExtensionPoints: points,
		close:           exp.Close,
	}, nil
}

// Cached returns the cached module for pluginID.
func (l *Loader) Cached(pluginID string) (*LoadedModule, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.cache[pluginID]
	return m, ok
}

// Evict drops the cached module for pluginID and releases it. A load that is
// in flight for the id is discarded when it completes.
func (l *Loader) Evict(pluginID string) {
	l.mu.Lock()
	m, ok := l.cache[pluginID]
	delete(l.cache, pluginID)
	l.epochs[pluginID]++
	l.mu.Unlock()

	l.group.Forget(pluginID)

	if ok {
		if err := m.Close(); err != nil {
			slog.Warn("failed to close evicted module", "plugin", pluginID, "error", err)
		}
	}
}

// Loaded returns ids of cached modules in sorted order.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.cache))
	for id := range l.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reset evicts every cached module.
func (l *Loader) Reset() {
	for _, id := range l.Loaded() {
		l.Evict(id)
	}
}

// loadResult maps a load error to a metric label.
func loadResult(err error) string {
	switch {
	case errors.Is(err, ErrBundleContentType):
		return LoadResultContentType
	case errors.Is(err, ErrBundleFetch):
		return LoadResultFetchError
	case errors.Is(err, ErrInvalidPluginStructure):
		return LoadResultInvalid
	default:
		return LoadResultError
	}
}
