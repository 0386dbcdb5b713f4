// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package apiserver is the reference implementation of the platform API the
// plugin runtime talks to: the marketplace catalogue, per-organization
// installations and static bundle hosting.
package apiserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/oops"

	"github.com/eventdock/eventdock/internal/api"
	"github.com/eventdock/eventdock/internal/observability"
	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/store"
	"github.com/eventdock/eventdock/pkg/errutil"
)

// HeaderUser names the acting user recorded on installations.
const HeaderUser = "X-User-ID"

// BundleContentType is the media type bundles are served with.
const BundleContentType = "text/x-lua; charset=utf-8"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Server serves the platform API.
type Server struct {
	store   store.Store
	token   string
	logger  *slog.Logger
	metrics *observability.HTTPMetrics

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics instruments every route.
func WithMetrics(m *observability.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server backed by st. Requests under /api must carry token
// as a bearer token.
func New(st store.Store, token string, opts ...Option) *Server {
	s := &Server{store: st, token: token, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/bundles/{file}", s.handleBundle)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/plugins", s.handleCatalog)
		r.Get("/organizations/{org}/plugins/installed", s.handleInstalled)
		r.Post("/plugins/install", s.handleInstall)
		r.Route("/plugins/installed/{id}", func(r chi.Router) {
			r.Delete("/", s.handleUninstall)
			r.Patch("/enable", s.handleSetEnabled(true))
			r.Patch("/disable", s.handleSetEnabled(false))
			r.Patch("/configure", s.handleConfigure)
		})
	})
	return r
}

// Start listens on addr and serves in the background. The returned channel
// receives a serve error, if any, and is closed when the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("apiserver").Errorf("API server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("apiserver").With("addr", addr).Wrap(err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("API server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully. Stopping a stopped server is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.In("apiserver").With("operation", "shutdown").Wrap(err)
	}
	s.logger.Info("API server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || s.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="eventdock"`)
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	pluginID := strings.TrimSuffix(chi.URLParam(r, "file"), ".lua")
	bundle, err := s.store.Bundle(r.Context(), pluginID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", BundleContentType)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(bundle) //nolint:errcheck // client may disconnect
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	manifests, err := s.store.Catalog(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	for i := range manifests {
		manifests[i].BundleURL = bundleURL(r, manifests[i])
	}
	writeJSON(w, http.StatusOK, manifests)
}

// bundleURL makes a manifest's bundle location absolute. Manifests without
// one point at this server's bundle route.
func bundleURL(r *http.Request, m plugin.Manifest) string {
	ref := m.BundleURL
	if ref == "" {
		ref = "/bundles/" + url.PathEscape(m.ID) + ".lua"
	}
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	base := &url.URL{Scheme: scheme, Host: r.Host, Path: "/"}
	return base.ResolveReference(u).String()
}

func (s *Server) handleInstalled(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org")
	if hdr := r.Header.Get(api.HeaderOrganization); hdr != "" && hdr != orgID {
		writeError(w, http.StatusForbidden, "ORGANIZATION_MISMATCH", "organization header does not match path")
		return
	}
	installed, err := s.store.ListInstalled(r.Context(), orgID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if installed == nil {
		installed = []plugin.InstalledPlugin{}
	}
	writeJSON(w, http.StatusOK, installed)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	var req api.InstallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PluginID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "pluginId is required")
		return
	}

	inst, err := s.store.Install(r.Context(), orgID, req.PluginID, r.Header.Get(HeaderUser))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.logger.Info("plugin installed",
		"organization", orgID,
		"plugin", req.PluginID,
		"installation", inst.ID,
		"request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.Uninstall(r.Context(), orgID, id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.logger.Info("plugin uninstalled", "organization", orgID, "installation", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := organization(w, r)
		if !ok {
			return
		}
		inst, err := s.store.SetEnabled(r.Context(), orgID, chi.URLParam(r, "id"), enabled)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inst)
	}
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	var config map[string]any
	if !decodeBody(w, r, &config) {
		return
	}
	if config == nil {
		config = map[string]any{}
	}

	id := chi.URLParam(r, "id")
	schema, err := s.configSchema(r.Context(), orgID, id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if err := schema.Validate(config); err != nil {
		writeError(w, http.StatusBadRequest, plugin.CodeConfigInvalid, errutil.Describe(err))
		return
	}

	inst, err := s.store.Configure(r.Context(), orgID, id, config)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// configSchema finds the configuration schema of the plugin behind an
// installation. A plugin without one yields a nil schema, which accepts only
// an empty configuration.
func (s *Server) configSchema(ctx context.Context, orgID, installationID string) (*plugin.ConfigSchema, error) {
	installed, err := s.store.ListInstalled(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var pluginID string
	for _, inst := range installed {
		if inst.ID == installationID {
			pluginID = inst.PluginID
			break
		}
	}
	if pluginID == "" {
		return nil, oops.In("apiserver").Code(store.CodeNotFound).
			With("installation", installationID).
			Wrapf(store.ErrNotFound, "installation %s not found", installationID)
	}

	catalog, err := s.store.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range catalog {
		if catalog[i].ID == pluginID {
			return catalog[i].ConfigSchema, nil
		}
	}
	return nil, nil
}

func organization(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.Header.Get(api.HeaderOrganization)
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", api.HeaderOrganization+" header is required")
		return "", false
	}
	return orgID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownPlugin):
		writeError(w, http.StatusNotFound, code, errutil.Describe(err))
	case errors.Is(err, store.ErrAlreadyInstalled):
		writeError(w, http.StatusConflict, code, errutil.Describe(err))
	default:
		errutil.LogError(s.logger, "API request failed", err)
		s.logger.Debug("failed request", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may disconnect
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, api.ErrorBody{Error: msg, Code: code})
}
