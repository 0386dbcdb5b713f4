// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package api is the HTTP client for the EventDock platform API. Client
// implements plugin.Backend for the lifecycle controller and plugin.APIDoer
// for the SDK handed to plugins.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/eventdock/eventdock/internal/plugin"
)

// ErrAPI is wrapped by every error caused by a failed platform API call.
var ErrAPI = errors.New("platform API request failed")

// Error codes.
const (
	CodeRequestFailed = "API_REQUEST_FAILED"
	CodeBadResponse   = "API_BAD_RESPONSE"
)

// HeaderOrganization carries the organization the caller acts for.
const HeaderOrganization = "X-Organization-ID"

// DefaultTimeout bounds one API request.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// ErrorBody is the JSON shape of platform API error responses.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Client talks to the platform API on behalf of one organization.
type Client struct {
	base   *url.URL
	token  string
	orgID  string
	client *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.client = c
		}
	}
}

// NewClient creates a client for baseURL. token is sent as a bearer token
// and never exposed to plugins.
func NewClient(baseURL, token, organizationID string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.In("api").Code(CodeRequestFailed).
			With("base_url", baseURL).
			Errorf("base URL must be absolute")
	}
	c := &Client{
		base:   base,
		token:  token,
		orgID:  organizationID,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OrganizationID returns the organization the client acts for.
func (c *Client) OrganizationID() string {
	return c.orgID
}

// Do sends a JSON request to path and decodes a JSON response into out,
// which may be nil. Non-2xx responses return an error wrapping ErrAPI with
// the status and the server's error message.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	errb := oops.In("api").With("method", method).With("path", path)

	ref, err := url.Parse(path)
	if err != nil {
		return errb.Code(CodeRequestFailed).Wrapf(ErrAPI, "invalid path: %v", err)
	}
	target := *c.base
	target.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	target.RawQuery = ref.RawQuery

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errb.Code(CodeRequestFailed).Wrapf(ErrAPI, "encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return errb.Code(CodeRequestFailed).Wrapf(ErrAPI, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.orgID != "" {
		req.Header.Set(HeaderOrganization, c.orgID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errb.Code(CodeRequestFailed).Wrapf(ErrAPI, "%v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		errb = errb.Code(CodeRequestFailed).With("status", resp.StatusCode)
		if eb.Code != "" {
			errb = errb.With("server_code", eb.Code)
		}
		return errb.Wrapf(ErrAPI, "%s %s: %d %s", method, path, resp.StatusCode, msg)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errb.Code(CodeBadResponse).With("status", resp.StatusCode).Wrapf(ErrAPI, "decode response: %v", err)
	}
	return nil
}

// StatusCode extracts the HTTP status from an API error, or 0.
func StatusCode(err error) int {
	if oopsErr, ok := oops.AsOops(err); ok {
		if status, ok := oopsErr.Context()["status"].(int); ok {
			return status
		}
	}
	return 0
}

// Catalog lists every plugin available in the marketplace.
func (c *Client) Catalog(ctx context.Context) ([]plugin.Manifest, error) {
	var out []plugin.Manifest
	if err := c.Do(ctx, http.MethodGet, "/api/plugins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Installed lists the organization's installed plugins.
func (c *Client) Installed(ctx context.Context) ([]plugin.InstalledPlugin, error) {
	var out []plugin.InstalledPlugin
	path := "/api/organizations/" + url.PathEscape(c.orgID) + "/plugins/installed"
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// InstallRequest is the body of an install call.
type InstallRequest struct {
	PluginID string `json:"pluginId"`
}

// Install installs a catalogue plugin for the organization.
func (c *Client) Install(ctx context.Context, pluginID string) (*plugin.InstalledPlugin, error) {
	var out plugin.InstalledPlugin
	if err := c.Do(ctx, http.MethodPost, "/api/plugins/install", InstallRequest{PluginID: pluginID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Uninstall removes an installation.
func (c *Client) Uninstall(ctx context.Context, installationID string) error {
	return c.Do(ctx, http.MethodDelete, installationPath(installationID), nil, nil)
}

// SetEnabled enables or disables an installation.
func (c *Client) SetEnabled(ctx context.Context, installationID string, enabled bool) (*plugin.InstalledPlugin, error) {
	action := "/disable"
	if enabled {
		action = "/enable"
	}
	var out plugin.InstalledPlugin
	if err := c.Do(ctx, http.MethodPatch, installationPath(installationID)+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Configure replaces an installation's configuration.
func (c *Client) Configure(ctx context.Context, installationID string, config map[string]any) (*plugin.InstalledPlugin, error) {
	if config == nil {
		config = map[string]any{}
	}
	var out plugin.InstalledPlugin
	if err := c.Do(ctx, http.MethodPatch, installationPath(installationID)+"/configure", config, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func installationPath(id string) string {
	return "/api/plugins/installed/" + url.PathEscape(id)
}

var (
	_ plugin.Backend = (*Client)(nil)
	_ plugin.APIDoer = (*Client)(nil)
)
