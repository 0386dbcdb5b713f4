// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/eventdock/eventdock/internal/plugin/capability"
)

// HostAPIVersion is the version of the SDK surface this host offers. Plugins
// constrain it with the manifest's hostApi field.
const HostAPIVersion = "1.0.0"

// APIDoer performs an authenticated call against the platform API. The
// session token lives behind this interface and is never exposed to plugins.
type APIDoer interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// ToastLevel is the severity of a toast notification.
type ToastLevel string

// Toast levels.
const (
	ToastInfo    ToastLevel = "info"
	ToastSuccess ToastLevel = "success"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// Toast is a transient notification shown by the host.
type Toast struct {
	PluginID string
	Level    ToastLevel
	Message  string
	At       time.Time
}

// Notifier displays toasts. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, t Toast)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, t Toast)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, t Toast) {
	f(ctx, t)
}

// LogNotifier writes toasts to the default logger. It is the notifier used
// when the host provides none.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, t Toast) {
	level := slog.LevelInfo
	switch t.Level {
	case ToastWarning:
		level = slog.LevelWarn
	case ToastError:
		level = slog.LevelError
	}
	slog.Log(ctx, level, t.Message, "plugin", t.PluginID, "toast", string(t.Level))
}

// UserSnapshot is the current user as seen by a plugin. It is a copy; it
// never changes after the SDK is built.
type UserSnapshot struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// SDK is the capability-scoped surface handed to one plugin's components.
type SDK struct {
	PluginID   string
	API        *ScopedAPI
	Components Components
	Utils      *Utils
	User       UserSnapshot
	// Config is the plugin's configuration with schema defaults applied.
	Config map[string]any
}

// RequestID returns a new id for correlating a plugin's API calls.
func (s *SDK) RequestID() string {
	return ulid.Make().String()
}

// SDKFactory builds SDK values. The zero value is not usable; fill the
// fields the host has.
type SDKFactory struct {
	API      APIDoer
	Enforcer *capability.Enforcer
	Notifier Notifier
	User     UserSnapshot
	Language language.Tag
}

// For builds the SDK for a plugin. config is copied and completed with the
// manifest's schema defaults. For has no side effects.
func (f *SDKFactory) For(manifest *Manifest, config map[string]any) *SDK {
	notifier := f.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	lang := f.Language
	if lang == language.Und {
		lang = language.AmericanEnglish
	}

	return &SDK{
		PluginID: manifest.ID,
		API: &ScopedAPI{
			pluginID: manifest.ID,
			doer:     f.API,
			enforcer: f.Enforcer,
		},
		Utils: &Utils{
			pluginID: manifest.ID,
			notifier: notifier,
			printer:  message.NewPrinter(lang),
		},
		User:   f.User,
		Config: manifest.ConfigSchema.ApplyDefaults(config),
	}
}

// ScopedAPI is the platform API client as seen by one plugin. Every call is
// checked against the plugin's granted capabilities.
type ScopedAPI struct {
	pluginID string
	doer     APIDoer
	enforcer *capability.Enforcer
}

// Get fetches path and decodes the response into out.
func (a *ScopedAPI) Get(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body to path.
func (a *ScopedAPI) Post(ctx context.Context, path string, body, out any) error {
	return a.do(ctx, http.MethodPost, path, body, out)
}

// Patch sends a partial update to path.
func (a *ScopedAPI) Patch(ctx context.Context, path string, body, out any) error {
	return a.do(ctx, http.MethodPatch, path, body, out)
}

// Delete removes the resource at path.
func (a *ScopedAPI) Delete(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodDelete, path, nil, out)
}

func (a *ScopedAPI) do(ctx context.Context, method, path string, body, out any) error {
	required, err := RequiredCapability(method, path)
	if err != nil {
		return oops.In("sdk").With("plugin", a.pluginID).Wrap(err)
	}
	if a.enforcer == nil || !a.enforcer.Check(a.pluginID, required) {
		return oops.In("sdk").
			Code(CodeCapabilityDenied).
			With("plugin", a.pluginID).
			With("capability", required).
			Hint("add the permission to requiredPermissions and have the organization grant it").
			Wrapf(ErrCapabilityDenied, "%s %s requires %s", method, path, required)
	}
	if a.doer == nil {
		return oops.In("sdk").With("plugin", a.pluginID).Errorf("platform API is not configured")
	}
	return a.doer.Do(ctx, method, path, body, out)
}

// RequiredCapability derives the capability a call needs: GET reads, every
// other method writes, and the resource is the first path segment after an
// optional "api" prefix.
func RequiredCapability(method, path string) (string, error) {
	errb := oops.In("sdk").Code(CodeCapabilityDenied).With("path", path)

	u, err := url.Parse(path)
	if err != nil {
		return "", errb.Wrapf(ErrCapabilityDenied, "invalid path: %v", err)
	}
	if u.IsAbs() || u.Host != "" {
		return "", errb.Wrapf(ErrCapabilityDenied, "plugins may only call the platform API by path")
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && segments[0] == "api" {
		segments = segments[1:]
	}
	if len(segments) == 0 || segments[0] == "" || segments[0] == ".." || segments[0] == "." {
		return "", errb.Wrapf(ErrCapabilityDenied, "path has no resource")
	}

	verb := "write"
	if strings.EqualFold(method, http.MethodGet) {
		verb = "read"
	}
	return verb + ":" + strings.ToLower(segments[0]), nil
}

// Components builds design-system nodes.
type Components struct{}

// Text is a run of text.
func (Components) Text(text string) Node {
	return Node{Type: NodeText, Text: text}
}

// Button is a clickable action. action is passed to the context's OnAction
// callback when the host wires it.
func (Components) Button(label, action string) Node {
	return Node{Type: NodeButton, Text: label, Props: map[string]any{"action": action}}
}

// Card groups children under a title.
func (Components) Card(title string, children ...Node) Node {
	return Node{Type: NodeCard, Props: map[string]any{"title": title}, Children: children}
}

// Input is a labelled form field.
func (Components) Input(name, label string, value any, secret bool) Node {
	props := map[string]any{"name": name, "label": label, "value": value}
	if secret {
		props["secret"] = true
	}
	return Node{Type: NodeInput, Props: props}
}

// Alert is an inline message with a severity.
func (Components) Alert(level ToastLevel, msg string) Node {
	return Node{Type: NodeAlert, Text: msg, Props: map[string]any{"level": string(level)}}
}

// Stack lays children out vertically.
func (Components) Stack(children ...Node) Node {
	return Node{Type: NodeStack, Children: children}
}

// Utils bundles helpers that are not API calls.
type Utils struct {
	pluginID string
	notifier Notifier
	printer  *message.Printer
}

// Toast shows a notification attributed to the plugin.
func (u *Utils) Toast(ctx context.Context, level ToastLevel, msg string) {
	switch level {
	case ToastInfo, ToastSuccess, ToastWarning, ToastError:
	default:
		level = ToastInfo
	}
	u.notifier.Notify(ctx, Toast{PluginID: u.pluginID, Level: level, Message: msg, At: time.Now()})
}

// MaxCurrencyMinor is the largest magnitude FormatCurrency accepts. Larger
// amounts cannot be formatted without losing digits.
const MaxCurrencyMinor = 1 << 53

// FormatCurrency formats an amount given in minor units (cents) in the ISO
// 4217 currency code. Amounts beyond ±MaxCurrencyMinor are rejected.
func (u *Utils) FormatCurrency(minor int64, code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", oops.In("sdk").With("currency", code).Wrapf(err, "unknown currency")
	}
	if minor > MaxCurrencyMinor || minor < -MaxCurrencyMinor {
		return "", oops.In("sdk").Code(CodeAmountOutOfRange).With("currency", code).With("amount", minor).
			Errorf("amount %d exceeds the formattable range", minor)
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := float64(minor) / math.Pow10(scale)
	return u.printer.Sprint(currency.Symbol(unit.Amount(amount))), nil
}
