// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Package logging configures slog for EventDock binaries: a JSON or text
// handler tagged with service and version, OpenTelemetry trace ids on every
// record, and credentials masked before they reach the output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Redacted replaces the value of credential attributes.
const Redacted = "[REDACTED]"

// secretKeys are attribute keys whose values never reach the log output.
var secretKeys = map[string]struct{}{
	"api-token":     {},
	"api_token":     {},
	"apikey":        {},
	"authorization": {},
	"database-url":  {},
	"password":      {},
	"secret":        {},
	"token":         {},
}

// ValidateFormat reports whether format is accepted by Setup. The empty
// string selects JSON.
func ValidateFormat(format string) error {
	switch format {
	case "", FormatJSON, FormatText:
		return nil
	}
	return oops.In("logging").Code("INVALID_LOG_FORMAT").
		With("format", format).
		Hint("use json or text").
		Errorf("unknown log format %q", format)
}

// traceHandler stamps records with the span carried by the context.
type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// Setup builds a logger writing to w (stderr when nil). format is "json"
// or "text"; anything else falls back to JSON.
func Setup(service, version, format string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: redact,
	}

	var base slog.Handler
	if format == FormatText {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(&traceHandler{next: base}).With(
		slog.String("service", service),
		slog.String("version", version),
	)
}

// SetDefault installs a Setup logger as the slog default.
func SetDefault(service, version, format string) {
	slog.SetDefault(Setup(service, version, format, nil))
}
