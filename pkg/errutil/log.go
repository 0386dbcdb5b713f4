// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// liftedKeys are context keys promoted to top-level log attributes so one
// plugin's failures can be filtered without parsing the context map.
var liftedKeys = []string{"plugin", "extension_point"}

// LogError logs err at error level. For oops errors the code, domain, hint
// and context are logged as attributes; the plugin and extension point, when
// present in the context, also appear as top-level attributes.
func LogError(logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.Error(msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if hint := oopsErr.Hint(); hint != "" {
		attrs = append(attrs, "hint", hint)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		for _, k := range liftedKeys {
			if v, ok := ctx[k]; ok {
				attrs = append(attrs, k, v)
			}
		}
		attrs = append(attrs, "context", ctx)
	}
	logger.Error(msg, attrs...)
}
