// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import "errors"

// Sentinel errors for programmatic error checking. Errors returned by this
// package are oops errors wrapping one of these, so errors.Is works on them.
var (
	// ErrMissingField is returned when a manifest lacks a required field.
	ErrMissingField = errors.New("manifest field missing")
	// ErrInvalidCategory is returned when a manifest category is not in the closed set.
	ErrInvalidCategory = errors.New("invalid plugin category")
	// ErrInvalidManifest covers every other manifest constraint violation.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrBundleFetch is returned when a bundle cannot be retrieved.
	ErrBundleFetch = errors.New("bundle fetch failed")
	// ErrBundleContentType is returned when a bundle is not served as script.
	ErrBundleContentType = errors.New("bundle content type is not executable script")
	// ErrInvalidPluginStructure is returned when a bundle executed but did not
	// register a usable definition.
	ErrInvalidPluginStructure = errors.New("invalid plugin structure")

	// ErrExtensionPointMismatch is returned when a bundle exports a point its
	// manifest does not declare.
	ErrExtensionPointMismatch = errors.New("extension point not declared in manifest")

	// ErrRender wraps failures raised by a plugin component.
	ErrRender = errors.New("plugin component render failed")
	// ErrRenderTimeout is returned when a component exceeds the slot timeout.
	ErrRenderTimeout = errors.New("plugin component render timed out")
	// ErrContextMismatch is returned when a context is rendered for the wrong point.
	ErrContextMismatch = errors.New("extension context does not match extension point")

	// ErrConfigInvalid is returned when configuration fails its schema.
	ErrConfigInvalid = errors.New("plugin configuration invalid")
	// ErrCapabilityDenied is returned when a plugin calls an API it was not granted.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrNotInstalled is returned for lifecycle operations on unknown plugins.
	ErrNotInstalled = errors.New("plugin not installed")
	// ErrNotInCatalog is returned when a plugin id has no catalogue manifest.
	ErrNotInCatalog = errors.New("plugin not in catalog")
	// ErrIncompatible is returned when a plugin requires a host API this build lacks.
	ErrIncompatible = errors.New("plugin incompatible with host")
	// ErrBusy is returned when a lifecycle transition is already in progress.
	ErrBusy = errors.New("plugin lifecycle operation in progress")
)

// Error codes attached to oops errors.
const (
	CodeManifestMissingField    = "MANIFEST_MISSING_FIELD"
	CodeManifestInvalidCategory = "MANIFEST_INVALID_CATEGORY"
	CodeManifestInvalid         = "MANIFEST_INVALID"
	CodeBundleFetchFailed       = "BUNDLE_FETCH_FAILED"
	CodeBundleContentType       = "BUNDLE_CONTENT_TYPE"
	CodeInvalidPluginStructure  = "INVALID_PLUGIN_STRUCTURE"
	CodeExtensionPointMismatch  = "EXTENSION_POINT_MISMATCH"
	CodeRenderFailed            = "RENDER_FAILED"
	CodeRenderTimeout           = "RENDER_TIMEOUT"
	CodeContextMismatch         = "CONTEXT_MISMATCH"
	CodeConfigInvalid           = "CONFIG_INVALID"
	CodeCapabilityDenied        = "CAPABILITY_DENIED"
	CodeNotInstalled            = "PLUGIN_NOT_INSTALLED"
	CodeNotInCatalog            = "PLUGIN_NOT_IN_CATALOG"
	CodeIncompatible            = "PLUGIN_INCOMPATIBLE"
	CodeBusy                    = "PLUGIN_BUSY"
	CodeAmountOutOfRange        = "AMOUNT_OUT_OF_RANGE"
)
