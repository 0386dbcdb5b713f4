// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package apiserver

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	"github.com/yuin/gopher-lua/parse"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/store"
)

// CodeManifestSchema marks packages whose plugin.yaml fails the manifest
// JSON Schema.
const CodeManifestSchema = "MANIFEST_SCHEMA_INVALID"

// Files every plugin package directory must contain.
const (
	ManifestFile = "plugin.yaml"
	BundleFile   = "bundle.lua"
)

// Discover finds every valid plugin package under dir. A package is a
// directory holding plugin.yaml and bundle.lua. The manifest must satisfy
// the manifest JSON Schema before it is parsed. Invalid packages are logged
// and skipped; a missing dir yields no entries.
func Discover(dir string) ([]store.CatalogEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("catalog").Code("CATALOG_DISCOVERY_FAILED").With("dir", dir).Wrap(err)
	}

	var found []store.CatalogEntry
	seen := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkgDir := filepath.Join(dir, entry.Name())

		ce, err := readPackage(pkgDir)
		if err != nil {
			slog.Warn("skipping invalid plugin package", "dir", entry.Name(), "error", err)
			continue
		}
		if prev, dup := seen[ce.Manifest.ID]; dup {
			slog.Warn("skipping duplicate plugin package",
				"dir", entry.Name(),
				"plugin", ce.Manifest.ID,
				"first", prev)
			continue
		}
		seen[ce.Manifest.ID] = entry.Name()
		found = append(found, ce)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Manifest.ID < found[j].Manifest.ID })
	return found, nil
}

func readPackage(dir string) (store.CatalogEntry, error) {
	errb := oops.In("catalog").With("dir", dir)

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
	if err != nil {
		return store.CatalogEntry{}, errb.Wrapf(err, "read manifest")
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return store.CatalogEntry{}, errb.Code(CodeManifestSchema).Errorf("manifest schema: %s", plugin.FormatSchemaError(err))
	}
	manifest, err := plugin.ParseManifest(data)
	if err != nil {
		return store.CatalogEntry{}, err
	}

	bundle, err := os.ReadFile(filepath.Join(dir, BundleFile)) //nolint:gosec // path built from ReadDir entries
	if err != nil {
		return store.CatalogEntry{}, errb.With("plugin", manifest.ID).Wrapf(err, "read bundle")
	}
	// Reject bundles that would never compile so the catalogue only lists
	// plugins a client can load.
	if _, err := parse.Parse(bytes.NewReader(bundle), BundleFile); err != nil {
		return store.CatalogEntry{}, errb.With("plugin", manifest.ID).Wrapf(err, "bundle syntax")
	}

	return store.CatalogEntry{Manifest: *manifest, Bundle: bundle}, nil
}

// Seed discovers the packages under dir and upserts them into the catalogue.
// It returns the number of plugins seeded.
func Seed(ctx context.Context, s store.Store, dir string) (int, error) {
	entries, err := Discover(dir)
	if err != nil {
		return 0, err
	}
	for _, ce := range entries {
		if err := s.UpsertCatalog(ctx, ce); err != nil {
			return 0, oops.In("catalog").With("plugin", ce.Manifest.ID).Wrapf(err, "seed catalogue")
		}
		slog.Info("seeded plugin", "plugin", ce.Manifest.ID, "version", ce.Manifest.Version)
	}
	return len(entries), nil
}
