// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Category classifies a plugin in the marketplace catalogue.
type Category string

// Plugin categories. The set is closed; anything else is rejected.
const (
	CategoryPayment   Category = "payment"
	CategoryMarketing Category = "marketing"
	CategoryAnalytics Category = "analytics"
	CategorySocial    Category = "social"
	CategoryTicketing Category = "ticketing"
	CategoryLayout    Category = "layout"
	CategorySeating   Category = "seating"
)

// Categories returns every valid category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryPayment,
		CategoryMarketing,
		CategoryAnalytics,
		CategorySocial,
		CategoryTicketing,
		CategoryLayout,
		CategorySeating,
	}
}

// Manifest describes a plugin's identity, the extension points it implements,
// the capabilities it needs and the shape of its configuration.
type Manifest struct {
	ID                  string        `json:"id" yaml:"id" jsonschema:"required,minLength=1,maxLength=64,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$"`
	Name                string        `json:"name" yaml:"name" jsonschema:"required,minLength=1"`
	Version             string        `json:"version" yaml:"version" jsonschema:"required,minLength=1"`
	Description         string        `json:"description,omitempty" yaml:"description,omitempty"`
	Author              string        `json:"author,omitempty" yaml:"author,omitempty"`
	Category            Category      `json:"category" yaml:"category" jsonschema:"required,enum=payment,enum=marketing,enum=analytics,enum=social,enum=ticketing,enum=layout,enum=seating"`
	ExtensionPoints     []string      `json:"extensionPoints" yaml:"extensionPoints" jsonschema:"required,minItems=1"`
	RequiredPermissions []string      `json:"requiredPermissions,omitempty" yaml:"requiredPermissions,omitempty"`
	ConfigSchema        *ConfigSchema `json:"configSchema,omitempty" yaml:"configSchema,omitempty"`
	Priority            int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	BundleURL           string        `json:"bundleUrl,omitempty" yaml:"bundleUrl,omitempty"`
	HostAPI             string        `json:"hostApi,omitempty" yaml:"hostApi,omitempty"`
}

// maxIDLength is the maximum allowed length for plugin ids.
const maxIDLength = 64

// slugPattern validates plugin ids and extension point names: must start with
// a lowercase letter, followed by lowercase letters, digits, or hyphens, and
// cannot end with a hyphen.
var slugPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// permissionPattern validates capability strings such as "read:orders".
var permissionPattern = regexp.MustCompile(`^[a-z]+:[a-z][a-z0-9_.-]*$`)

// ParseManifest parses and validates a manifest document. YAML and JSON are
// both accepted.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("manifest").Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Code(CodeManifestInvalid).Hint("manifest must be YAML or JSON").Wrapf(ErrInvalidManifest, "decode: %v", err)
	}

	m.normalize()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeManifest validates an already-decoded manifest value, such as the
// metadata table a bundle registers. It accepts *Manifest, Manifest, raw
// bytes, or any JSON-marshalable value.
func DecodeManifest(raw any) (*Manifest, error) {
	switch v := raw.(type) {
	case nil:
		return nil, oops.In("manifest").Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "manifest is nil")
	case *Manifest:
		if v == nil {
			return nil, oops.In("manifest").Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "manifest is nil")
		}
		m := v.Clone()
		m.normalize()
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return m, nil
	case Manifest:
		return DecodeManifest(&v)
	case []byte:
		return ParseManifest(v)
	case string:
		return ParseManifest([]byte(v))
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, oops.In("manifest").Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "encode: %v", err)
	}
	return ParseManifest(data)
}

// normalize trims and lower-cases the category and removes duplicate
// extension points, preserving first occurrence.
func (m *Manifest) normalize() {
	m.ID = strings.TrimSpace(m.ID)
	m.Category = Category(strings.ToLower(strings.TrimSpace(string(m.Category))))

	seen := make(map[string]struct{}, len(m.ExtensionPoints))
	points := m.ExtensionPoints[:0:0]
	for _, p := range m.ExtensionPoints {
		p = strings.TrimSpace(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		points = append(points, p)
	}
	m.ExtensionPoints = points
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").With("plugin", m.ID)

	switch {
	case m.ID == "":
		return errb.Code(CodeManifestMissingField).With("field", "id").Wrapf(ErrMissingField, "id is required")
	case m.Name == "":
		return errb.Code(CodeManifestMissingField).With("field", "name").Wrapf(ErrMissingField, "name is required")
	case m.Version == "":
		return errb.Code(CodeManifestMissingField).With("field", "version").Wrapf(ErrMissingField, "version is required")
	case len(m.ExtensionPoints) == 0:
		return errb.Code(CodeManifestMissingField).With("field", "extensionPoints").Wrapf(ErrMissingField, "extensionPoints must not be empty")
	}

	if len(m.ID) > maxIDLength {
		return errb.Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}
	if !slugPattern.MatchString(m.ID) {
		return errb.Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "id %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.ID)
	}

	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return errb.Code(CodeManifestInvalid).With("version", m.Version).Wrapf(ErrInvalidManifest, "version must be semver: %v", err)
	}

	if !slices.Contains(Categories(), m.Category) {
		return errb.Code(CodeManifestInvalidCategory).With("category", string(m.Category)).Wrapf(ErrInvalidCategory, "unknown category %q", m.Category)
	}

	for _, p := range m.ExtensionPoints {
		if !slugPattern.MatchString(p) {
			return errb.Code(CodeManifestInvalid).With("extension_point", p).Wrapf(ErrInvalidManifest, "extension point %q is not a valid name", p)
		}
	}

	for _, perm := range m.RequiredPermissions {
		if !permissionPattern.MatchString(perm) {
			return errb.Code(CodeManifestInvalid).With("permission", perm).Wrapf(ErrInvalidManifest, "permission %q must look like verb:resource", perm)
		}
	}

	if m.HostAPI != "" {
		if _, err := semver.NewConstraint(m.HostAPI); err != nil {
			return errb.Code(CodeManifestInvalid).With("host_api", m.HostAPI).Wrapf(ErrInvalidManifest, "hostApi is not a semver constraint: %v", err)
		}
	}

	if m.ConfigSchema != nil {
		if err := m.ConfigSchema.check(); err != nil {
			return errb.Code(CodeManifestInvalid).Wrapf(ErrInvalidManifest, "configSchema: %v", err)
		}
	}

	return nil
}

// Declares reports whether the manifest lists the extension point.
func (m *Manifest) Declares(point string) bool {
	return slices.Contains(m.ExtensionPoints, point)
}

// CheckCompatible returns ErrIncompatible when the manifest's hostApi
// constraint rejects the given host API version.
func (m *Manifest) CheckCompatible(hostVersion string) error {
	if m.HostAPI == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.HostAPI)
	if err != nil {
		return oops.In("manifest").Code(CodeManifestInvalid).With("plugin", m.ID).Wrapf(ErrInvalidManifest, "hostApi: %v", err)
	}
	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return oops.In("manifest").With("host_version", hostVersion).Wrap(err)
	}
	if !c.Check(v) {
		return oops.In("manifest").
			Code(CodeIncompatible).
			With("plugin", m.ID).
			With("host_api", m.HostAPI).
			With("host_version", hostVersion).
			Wrapf(ErrIncompatible, "plugin %s requires host API %s", m.ID, m.HostAPI)
	}
	return nil
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	c := *m
	c.ExtensionPoints = slices.Clone(m.ExtensionPoints)
	c.RequiredPermissions = slices.Clone(m.RequiredPermissions)
	if m.ConfigSchema != nil {
		c.ConfigSchema = m.ConfigSchema.Clone()
	}
	return &c
}
