// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

// Property types a configuration field may declare.
const (
	PropertyString  = "string"
	PropertyNumber  = "number"
	PropertyInteger = "integer"
	PropertyBoolean = "boolean"
)

// ConfigSchema is the JSON Schema subset a plugin uses to describe its
// configuration form. Only flat objects are supported.
type ConfigSchema struct {
	Type       string                    `json:"type,omitempty" yaml:"type,omitempty"`
	Properties map[string]ConfigProperty `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty" yaml:"required,omitempty"`
}

// ConfigProperty describes one configurable field.
type ConfigProperty struct {
	Type        string   `json:"type" yaml:"type"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum        []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Default     any      `json:"default,omitempty" yaml:"default,omitempty"`
	// Secret marks values that must not be echoed back in logs or listings.
	Secret bool `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// compiledSchemas caches compiled schemas keyed by their JSON document.
var compiledSchemas sync.Map // map[string]*jschema.Schema

// document renders the schema as a JSON Schema document.
func (s *ConfigSchema) document() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for key, p := range s.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		props[key] = prop
	}
	doc := map[string]any{
		"$schema":              "https://json-schema.org/draft/2020-12/schema",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return doc
}

// compile returns the compiled schema, compiling it on first use.
func (s *ConfigSchema) compile() (*jschema.Schema, error) {
	raw, err := json.Marshal(s.document())
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	key := string(raw)
	if cached, ok := compiledSchemas.Load(key); ok {
		return cached.(*jschema.Schema), nil //nolint:forcetypeassert // only *jschema.Schema is stored
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("config.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("config.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	compiledSchemas.Store(key, sch)
	return sch, nil
}

// check validates the schema definition itself.
func (s *ConfigSchema) check() error {
	if s.Type != "" && s.Type != "object" {
		return fmt.Errorf("type must be object, got %q", s.Type)
	}
	for key, p := range s.Properties {
		switch p.Type {
		case PropertyString, PropertyNumber, PropertyInteger, PropertyBoolean:
		default:
			return fmt.Errorf("property %q has unsupported type %q", key, p.Type)
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return fmt.Errorf("property %q pattern: %w", key, err)
			}
		}
	}
	for _, key := range s.Required {
		if _, ok := s.Properties[key]; !ok {
			return fmt.Errorf("required property %q is not defined", key)
		}
	}

	sch, err := s.compile()
	if err != nil {
		return err
	}

	defaults := make(map[string]any)
	for key, p := range s.Properties {
		if p.Default != nil {
			defaults[key] = p.Default
		}
	}
	// Required fields are not checked here; only the defaults' own types.
	relaxed := &ConfigSchema{Type: s.Type, Properties: s.Properties}
	if sch, err = relaxed.compile(); err != nil {
		return err
	}
	if err := sch.Validate(normalizeJSON(defaults)); err != nil {
		return fmt.Errorf("defaults do not match schema: %w", err)
	}
	return nil
}

// Validate checks a configuration object against the schema. A nil schema
// accepts only empty configuration.
func (s *ConfigSchema) Validate(config map[string]any) error {
	errb := oops.In("config").Code(CodeConfigInvalid)
	if s == nil {
		if len(config) > 0 {
			return errb.Wrapf(ErrConfigInvalid, "plugin declares no configuration")
		}
		return nil
	}

	sch, err := s.compile()
	if err != nil {
		return errb.Wrapf(ErrConfigInvalid, "schema: %v", err)
	}

	doc := map[string]any(config)
	if doc == nil {
		doc = map[string]any{}
	}
	if err := sch.Validate(normalizeJSON(doc)); err != nil {
		return errb.Hint("fix the listed fields and save again").Wrapf(ErrConfigInvalid, "%v", err)
	}
	return nil
}

// ApplyDefaults returns a copy of config with schema defaults filled in for
// absent keys.
func (s *ConfigSchema) ApplyDefaults(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	maps.Copy(out, config)
	if s == nil {
		return out
	}
	for key, p := range s.Properties {
		if _, ok := out[key]; !ok && p.Default != nil {
			out[key] = p.Default
		}
	}
	return out
}

// Redact returns a copy of config with secret values masked.
func (s *ConfigSchema) Redact(config map[string]any) map[string]any {
	out := make(map[string]any, len(config))
	for key, v := range config {
		if s != nil && s.Properties[key].Secret {
			out[key] = "********"
			continue
		}
		out[key] = v
	}
	return out
}

// Keys returns property names in sorted order.
func (s *ConfigSchema) Keys() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.Properties))
}

// Clone returns a deep copy of the schema.
func (s *ConfigSchema) Clone() *ConfigSchema {
	c := &ConfigSchema{
		Type:     s.Type,
		Required: slices.Clone(s.Required),
	}
	if s.Properties != nil {
		c.Properties = make(map[string]ConfigProperty, len(s.Properties))
		for k, p := range s.Properties {
			p.Enum = slices.Clone(p.Enum)
			c.Properties[k] = p
		}
	}
	return c
}

// normalizeJSON converts a value into the shapes encoding/json produces so
// that the validator sees consistent types regardless of where the
// configuration came from (YAML, Lua tables, API responses).
func normalizeJSON(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
