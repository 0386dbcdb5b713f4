// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jschema.Schema
	manifestSchemaErr  error
)

// GenerateSchema generates a JSON Schema from the Manifest struct.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(GetSchemaID())
	schema.Title = "EventDock Plugin Manifest"
	schema.Description = "Schema for plugin manifests served by the plugin catalogue"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates a YAML or JSON manifest against the manifest JSON
// Schema. It is stricter than ParseManifest: categories are not normalized.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	sch, err := getCompiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(normalizeJSON(doc)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// getCompiledSchema returns the compiled manifest schema, compiling it once.
func getCompiledSchema() (*jschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			manifestSchemaErr = err
			return
		}

		var schemaData any
		if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
			manifestSchemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}

		c := jschema.NewCompiler()
		if err := c.AddResource("manifest.json", schemaData); err != nil {
			manifestSchemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		manifestSchema, manifestSchemaErr = c.Compile("manifest.json")
	})
	return manifestSchema, manifestSchemaErr
}

// GetSchemaID returns the schema $id for manifest documents.
func GetSchemaID() string {
	return "https://eventdock.dev/schemas/plugin-manifest.schema.json"
}

// FormatSchemaError formats a schema validation error for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}
