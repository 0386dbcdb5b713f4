// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

// Command gen-schema writes the JSON Schema for plugin.yaml manifests.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/eventdock/eventdock/internal/plugin"
)

func main() {
	out := pflag.String("out", filepath.Join("schemas", "plugin.schema.json"), "output path")
	pflag.Parse()

	schema, err := plugin.GenerateSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s\n", *out)
}
