// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/pkg/errutil"
)

// NewPluginsCmd creates the plugins subcommand and its children.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage and render the organization's plugins",
		Long: `Browse the marketplace catalogue, install, enable, disable, configure and
uninstall plugins for one organization, and render the components plugins
contribute to an extension point.`,
	}

	cmd.AddCommand(
		newCatalogCmd(),
		newListCmd(),
		newLifecycleCmd("install", "Install a plugin from the catalogue", func(rt *pluginRuntime, cmd *cobra.Command, id string) error {
			_, err := rt.controller.Install(cmd.Context(), id)
			return err
		}),
		newLifecycleCmd("uninstall", "Uninstall a plugin", func(rt *pluginRuntime, cmd *cobra.Command, id string) error {
			return rt.controller.Uninstall(cmd.Context(), id)
		}),
		newLifecycleCmd("enable", "Enable an installed plugin", func(rt *pluginRuntime, cmd *cobra.Command, id string) error {
			return rt.controller.Enable(cmd.Context(), id)
		}),
		newLifecycleCmd("disable", "Disable an installed plugin", func(rt *pluginRuntime, cmd *cobra.Command, id string) error {
			return rt.controller.Disable(cmd.Context(), id)
		}),
		newLifecycleCmd("reload", "Fetch and load a plugin's bundle again", func(rt *pluginRuntime, cmd *cobra.Command, id string) error {
			return rt.controller.Reload(cmd.Context(), id)
		}),
		newConfigureCmd(),
		newRenderCmd(),
	)
	return cmd
}

// withRuntime loads config, builds the runtime and synchronizes it with the
// platform API before running fn.
func withRuntime(fn func(rt *pluginRuntime, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rt, err := newPluginRuntime(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.controller.Sync(cmd.Context()); err != nil {
			return err
		}
		return fn(rt, cmd, args)
	}
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the plugins available in the marketplace",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(rt *pluginRuntime, cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVERSION\tCATEGORY\tEXTENSION POINTS")
			for _, m := range rt.controller.Catalog() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					m.ID, m.Name, m.Version, m.Category, strings.Join(m.ExtensionPoints, ","))
			}
			return tw.Flush()
		}),
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins and their state",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(rt *pluginRuntime, cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tVERSION\tCONFIGURATION\tERROR")
			for _, st := range rt.controller.Statuses() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					st.PluginID, st.State, statusVersion(st), statusConfig(st), errutil.Describe(st.Err))
			}
			return tw.Flush()
		}),
	}
}

func statusVersion(st plugin.Status) string {
	if st.LoadedVersion != "" {
		return st.LoadedVersion
	}
	if st.Manifest != nil {
		return st.Manifest.Version
	}
	return "-"
}

func statusConfig(st plugin.Status) string {
	if st.Installation == nil || len(st.Installation.Configuration) == 0 {
		return "-"
	}
	var schema *plugin.ConfigSchema
	if st.Manifest != nil {
		schema = st.Manifest.ConfigSchema
	}
	redacted := schema.Redact(st.Installation.Configuration)
	parts := make([]string, 0, len(redacted))
	for _, k := range slices.Sorted(maps.Keys(redacted)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, redacted[k]))
	}
	return strings.Join(parts, " ")
}

func newLifecycleCmd(use, short string, op func(rt *pluginRuntime, cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " PLUGIN_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(rt *pluginRuntime, cmd *cobra.Command, args []string) error {
			if err := op(rt, cmd, args[0]); err != nil {
				return err
			}
			printStatus(cmd, rt.controller.Status(args[0]))
			return nil
		}),
	}
}

func printStatus(cmd *cobra.Command, st plugin.Status) {
	cmd.Printf("%s: %s\n", st.PluginID, st.State)
	if st.Err != nil {
		cmd.Printf("  error: %s\n", errutil.Describe(st.Err))
	}
}

func newConfigureCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "configure PLUGIN_ID KEY=VALUE...",
		Short: "Update a plugin's configuration",
		Long: `Update a plugin's configuration. Values are parsed as JSON when they are
valid JSON (numbers, booleans, quoted strings) and used as plain strings
otherwise. Without --replace the given keys are merged into the current
configuration.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withRuntime(func(rt *pluginRuntime, cmd *cobra.Command, args []string) error {
			id := args[0]
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			config := values
			if !replace {
				config = rt.controller.Configuration(id)
				if config == nil {
					config = map[string]any{}
				}
				maps.Copy(config, values)
			}
			if _, err := rt.controller.Configure(cmd.Context(), id, config); err != nil {
				return err
			}
			printStatus(cmd, rt.controller.Status(id))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the whole configuration instead of merging")
	return cmd
}

// parseAssignments turns KEY=VALUE arguments into a configuration map.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, oops.Code("INVALID_ARGUMENT").With("argument", arg).Errorf("expected KEY=VALUE, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func newRenderCmd() *cobra.Command {
	var contextJSON string
	cmd := &cobra.Command{
		Use:   "render EXTENSION_POINT",
		Short: "Render every component registered for an extension point",
		Long: `Render every component registered for an extension point with the given
context, one slot per plugin in priority order. Failing plugins render as an
unavailable placeholder without affecting the others.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(rt *pluginRuntime, cmd *cobra.Command, args []string) error {
			point := args[0]
			callbacks := plugin.Callbacks{
				OnUpdate: func(values map[string]any) error {
					cmd.Printf("update: %v\n", values)
					return nil
				},
				OnAction: func(name string, payload map[string]any) error {
					cmd.Printf("action %s: %v\n", name, payload)
					return nil
				},
			}
			ec, err := plugin.ContextFor(point, []byte(contextJSON), callbacks)
			if err != nil {
				return err
			}

			slots, err := rt.renderer.RenderAll(cmd.Context(), point, ec)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				cmd.Printf("No plugins render %s\n", point)
				return nil
			}
			for _, s := range slots {
				cmd.Printf("-- %s [%s]\n", s.PluginID, s.Status)
				cmd.Print(s.Node.String())
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&contextJSON, "context", "{}", "extension context as a JSON object")
	return cmd
}
