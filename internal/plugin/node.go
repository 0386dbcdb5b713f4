// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"fmt"
	"strings"
)

// Node types produced by the design-system factories. Hosts map these onto
// their own presentation components.
const (
	NodeText        = "text"
	NodeButton      = "button"
	NodeCard        = "card"
	NodeInput       = "input"
	NodeAlert       = "alert"
	NodeStack       = "stack"
	NodeFragment    = "fragment"
	NodePlaceholder = "placeholder"
)

// Placeholder states.
const (
	PlaceholderLoading     = "loading"
	PlaceholderUnavailable = "unavailable"
)

// Node is a renderable UI tree produced by a plugin component.
type Node struct {
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Text     string         `json:"text,omitempty"`
	Children []Node         `json:"children,omitempty"`
}

// IsPlaceholder reports whether the node is a host-generated placeholder.
func (n Node) IsPlaceholder() bool {
	return n.Type == NodePlaceholder
}

// PlaceholderState returns the placeholder state, or "" for regular nodes.
func (n Node) PlaceholderState() string {
	if !n.IsPlaceholder() {
		return ""
	}
	s, _ := n.Props["state"].(string)
	return s
}

// LoadingPlaceholder is shown in a slot while its component is pending.
func LoadingPlaceholder(pluginID string) Node {
	return Node{
		Type:  NodePlaceholder,
		Props: map[string]any{"state": PlaceholderLoading, "plugin": pluginID},
	}
}

// UnavailablePlaceholder is shown in a slot whose plugin failed.
func UnavailablePlaceholder(pluginID, reason string) Node {
	return Node{
		Type:  NodePlaceholder,
		Props: map[string]any{"state": PlaceholderUnavailable, "plugin": pluginID, "reason": reason},
		Text:  pluginID + " is unavailable",
	}
}

// String renders the tree in a compact, human-readable form.
func (n Node) String() string {
	var b strings.Builder
	n.write(&b, 0)
	return b.String()
}

func (n Node) write(b *strings.Builder, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Type)
	if n.Text != "" {
		fmt.Fprintf(b, " %q", n.Text)
	}
	if len(n.Props) > 0 {
		fmt.Fprintf(b, " %v", n.Props)
	}
	b.WriteByte('\n')
	for _, c := range n.Children {
		c.write(b, depth+1)
	}
}
