// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package hostfunc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/hostfunc"
)

func evalLua(t *testing.T, L *lua.LState, expr string) lua.LValue {
	t.Helper()
	require.NoError(t, L.DoString("result = "+expr))
	return L.GetGlobal("result")
}

func TestFromLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"string", `"hello"`, "hello"},
		{"integer", `42`, int64(42)},
		{"float", `1.5`, 1.5},
		{"bool", `true`, true},
		{"nil", `nil`, nil},
		{"empty table", `{}`, nil},
		{"array", `{"a", "b"}`, []any{"a", "b"}},
		{"map", `{id = "x", priority = 10}`, map[string]any{"id": "x", "priority": int64(10)}},
		{"nested", `{points = {"admin-settings"}}`, map[string]any{"points": []any{"admin-settings"}}},
		{"sparse table is a map", `{[1] = "a", [3] = "c"}`, map[string]any{"1": "a", "3": "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hostfunc.FromLua(evalLua(t, L, tt.expr)))
		})
	}
}

func TestToLua_RoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{
		"name":    "Stripe",
		"enabled": true,
		"amount":  int64(1250),
		"tags":    []string{"payment", "card"},
		"nested":  map[string]any{"mode": "test"},
	}
	out := hostfunc.FromLua(hostfunc.ToLua(L, in))
	assert.Equal(t, map[string]any{
		"name":    "Stripe",
		"enabled": true,
		"amount":  int64(1250),
		"tags":    []any{"payment", "card"},
		"nested":  map[string]any{"mode": "test"},
	}, out)
}

func TestToLua_Time(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v := hostfunc.ToLua(L, time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC))
	assert.Equal(t, lua.LString("2026-05-01T18:30:00Z"), v)
}

func TestNodeFromLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	t.Run("bare string is text", func(t *testing.T) {
		n, err := hostfunc.NodeFromLua(lua.LString("hi"))
		require.NoError(t, err)
		assert.Equal(t, plugin.Node{Type: plugin.NodeText, Text: "hi"}, n)
	})

	t.Run("tree", func(t *testing.T) {
		v := evalLua(t, L, `{type = "card", props = {title = "Pay"}, children = {{type = "text", text = "Card ending 4242"}}}`)
		n, err := hostfunc.NodeFromLua(v)
		require.NoError(t, err)
		assert.Equal(t, plugin.NodeCard, n.Type)
		assert.Equal(t, "Pay", n.Props["title"])
		require.Len(t, n.Children, 1)
		assert.Equal(t, "Card ending 4242", n.Children[0].Text)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := hostfunc.NodeFromLua(evalLua(t, L, `{text = "x"}`))
		assert.ErrorContains(t, err, "type")
	})

	t.Run("bad child", func(t *testing.T) {
		_, err := hostfunc.NodeFromLua(evalLua(t, L, `{type = "stack", children = {42}}`))
		assert.ErrorContains(t, err, "children[1]")
	})

	t.Run("nil", func(t *testing.T) {
		_, err := hostfunc.NodeFromLua(lua.LNil)
		assert.Error(t, err)
	})
}

func TestNodeToLua_RoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	var c plugin.Components
	node := c.Card("Payments", c.Text("Pay with card"), c.Button("Pay", "pay"))

	got, err := hostfunc.NodeFromLua(hostfunc.NodeToLua(L, node))
	require.NoError(t, err)
	assert.Equal(t, node.Type, got.Type)
	assert.Equal(t, "Payments", got.Props["title"])
	require.Len(t, got.Children, 2)
	assert.Equal(t, "pay", got.Children[1].Props["action"])
}
