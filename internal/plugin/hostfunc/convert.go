// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/eventdock/eventdock/internal/plugin"
)

// pushError pushes nil followed by an error string and returns 2.
// This is the standard pattern for returning errors from host functions.
func pushError(L *lua.LState, errMsg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(errMsg))
	return 2
}

// pushSuccess pushes a value followed by nil (no error) and returns 2.
func pushSuccess(L *lua.LState, value lua.LValue) int {
	L.Push(value)
	L.Push(lua.LNil)
	return 2
}

// FromLua converts a Lua value to plain Go data. Tables with keys 1..n
// become []any, other tables map[string]any, and empty tables nil. Integral
// numbers become int64.
func FromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		if isEmpty(val) {
			return nil
		}
		if isArray(val) {
			return tableToSlice(val)
		}
		return TableToMap(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

// TableToMap converts a Lua table to a Go map keyed by the string form of
// each key.
func TableToMap(tbl *lua.LTable) map[string]any {
	result := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		result[k.String()] = FromLua(v)
	})
	return result
}

func isEmpty(tbl *lua.LTable) bool {
	empty := true
	tbl.ForEach(func(_, _ lua.LValue) {
		empty = false
	})
	return empty
}

// isArray reports whether every key of tbl is an integer in 1..n.
func isArray(tbl *lua.LTable) bool {
	n := tbl.MaxN()
	if n == 0 {
		return false
	}
	count := 0
	tbl.ForEach(func(_, _ lua.LValue) {
		count++
	})
	return count == n
}

func tableToSlice(tbl *lua.LTable) []any {
	n := tbl.MaxN()
	result := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		result = append(result, FromLua(tbl.RawGetInt(i)))
	}
	return result
}

// ToLua converts Go data to a fresh Lua value. Anything that is not a basic
// type is passed through its JSON form.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case time.Time:
		return lua.LString(val.UTC().Format(time.RFC3339))
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, ToLua(L, val[k]))
		}
		return t
	case plugin.Node:
		return NodeToLua(L, val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return lua.LString(fmt.Sprint(val))
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return lua.LString(string(raw))
		}
		return ToLua(L, generic)
	}
}

// NodeToLua converts a node tree to its Lua table form.
func NodeToLua(L *lua.LState, n plugin.Node) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(n.Type))
	if n.Text != "" {
		t.RawSetString("text", lua.LString(n.Text))
	}
	if len(n.Props) > 0 {
		t.RawSetString("props", ToLua(L, n.Props))
	}
	if len(n.Children) > 0 {
		children := L.NewTable()
		for _, c := range n.Children {
			children.Append(NodeToLua(L, c))
		}
		t.RawSetString("children", children)
	}
	return t
}

// NodeFromLua converts what a Lua component returned into a node tree. A
// bare string becomes a text node.
func NodeFromLua(v lua.LValue) (plugin.Node, error) {
	switch val := v.(type) {
	case lua.LString:
		return plugin.Node{Type: plugin.NodeText, Text: string(val)}, nil
	case *lua.LTable:
		return tableToNode(val, "node")
	case *lua.LNilType:
		return plugin.Node{}, fmt.Errorf("component returned nil")
	default:
		return plugin.Node{}, fmt.Errorf("component returned %s, expected a node table", v.Type())
	}
}

func tableToNode(t *lua.LTable, path string) (plugin.Node, error) {
	typ, ok := t.RawGetString("type").(lua.LString)
	if !ok || typ == "" {
		return plugin.Node{}, fmt.Errorf("%s: missing string field 'type'", path)
	}
	n := plugin.Node{Type: string(typ)}

	switch text := t.RawGetString("text").(type) {
	case lua.LString:
		n.Text = string(text)
	case lua.LNumber:
		n.Text = text.String()
	}

	if props, ok := t.RawGetString("props").(*lua.LTable); ok {
		n.Props = TableToMap(props)
	}

	if children, ok := t.RawGetString("children").(*lua.LTable); ok {
		for i := 1; i <= children.MaxN(); i++ {
			child, err := NodeFromLua(children.RawGetInt(i))
			if err != nil {
				return plugin.Node{}, fmt.Errorf("%s.children[%d]: %w", path, i, err)
			}
			n.Children = append(n.Children, child)
		}
	}
	return n, nil
}
