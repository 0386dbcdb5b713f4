// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package hostfunc

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/pkg/errutil"
)

// SDKTable builds the "sdk" table handed to one component call. Every value
// is a fresh copy; writes from Lua never reach host state.
func SDKTable(L *lua.LState, sdk *plugin.SDK) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "plugin_id", lua.LString(sdk.PluginID))
	L.SetField(t, "api", apiTable(L, sdk.API))
	L.SetField(t, "components", componentsTable(L, sdk.Components))
	L.SetField(t, "utils", utilsTable(L, sdk.Utils))
	L.SetField(t, "user", ToLua(L, map[string]any{
		"id":    sdk.User.ID,
		"email": sdk.User.Email,
		"role":  sdk.User.Role,
	}))
	config := ToLua(L, sdk.Config)
	if config == lua.LNil {
		config = L.NewTable()
	}
	L.SetField(t, "config", config)
	L.SetField(t, "request_id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(sdk.RequestID()))
		return 1
	}))
	return t
}

// ContextTable builds the "context" table for a component call. The host
// callbacks are exposed as update(values) and action(name, payload).
func ContextTable(L *lua.LState, ec plugin.ExtensionContext) *lua.LTable {
	t, ok := ToLua(L, ec.Snapshot()).(*lua.LTable)
	if !ok {
		t = L.NewTable()
	}
	L.SetField(t, "extension_point", lua.LString(ec.Point()))
	L.SetField(t, "update", L.NewFunction(func(L *lua.LState) int {
		values := L.OptTable(1, L.NewTable())
		if err := ec.Update(TableToMap(values)); err != nil {
			L.Push(lua.LString(errutil.Describe(err)))
			return 1
		}
		return 0
	}))
	L.SetField(t, "action", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		payload := L.OptTable(2, L.NewTable())
		if err := ec.Action(name, TableToMap(payload)); err != nil {
			L.Push(lua.LString(errutil.Describe(err)))
			return 1
		}
		return 0
	}))
	return t
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func apiTable(L *lua.LState, api *plugin.ScopedAPI) *lua.LTable {
	t := L.NewTable()

	call := func(do func(ctx context.Context, path string, body any, out *any) error, withBody bool) lua.LGFunction {
		return func(L *lua.LState) int {
			path := L.CheckString(1)
			var body any
			if withBody {
				body = FromLua(L.Get(2))
			}
			var out any
			if err := do(stateContext(L), path, body, &out); err != nil {
				return pushError(L, errutil.Describe(err))
			}
			return pushSuccess(L, ToLua(L, out))
		}
	}

	L.SetField(t, "get", L.NewFunction(call(func(ctx context.Context, path string, _ any, out *any) error {
		return api.Get(ctx, path, out)
	}, false)))
	L.SetField(t, "post", L.NewFunction(call(func(ctx context.Context, path string, body any, out *any) error {
		return api.Post(ctx, path, body, out)
	}, true)))
	L.SetField(t, "patch", L.NewFunction(call(func(ctx context.Context, path string, body any, out *any) error {
		return api.Patch(ctx, path, body, out)
	}, true)))
	L.SetField(t, "delete", L.NewFunction(call(func(ctx context.Context, path string, _ any, out *any) error {
		return api.Delete(ctx, path, out)
	}, false)))
	return t
}

func componentsTable(L *lua.LState, c plugin.Components) *lua.LTable {
	t := L.NewTable()

	L.SetField(t, "text", L.NewFunction(func(L *lua.LState) int {
		L.Push(NodeToLua(L, c.Text(L.CheckString(1))))
		return 1
	}))
	L.SetField(t, "button", L.NewFunction(func(L *lua.LState) int {
		L.Push(NodeToLua(L, c.Button(L.CheckString(1), L.OptString(2, ""))))
		return 1
	}))
	L.SetField(t, "card", L.NewFunction(func(L *lua.LState) int {
		title := L.CheckString(1)
		children, err := nodeList(L, 2)
		if err != nil {
			L.ArgError(2, err.Error())
			return 0
		}
		L.Push(NodeToLua(L, c.Card(title, children...)))
		return 1
	}))
	L.SetField(t, "input", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		label := L.OptString(2, name)
		value := FromLua(L.Get(3))
		secret := L.OptBool(4, false)
		L.Push(NodeToLua(L, c.Input(name, label, value, secret)))
		return 1
	}))
	L.SetField(t, "alert", L.NewFunction(func(L *lua.LState) int {
		level := plugin.ToastLevel(L.CheckString(1))
		L.Push(NodeToLua(L, c.Alert(level, L.CheckString(2))))
		return 1
	}))
	L.SetField(t, "stack", L.NewFunction(func(L *lua.LState) int {
		children, err := nodeList(L, 1)
		if err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		L.Push(NodeToLua(L, c.Stack(children...)))
		return 1
	}))
	return t
}

// nodeList reads an optional array of nodes at stack position n.
func nodeList(L *lua.LState, n int) ([]plugin.Node, error) {
	tbl, ok := L.Get(n).(*lua.LTable)
	if !ok {
		return nil, nil
	}
	nodes := make([]plugin.Node, 0, tbl.MaxN())
	for i := 1; i <= tbl.MaxN(); i++ {
		node, err := NodeFromLua(tbl.RawGetInt(i))
		if err != nil {
			return nil, oops.With("index", i).Wrap(err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func utilsTable(L *lua.LState, u *plugin.Utils) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "toast", L.NewFunction(func(L *lua.LState) int {
		level := plugin.ToastLevel(L.CheckString(1))
		u.Toast(stateContext(L), level, L.CheckString(2))
		return 0
	}))
	L.SetField(t, "format_currency", L.NewFunction(func(L *lua.LState) int {
		amount := int64(L.CheckNumber(1))
		code := L.CheckString(2)
		s, err := u.FormatCurrency(amount, code)
		if err != nil {
			return pushError(L, errutil.Describe(err))
		}
		return pushSuccess(L, lua.LString(s))
	}))
	return t
}
