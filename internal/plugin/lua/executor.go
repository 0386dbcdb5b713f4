// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/hostfunc"
)

// Executor runs Lua bundles and captures the definition they register.
// It implements plugin.Executor.
type Executor struct {
	factory *StateFactory
	funcs   *hostfunc.Functions
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStateFactory overrides the sandboxed state factory.
func WithStateFactory(f *StateFactory) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.factory = f
		}
	}
}

// WithHostFunctions sets the platform module exposed to bundles.
func WithHostFunctions(f *hostfunc.Functions) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.funcs = f
		}
	}
}

// NewExecutor creates a Lua bundle executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		factory: NewStateFactory(),
		funcs:   hostfunc.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// module owns the state a bundle was executed in. Lua states are not safe
// for concurrent use, so every component call takes mu.
type module struct {
	mu       sync.Mutex
	L        *lua.LState
	pluginID string
	closed   bool
}

// Execute runs source in a fresh state. The bundle either calls
// platform.register(def) or returns def from its main chunk. A bundle that
// does neither yields a nil export.
func (e *Executor) Execute(ctx context.Context, pluginID string, source []byte) (*plugin.Export, error) {
	errb := oops.In("lua").With("plugin", pluginID)

	L, err := e.factory.NewState(ctx)
	if err != nil {
		return nil, errb.Wrapf(err, "create state")
	}

	var registered *lua.LTable
	platform := e.funcs.Register(L, pluginID)
	L.SetField(platform, "register", L.NewFunction(func(L *lua.LState) int {
		def := L.CheckTable(1)
		if registered != nil {
			L.RaiseError("platform.register called more than once")
			return 0
		}
		registered = def
		return 0
	}))

	L.SetContext(ctx)
	fn, err := L.LoadString(string(source))
	if err != nil {
		L.Close()
		return nil, errb.Wrapf(err, "compile bundle")
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		L.Close()
		return nil, errb.Wrapf(err, "run bundle")
	}
	ret := L.Get(-1)
	L.Pop(1)
	L.RemoveContext()

	if registered == nil {
		if tbl, ok := ret.(*lua.LTable); ok {
			registered = tbl
		}
	}
	if registered == nil {
		L.Close()
		return nil, nil
	}

	m := &module{L: L, pluginID: pluginID}
	exp, err := m.export(registered)
	if err != nil {
		L.Close()
		return nil, errb.Wrap(err)
	}
	return exp, nil
}

func (m *module) export(def *lua.LTable) (*plugin.Export, error) {
	exp := &plugin.Export{
		Metadata: hostfunc.FromLua(m.L.GetField(def, "metadata")),
		Close:    m.close,
	}

	points := m.L.GetField(def, "extensionPoints")
	if points == lua.LNil {
		points = m.L.GetField(def, "extension_points")
	}
	tbl, ok := points.(*lua.LTable)
	if !ok {
		return exp, nil
	}

	exp.ExtensionPoints = make(map[string]plugin.Component)
	var bad error
	tbl.ForEach(func(k, v lua.LValue) {
		if bad != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			bad = fmt.Errorf("extension point key %s is not a string", k.String())
			return
		}
		fn, ok := v.(*lua.LFunction)
		if !ok {
			bad = fmt.Errorf("extension point %q is a %s, not a function", string(name), v.Type())
			return
		}
		exp.ExtensionPoints[string(name)] = &component{module: m, point: string(name), fn: fn}
	})
	if bad != nil {
		return nil, bad
	}
	return exp, nil
}

func (m *module) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.L.Close()
	}
	return nil
}

// component is one Lua function registered for an extension point. It is
// called as fn(props) where props has context and sdk fields.
type component struct {
	module *module
	point  string
	fn     *lua.LFunction
}

func (c *component) Render(ctx context.Context, props plugin.Props) (plugin.Node, error) {
	m := c.module
	m.mu.Lock()
	defer m.mu.Unlock()

	errb := oops.In("lua").With("plugin", m.pluginID).With("extension_point", c.point)
	if m.closed {
		return plugin.Node{}, errb.Errorf("module is closed")
	}

	L := m.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	tbl := L.NewTable()
	if props.Context != nil {
		L.SetField(tbl, "context", hostfunc.ContextTable(L, props.Context))
	}
	if props.SDK != nil {
		L.SetField(tbl, "sdk", hostfunc.SDKTable(L, props.SDK))
	}

	if err := L.CallByParam(lua.P{Fn: c.fn, NRet: 1, Protect: true}, tbl); err != nil {
		return plugin.Node{}, errb.Wrapf(err, "render")
	}
	ret := L.Get(-1)
	L.Pop(1)

	node, err := hostfunc.NodeFromLua(ret)
	if err != nil {
		return plugin.Node{}, errb.Wrapf(err, "render returned an invalid node")
	}
	return node, nil
}
