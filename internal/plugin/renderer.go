// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SlotStatus is the render state of one slot.
type SlotStatus int

// Slot states.
const (
	SlotLoading SlotStatus = iota
	SlotReady
	SlotFailed
)

// String returns the status name.
func (s SlotStatus) String() string {
	switch s {
	case SlotLoading:
		return "loading"
	case SlotReady:
		return "ready"
	case SlotFailed:
		return "failed"
	default:
		return fmt.Sprintf("SlotStatus(%d)", int(s))
	}
}

// Slot is one plugin's place in a rendered extension point.
type Slot struct {
	PluginID       string
	ExtensionPoint string
	Status         SlotStatus
	Node           Node
	// Err is a *RenderError when Status is SlotFailed.
	Err error
}

// RenderError records that one plugin failed to render. It never aborts
// sibling slots.
type RenderError struct {
	PluginID       string
	ExtensionPoint string
	Err            error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("plugin %s failed to render %s: %v", e.PluginID, e.ExtensionPoint, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Failure is a plugin that should have a slot but cannot render.
type Failure struct {
	PluginID string
	Reason   string
}

// PluginSource supplies per-plugin state the renderer needs beyond the
// registry. The lifecycle Controller implements it.
type PluginSource interface {
	// Configuration returns the stored configuration of an installed plugin.
	Configuration(pluginID string) map[string]any
	// FailedFor lists plugins that declare point but failed to load.
	FailedFor(point string) []Failure
}

// Rendering is the progressive result of one Render call. Slots start out
// loading and settle independently.
type Rendering struct {
	Point string

	mu    sync.Mutex
	slots []Slot
	done  chan struct{}
}

// Slots returns a snapshot of every slot in registry order.
func (r *Rendering) Slots() []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.slots)
}

// Done is closed when every slot has settled.
func (r *Rendering) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until every slot has settled or ctx ends, and returns the
// slots as they are at that moment.
func (r *Rendering) Wait(ctx context.Context) ([]Slot, error) {
	select {
	case <-r.done:
		return r.Slots(), nil
	case <-ctx.Done():
		return r.Slots(), oops.In("renderer").With("extension_point", r.Point).Wrap(ctx.Err())
	}
}

// Nodes returns the current node of every slot.
func (r *Rendering) Nodes() []Node {
	slots := r.Slots()
	nodes := make([]Node, len(slots))
	for i, s := range slots {
		nodes[i] = s.Node
	}
	return nodes
}

func (r *Rendering) settle(i int, node Node, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.slots[i]
	if err != nil {
		s.Status = SlotFailed
		s.Err = err
		s.Node = node
		return
	}
	s.Status = SlotReady
	s.Node = node
}

// Renderer renders extension points. Every component runs on its own
// goroutine; a failure is confined to the failing slot.
type Renderer struct {
	registry    *Registry
	sdk         *SDKFactory
	source      PluginSource
	slotTimeout time.Duration
	tracer      trace.Tracer
}

// RendererOption configures the Renderer.
type RendererOption func(*Renderer)

// WithSlotTimeout bounds how long one component may take. Zero disables the
// bound.
func WithSlotTimeout(d time.Duration) RendererOption {
	return func(r *Renderer) {
		r.slotTimeout = d
	}
}

// WithPluginSource supplies configuration and load failures.
func WithPluginSource(src PluginSource) RendererOption {
	return func(r *Renderer) {
		r.source = src
	}
}

// NewRenderer creates a renderer over registry. Panics if registry or
// factory is nil.
func NewRenderer(registry *Registry, factory *SDKFactory, opts ...RendererOption) *Renderer {
	if registry == nil {
		panic("plugin.NewRenderer: registry cannot be nil")
	}
	if factory == nil {
		panic("plugin.NewRenderer: SDK factory cannot be nil")
	}
	r := &Renderer{
		registry: registry,
		sdk:      factory,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render starts rendering point with ec. It returns immediately with every
// slot in SlotLoading; slots settle as their components finish. The only
// error is ErrContextMismatch when ec belongs to another point.
func (r *Renderer) Render(ctx context.Context, point string, ec ExtensionContext) (*Rendering, error) {
	if ec == nil || ec.Point() != point {
		got := "<nil>"
		if ec != nil {
			got = ec.Point()
		}
		return nil, oops.In("renderer").
			Code(CodeContextMismatch).
			With("extension_point", point).
			With("context_point", got).
			Wrapf(ErrContextMismatch, "context for %q cannot render %q", got, point)
	}

	entries := r.registry.ComponentsFor(point)
	var failures []Failure
	if r.source != nil {
		failures = r.source.FailedFor(point)
	}

	rendering := &Rendering{
		Point: point,
		slots: make([]Slot, 0, len(entries)+len(failures)),
		done:  make(chan struct{}),
	}
	for _, e := range entries {
		rendering.slots = append(rendering.slots, Slot{
			PluginID:       e.PluginID,
			ExtensionPoint: point,
			Status:         SlotLoading,
			Node:           LoadingPlaceholder(e.PluginID),
		})
	}
	for _, f := range failures {
		rendering.slots = append(rendering.slots, Slot{
			PluginID:       f.PluginID,
			ExtensionPoint: point,
			Status:         SlotFailed,
			Node:           UnavailablePlaceholder(f.PluginID, f.Reason),
			Err: &RenderError{
				PluginID:       f.PluginID,
				ExtensionPoint: point,
				Err:            oops.In("renderer").Code(CodeRenderFailed).With("plugin", f.PluginID).Wrapf(ErrRender, "%s", f.Reason),
			},
		})
		RecordRenderedSlot(point, SlotStatusUnavailable)
	}

	ctx, span := r.tracer.Start(ctx, "plugin.render", trace.WithAttributes(
		attribute.String("plugin.extension_point", point),
		attribute.Int("plugin.slots", len(rendering.slots)),
	))

	var wg sync.WaitGroup
	for i, e := range entries {
		config := r.configuration(e.PluginID)
		if err := e.Manifest.ConfigSchema.Validate(config); err != nil {
			r.fail(rendering, i, e, err, "invalid configuration")
			continue
		}
		sdk := r.sdk.For(e.Manifest, config)
		props := Props{Context: ec.clone(), SDK: sdk}

		wg.Add(1)
		go func() {
			defer wg.Done()
			node, err := r.renderSlot(ctx, e, props)
			if err != nil {
				r.fail(rendering, i, e, err, "render failed")
				return
			}
			rendering.settle(i, node, nil)
			RecordRenderedSlot(point, SlotStatusReady)
		}()
	}

	go func() {
		wg.Wait()
		span.End()
		close(rendering.done)
	}()

	return rendering, nil
}

// RenderAll renders point and waits for every slot to settle.
func (r *Renderer) RenderAll(ctx context.Context, point string, ec ExtensionContext) ([]Slot, error) {
	rendering, err := r.Render(ctx, point, ec)
	if err != nil {
		return nil, err
	}
	return rendering.Wait(ctx)
}

func (r *Renderer) configuration(pluginID string) map[string]any {
	if r.source == nil {
		return nil
	}
	return r.source.Configuration(pluginID)
}

func (r *Renderer) fail(rendering *Rendering, i int, e Entry, err error, reason string) {
	rerr := &RenderError{PluginID: e.PluginID, ExtensionPoint: e.ExtensionPoint, Err: err}
	rendering.settle(i, UnavailablePlaceholder(e.PluginID, reason), rerr)
	RecordRenderedSlot(e.ExtensionPoint, SlotStatusFailed)
	slog.Warn("plugin component failed",
		"plugin", e.PluginID,
		"extension_point", e.ExtensionPoint,
		"error", err)
}

type slotResult struct {
	node Node
	err  error
}

// renderSlot invokes one component, converting panics to errors and
// enforcing the slot timeout even when the component ignores ctx.
func (r *Renderer) renderSlot(ctx context.Context, e Entry, props Props) (Node, error) {
	errb := oops.In("renderer").With("plugin", e.PluginID).With("extension_point", e.ExtensionPoint)

	if r.slotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.slotTimeout)
		defer cancel()
	}

	results := make(chan slotResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- slotResult{err: errb.Code(CodeRenderFailed).Wrapf(ErrRender, "component panicked: %v", p)}
			}
		}()
		node, err := e.Component.Render(ctx, props)
		if err != nil {
			err = errb.Code(CodeRenderFailed).Wrapf(ErrRender, "%v", err)
		}
		results <- slotResult{node: node, err: err}
	}()

	select {
	case res := <-results:
		return res.node, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.slotTimeout > 0 {
			return Node{}, errb.Code(CodeRenderTimeout).
				With("timeout", r.slotTimeout).
				Wrapf(ErrRenderTimeout, "component did not finish within %s", r.slotTimeout)
		}
		return Node{}, errb.Code(CodeRenderFailed).Wrapf(ErrRender, "%v", ctx.Err())
	}
}
