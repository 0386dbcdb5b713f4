// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for bundle load metrics.
const (
	LoadResultSuccess     = "success"
	LoadResultFetchError  = "fetch_error"
	LoadResultContentType = "content_type"
	LoadResultInvalid     = "invalid_structure"
	LoadResultError       = "error"
)

// Status labels for rendered slots.
const (
	SlotStatusReady       = "ready"
	SlotStatusFailed      = "failed"
	SlotStatusUnavailable = "unavailable"
)

// BundleLoads counts bundle fetch-and-execute cycles by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var BundleLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventdock_plugin_bundle_loads_total",
		Help: "Total number of plugin bundle loads by result",
	},
	[]string{"result"},
)

// BundleLoadDuration observes how long bundle loads take.
var BundleLoadDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "eventdock_plugin_bundle_load_duration_seconds",
		Help:    "Plugin bundle fetch and execute duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RenderedSlots counts rendered extension point slots.
var RenderedSlots = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventdock_plugin_rendered_slots_total",
		Help: "Total number of rendered extension point slots by point and status",
	},
	[]string{"extension_point", "status"},
)

// LifecycleOperations counts lifecycle operations by outcome.
var LifecycleOperations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "eventdock_plugin_lifecycle_operations_total",
		Help: "Total number of plugin lifecycle operations by operation and status",
	},
	[]string{"operation", "status"},
)

// RegistryEntries tracks the number of registry entries per extension point.
var RegistryEntries = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "eventdock_plugin_registry_entries",
		Help: "Number of registered components per extension point",
	},
	[]string{"extension_point"},
)

// RegisterMetrics registers plugin runtime metrics with the given registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(BundleLoads)
	reg.MustRegister(BundleLoadDuration)
	reg.MustRegister(RenderedSlots)
	reg.MustRegister(LifecycleOperations)
	reg.MustRegister(RegistryEntries)
}

// RecordBundleLoad records one bundle load.
func RecordBundleLoad(result string, duration time.Duration) {
	BundleLoads.WithLabelValues(result).Inc()
	BundleLoadDuration.Observe(duration.Seconds())
}

// RecordRenderedSlot records the final status of one slot.
func RecordRenderedSlot(point, status string) {
	RenderedSlots.WithLabelValues(point, status).Inc()
}

// RecordLifecycleOperation records one lifecycle call.
// Parameters:
//   - operation: install, uninstall, enable, disable, configure, sync, reload
//   - status: "success" or "error"
func RecordLifecycleOperation(operation, status string) {
	LifecycleOperations.WithLabelValues(operation, status).Inc()
}
