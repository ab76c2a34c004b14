// Package observability carries the Prometheus metrics and the OpenTelemetry
// tracer used across the control plane.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors, registered once on the default registry.
var (
	// BuildsTotal counts bundler invocations by outcome ("ok", "error").
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_builds_total",
			Help: "Total number of bundler invocations",
		},
		[]string{"outcome"},
	)

	// BuildDuration observes wall-clock build time in seconds.
	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "substrate_build_duration_seconds",
			Help:    "Bundler invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BundleCacheTotal counts bundle cache lookups by result ("hit", "miss").
	BundleCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_bundle_cache_total",
			Help: "Bundle cache lookups by result",
		},
		[]string{"result"},
	)

	// StubColdStartsTotal counts loader cold starts performed on fetch.
	StubColdStartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "substrate_stub_cold_starts_total",
			Help: "Loader stub cold starts",
		},
	)

	// StubCacheTotal counts stub cache lookups by result ("hit", "miss").
	StubCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_stub_cache_total",
			Help: "Stub cache lookups by result",
		},
		[]string{"result"},
	)

	// DispatchesTotal counts worker dispatches by kind ("fetch", "ephemeral", "route").
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_dispatches_total",
			Help: "Worker dispatches by kind",
		},
		[]string{"kind"},
	)

	// HTTPRequestsTotal counts API requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_http_requests_total",
			Help: "Total HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes API request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "substrate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// GCSweepsTotal counts GC sweeps by outcome.
	GCSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_gc_sweeps_total",
			Help: "Orphan GC sweeps by outcome",
		},
		[]string{"outcome"},
	)

	// GCRemovedTotal counts records removed by the GC sweep, by kind.
	GCRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_gc_removed_total",
			Help: "Records removed by the orphan GC sweep",
		},
		[]string{"kind"},
	)
)
