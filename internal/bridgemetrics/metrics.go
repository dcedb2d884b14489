// Package bridgemetrics exposes the Bridge Controller's low-cardinality
// Prometheus metrics: one gauge per backend's readiness state and
// counters for catalog rebuilds and conflicts, scaled down from the
// teacher's much larger collector to the handful of series this bridge
// actually produces.
package bridgemetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpbridge"

var (
	// BackendStatus is 1 when the labeled backend is ready, 0 otherwise.
	BackendStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_status",
		Help:      "Backend readiness (1=ready, 0=not ready)",
	}, []string{"backend"})

	// BackendRestartsTotal counts Health Supervisor-driven restarts.
	BackendRestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_restarts_total",
		Help:      "Total number of automatic backend restarts",
	}, []string{"backend"})

	// CatalogRebuildsTotal counts Capability Registry rebuilds.
	CatalogRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_rebuilds_total",
		Help:      "Total number of capability catalog rebuilds",
	})

	// CatalogConflictsTotal counts namespace collisions encountered while
	// merging backend snapshots, by resolution outcome.
	CatalogConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_conflicts_total",
		Help:      "Total number of capability id conflicts during catalog merge",
	}, []string{"kind", "resolution"})

	// RequestsTotal counts dispatched client requests by method and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of client requests handled",
	}, []string{"method", "outcome"})
)

// SetBackendReady records a backend's current readiness as a 0/1 gauge.
func SetBackendReady(backend string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	BackendStatus.WithLabelValues(backend).Set(v)
}

// Handler returns the HTTP handler for the /metrics endpoint, using the
// default Prometheus registry that promauto registers into.
func Handler() http.Handler {
	return promhttp.Handler()
}
