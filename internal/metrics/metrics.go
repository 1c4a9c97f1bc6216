// Package metrics provides Prometheus metrics for the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a dedicated
// registry.
type Metrics struct {
	registry *prometheus.Registry

	// LicensesIssued counts license keys issued, labeled by license
	// type (organization or additional).
	LicensesIssued *prometheus.CounterVec

	// GatewayRequests counts exchanges with the license server,
	// labeled by operation and outcome.
	GatewayRequests *prometheus.CounterVec

	// SeatSync counts seat synchronization attempts by outcome
	// (success, skipped, error).
	SeatSync *prometheus.CounterVec

	// HTTPRequests counts handled HTTP requests.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration observes request latency in seconds.
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		LicensesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "licenses_issued_total",
			Help: "Total number of license keys issued.",
		}, []string{"type"}),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of license server requests.",
		}, []string{"operation", "outcome"}),
		SeatSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seat_sync_total",
			Help: "Total number of seat synchronization attempts.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.LicensesIssued,
		m.GatewayRequests,
		m.SeatSync,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

// Handler returns an http.Handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
