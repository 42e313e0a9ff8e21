// Package metrics provides Prometheus metrics for the data product
// catalog service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors. Each instance registers on
// its own registry so tests can build them freely.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	IndexCyclesTotal   *prometheus.CounterVec
	IndexCycleDuration prometheus.Histogram
	IndexedProducts    prometheus.Gauge

	IngestsTotal       *prometheus.CounterVec
	SearchQueriesTotal prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{Registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataproduct_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataproduct_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	m.IndexCyclesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataproduct_index_cycles_total",
			Help: "Total number of re-index cycles",
		},
		[]string{"status"},
	)

	m.IndexCycleDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataproduct_index_cycle_duration_seconds",
			Help:    "Duration of re-index cycles in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	m.IndexedProducts = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataproduct_indexed_products",
			Help: "Number of data products currently indexed",
		},
	)

	m.IngestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataproduct_ingests_total",
			Help: "Total number of single-product ingests",
		},
		[]string{"outcome"},
	)

	m.SearchQueriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dataproduct_search_queries_total",
			Help: "Total number of search and filter queries",
		},
	)

	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordIndexCycle records a completed or failed re-index cycle.
func (m *Metrics) RecordIndexCycle(status string, duration time.Duration, productCount int) {
	m.IndexCyclesTotal.WithLabelValues(status).Inc()
	m.IndexCycleDuration.Observe(duration.Seconds())
	if status == "success" {
		m.IndexedProducts.Set(float64(productCount))
	}
}
