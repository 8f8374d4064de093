// Package metrics defines the Prometheus collectors for the lookup service
// and exposes a scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	LookupsTotal   *prometheus.CounterVec
	LookupLatency  *prometheus.HistogramVec
	LookupResults  *prometheus.HistogramVec
	CacheRequests  *prometheus.CounterVec
	EventsDropped  prometheus.Counter
	IndexRecords   *prometheus.GaugeVec
	IndexTerms     *prometheus.GaugeVec
	IndexPostings  *prometheus.GaugeVec
	IndexBuildTime prometheus.Gauge
	Ready          prometheus.Gauge

	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); the binary passes the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookup_queries_total",
				Help: "Lookups by kind (condition, procedure, report) and outcome (hit, empty, mapped, unmapped).",
			},
			[]string{"kind", "outcome"},
		),
		LookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookup_latency_seconds",
				Help:    "Lookup latency in seconds, cache included.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"kind"},
		),
		LookupResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookup_results_count",
				Help:    "Number of results returned per search.",
				Buckets: []float64{0, 1, 2, 3, 4, 5, 10, 25},
			},
			[]string{"kind"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookup_cache_requests_total",
				Help: "Query cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "analytics_events_dropped_total",
				Help: "Lookup events dropped because the collector buffer was full.",
			},
		),
		IndexRecords: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_records",
				Help: "Records loaded per dataset.",
			},
			[]string{"dataset"},
		),
		IndexTerms: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_terms",
				Help: "Distinct terms per inverted index.",
			},
			[]string{"index"},
		),
		IndexPostings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "index_postings",
				Help: "Term to record pairs per inverted index.",
			},
			[]string{"index"},
		),
		IndexBuildTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_build_seconds",
				Help: "Time spent building the lookup indexes.",
			},
		),
		Ready: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lookup_ready",
				Help: "1 once the lookup indexes are built.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.LookupsTotal,
		m.LookupLatency,
		m.LookupResults,
		m.CacheRequests,
		m.EventsDropped,
		m.IndexRecords,
		m.IndexTerms,
		m.IndexPostings,
		m.IndexBuildTime,
		m.Ready,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
