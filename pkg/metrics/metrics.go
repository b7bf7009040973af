// Package metrics defines the Prometheus metric collectors of the index
// mutation service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	MutationsTotal       *prometheus.CounterVec
	DeletionsTotal       *prometheus.CounterVec
	AliasRollbacksTotal  prometheus.Counter
	SynonymGroups        *prometheus.GaugeVec
	IndexDocCount        *prometheus.GaugeVec
	ActiveIndexes        prometheus.Gauge
	GCHintsTotal         *prometheus.CounterVec
	GCReclaimedTotal     prometheus.Counter
	GCInterval           prometheus.Gauge
	ReplicationTotal     *prometheus.CounterVec
	SnapshotsTotal       *prometheus.CounterVec
	DocCacheHitsTotal    prometheus.Counter
	DocCacheMissesTotal  prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg. Tests pass a fresh
// prometheus.NewRegistry() so independent instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_mutations_total",
				Help: "Index mutations by command and outcome (ok, error).",
			},
			[]string{"command", "outcome"},
		),
		DeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_deletions_total",
				Help: "Deletion requests by terminal state (done, not_found, rejected).",
			},
			[]string{"state"},
		),
		AliasRollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_alias_rollbacks_total",
				Help: "Alias updates that restored the prior binding after a failed add.",
			},
		),
		SynonymGroups: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fts_synonym_groups",
				Help: "Allocated synonym group ids per index.",
			},
			[]string{"index"},
		),
		IndexDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fts_index_documents",
				Help: "Number of live documents per index.",
			},
			[]string{"index"},
		),
		ActiveIndexes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fts_active_indexes",
				Help: "Number of registered indexes.",
			},
		),
		GCHintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_gc_hints_total",
				Help: "Deletion hints sent to the garbage collector by outcome (queued, coalesced).",
			},
			[]string{"outcome"},
		),
		GCReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_gc_reclaimed_total",
				Help: "Retired document ids reclaimed by the garbage collector.",
			},
		),
		GCInterval: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fts_gc_interval_seconds",
				Help: "Current garbage collector scan interval.",
			},
		),
		ReplicationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_replication_records_total",
				Help: "Replication records by outcome (published, failed, dropped, applied).",
			},
			[]string{"outcome"},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_snapshots_total",
				Help: "Snapshot operations by kind (save, restore) and status.",
			},
			[]string{"kind", "status"},
		),
		DocCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_doc_cache_hits_total",
				Help: "Document object cache hits.",
			},
		),
		DocCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_doc_cache_misses_total",
				Help: "Document object cache misses.",
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
		m.MutationsTotal,
		m.DeletionsTotal,
		m.AliasRollbacksTotal,
		m.SynonymGroups,
		m.IndexDocCount,
		m.ActiveIndexes,
		m.GCHintsTotal,
		m.GCReclaimedTotal,
		m.GCInterval,
		m.ReplicationTotal,
		m.SnapshotsTotal,
		m.DocCacheHitsTotal,
		m.DocCacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// NewNop returns collectors registered on a private registry, for callers
// that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
