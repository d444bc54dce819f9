// Package metrics exposes Prometheus instrumentation for the memory engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion metrics
	IngestTotal          *prometheus.CounterVec
	EmbeddingQueueDepth  prometheus.Gauge
	EmbeddingDuration    prometheus.Histogram
	EmbeddingOutcomes    *prometheus.CounterVec
	WorkingDemotionTotal prometheus.Counter

	// Retrieval metrics
	SearchTotal         *prometheus.CounterVec
	SearchDuration      prometheus.Histogram
	SearchResults       prometheus.Histogram
	AccessUpdateFailure prometheus.Counter

	// Consolidation metrics
	ConsolidationRunsTotal *prometheus.CounterVec
	ConsolidationDuration  prometheus.Histogram
	TierMigrationsTotal    *prometheus.CounterVec
	EvictionsTotal         prometheus.Counter
	FragmentErrorsTotal    prometheus.Counter
	VersionConflictRetries prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_ingest_total",
				Help: "Total number of ingested fragments",
			},
			[]string{"status"},
		),
		EmbeddingQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_embedding_queue_depth",
				Help: "Number of embedding jobs waiting for a worker",
			},
		),
		EmbeddingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memory_embedding_duration_seconds",
				Help:    "Duration of embedding jobs including retries",
				Buckets: prometheus.DefBuckets,
			},
		),
		EmbeddingOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_embedding_outcomes_total",
				Help: "Embedding job outcomes",
			},
			[]string{"outcome"},
		),
		WorkingDemotionTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_working_demotions_total",
				Help: "Fragments demoted out of working memory for capacity",
			},
		),

		SearchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_search_total",
				Help: "Total number of searches",
			},
			[]string{"mode"},
		),
		SearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memory_search_duration_seconds",
				Help:    "Duration of searches in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SearchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memory_search_results",
				Help:    "Number of results returned per search",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		AccessUpdateFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_access_update_failures_total",
				Help: "Access count updates that failed",
			},
		),

		ConsolidationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_consolidation_runs_total",
				Help: "Consolidation runs per outcome",
			},
			[]string{"status"},
		),
		ConsolidationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memory_consolidation_duration_seconds",
				Help:    "Duration of per-persona consolidation runs",
				Buckets: prometheus.DefBuckets,
			},
		),
		TierMigrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_tier_migrations_total",
				Help: "Fragments moved between tiers",
			},
			[]string{"from", "to"},
		),
		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_evictions_total",
				Help: "Long-term fragments evicted over quota",
			},
		),
		FragmentErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_consolidation_fragment_errors_total",
				Help: "Per-fragment failures during consolidation",
			},
		),
		VersionConflictRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "memory_version_conflict_retries_total",
				Help: "Versioned writes retried after a conflict",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.IngestTotal)
	m.registry.MustRegister(m.EmbeddingQueueDepth)
	m.registry.MustRegister(m.EmbeddingDuration)
	m.registry.MustRegister(m.EmbeddingOutcomes)
	m.registry.MustRegister(m.WorkingDemotionTotal)

	m.registry.MustRegister(m.SearchTotal)
	m.registry.MustRegister(m.SearchDuration)
	m.registry.MustRegister(m.SearchResults)
	m.registry.MustRegister(m.AccessUpdateFailure)

	m.registry.MustRegister(m.ConsolidationRunsTotal)
	m.registry.MustRegister(m.ConsolidationDuration)
	m.registry.MustRegister(m.TierMigrationsTotal)
	m.registry.MustRegister(m.EvictionsTotal)
	m.registry.MustRegister(m.FragmentErrorsTotal)
	m.registry.MustRegister(m.VersionConflictRetries)
}

// Handler returns the HTTP handler for metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordIngest(status string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.EmbeddingQueueDepth.Set(float64(n))
}

func (m *Metrics) RecordEmbedding(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingOutcomes.WithLabelValues(outcome).Inc()
	m.EmbeddingDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordWorkingDemotion() {
	if m == nil {
		return
	}
	m.WorkingDemotionTotal.Inc()
}

func (m *Metrics) RecordSearch(mode string, d time.Duration, results int) {
	if m == nil {
		return
	}
	m.SearchTotal.WithLabelValues(mode).Inc()
	m.SearchDuration.Observe(d.Seconds())
	m.SearchResults.Observe(float64(results))
}

func (m *Metrics) RecordAccessFailure() {
	if m == nil {
		return
	}
	m.AccessUpdateFailure.Inc()
}

func (m *Metrics) RecordConsolidation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ConsolidationRunsTotal.WithLabelValues(status).Inc()
	m.ConsolidationDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordMigration(from, to string) {
	if m == nil {
		return
	}
	m.TierMigrationsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.EvictionsTotal.Inc()
}

func (m *Metrics) RecordFragmentError() {
	if m == nil {
		return
	}
	m.FragmentErrorsTotal.Inc()
}

func (m *Metrics) RecordConflictRetry() {
	if m == nil {
		return
	}
	m.VersionConflictRetries.Inc()
}
