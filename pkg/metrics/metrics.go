package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Rebuild pipeline metrics
var (
	RebuildRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_rebuild_runs_total",
			Help: "Total number of index rebuild runs by final state",
		},
		[]string{"state"},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_rebuild_duration_seconds",
			Help:    "Wall clock duration of index rebuild runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "index_rebuild_pages_fetched_total",
			Help: "Total number of source pages fetched",
		},
	)

	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_rebuild_documents_total",
			Help: "Documents handled by the rebuild pipeline by outcome",
		},
		[]string{"outcome"},
	)

	BulkJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "index_rebuild_bulk_jobs_total",
			Help: "Bulk jobs by outcome",
		},
		[]string{"outcome"},
	)

	BulkJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "index_rebuild_bulk_job_duration_seconds",
			Help:    "Duration of a single bulk job including conversion",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	BulkJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "index_rebuild_bulk_jobs_in_flight",
			Help: "Bulk jobs currently executing",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	LedgerQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "index_run_ledger_query_duration_seconds",
			Help:    "Run ledger query duration by outcome",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"outcome"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published",
		},
		[]string{"event_type"},
	)
)

// Document outcomes
const (
	OutcomeIndexed         = "indexed"
	OutcomeRejected        = "rejected"
	OutcomeConversionError = "conversion_error"
	OutcomeTransportError  = "transport_error"
	OutcomeSucceeded       = "succeeded"
	OutcomePartial         = "partial"
)

// Ledger query outcomes
const (
	OutcomeOK    = "ok"
	OutcomeSlow  = "slow"
	OutcomeError = "error"
)

// RecordRun records a finished rebuild run
func RecordRun(state string, seconds float64) {
	RebuildRunsTotal.WithLabelValues(state).Inc()
	RebuildDuration.Observe(seconds)
}

// RecordDocuments counts n documents with the given outcome
func RecordDocuments(outcome string, n int) {
	if n > 0 {
		DocumentsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordBulkJob records a resolved bulk job
func RecordBulkJob(outcome string, seconds float64) {
	BulkJobsTotal.WithLabelValues(outcome).Inc()
	BulkJobDuration.Observe(seconds)
}

func RecordCacheHit(cache string) {
	CacheHits.WithLabelValues(cache).Inc()
}

func RecordCacheMiss(cache string) {
	CacheMisses.WithLabelValues(cache).Inc()
}

func RecordLedgerQuery(outcome string, seconds float64) {
	LedgerQueryDuration.WithLabelValues(outcome).Observe(seconds)
}

func RecordEventPublished(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// Push sends every registered collector to a Prometheus pushgateway. A batch
// run exits before a scrape would ever see it.
func Push(url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
