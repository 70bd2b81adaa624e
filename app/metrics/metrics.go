// Package metrics provides Prometheus metrics for feedhoard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedhoard"

var (
	// FetchTotal counts fetches by outcome.
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Total number of feed fetches by outcome",
		},
		[]string{"outcome"},
	)

	// FetchDuration measures one fetch including parsing.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of feed fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// EntriesTotal counts entry upserts by result.
	EntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Total number of entry upserts by result",
		},
		[]string{"result"},
	)

	// SourcesDeactivated counts sources that crossed the failure threshold.
	SourcesDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_deactivated_total",
			Help:      "Total number of sources deactivated after repeated failures",
		},
	)

	// JobsTotal counts queue job dispositions.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of queue jobs by disposition",
		},
		[]string{"disposition"},
	)

	// IndexTotal counts indexing attempts.
	IndexTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_total",
			Help:      "Total number of entry indexing attempts by status",
		},
		[]string{"status"},
	)

	// RetentionDeleted counts entries removed by retention rule.
	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Total number of entries removed by retention",
		},
		[]string{"rule"},
	)

	// SearchTotal counts searches by degraded path.
	SearchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_total",
			Help:      "Total number of searches by degradation",
		},
		[]string{"degraded"},
	)

	// SearchDuration measures search latency.
	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// RecordFetch records one fetch outcome.
func RecordFetch(outcome string, duration time.Duration) {
	FetchTotal.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(duration.Seconds())
}

// RecordEntry records one upsert result.
func RecordEntry(result string) {
	EntriesTotal.WithLabelValues(result).Inc()
}

// RecordJob records a queue disposition: ack, retry or dead_letter.
func RecordJob(disposition string) {
	JobsTotal.WithLabelValues(disposition).Inc()
}

// RecordIndex records an indexing attempt.
func RecordIndex(ok bool) {
	if ok {
		IndexTotal.WithLabelValues("ok").Inc()
		return
	}
	IndexTotal.WithLabelValues("failed").Inc()
}

// RecordRetention records entries removed by a rule.
func RecordRetention(rule string, n int) {
	RetentionDeleted.WithLabelValues(rule).Add(float64(n))
}

// RecordSearch records one search. degraded is "none", "semantic" or "literal".
func RecordSearch(degraded string, duration time.Duration) {
	SearchTotal.WithLabelValues(degraded).Inc()
	SearchDuration.Observe(duration.Seconds())
}
