// Package metrics holds the Prometheus collectors shared by the signaltrail services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "signaltrail"

var (
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_ingested_total",
		Help:      "Raw signal samples persisted.",
	})

	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_batches_total",
		Help:      "Ingestion batches by result (accepted, invalid, failed).",
	}, []string{"result"})

	AggregationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_cells_total",
		Help:      "Cell aggregations by outcome (written, cold_start, failed).",
	}, []string{"outcome"})

	AggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "aggregation_cell_duration_seconds",
		Help:      "Time spent aggregating a single cell.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_queue_dropped_total",
		Help:      "Aggregation jobs dropped because the queue was full.",
	})

	TriggerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregation_trigger_errors_total",
		Help:      "Failures handing affected cells to the aggregation queue.",
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Result cache lookups by namespace and result (hit, miss, error).",
	}, []string{"namespace", "result"})

	NavigationNotFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigation_cold_start_total",
		Help:      "Navigation queries with no qualifying data, by kind (vector, heatmap).",
	}, []string{"kind"})

	RefreshEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_cells_enqueued_total",
		Help:      "Stale cells handed to the aggregation queue by the refresh sweep.",
	})

	SamplesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_purged_total",
		Help:      "Raw samples deleted by the retention job.",
	})
)
