// Package metrics provides Prometheus metrics for the workspace file store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Watch pipeline metrics
	watchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_watch_events_total",
			Help: "Total sandbox watch events received, by type",
		},
		[]string{"type"},
	)

	watchBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "draftbench_watch_batches_total",
			Help: "Total folded watch-event batches applied to the file map",
		},
	)

	watchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftbench_watch_batch_size",
			Help:    "Number of events folded into each applied batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// File map metrics
	entriesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftbench_entries_tracked",
			Help: "Number of entries in the in-memory file map",
		},
	)

	// Lock metrics
	lockRowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftbench_lock_rows_active",
			Help: "Number of locked-item rows for the active chat",
		},
	)

	lockOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_lock_ops_total",
			Help: "Total lock/unlock operations",
		},
		[]string{"op", "status"},
	)

	// Reconciliation metrics
	reconcileRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_reconcile_runs_total",
			Help: "Total lock reconciliation passes, by trigger",
		},
		[]string{"trigger"},
	)

	reconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftbench_reconcile_duration_seconds",
			Help:    "Lock reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Document store metrics
	docstoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftbench_docstore_query_duration_seconds",
			Help:    "Document store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	docstoreConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftbench_docstore_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Snapshot metrics
	snapshotOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_snapshot_ops_total",
			Help: "Total snapshot operations",
		},
		[]string{"op", "status"},
	)

	snapshotBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftbench_snapshot_bytes",
			Help:    "Serialized snapshot payload size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)

	// Blob storage metrics
	blobOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftbench_blob_operation_duration_seconds",
			Help:    "Blob storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	blobOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_blob_operations_total",
			Help: "Total blob storage operations",
		},
		[]string{"operation", "status"},
	)

	// Change event metrics
	changeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftbench_change_events_total",
			Help: "Total change events published to subscribers",
		},
		[]string{"type"},
	)

	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "draftbench_subscribers_active",
			Help: "Number of active change-event subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWatchEvent records a received sandbox watch event.
func RecordWatchEvent(eventType string) {
	watchEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordWatchBatch records an applied watch-event batch.
func RecordWatchBatch(size int) {
	watchBatchesTotal.Inc()
	watchBatchSize.Observe(float64(size))
}

// SetEntriesTracked sets the current file map size.
func SetEntriesTracked(count int) {
	entriesTracked.Set(float64(count))
}

// SetLockRows sets the number of locked-item rows for the active chat.
func SetLockRows(count int) {
	lockRowsActive.Set(float64(count))
}

// RecordLockOp records a lock or unlock operation.
func RecordLockOp(op string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	lockOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordReconcile records a reconciliation pass.
func RecordReconcile(trigger string, duration time.Duration) {
	reconcileRunsTotal.WithLabelValues(trigger).Inc()
	reconcileDuration.Observe(duration.Seconds())
}

// RecordDocstoreQuery records a document store query duration.
func RecordDocstoreQuery(query string, duration time.Duration) {
	docstoreQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDocstoreConnectionsOpen sets the number of open database connections.
func SetDocstoreConnectionsOpen(count int) {
	docstoreConnectionsOpen.Set(float64(count))
}

// RecordSnapshotOp records a snapshot operation.
func RecordSnapshotOp(op string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	snapshotOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordSnapshotBytes records a serialized snapshot payload size.
func RecordSnapshotBytes(size int) {
	snapshotBytes.Observe(float64(size))
}

// RecordBlobOperation records a blob storage operation.
func RecordBlobOperation(operation string, duration time.Duration, success bool) {
	blobOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	blobOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordChangeEvent records a published change event.
func RecordChangeEvent(eventType string) {
	changeEventsTotal.WithLabelValues(eventType).Inc()
}

// SetSubscribersActive sets the number of active change-event subscribers.
func SetSubscribersActive(count int64) {
	subscribersActive.Set(float64(count))
}
