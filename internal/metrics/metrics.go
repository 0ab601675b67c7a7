// Package metrics exposes the process Prometheus instruments.
//
// All instruments live under the "strata" namespace and register on the
// default registry, so the admin server only needs promhttp.Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AppendsTotal counts accepted appends.
	// Labels: scope, class (traceable, lossy)
	AppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "ingest",
		Name:      "appends_total",
		Help:      "Total records accepted into hot windows",
	}, []string{"scope", "class"})

	// AppendRejectionsTotal counts appends turned away at the gate.
	// Labels: scope, reason (queue_full, wait_timeout, scope_failed)
	AppendRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "ingest",
		Name:      "append_rejections_total",
		Help:      "Total appends rejected by the ingest gate",
	}, []string{"scope", "reason"})

	// HotWindowRecords tracks per-scope hot window occupancy.
	HotWindowRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "strata",
		Subsystem: "hot",
		Name:      "window_records",
		Help:      "Records currently held in the hot window",
	}, []string{"scope"})

	// HotWindowBytes tracks per-scope hot window payload bytes.
	HotWindowBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "strata",
		Subsystem: "hot",
		Name:      "window_bytes",
		Help:      "Payload bytes currently held in the hot window",
	}, []string{"scope"})

	// ArchivePendingRecords tracks records evicted but not yet durable cold.
	ArchivePendingRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "strata",
		Subsystem: "archive",
		Name:      "pending_records",
		Help:      "Evicted records buffered for archival",
	}, []string{"scope"})

	// ArchivedRecordsTotal counts records made durable in the cold tier.
	ArchivedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "archive",
		Name:      "records_total",
		Help:      "Total records archived to content-addressed storage",
	}, []string{"scope"})

	// ArchiveRetriesTotal counts archival attempts beyond the first.
	ArchiveRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "archive",
		Name:      "retries_total",
		Help:      "Total archival retry attempts",
	}, []string{"scope"})

	// ScopeFailuresTotal counts scopes entering the failed state.
	// Labels: scope, reason (pending_overflow, hash_mismatch, index_corrupt)
	ScopeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "archive",
		Name:      "scope_failures_total",
		Help:      "Total scopes marked failed after unrecoverable archival errors",
	}, []string{"scope", "reason"})

	// CompactionsTotal counts retention runs.
	// Labels: scope, status (ok, conflict, error)
	CompactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "retention",
		Name:      "compactions_total",
		Help:      "Total retention compaction runs",
	}, []string{"scope", "status"})

	// PrunedRecordsTotal counts records removed by retention.
	PrunedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "retention",
		Name:      "pruned_records_total",
		Help:      "Total records pruned by retention compaction",
	}, []string{"scope"})

	// ListLatency measures merged cold+hot read latency.
	ListLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strata",
		Subsystem: "read",
		Name:      "list_latency_seconds",
		Help:      "Latency of merged list reads",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"scope"})

	storageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "strata",
		Subsystem: "storage",
		Name:      "op_latency_seconds",
		Help:      "Latency of Pebble operations",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}, []string{"op"})

	storageBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "storage",
		Name:      "op_bytes_total",
		Help:      "Bytes moved by Pebble operations",
	}, []string{"op"})
)

// StorageHook adapts the Prometheus instruments to the pebblestore hook.
type StorageHook struct{}

func (StorageHook) ObserveWrite(elapsed time.Duration, bytes int) {
	storageLatency.WithLabelValues("write").Observe(elapsed.Seconds())
	storageBytes.WithLabelValues("write").Add(float64(bytes))
}

func (StorageHook) ObserveRead(elapsed time.Duration, bytes int) {
	storageLatency.WithLabelValues("read").Observe(elapsed.Seconds())
	storageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (StorageHook) ObserveBatchCommit(elapsed time.Duration, bytes int) {
	storageLatency.WithLabelValues("batch_commit").Observe(elapsed.Seconds())
	storageBytes.WithLabelValues("batch_commit").Add(float64(bytes))
}
