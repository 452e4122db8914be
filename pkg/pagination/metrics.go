package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesTotal tracks batches by outcome
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_bulkload_batches_total",
			Help: "Total number of bulk-load batches by result",
		},
		[]string{"result"}, // "fetched", "skipped", "failed"
	)

	// ItemsLoaded tracks records delivered to callers
	ItemsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_bulkload_items_total",
			Help: "Total number of records loaded by the bulk loader",
		},
	)

	// BatchDuration tracks the fetch time of a single batch
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dedup_bulkload_batch_duration_seconds",
			Help:    "Duration of a single batch fetch",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// LedgerFlushes tracks ledger persistence attempts
	LedgerFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_ledger_flushes_total",
			Help: "Total number of progress ledger flushes by result",
		},
		[]string{"result"}, // "ok", "error"
	)
)
