// Package metrics documents the Prometheus metrics exported by crawl-dedup.
// All metrics are defined in their respective packages (pagination, dedup,
// waiter, store) to maintain modularity and avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by crawl-dedup.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Bulk Load Metrics (pkg/pagination):
//   - dedup_bulkload_batches_total{result} (Counter): Batches by outcome (fetched, skipped, failed)
//   - dedup_bulkload_items_total (Counter): Records fetched by the bulk loader
//   - dedup_bulkload_batch_duration_seconds (Histogram): Duration of a single batch fetch
//   - dedup_ledger_flushes_total{result} (Counter): Progress ledger flushes (ok, error)
//
// Dedup Metrics (pkg/dedup):
//   - dedup_lookups_total{result} (Counter): WasSeen lookups (hit, miss)
//   - dedup_marks_total (Counter): Identifiers marked as seen
//   - dedup_domain_loads_total{result} (Counter): Domain history loads (ok, error)
//   - dedup_domain_load_duration_seconds (Histogram): Duration of a domain history load
//   - dedup_domains_cached (Gauge): Domains currently held in memory
//
// Wait Metrics (pkg/waiter):
//   - dedup_wait_timeouts_total (Counter): Waits that exceeded their timeout
//
// Store Metrics (pkg/store, pkg/store/redisstore):
//   - dedup_store_retries_total{operation} (Counter): Retry attempts by operation
//   - dedup_store_retry_exhausted_total{operation} (Counter): Calls that exhausted their retries
//   - dedup_redis_operations_total{operation} (Counter): Redis store calls
//   - dedup_redis_errors_total{operation} (Counter): Failed Redis store calls
//
// Example Prometheus Queries:
//
//   # Lookup hit rate
//   sum(rate(dedup_lookups_total{result="hit"}[5m])) / sum(rate(dedup_lookups_total[5m]))
//
//   # Failed bulk load batches
//   rate(dedup_bulkload_batches_total{result="failed"}[5m])
//
//   # P95 domain load time
//   histogram_quantile(0.95, rate(dedup_domain_load_duration_seconds_bucket[5m]))
//
//   # Store retry pressure
//   sum by (operation) (rate(dedup_store_retries_total[5m]))
