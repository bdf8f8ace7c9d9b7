// Package metrics exposes the Prometheus metrics of the sheets client.
// All metrics are defined in their respective packages (retry, ratelimit,
// cache, batch, chunk, transport, client) and registered via promauto.
//
// This package provides the scrape handler and documents every metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Retry Metrics (pkg/retry):
//   - sheets_retries_total{error_class} (Counter): Retry attempts by error class
//   - sheets_retry_backoff_seconds{error_class} (Histogram): Backoff before each retry
//   - sheets_retry_exhausted_total{error_class} (Counter): Operations that spent their retry budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sheets_rate_limit_wait_seconds (Histogram): Time callers waited for a slot
//   - sheets_rate_limit_waits_total (Counter): Acquisitions that had to wait
//   - sheets_rate_limit_pauses_total (Counter): Remote-requested pauses
//
// Cache Metrics (pkg/cache):
//   - sheets_cache_hits_total{layer} (Counter): Cache hits by store (memory, redis)
//   - sheets_cache_misses_total{layer} (Counter): Cache misses by store
//   - sheets_cache_evictions_total (Counter): LRU evictions from the memory store
//   - sheets_cache_entries{layer} (Gauge): Entries held by the memory store
//   - sheets_cache_invalidations_total{scope} (Counter): Invalidations by scope (key, resource, prefix)
//   - sheets_cache_errors_total{operation} (Counter): Store errors by operation
//
// Planning Metrics (pkg/batch, pkg/chunk):
//   - sheets_batch_planned_total{kind} (Counter): Batches planned by kind (read, write)
//   - sheets_chunks_processed_total (Counter): Dataset chunks processed
//
// Transport Metrics (pkg/transport):
//   - sheets_circuit_breaker_state{name} (Gauge): 0 closed, 1 half-open, 2 open
//
// Request Metrics (pkg/client):
//   - sheets_requests_total{operation, status} (Counter): Operations by outcome ("ok" or error class)
//   - sheets_request_duration_seconds{operation} (Histogram): Operation latency including waits and retries
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(sheets_cache_hits_total[5m])) /
//   (sum(rate(sheets_cache_hits_total[5m])) + sum(rate(sheets_cache_misses_total[5m])))
//
//   # Share of operations failing after retries
//   sum(rate(sheets_retry_exhausted_total[5m])) / sum(rate(sheets_requests_total[5m]))
//
//   # Throttling pressure
//   rate(sheets_rate_limit_wait_seconds_sum[5m])
//
//   # P95 Operation Latency
//   histogram_quantile(0.95, rate(sheets_request_duration_seconds_bucket[5m]))
