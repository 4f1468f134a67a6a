// Package metrics provides the Prometheus registry and HTTP handler for the
// aggregation engine. All metrics are defined in their respective packages
// (client, identity, pagination, stats, engine) to maintain modularity and
// avoid circular dependencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the engine.
// All metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Fetch Client Metrics (pkg/client):
//   - halo_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - halo_request_duration_seconds{operation} (Histogram): Request duration
//   - halo_errors_total{kind} (Counter): Errors by kind (not_found, unauthorized, rate_limited, network, degraded)
//   - halo_requests_in_flight (Gauge): Current in-flight requests against the pool bound
//   - halo_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - halo_retry_backoff_seconds{error_kind} (Histogram): Backoff duration by error kind
//   - halo_retry_exhausted_total{error_kind} (Counter): Requests that exhausted max retries
//
// Identity Cache Metrics (pkg/identity):
//   - identity_cache_hits_total (Counter): Cache hits
//   - identity_cache_misses_total (Counter): Cache misses
//   - identity_cache_entries (Gauge): Distinct cached identities
//
// Pagination Metrics (pkg/pagination):
//   - pagination_pages_fetched_total (Counter): Match history pages fetched
//   - pagination_walks_total{result} (Counter): Walks by result (ok, failed)
//
// Batch Processor Metrics (pkg/stats):
//   - stats_matches_processed_total (Counter): Match details folded into aggregates
//   - stats_matches_skipped_total (Counter): Match detail fetches skipped after failure
//
// Engine Metrics (pkg/engine):
//   - engine_requests_total{operation, result} (Counter): Requests by operation (full, server, populate)
//   - engine_request_duration_seconds{operation} (Histogram): End-to-end request duration
//
// Example Prometheus Queries:
//
//   # Identity cache hit rate
//   rate(identity_cache_hits_total[5m]) /
//   (rate(identity_cache_hits_total[5m]) + rate(identity_cache_misses_total[5m]))
//
//   # Request error rate by kind
//   rate(halo_errors_total[5m])
//
//   # P95 end-to-end full aggregation latency
//   histogram_quantile(0.95, rate(engine_request_duration_seconds_bucket{operation="full"}[5m]))
