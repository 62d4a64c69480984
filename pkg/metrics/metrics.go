// Package metrics exposes the relay's Prometheus registry.
// All metrics are defined in their respective packages (cache, upstream, relay)
// to maintain modularity and avoid circular dependencies.
//
// This package serves them and documents what is available.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by the relay.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the exposition format for every registered metric.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - relay_cache_hits_total{store="memory|redis|custom"} (Counter): Cache hits by store
//   - relay_cache_misses_total (Counter): Cache misses, including degraded lookups
//   - relay_cache_stores_total (Counter): Responses committed to the cache
//   - relay_cache_entries (Gauge): Entries held by the in-memory store
//   - relay_cache_errors_total{operation} (Counter): Store errors by operation (get, set, delete)
//
// Upstream Metrics (pkg/upstream):
//   - relay_upstream_requests_total{service, status} (Counter): Requests by service (geo, weather) and HTTP status
//   - relay_upstream_request_duration_seconds{service} (Histogram): Request duration by service
//   - relay_upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - relay_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - relay_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - relay_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// HTTP Metrics (pkg/relay):
//   - relay_http_requests_total{route, code} (Counter): Inbound requests by route and status code
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(relay_cache_hits_total[5m])) /
//   (sum(rate(relay_cache_hits_total[5m])) + sum(rate(relay_cache_misses_total[5m])))
//
//   # Upstream calls saved per minute
//   sum(rate(relay_cache_hits_total[1m])) * 60
//
//   # Upstream Error Rate
//   rate(relay_upstream_errors_total[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(relay_upstream_request_duration_seconds_bucket[5m]))
//
//   # Unauthorized weather calls
//   rate(relay_http_requests_total{route="weather",code="401"}[5m])
