// Package metrics provides the Prometheus registry and scrape handler for the
// page cache. All metrics are defined in their respective packages (cache,
// middleware, remember) to keep those packages free of a shared dependency.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the page cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler for Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}),
	)
}

// Metrics Documentation
//
// Request Metrics (pkg/middleware):
//   - pagecache_hits_total{method} (Counter): Pages served from cache
//   - pagecache_misses_total{reason} (Counter): Misses by reason (unlearned, not_found, backend_error)
//   - pagecache_bypass_total{reason} (Counter): Requests that skipped the cache (method, prefix)
//   - pagecache_stores_total (Counter): Responses written to the cache
//   - pagecache_not_cacheable_total{reason} (Counter): Responses rejected by the cacheability policy
//
// Store Metrics (pkg/cache):
//   - pagecache_backend_errors_total{operation} (Counter): Backend operation errors
//   - pagecache_entry_size_bytes (Histogram): Size of stored entries
//
// Index Metrics (pkg/remember):
//   - pagecache_remember_cas_retries_total (Counter): Compare-and-swap conflicts on the index
//   - pagecache_remember_cas_exhausted_total (Counter): Index updates that fell back to a plain write
//   - pagecache_remembered_urls (Gauge): URLs in the index after the last update
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(pagecache_hits_total[5m])) /
//   (sum(rate(pagecache_hits_total[5m])) + sum(rate(pagecache_misses_total[5m])))
//
//   # Backend Error Rate
//   sum by (operation) (rate(pagecache_backend_errors_total[5m]))
//
//   # Index Contention
//   rate(pagecache_remember_cas_retries_total[5m])
//
//   # P95 Entry Size
//   histogram_quantile(0.95, rate(pagecache_entry_size_bytes_bucket[5m]))
