package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Miss and bypass reasons used as metric labels.
const (
	missUnlearned    = "unlearned"
	missNotFound     = "not_found"
	missBackendError = "backend_error"

	bypassMethod = "method"
	bypassPrefix = "prefix"
)

var (
	// Hits tracks pages served from cache by request method
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_hits_total",
			Help: "Total number of pages served from cache",
		},
		[]string{"method"},
	)

	// Misses tracks fetch-phase misses by reason
	Misses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_misses_total",
			Help: "Total number of page cache misses",
		},
		[]string{"reason"}, // "unlearned", "not_found", "backend_error"
	)

	// Bypass tracks requests that skipped the cache entirely
	Bypass = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_bypass_total",
			Help: "Total number of requests that bypassed the page cache",
		},
		[]string{"reason"}, // "method", "prefix"
	)

	// Stores tracks responses written to the cache
	Stores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_stores_total",
			Help: "Total number of responses stored in the page cache",
		},
	)

	// NotCacheable tracks responses rejected by the cacheability policy
	NotCacheable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_not_cacheable_total",
			Help: "Total number of responses the cacheability policy rejected",
		},
		[]string{"reason"},
	)
)
