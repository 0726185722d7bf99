package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendErrors tracks failed backend operations
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagecache_backend_errors_total",
			Help: "Total number of page cache backend operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "incr", "cas"
	)

	// EntrySize tracks the encoded size of stored entries
	EntrySize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagecache_entry_size_bytes",
			Help:    "Encoded size of stored page cache entries in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)
)
