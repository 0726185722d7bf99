package remember

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CASRetries tracks failed compare-and-swap attempts on the index
	CASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_remember_cas_retries_total",
			Help: "Total number of remembered-URL index CAS attempts lost to a concurrent writer",
		},
	)

	// CASExhausted tracks updates that gave up on CAS and fell back to a plain set
	CASExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagecache_remember_cas_exhausted_total",
			Help: "Total number of remembered-URL index updates that exhausted CAS attempts",
		},
	)

	// RememberedURLs tracks the index size after the last write
	RememberedURLs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagecache_remembered_urls",
			Help: "Number of URLs in the remembered-URL index",
		},
	)
)
