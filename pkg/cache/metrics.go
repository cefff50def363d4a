package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits by vendor
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkfetch_cache_hits_total",
			Help: "Total number of page cache hits",
		},
		[]string{"vendor"},
	)

	// CacheMisses tracks page cache misses by vendor
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkfetch_cache_misses_total",
			Help: "Total number of page cache misses",
		},
		[]string{"vendor"},
	)

	// CacheSize tracks bytes written to the cache
	CacheSize = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bulkfetch_cache_written_bytes_total",
			Help: "Total bytes of page payloads written to the cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bulkfetch_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
