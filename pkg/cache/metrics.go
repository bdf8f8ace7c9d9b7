package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheets_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheets_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"layer"},
	)

	// CacheEvictions tracks LRU evictions from the memory store
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheets_cache_evictions_total",
			Help: "Total number of entries evicted to respect the entry bound",
		},
	)

	// CacheEntries tracks the number of stored entries by layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sheets_cache_entries",
			Help: "Current number of entries in the response cache",
		},
		[]string{"layer"},
	)

	// CacheInvalidations tracks invalidations by scope (key, prefix, resource)
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheets_cache_invalidations_total",
			Help: "Total number of cache invalidations",
		},
		[]string{"scope"},
	)

	// CacheErrors tracks cache backend errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheets_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
