package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by store ("memory", "redis")
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Total number of relay response cache hits",
		},
		[]string{"store"},
	)

	// CacheMisses tracks cache misses, including degraded lookups
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_cache_misses_total",
			Help: "Total number of relay response cache misses",
		},
	)

	// CacheStores tracks responses committed to the cache
	CacheStores = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_cache_stores_total",
			Help: "Total number of responses stored in the relay cache",
		},
	)

	// CacheEntries tracks the number of entries held by the memory store
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_cache_entries",
			Help: "Current number of entries in the in-memory relay cache",
		},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
