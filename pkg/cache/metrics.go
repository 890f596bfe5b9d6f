package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookup cache hits by kind.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_cache_hits_total",
			Help: "Total number of lookup cache hits",
		},
		[]string{"kind"}, // "tag_experts", "user_detail"
	)

	// CacheMisses tracks lookup cache misses by kind.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_cache_misses_total",
			Help: "Total number of lookup cache misses",
		},
		[]string{"kind"},
	)

	// CacheErrors tracks cache operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
