package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_cache_misses_total",
		Help: "Total number of cache misses",
	})

	cacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_cache_sets_total",
		Help: "Total number of cache sets admitted",
	})

	cacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_cache_deletes_total",
		Help: "Total number of cache deletes",
	})
)
