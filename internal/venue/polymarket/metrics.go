package polymarket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal tracks REST calls by operation.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_polymarket_requests_total",
			Help: "Total hedge venue REST requests",
		},
		[]string{"operation"},
	)

	// ordersPlaced tracks placed orders by side and time-in-force.
	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_polymarket_orders_placed_total",
			Help: "Total hedge venue orders placed",
		},
		[]string{"side", "type"},
	)

	// ordersCancelled tracks confirmed cancellations.
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_polymarket_orders_cancelled_total",
		Help: "Total hedge venue orders cancelled",
	})

	// rateLimitsTotal tracks 429 responses.
	rateLimitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_polymarket_rate_limits_total",
		Help: "Total hedge venue rate limit responses",
	})

	// bookEventsTotal tracks WS market events by type.
	bookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_polymarket_book_events_total",
			Help: "Total hedge venue WS market events",
		},
		[]string{"type"},
	)

	// metaCacheHits counts metadata served from cache.
	metaCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_polymarket_meta_cache_hits_total",
		Help: "Token metadata cache hits",
	})

	// metaCacheMisses counts metadata fetched from the venue.
	metaCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_polymarket_meta_cache_misses_total",
		Help: "Token metadata cache misses",
	})
)
