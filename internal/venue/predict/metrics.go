package predict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal tracks REST calls by operation.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_predict_requests_total",
			Help: "Total maker venue REST requests",
		},
		[]string{"operation"},
	)

	// ordersPlaced tracks placed orders by side.
	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_predict_orders_placed_total",
			Help: "Total maker venue orders placed",
		},
		[]string{"side"},
	)

	// ordersCancelled tracks cancel requests that reached the venue.
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_predict_orders_cancelled_total",
		Help: "Total maker venue cancel requests",
	})

	// rateLimitsTotal tracks 429 responses.
	rateLimitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_predict_rate_limits_total",
		Help: "Total maker venue rate limit responses",
	})

	// bookUpdatesTotal tracks WS book messages by type.
	bookUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_predict_book_updates_total",
			Help: "Total maker venue WS book messages",
		},
		[]string{"type"},
	)

	// userEventsTotal tracks WS user events by type.
	userEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_predict_user_events_total",
			Help: "Total maker venue WS user events",
		},
		[]string{"type"},
	)

	// fillsRoutedTotal tracks fills delivered to a subscribed order.
	fillsRoutedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_predict_fills_routed_total",
		Help: "Total user feed fills routed to a subscriber",
	})

	// fillsUnmatchedTotal tracks fills for orders nobody watches.
	fillsUnmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_predict_fills_unmatched_total",
		Help: "Total user feed fills with no subscriber",
	})
)
