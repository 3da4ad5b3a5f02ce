package books

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	booksTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_books_tracked",
		Help: "Number of order books held in the cache",
	})

	putsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_books_puts_total",
			Help: "Book writes by venue, source and outcome",
		},
		[]string{"venue", "source", "outcome"},
	)

	warmFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_books_warm_fetches_total",
			Help: "REST warm fetches by venue and outcome",
		},
		[]string{"venue", "outcome"},
	)

	hybridRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_books_hybrid_refresh_total",
			Help: "Hybrid REST refresh rounds while WS is down",
		},
		[]string{"venue"},
	)

	getTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_books_get_timeouts_total",
			Help: "Blocking book reads that expired, by reason",
		},
		[]string{"venue", "reason"},
	)
)
