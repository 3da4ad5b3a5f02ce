package chainfill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_chainfill_connected",
		Help: "1 when the log subscription is live",
	})

	subscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_chainfill_subscribers",
		Help: "Order hashes currently watched",
	})

	fillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_chainfill_fills_total",
		Help: "Deduplicated OrderFilled events decoded",
	})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_chainfill_duplicates_total",
		Help: "Events dropped by the txHash and logIndex window",
	})

	unmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_chainfill_unmatched_total",
		Help: "Fills for order hashes without a subscriber",
	})

	fillsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_chainfill_fills_dropped_total",
		Help: "Fills dropped on full subscriber channels",
	})

	disconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_chainfill_disconnects_total",
		Help: "Chain stream drops",
	})
)
