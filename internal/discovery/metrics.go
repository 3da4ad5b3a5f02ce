package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_discovery_refreshes_total",
		Help: "Total successful pair set refreshes",
	})

	refreshErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_discovery_refresh_errors_total",
		Help: "Total failed pair set refreshes",
	})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossarb_discovery_refresh_duration_seconds",
		Help:    "Duration of a full market list fetch and rebuild",
		Buckets: prometheus.DefBuckets,
	})

	marketsFetched = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_discovery_markets_fetched",
		Help: "Markets returned by the last list fetch per venue",
	}, []string{"venue"})

	pairsMatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_discovery_pairs_matched",
		Help: "Cross-venue pairs in the current set",
	})

	newPairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_discovery_new_pairs_total",
		Help: "Total pairs seen for the first time",
	})
)
