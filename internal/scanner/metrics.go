package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	marketsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_scanner_markets_tracked",
		Help: "Matched pairs currently under scan",
	})

	opportunitiesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_scanner_opportunities_active",
		Help: "Live opportunities in the identity cache",
	})

	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_scanner_scans_total",
		Help: "Market recomputations performed",
	})

	opportunitiesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_scanner_opportunities_found_total",
		Help: "New opportunity identities discovered",
	})

	opportunitiesRefreshed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_scanner_opportunities_refreshed_total",
		Help: "In-place refreshes of known opportunities",
	})

	removalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_scanner_removals_total",
			Help: "Opportunities dropped, by reason",
		},
		[]string{"reason"},
	)

	updatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_scanner_updates_dropped_total",
		Help: "Update or removal events dropped on full channels",
	})

	profitBpsHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossarb_scanner_profit_bps",
		Help:    "Profit of newly discovered opportunities in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})
)
