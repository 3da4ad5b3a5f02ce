package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pairsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_matching_pairs",
		Help: "Matched cross-venue pairs after the last rebuild",
	})

	matchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_matching_matches_total",
			Help: "Successful matches by method",
		},
		[]string{"method"},
	)

	unmatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_matching_unmatched_total",
		Help: "Maker markets with no hedge twin",
	})
)
