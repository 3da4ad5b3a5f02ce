package orderstatus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_orderstatus_polls_total",
			Help: "Open-orders polls by outcome",
		},
		[]string{"outcome"},
	)

	updatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_orderstatus_updates_total",
			Help: "Status cache writes by resulting status",
		},
		[]string{"status"},
	)

	entriesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_orderstatus_entries",
		Help: "Orders held in the status cache",
	})

	maybeCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_orderstatus_maybe_completed_total",
		Help: "Tracked orders missing from a successful poll",
	})

	staleReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_orderstatus_stale_reads_total",
		Help: "Reads served past the staleness window",
	})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_orderstatus_events_dropped_total",
		Help: "Watcher notifications dropped on full channels",
	})
)
