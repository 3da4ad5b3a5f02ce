package exposure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unhedgedShares = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_exposure_unhedged_shares",
		Help: "Total unhedged maker shares across live tasks",
	})

	tasksExposed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_exposure_tasks_exposed",
		Help: "Live tasks carrying unhedged quantity",
	})

	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_exposure_sweeps_total",
		Help: "Exposure sweeps performed",
	})

	alertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_exposure_alerts_total",
		Help: "Sweeps that found the unhedged total above threshold",
	})

	alertsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_exposure_alerts_dropped_total",
		Help: "Alerts dropped on a full channel",
	})
)
