package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runnersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_executor_runners_active",
		Help: "Task runners currently live.",
	})

	taskEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_task_events_total",
		Help: "Named lifecycle events emitted.",
	}, []string{"type"})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_events_dropped_total",
		Help: "Lifecycle events dropped on a full consumer buffer.",
	})

	makerOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_maker_orders_total",
		Help: "Maker order submissions by outcome.",
	}, []string{"outcome"})

	makerCancelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_maker_cancels_total",
		Help: "Maker order cancellations by outcome.",
	}, []string{"outcome"})

	guardTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_guard_triggers_total",
		Help: "Price and depth guard triggers.",
	}, []string{"guard"})

	depthAdjustsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_depth_adjusts_total",
		Help: "Working-quantity adjustments by direction.",
	}, []string{"direction"})

	pausesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_pauses_total",
		Help: "Task pauses by reason.",
	}, []string{"reason"})

	resumesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_resumes_total",
		Help: "Paused tasks resumed after recovery checks passed.",
	})

	feedGateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_feed_gate_total",
		Help: "Times the feed gate closed after sustained WS downtime.",
	})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_timeouts_total",
		Help: "Tasks cancelled by their expiry deadline.",
	})

	fillDeltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_fill_deltas_total",
		Help: "Maker fill increments by reporting source.",
	}, []string{"source"})

	hedgeOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_hedge_orders_total",
		Help: "Hedge IOC placements by outcome.",
	}, []string{"outcome"})

	hedgeSharesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_hedge_shares_total",
		Help: "Shares covered on the hedge venue.",
	})

	hedgeNotionalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_hedge_notional_usd_total",
		Help: "Notional spent on the hedge venue.",
	})

	ghostRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_executor_ghost_retries_total",
		Help: "Zero-fill hedge IOCs against visible depth.",
	})

	settleProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_executor_settle_probes_total",
		Help: "Delayed-settlement probes by outcome.",
	}, []string{"outcome"})

	profitRealized = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_executor_profit_realized_usd",
		Help: "Cumulative realized profit across completed tasks.",
	})
)
