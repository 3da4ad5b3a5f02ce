package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_breaker_enabled",
		Help: "Whether the breaker allows new task creation (1=enabled, 0=disabled)",
	})

	breakerBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_breaker_balance_usd",
		Help: "Last checked hedge-funder collateral balance in USD",
	})

	breakerDisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_breaker_disable_threshold_usd",
		Help: "Balance below which task intake is disabled",
	})

	breakerEnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_breaker_enable_threshold_usd",
		Help: "Balance above which task intake is re-enabled",
	})

	breakerAvgTradeNotional = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_breaker_avg_trade_notional_usd",
		Help: "Rolling average hedge notional across recent tasks",
	})

	breakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_breaker_state_changes_total",
		Help: "Total breaker transitions between enabled and disabled",
	})

	breakerCheckErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_breaker_check_errors_total",
		Help: "Total failed funder balance checks",
	})

	breakerCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossarb_breaker_check_duration_seconds",
		Help:    "Time taken to read the funder balance",
		Buckets: prometheus.DefBuckets,
	})
)
