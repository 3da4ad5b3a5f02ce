package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collateralBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_collateral_usd",
		Help: "Collateral token balance (USD)",
	}, []string{"chain"})

	allowanceBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_allowance_usd",
		Help: "Collateral allowance granted to the exchange (USD)",
	}, []string{"chain"})

	nativeBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_native_balance",
		Help: "Gas token balance (native units)",
	}, []string{"chain"})

	positionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_positions_open",
		Help: "Open positions reported by the venue data API",
	}, []string{"chain"})

	positionValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_position_value_usd",
		Help: "Sum of open position values (USD)",
	}, []string{"chain"})

	lastUpdateTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crossarb_wallet_last_update_timestamp",
		Help: "Unix timestamp of the last successful balance refresh",
	}, []string{"chain"})

	updateErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_wallet_update_errors_total",
		Help: "Failed balance refresh attempts",
	}, []string{"chain"})

	updateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossarb_wallet_update_duration_seconds",
		Help:    "Time taken to refresh one wallet entry",
		Buckets: prometheus.DefBuckets,
	})
)
