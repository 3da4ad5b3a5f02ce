package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// activeConnections tracks live sockets by endpoint.
	activeConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossarb_ws_active_connections",
			Help: "Number of active WebSocket connections",
		},
		[]string{"url"},
	)

	// reconnectAttemptsTotal tracks reconnection attempts.
	reconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_ws_reconnect_attempts_total",
		Help: "Total number of WebSocket reconnection attempts",
	})

	// reconnectFailuresTotal tracks reconnection failures.
	reconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_ws_reconnect_failures_total",
		Help: "Total number of WebSocket reconnection failures",
	})

	// framesReceivedTotal tracks inbound frames by endpoint.
	framesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_ws_frames_received_total",
			Help: "Total number of WebSocket frames received",
		},
		[]string{"url"},
	)

	// framesDroppedTotal tracks frames dropped because the consumer lagged.
	framesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_ws_frames_dropped_total",
			Help: "Total number of WebSocket frames dropped due to channel full",
		},
		[]string{"url"},
	)

	// connectionDuration tracks socket lifetime before disconnect.
	connectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossarb_ws_connection_duration_seconds",
		Help:    "Duration of WebSocket connections before disconnect",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	})
)
