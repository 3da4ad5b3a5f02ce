package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crossarb_dashboard_clients",
		Help: "Connected dashboard clients.",
	})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crossarb_dashboard_frames_total",
		Help: "Frames broadcast to dashboard clients, by channel.",
	}, []string{"channel"})

	flushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_dashboard_flushes_total",
		Help: "Coalescing flush cycles that delivered at least one frame.",
	})

	emitDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_dashboard_emit_dropped_total",
		Help: "Lifecycle events dropped because the hub queue was full.",
	})

	drainTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_dashboard_drain_timeouts_total",
		Help: "Deliveries that timed out against a full client buffer.",
	})

	slowDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_dashboard_slow_disconnects_total",
		Help: "Clients disconnected for repeatedly failing to drain.",
	})
)
