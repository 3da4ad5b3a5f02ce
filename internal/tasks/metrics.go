package tasks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_tasks_created_total",
		Help: "Tasks accepted by the store",
	})

	tasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossarb_tasks_by_status",
			Help: "Tasks currently held, by status",
		},
		[]string{"status"},
	)

	taskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_tasks_transitions_total",
			Help: "Status transitions, by destination status",
		},
		[]string{"status"},
	)

	persistsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_tasks_persists_total",
			Help: "Snapshot writes by outcome",
		},
		[]string{"outcome"},
	)

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_tasks_events_dropped_total",
		Help: "Store events dropped on a full channel",
	})
)
