package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sinkDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_app_events_dropped_total",
		Help: "Task events dropped because the storage queue was full",
	})

	sinkErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_app_event_store_errors_total",
		Help: "Task event storage write failures",
	})
)
