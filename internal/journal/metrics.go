package journal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_journal_entries_total",
			Help: "Entries appended, by event",
		},
		[]string{"event"},
	)

	snapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_journal_snapshots_total",
		Help: "Order-book snapshots written",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_journal_dropped_total",
		Help: "Entries dropped on a full queue",
	})

	writeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crossarb_journal_write_errors_total",
		Help: "Failed appends or snapshot writes",
	})
)
