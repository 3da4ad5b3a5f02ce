package keypool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// rateLimitPauses counts whole-pool 429 pauses.
	rateLimitPauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_keypool_rate_limit_pauses_total",
			Help: "Total whole-pool pauses triggered by venue rate limiting",
		},
		[]string{"pool"},
	)

	// keyCooldowns counts individual key cooldowns.
	keyCooldowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossarb_keypool_key_cooldowns_total",
			Help: "Total single-key cooldowns after key-scoped errors",
		},
		[]string{"pool"},
	)
)
