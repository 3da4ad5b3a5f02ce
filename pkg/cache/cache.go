package cache

import "time"

// Cache stores small hot lookups: matcher pair results and hedge-venue
// token metadata (tick size, neg-risk).
type Cache interface {
	// Get retrieves a value. Returns (nil, false) on a miss.
	Get(key string) (interface{}, bool)

	// Set stores a value with a TTL. Returns false when the write was
	// rejected by the admission policy.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a value.
	Delete(key string)

	// Clear removes every value.
	Clear()

	// Close releases cache resources.
	Close()
}
