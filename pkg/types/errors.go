package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across packages.
var (
	// ErrBookStale means the cached book exists but is older than the
	// caller's freshness window.
	ErrBookStale = errors.New("order book stale")
	// ErrBookMissing means no snapshot has ever been cached for the token.
	ErrBookMissing = errors.New("order book missing")
	// ErrDepthUnknown means depth for a price level cannot be determined;
	// callers must treat it as "do not act", never as zero.
	ErrDepthUnknown = errors.New("depth unknown")
	// ErrOrderNotFound means the venue has no record of the order id.
	ErrOrderNotFound = errors.New("order not found")
)

// OrderError is a venue rejection of an order operation.
type OrderError struct {
	Venue   Venue  // which venue rejected
	Code    string // venue error code
	Message string // venue error message
	OrderID string // order id if one was assigned
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s order %s rejected: %s (%s)", e.Venue, e.OrderID, e.Message, e.Code)
	}
	return fmt.Sprintf("%s order rejected: %s (%s)", e.Venue, e.Message, e.Code)
}

// Known venue error codes.
const (
	ErrCodeInvalidTickSize  = "INVALID_ORDER_MIN_TICK_SIZE"
	ErrCodeNotEnoughBalance = "INVALID_ORDER_NOT_ENOUGH_BALANCE"
	ErrCodeFOKNotFilled     = "FOK_ORDER_NOT_FILLED_ERROR"
	ErrCodeMarketNotReady   = "MARKET_NOT_READY"
	ErrCodeMarketPaused     = "MARKET_PAUSED"
	ErrCodeOrderExpired     = "ORDER_EXPIRED"
	ErrCodeUnmatched        = "UNMATCHED"
	ErrCodeUnknownStatus    = "UNKNOWN_STATUS"
)

// RateLimitError is a venue 429. RetryAfter is the server hint when
// present, zero otherwise.
type RateLimitError struct {
	Venue      Venue
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Venue, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Venue)
}

// IsRateLimit reports whether err is a venue rate limit.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
