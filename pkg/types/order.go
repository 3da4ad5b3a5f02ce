package types

import "time"

// OrderStatusCode is the normalized lifecycle state of a venue order.
type OrderStatusCode string

const (
	OrderOpen        OrderStatusCode = "OPEN"
	OrderFilled      OrderStatusCode = "FILLED"
	OrderCancelled   OrderStatusCode = "CANCELLED"
	OrderExpired     OrderStatusCode = "EXPIRED"
	OrderInvalidated OrderStatusCode = "INVALIDATED"
)

// Terminal reports whether the order can no longer change.
func (s OrderStatusCode) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderInvalidated:
		return true
	}
	return false
}

// OrderStatus is the normalized view of a single venue order. OrderID
// is the venue identifier: the on-chain hash on the maker venue, the
// CLOB order id on the hedge venue.
type OrderStatus struct {
	Venue        Venue           `json:"venue"`
	OrderID      string          `json:"orderId"`
	TokenID      string          `json:"tokenId"`
	Side         Side            `json:"side"`
	Price        float64         `json:"price"`
	OriginalQty  float64         `json:"originalQty"`
	FilledQty    float64         `json:"filledQty"`
	RemainingQty float64         `json:"remainingQty"`
	Status       OrderStatusCode `json:"status"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// PlaceOpts carries venue-specific order parameters.
type PlaceOpts struct {
	OrderType  OrderType
	TickSize   float64
	NegRisk    bool
	FeeRateBps int
	// Expiration is a unix timestamp after which the order is void.
	// Zero means no expiration.
	Expiration int64
}

// Fill is a single execution against one of our orders.
type Fill struct {
	Venue     Venue     `json:"venue"`
	OrderID   string    `json:"orderId"`
	TokenID   string    `json:"tokenId"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	TxHash    string    `json:"txHash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
