package types

import (
	"sort"
	"strconv"
	"time"
)

// PriceLevel is a wire-format book level. Both venues quote prices and
// sizes as decimal strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Parse converts the wire level into a numeric Level. Unparseable
// levels come back as zero values.
func (p PriceLevel) Parse() Level {
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return Level{}
	}
	size, err := strconv.ParseFloat(p.Size, 64)
	if err != nil {
		return Level{}
	}
	return Level{Price: price, Size: size}
}

// Level is a single numeric price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a full-depth snapshot for one token on one venue.
// Bids are sorted descending by price, asks ascending. IngestedAt is
// stamped locally when the snapshot enters the cache; venue timestamps
// are not trusted for freshness decisions.
type OrderBook struct {
	Venue      Venue      `json:"venue"`
	TokenID    string     `json:"tokenId"`
	Bids       []Level    `json:"bids"`
	Asks       []Level    `json:"asks"`
	Source     BookSource `json:"source"`
	IngestedAt time.Time  `json:"ingestedAt"`
}

// Normalize sorts both sides into canonical order and drops zero-size
// levels. Venues occasionally emit unsorted deltas.
func (b *OrderBook) Normalize() {
	bids := b.Bids[:0]
	for _, l := range b.Bids {
		if l.Size > 0 && l.Price > 0 {
			bids = append(bids, l)
		}
	}
	b.Bids = bids
	asks := b.Asks[:0]
	for _, l := range b.Asks {
		if l.Size > 0 && l.Price > 0 {
			asks = append(asks, l)
		}
	}
	b.Asks = asks

	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}

// BestBid returns the highest bid, if any.
func (b *OrderBook) BestBid() (Level, bool) {
	if b == nil || len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *OrderBook) BestAsk() (Level, bool) {
	if b == nil || len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// AskDepthWithin sums ask size at prices at or below limit.
func (b *OrderBook) AskDepthWithin(limit float64) float64 {
	if b == nil {
		return 0
	}
	var total float64
	for _, l := range b.Asks {
		if l.Price > limit {
			break
		}
		total += l.Size
	}
	return total
}

// BidDepthWithin sums bid size at prices at or above limit.
func (b *OrderBook) BidDepthWithin(limit float64) float64 {
	if b == nil {
		return 0
	}
	var total float64
	for _, l := range b.Bids {
		if l.Price < limit {
			break
		}
		total += l.Size
	}
	return total
}

// BidSizeAt returns the resting bid size at exactly price, 0 if the
// level is absent.
func (b *OrderBook) BidSizeAt(price float64) float64 {
	if b == nil {
		return 0
	}
	for _, l := range b.Bids {
		if priceEq(l.Price, price) {
			return l.Size
		}
		if l.Price < price {
			break
		}
	}
	return 0
}

// AskSizeAt returns the resting ask size at exactly price, 0 if the
// level is absent.
func (b *OrderBook) AskSizeAt(price float64) float64 {
	if b == nil {
		return 0
	}
	for _, l := range b.Asks {
		if priceEq(l.Price, price) {
			return l.Size
		}
		if l.Price > price {
			break
		}
	}
	return 0
}

// Age returns how long ago the snapshot was ingested.
func (b *OrderBook) Age(now time.Time) time.Duration {
	if b == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(b.IngestedAt)
}

// Fresh reports whether the snapshot is recent enough for the given
// freshness window.
func (b *OrderBook) Fresh(now time.Time, maxAge time.Duration) bool {
	return b != nil && b.Age(now) <= maxAge
}

// Clone returns a deep copy safe to hand across goroutines.
func (b *OrderBook) Clone() *OrderBook {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Bids = append([]Level(nil), b.Bids...)
	cp.Asks = append([]Level(nil), b.Asks...)
	return &cp
}

// Prices on both venues tick in whole cents or finer; 1e-6 is far
// below any tick.
func priceEq(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
