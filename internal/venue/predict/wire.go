package predict

import (
	"strconv"
	"time"

	"github.com/mselser95/crossarb/pkg/types"
)

// marketPayload is a maker-venue market document.
type marketPayload struct {
	ID             string `json:"id"`
	ConditionID    string `json:"conditionId"`
	Title          string `json:"title"`
	Slug           string `json:"slug"`
	Category       string `json:"category"`
	YesTokenID     string `json:"yesTokenId"`
	NoTokenID      string `json:"noTokenId"`
	TickSize       string `json:"tickSize"`
	FeeRateBps     int    `json:"feeRateBps"`
	Status         string `json:"status"`
	SettlementDate string `json:"settlementDate"` // RFC 3339
}

func (m marketPayload) toMarket() types.MakerMarket {
	tick, _ := strconv.ParseFloat(m.TickSize, 64)
	settle, _ := time.Parse(time.RFC3339, m.SettlementDate)

	return types.MakerMarket{
		ID:             m.ID,
		ConditionID:    m.ConditionID,
		Title:          m.Title,
		Slug:           m.Slug,
		Category:       m.Category,
		YesTokenID:     m.YesTokenID,
		NoTokenID:      m.NoTokenID,
		TickSize:       tick,
		FeeRateBps:     m.FeeRateBps,
		Status:         m.Status,
		SettlementDate: settle,
	}
}

// marketsResponse is the paginated market list.
type marketsResponse struct {
	Markets []marketPayload `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// tokenBook is one token's side of a market book document.
type tokenBook struct {
	TokenID string             `json:"tokenId"`
	Bids    []types.PriceLevel `json:"bids"`
	Asks    []types.PriceLevel `json:"asks"`
}

// bookResponse is the per-market book document carrying both outcome
// tokens.
type bookResponse struct {
	MarketID  string      `json:"marketId"`
	Timestamp string      `json:"timestamp"` // unix millis as string
	Books     []tokenBook `json:"books"`
}

func (tb tokenBook) toOrderBook(now time.Time) *types.OrderBook {
	book := &types.OrderBook{
		Venue:      types.VenuePredict,
		TokenID:    tb.TokenID,
		Bids:       make([]types.Level, 0, len(tb.Bids)),
		Asks:       make([]types.Level, 0, len(tb.Asks)),
		Source:     types.SourceREST,
		IngestedAt: now,
	}
	for _, l := range tb.Bids {
		book.Bids = append(book.Bids, l.Parse())
	}
	for _, l := range tb.Asks {
		book.Asks = append(book.Asks, l.Parse())
	}
	book.Normalize()
	return book
}

// orderRequest is the order placement body.
type orderRequest struct {
	MarketID   string `json:"marketId"`
	TokenID    string `json:"tokenId"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Type       string `json:"type"`
	Expiration int64  `json:"expiration,omitempty"`
}

// orderResponse is returned by POST /v1/orders.
type orderResponse struct {
	OrderHash string `json:"orderHash"`
	Status    string `json:"status"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// cancelResponse is returned by DELETE /v1/orders/{hash}.
type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// orderPayload is a maker-venue order document.
type orderPayload struct {
	OrderHash    string `json:"orderHash"`
	MarketID     string `json:"marketId"`
	TokenID      string `json:"tokenId"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalQty  string `json:"originalQty"`
	FilledQty    string `json:"filledQty"`
	RemainingQty string `json:"remainingQty"`
	Status       string `json:"status"`
	UpdatedAt    string `json:"updatedAt"` // unix millis as string
}

// ordersResponse is the open-order list.
type ordersResponse struct {
	Orders []orderPayload `json:"orders"`
}

func (o orderPayload) toStatus() types.OrderStatus {
	price, _ := strconv.ParseFloat(o.Price, 64)
	orig, _ := strconv.ParseFloat(o.OriginalQty, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	remaining, _ := strconv.ParseFloat(o.RemainingQty, 64)

	var updated time.Time
	if ms, err := strconv.ParseInt(o.UpdatedAt, 10, 64); err == nil && ms > 0 {
		updated = time.UnixMilli(ms)
	}

	return types.OrderStatus{
		Venue:        types.VenuePredict,
		OrderID:      o.OrderHash,
		TokenID:      o.TokenID,
		Side:         types.Side(o.Side),
		Price:        price,
		OriginalQty:  orig,
		FilledQty:    filled,
		RemainingQty: remaining,
		Status:       mapOrderStatus(o.Status, filled),
		UpdatedAt:    updated,
	}
}

// mapOrderStatus normalizes venue states. PARTIALLY_FILLED is still
// open from the venue's perspective.
func mapOrderStatus(s string, filled float64) types.OrderStatusCode {
	switch s {
	case "OPEN", "PARTIALLY_FILLED", "LIVE":
		return types.OrderOpen
	case "FILLED", "MATCHED":
		return types.OrderFilled
	case "CANCELLED", "CANCELED":
		return types.OrderCancelled
	case "EXPIRED":
		return types.OrderExpired
	default:
		if filled > 0 {
			return types.OrderOpen
		}
		return types.OrderInvalidated
	}
}

// statsPayload is the market stats document.
type statsPayload struct {
	MarketID    string `json:"marketId"`
	Volume24hr  string `json:"volume24hr"`
	Liquidity   string `json:"liquidity"`
	OpenOrders  int    `json:"openOrders"`
	LastTradeAt int64  `json:"lastTradeAt"`
}

func (s statsPayload) toStats() types.MarketStats {
	vol, _ := strconv.ParseFloat(s.Volume24hr, 64)
	liq, _ := strconv.ParseFloat(s.Liquidity, 64)

	return types.MarketStats{
		MarketID:    s.MarketID,
		Volume24hr:  vol,
		Liquidity:   liq,
		OpenOrders:  s.OpenOrders,
		LastTradeAt: s.LastTradeAt,
	}
}

// apiError is the venue's error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
