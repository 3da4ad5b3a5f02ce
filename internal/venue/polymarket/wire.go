package polymarket

import (
	"strconv"
	"time"

	"github.com/mselser95/crossarb/pkg/types"
)

// orderSubmission wraps a signed order for POST /order. Owner is the
// API key, not the maker address.
type orderSubmission struct {
	Order     *SignedOrder `json:"order"`
	Owner     string       `json:"owner"`
	OrderType string       `json:"orderType"` // GTC, FOK, GTD, FAK
}

// submissionResponse is returned by POST /order.
type submissionResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderId"`
	Status       string `json:"status"` // matched, live, delayed, unmatched
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// cancelRequest is the DELETE /order body.
type cancelRequest struct {
	OrderID string `json:"orderID"`
}

// cancelResponse is returned by DELETE /order.
type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// orderQuery is an order document from GET /data/order/{id}.
type orderQuery struct {
	OrderID    string `json:"id"`
	Status     string `json:"status"`
	TokenID    string `json:"asset_id"`
	Price      string `json:"price"`
	Size       string `json:"original_size"`
	SizeFilled string `json:"size_matched"`
	Side       string `json:"side"`
	CreatedAt  int64  `json:"created_at"`
	Outcome    string `json:"outcome"`
}

func (o orderQuery) toStatus() types.OrderStatus {
	price, _ := strconv.ParseFloat(o.Price, 64)
	size, _ := strconv.ParseFloat(o.Size, 64)
	filled, _ := strconv.ParseFloat(o.SizeFilled, 64)

	var created time.Time
	if o.CreatedAt > 0 {
		created = time.Unix(o.CreatedAt, 0)
	}

	return types.OrderStatus{
		Venue:        types.VenuePolymarket,
		OrderID:      o.OrderID,
		TokenID:      o.TokenID,
		Side:         types.Side(o.Side),
		Price:        price,
		OriginalQty:  size,
		FilledQty:    filled,
		RemainingQty: size - filled,
		Status:       mapCLOBStatus(o.Status, size, filled),
		UpdatedAt:    created,
	}
}

// mapCLOBStatus normalizes CLOB order states. A cancelled FAK with
// partial matching still reports its filled size separately, so the
// status alone never hides fills.
func mapCLOBStatus(s string, size, filled float64) types.OrderStatusCode {
	switch s {
	case "LIVE", "live", "delayed", "DELAYED":
		return types.OrderOpen
	case "MATCHED", "matched":
		if filled >= size && size > 0 {
			return types.OrderFilled
		}
		return types.OrderOpen
	case "CANCELED", "CANCELLED", "canceled", "cancelled":
		return types.OrderCancelled
	case "EXPIRED", "expired":
		return types.OrderExpired
	case "UNMATCHED", "unmatched":
		return types.OrderInvalidated
	default:
		return types.OrderInvalidated
	}
}

// bookDocument is returned by GET /book. Tick size, minimum order
// size, and the neg-risk flag ride along with the levels.
type bookDocument struct {
	Market       string             `json:"market"`
	AssetID      string             `json:"asset_id"`
	Timestamp    string             `json:"timestamp"`
	Hash         string             `json:"hash"`
	Bids         []types.PriceLevel `json:"bids"`
	Asks         []types.PriceLevel `json:"asks"`
	MinOrderSize string             `json:"min_order_size"`
	TickSize     string             `json:"tick_size"`
	NegRisk      bool               `json:"neg_risk"`
}

func (d bookDocument) toOrderBook(now time.Time) *types.OrderBook {
	book := &types.OrderBook{
		Venue:      types.VenuePolymarket,
		TokenID:    d.AssetID,
		Bids:       make([]types.Level, 0, len(d.Bids)),
		Asks:       make([]types.Level, 0, len(d.Asks)),
		Source:     types.SourceREST,
		IngestedAt: now,
	}
	for _, l := range d.Bids {
		book.Bids = append(book.Bids, l.Parse())
	}
	for _, l := range d.Asks {
		book.Asks = append(book.Asks, l.Parse())
	}
	book.Normalize()
	return book
}

// apiError is the CLOB error envelope.
type apiError struct {
	Error string `json:"error"`
}
