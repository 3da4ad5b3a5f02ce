// Package testutil provides in-memory fakes of both venue REST APIs.
// The fakes speak the real wire formats so integration tests can boot
// the whole application against them.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Level is a wire-format price level shared by both fakes.
type Level struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Levels renders [price, size] pairs as wire levels.
func Levels(pairs ...[2]float64) []Level {
	out := make([]Level, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, Level{
			Price: strconv.FormatFloat(p[0], 'f', -1, 64),
			Size:  strconv.FormatFloat(p[1], 'f', -1, 64),
		})
	}
	return out
}

type predictMarket struct {
	ID          string `json:"id"`
	ConditionID string `json:"conditionId"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	YesTokenID  string `json:"yesTokenId"`
	NoTokenID   string `json:"noTokenId"`
	TickSize    string `json:"tickSize"`
	FeeRateBps  int    `json:"feeRateBps"`
	Status      string `json:"status"`
}

type predictOrder struct {
	OrderHash    string `json:"orderHash"`
	MarketID     string `json:"marketId"`
	TokenID      string `json:"tokenId"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	OriginalQty  string `json:"originalQty"`
	FilledQty    string `json:"filledQty"`
	RemainingQty string `json:"remainingQty"`
	Status       string `json:"status"`
	UpdatedAt    string `json:"updatedAt"`
}

// FakePredict is an in-memory maker venue. Orders rest as OPEN until a
// test fills or the client cancels them.
type FakePredict struct {
	*httptest.Server

	mu      sync.Mutex
	markets []predictMarket
	books   map[string]struct{ Bids, Asks []Level } // tokenID -> levels
	orders  map[string]*predictOrder
	seq     int
}

// NewFakePredict starts the fake. The server stops with the test.
func NewFakePredict(t *testing.T) *FakePredict {
	t.Helper()

	f := &FakePredict{
		books:  make(map[string]struct{ Bids, Asks []Level }),
		orders: make(map[string]*predictOrder),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/markets", f.handleMarkets)
	mux.HandleFunc("/v1/markets/", f.handleMarketSub)
	mux.HandleFunc("/v1/orders", f.handleOrders)
	mux.HandleFunc("/v1/orders/", f.handleOrder)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// AddMarket registers an open market and returns its outcome tokens.
func (f *FakePredict) AddMarket(id, conditionID, title string) (yesToken, noToken string) {
	yesToken = id + "-yes"
	noToken = id + "-no"

	f.mu.Lock()
	f.markets = append(f.markets, predictMarket{
		ID:          id,
		ConditionID: conditionID,
		Title:       title,
		Slug:        strings.ToLower(strings.ReplaceAll(title, " ", "-")),
		YesTokenID:  yesToken,
		NoTokenID:   noToken,
		TickSize:    "0.01",
		FeeRateBps:  0,
		Status:      "open",
	})
	f.mu.Unlock()

	return yesToken, noToken
}

// SetBook replaces a token's levels.
func (f *FakePredict) SetBook(tokenID string, bids, asks []Level) {
	f.mu.Lock()
	f.books[tokenID] = struct{ Bids, Asks []Level }{bids, asks}
	f.mu.Unlock()
}

// FillOrder marks qty of an order as filled. Remaining zero flips the
// order to FILLED.
func (f *FakePredict) FillOrder(hash string, qty float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[hash]
	if !ok {
		return
	}
	orig, _ := strconv.ParseFloat(o.OriginalQty, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)

	filled += qty
	if filled >= orig {
		filled = orig
		o.Status = "FILLED"
	} else {
		o.Status = "PARTIALLY_FILLED"
	}
	o.FilledQty = strconv.FormatFloat(filled, 'f', -1, 64)
	o.RemainingQty = strconv.FormatFloat(orig-filled, 'f', -1, 64)
	o.UpdatedAt = strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// OpenOrders returns the hashes of resting orders, oldest first.
func (f *FakePredict) OpenOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hashes []string
	for i := 1; i <= f.seq; i++ {
		hash := fmt.Sprintf("0xp%04d", i)
		if o, ok := f.orders[hash]; ok && (o.Status == "OPEN" || o.Status == "PARTIALLY_FILLED") {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

func (f *FakePredict) handleMarkets(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	markets := append([]predictMarket(nil), f.markets...)
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"markets": markets,
		"total":   len(markets),
	})
}

// handleMarketSub serves /v1/markets/{id} and /v1/markets/{id}/orderbook.
func (f *FakePredict) handleMarketSub(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/markets/")
	marketID, tail, _ := strings.Cut(rest, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	var market *predictMarket
	for i := range f.markets {
		if f.markets[i].ID == marketID {
			market = &f.markets[i]
			break
		}
	}
	if market == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch tail {
	case "":
		writeJSON(w, market)
	case "orderbook":
		yes := f.books[market.YesTokenID]
		no := f.books[market.NoTokenID]
		writeJSON(w, map[string]any{
			"marketId":  market.ID,
			"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
			"books": []map[string]any{
				{"tokenId": market.YesTokenID, "bids": orEmpty(yes.Bids), "asks": orEmpty(yes.Asks)},
				{"tokenId": market.NoTokenID, "bids": orEmpty(no.Bids), "asks": orEmpty(no.Asks)},
			},
		})
	case "stats":
		writeJSON(w, map[string]any{
			"marketId":   market.ID,
			"volume24hr": "1000",
			"liquidity":  "5000",
			"openOrders": 3,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakePredict) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			MarketID string `json:"marketId"`
			TokenID  string `json:"tokenId"`
			Side     string `json:"side"`
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.seq++
		hash := fmt.Sprintf("0xp%04d", f.seq)
		f.orders[hash] = &predictOrder{
			OrderHash:    hash,
			MarketID:     req.MarketID,
			TokenID:      req.TokenID,
			Side:         req.Side,
			Price:        req.Price,
			OriginalQty:  req.Quantity,
			FilledQty:    "0",
			RemainingQty: req.Quantity,
			Status:       "OPEN",
			UpdatedAt:    strconv.FormatInt(time.Now().UnixMilli(), 10),
		}
		f.mu.Unlock()

		writeJSON(w, map[string]any{"orderHash": hash, "status": "OPEN"})

	case http.MethodGet:
		f.mu.Lock()
		var open []*predictOrder
		for _, o := range f.orders {
			if o.Status == "OPEN" || o.Status == "PARTIALLY_FILLED" {
				open = append(open, o)
			}
		}
		f.mu.Unlock()
		writeJSON(w, map[string]any{"orders": open})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *FakePredict) handleOrder(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/v1/orders/")

	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[hash]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, o)

	case http.MethodDelete:
		switch o.Status {
		case "OPEN", "PARTIALLY_FILLED":
			o.Status = "CANCELLED"
			o.UpdatedAt = strconv.FormatInt(time.Now().UnixMilli(), 10)
			writeJSON(w, map[string]any{"cancelled": true})
		default:
			writeJSON(w, map[string]any{"cancelled": false, "reason": "order is terminal"})
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func orEmpty(levels []Level) []Level {
	if levels == nil {
		return []Level{}
	}
	return levels
}
