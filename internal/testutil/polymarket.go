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

type hedgeMarket struct {
	ID          string `json:"id"`
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Slug        string `json:"slug"`
	Closed      bool   `json:"closed"`
	Active      bool   `json:"active"`
	NegRisk     bool   `json:"negRisk"`
	Outcomes    string `json:"outcomes"`
	ClobTokens  string `json:"clobTokenIds"`
	EndDate     string `json:"endDate"`
}

type hedgeOrder struct {
	ID      string
	TokenID string
	Side    string
	Price   float64
	Size    float64
	Filled  float64
	Status  string // live, matched, canceled
}

type hedgeBook struct {
	Bids, Asks []Level
	Tick       string
	NegRisk    bool
}

// FakePolymarket is an in-memory hedge venue serving both the metadata
// and CLOB surfaces from one server, so tests point BaseURL and
// GammaURL at the same address. Placed orders fill immediately at the
// configured ratio.
type FakePolymarket struct {
	*httptest.Server

	mu        sync.Mutex
	markets   []hedgeMarket
	books     map[string]hedgeBook // tokenID -> book
	orders    map[string]*hedgeOrder
	fillRatio float64
	seq       int
}

// NewFakePolymarket starts the fake. Orders fill fully by default.
func NewFakePolymarket(t *testing.T) *FakePolymarket {
	t.Helper()

	f := &FakePolymarket{
		books:     make(map[string]hedgeBook),
		orders:    make(map[string]*hedgeOrder),
		fillRatio: 1.0,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/markets", f.handleGammaList)
	mux.HandleFunc("/markets/", f.handleMarketDetail)
	mux.HandleFunc("/book", f.handleBook)
	mux.HandleFunc("/order", f.handleOrder)
	mux.HandleFunc("/data/order/", f.handleOrderQuery)
	mux.HandleFunc("/data/orders", f.handleOpenOrders)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

// AddMarket registers an active binary market and returns its outcome
// tokens. Token ids are decimal asset ids like the real CLOB issues, so
// signed orders built against them parse. The condition id is the
// cross-venue join key.
func (f *FakePolymarket) AddMarket(conditionID, question string) (yesToken, noToken string) {
	f.mu.Lock()
	n := len(f.markets) + 1
	yesToken = fmt.Sprintf("71%017d1", n)
	noToken = fmt.Sprintf("71%017d2", n)
	f.markets = append(f.markets, hedgeMarket{
		ID:          strconv.Itoa(n),
		ConditionID: conditionID,
		Question:    question,
		Slug:        strings.ToLower(strings.ReplaceAll(question, " ", "-")),
		Active:      true,
		Outcomes:    `["Yes", "No"]`,
		ClobTokens:  fmt.Sprintf(`["%s", "%s"]`, yesToken, noToken),
		EndDate:     time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
	})
	f.mu.Unlock()

	return yesToken, noToken
}

// SetBook replaces a token's levels.
func (f *FakePolymarket) SetBook(tokenID string, bids, asks []Level) {
	f.mu.Lock()
	book := f.books[tokenID]
	book.Bids, book.Asks = bids, asks
	if book.Tick == "" {
		book.Tick = "0.01"
	}
	f.books[tokenID] = book
	f.mu.Unlock()
}

// SetFillRatio controls how much of each placed order matches
// immediately. 0 leaves orders live and unfilled.
func (f *FakePolymarket) SetFillRatio(ratio float64) {
	f.mu.Lock()
	f.fillRatio = ratio
	f.mu.Unlock()
}

// Orders returns the ids of every order placed, oldest first.
func (f *FakePolymarket) Orders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, f.seq)
	for i := 1; i <= f.seq; i++ {
		ids = append(ids, fmt.Sprintf("0xh%04d", i))
	}
	return ids
}

func (f *FakePolymarket) handleGammaList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	markets := append([]hedgeMarket(nil), f.markets...)
	f.mu.Unlock()

	// Gamma returns a bare array.
	writeJSON(w, markets)
}

func (f *FakePolymarket) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	conditionID := strings.TrimPrefix(r.URL.Path, "/markets/")

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.markets {
		if m.ConditionID != conditionID {
			continue
		}
		var tokenIDs []string
		_ = json.Unmarshal([]byte(m.ClobTokens), &tokenIDs)
		tokens := make([]map[string]string, 0, len(tokenIDs))
		for i, id := range tokenIDs {
			outcome := "Yes"
			if i == 1 {
				outcome = "No"
			}
			tokens = append(tokens, map[string]string{"token_id": id, "outcome": outcome})
		}
		writeJSON(w, map[string]any{
			"condition_id": m.ConditionID,
			"question":     m.Question,
			"market_slug":  m.Slug,
			"active":       m.Active,
			"closed":       m.Closed,
			"neg_risk":     m.NegRisk,
			"end_date_iso": m.EndDate,
			"tokens":       tokens,
		})
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *FakePolymarket) handleBook(w http.ResponseWriter, r *http.Request) {
	tokenID := r.URL.Query().Get("token_id")

	f.mu.Lock()
	book, ok := f.books[tokenID]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"asset_id":  tokenID,
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
		"bids":      orEmpty(book.Bids),
		"asks":      orEmpty(book.Asks),
		"tick_size": book.Tick,
		"neg_risk":  book.NegRisk,
	})
}

func (f *FakePolymarket) handleOrder(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		f.placeOrder(w, r)
	case http.MethodDelete:
		f.cancelOrder(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// placeOrder decodes the signed submission and fills it at the
// configured ratio. Raw amounts are 6-decimal integers; BUY spends
// collateral for tokens, SELL the reverse.
func (f *FakePolymarket) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order struct {
			TokenID     string `json:"tokenId"`
			MakerAmount string `json:"makerAmount"`
			TakerAmount string `json:"takerAmount"`
			Side        string `json:"side"`
		} `json:"order"`
		OrderType string `json:"orderType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	maker, _ := strconv.ParseFloat(req.Order.MakerAmount, 64)
	taker, _ := strconv.ParseFloat(req.Order.TakerAmount, 64)

	var price, size float64
	if req.Order.Side == "BUY" {
		size = taker / 1e6
		if taker > 0 {
			price = maker / taker
		}
	} else {
		size = maker / 1e6
		if maker > 0 {
			price = taker / maker
		}
	}

	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("0xh%04d", f.seq)
	filled := size * f.fillRatio
	status := "matched"
	if filled <= 0 {
		status = "live"
		filled = 0
	}
	f.orders[id] = &hedgeOrder{
		ID:      id,
		TokenID: req.Order.TokenID,
		Side:    req.Order.Side,
		Price:   price,
		Size:    size,
		Filled:  filled,
		Status:  status,
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"success": true,
		"orderId": id,
		"status":  status,
	})
}

func (f *FakePolymarket) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"orderID"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[req.OrderID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if o.Status == "live" {
		o.Status = "canceled"
		writeJSON(w, map[string]any{"canceled": []string{o.ID}})
		return
	}
	writeJSON(w, map[string]any{
		"canceled":     []string{},
		"not_canceled": map[string]string{o.ID: "order is terminal"},
	})
}

func (f *FakePolymarket) handleOrderQuery(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/data/order/")

	f.mu.Lock()
	o, ok := f.orders[id]
	var doc map[string]any
	if ok {
		doc = orderDoc(o)
	}
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, doc)
}

func (f *FakePolymarket) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	docs := make([]map[string]any, 0)
	for _, o := range f.orders {
		if o.Status == "live" {
			docs = append(docs, orderDoc(o))
		}
	}
	f.mu.Unlock()

	writeJSON(w, docs)
}

func orderDoc(o *hedgeOrder) map[string]any {
	return map[string]any{
		"id":            o.ID,
		"status":        o.Status,
		"asset_id":      o.TokenID,
		"price":         strconv.FormatFloat(o.Price, 'f', -1, 64),
		"original_size": strconv.FormatFloat(o.Size, 'f', -1, 64),
		"size_matched":  strconv.FormatFloat(o.Filled, 'f', -1, 64),
		"side":          o.Side,
		"created_at":    time.Now().Unix(),
	}
}
