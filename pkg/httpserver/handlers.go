package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/executor"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// handleOpportunities returns the scanner's live opportunity set,
// sorted by profit.
func (s *Server) handleOpportunities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scanner.Snapshot())
}

// handlePairs returns the current cross-venue pair set.
func (s *Server) handlePairs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pairs())
}

// sideBook is the top of book for one leg of a pair.
type sideBook struct {
	Venue   string  `json:"venue"`
	Outcome string  `json:"outcome"`
	TokenID string  `json:"tokenId"`
	BidPx   float64 `json:"bidPrice"`
	BidSz   float64 `json:"bidSize"`
	AskPx   float64 `json:"askPrice"`
	AskSz   float64 `json:"askSize"`
	AgeMs   int64   `json:"ageMs"`
	Stale   bool    `json:"stale"`
}

// booksResponse is the four-legged book view for one pair.
type booksResponse struct {
	MarketID string     `json:"marketId"`
	Title    string     `json:"title"`
	Sides    []sideBook `json:"sides"`
}

// handleBooks serves GET /api/books?market=<makerMarketID>: top of
// book for all four tokens of a matched pair.
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		writeError(w, "missing required query parameter: market", http.StatusBadRequest)
		return
	}

	var pair *types.MarketPair
	for _, p := range s.pairs() {
		if p.MakerMarketID == marketID {
			pair = p
			break
		}
	}
	if pair == nil {
		writeError(w, "market not found or not paired", http.StatusNotFound)
		return
	}

	legs := []struct {
		venue   types.Venue
		outcome types.Outcome
		token   string
	}{
		{types.VenuePredict, types.OutcomeYes, pair.MakerYesToken},
		{types.VenuePredict, types.OutcomeNo, pair.MakerNoToken},
		{types.VenuePolymarket, types.OutcomeYes, pair.HedgeYesToken},
		{types.VenuePolymarket, types.OutcomeNo, pair.HedgeNoToken},
	}

	now := time.Now()
	resp := booksResponse{MarketID: pair.MakerMarketID, Title: pair.MakerTitle}
	for _, leg := range legs {
		book, ok := s.books.GetSync(leg.venue, leg.token)
		if !ok {
			continue
		}
		side := sideBook{
			Venue:   string(leg.venue),
			Outcome: string(leg.outcome),
			TokenID: leg.token,
			AgeMs:   book.Age(now).Milliseconds(),
			Stale:   !book.Fresh(now, s.staleUI),
		}
		if bid, ok := book.BestBid(); ok {
			side.BidPx, side.BidSz = bid.Price, bid.Size
		}
		if ask, ok := book.BestAsk(); ok {
			side.AskPx, side.AskSz = ask.Price, ask.Size
		}
		resp.Sides = append(resp.Sides, side)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListTasks returns all tasks, live and terminal.
func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

// handleGetTask returns one task by id.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.store.Get(id)
	if !ok {
		writeError(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// createTaskRequest is the POST /api/tasks body. Field names mirror
// the task JSON; TTLSeconds is a convenience alternative to ExpiresAt.
type createTaskRequest struct {
	MarketID string `json:"marketId"`
	Title    string `json:"title"`
	Type     string `json:"type"`
	Strategy string `json:"strategy"`
	ArbSide  string `json:"arbSide"`

	MakerToken string  `json:"makerToken"`
	HedgeToken string  `json:"hedgeToken"`
	NegRisk    bool    `json:"negRisk"`
	TickSize   float64 `json:"tickSize"`
	FeeRateBps int     `json:"feeRateBps"`

	Quantity     float64 `json:"quantity"`
	PredictPrice float64 `json:"predictPrice"`
	HedgeMaxAsk  float64 `json:"hedgeMaxAsk"`
	HedgeMinBid  float64 `json:"hedgeMinBid"`
	EntryCost    float64 `json:"entryCost"`

	PredictAskPrice float64 `json:"predictAskPrice"`
	PredictBidPrice float64 `json:"predictBidPrice"`
	MaxTotalCost    float64 `json:"maxTotalCost"`

	ExpiresAt  *time.Time `json:"expiresAt"`
	TTLSeconds int        `json:"ttlSeconds"`
}

// handleCreateTask registers a task and hands it to the engine. Intake
// is refused while the collateral breaker is tripped.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.guard != nil && !s.guard.IsEnabled() {
		writeError(w, "task intake disabled: hedge collateral below floor", http.StatusServiceUnavailable)
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && req.TTLSeconds > 0 {
		t := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		expiresAt = &t
	}

	task, err := s.store.Create(tasks.CreateInput{
		MarketID:        req.MarketID,
		Title:           req.Title,
		Type:            types.Side(req.Type),
		Strategy:        types.Strategy(req.Strategy),
		ArbSide:         types.Outcome(req.ArbSide),
		MakerToken:      req.MakerToken,
		HedgeToken:      req.HedgeToken,
		NegRisk:         req.NegRisk,
		TickSize:        req.TickSize,
		FeeRateBps:      req.FeeRateBps,
		Quantity:        req.Quantity,
		PredictPrice:    req.PredictPrice,
		HedgeMaxAsk:     req.HedgeMaxAsk,
		HedgeMinBid:     req.HedgeMinBid,
		EntryCost:       req.EntryCost,
		PredictAskPrice: req.PredictAskPrice,
		PredictBidPrice: req.PredictBidPrice,
		MaxTotalCost:    req.MaxTotalCost,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrDuplicateActive), errors.Is(err, tasks.ErrTerminal):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	if err := s.engine.StartTask(task.ID); err != nil && !errors.Is(err, executor.ErrAlreadyRunning) {
		s.logger.Error("task-start-failed",
			zap.String("task-id", task.ID),
			zap.Error(err))
		writeError(w, "task created but not started: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if s.guard != nil {
		s.guard.RecordTrade(hedgeNotional(task))
	}

	writeJSON(w, http.StatusCreated, task)
}

// handleCancelTask requests cooperative cancellation.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.CancelTask(id); err != nil {
		switch {
		case errors.Is(err, tasks.ErrNotFound):
			writeError(w, "task not found", http.StatusNotFound)
		case errors.Is(err, tasks.ErrTerminal):
			writeError(w, "task already terminal", http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	task, _ := s.store.Get(id)
	writeJSON(w, http.StatusAccepted, task)
}

// handleExposure returns the last exposure sweep.
func (s *Server) handleExposure(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.exposure.Snapshot())
}

// handleGuard returns the collateral breaker state.
func (s *Server) handleGuard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Status())
}

// hedgeNotional estimates the collateral a task's hedge leg will
// consume, for the breaker's rolling window.
func hedgeNotional(t *tasks.Task) float64 {
	price := t.HedgeMaxAsk
	if price <= 0 {
		price = t.PredictPrice
	}
	return price * t.TotalQuantity
}
