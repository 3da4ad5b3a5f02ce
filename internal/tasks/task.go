// Package tasks holds the persistent task store: the finite-state
// records the executor drives and the dashboard edits. The store owns
// validation, idempotent ids, uniqueness per (market, type) and atomic
// persistence; the executor owns every transition past PENDING.
package tasks

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/mselser95/crossarb/pkg/types"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPredictSubmitted Status = "PREDICT_SUBMITTED"
	StatusPartiallyFilled  Status = "PARTIALLY_FILLED"
	StatusHedging          Status = "HEDGING"
	StatusHedgePending     Status = "HEDGE_PENDING"
	StatusPaused           Status = "PAUSED"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusCancelled        Status = "CANCELLED"
	StatusTimeoutCancelled Status = "TIMEOUT_CANCELLED"
	StatusHedgeFailed      Status = "HEDGE_FAILED"

	// StatusUnwindCompleted is reserved for an automatic unwind flow
	// that does not exist yet. Nothing emits it; recovery and the
	// dashboard treat it as terminal.
	StatusUnwindCompleted Status = "UNWIND_COMPLETED"
)

// Terminal reports whether the status ends the task.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled,
		StatusTimeoutCancelled, StatusHedgeFailed, StatusUnwindCompleted:
		return true
	}
	return false
}

// Task is one user-accepted opportunity being worked by the executor.
//
// Rest-state invariants: PredictFilledQty <= Quantity <= TotalQuantity,
// HedgedQty <= PredictFilledQty, RemainingQty = PredictFilledQty -
// HedgedQty, and at most one active task per (MarketID, Type).
type Task struct {
	ID       string         `json:"id"`
	MarketID string         `json:"marketId"`
	Title    string         `json:"title,omitempty"`
	Type     types.Side     `json:"type"`
	Strategy types.Strategy `json:"strategy"`
	ArbSide  types.Outcome  `json:"arbSide"`

	// Tokens are resolved at creation so the executor never depends on
	// the matcher at run time.
	MakerToken string  `json:"makerToken"`
	HedgeToken string  `json:"hedgeToken"`
	NegRisk    bool    `json:"negRisk"`
	TickSize   float64 `json:"tickSize,omitempty"`
	FeeRateBps int     `json:"feeRateBps,omitempty"`

	// Quantity is the live working size; the depth guard shrinks and
	// re-expands it within TotalQuantity.
	Quantity      float64 `json:"quantity"`
	TotalQuantity float64 `json:"totalQuantity"`

	PredictPrice float64 `json:"predictPrice,omitempty"`
	HedgeMaxAsk  float64 `json:"hedgeMaxAsk,omitempty"`
	HedgeMinBid  float64 `json:"hedgeMinBid,omitempty"`
	EntryCost    float64 `json:"entryCost,omitempty"`

	// TAKER inputs.
	PredictAskPrice float64 `json:"predictAskPrice,omitempty"`
	PredictBidPrice float64 `json:"predictBidPrice,omitempty"`
	MaxTotalCost    float64 `json:"maxTotalCost,omitempty"`

	ExpiresAt *time.Time `json:"expiresAt,omitempty"`

	PredictFilledQty float64 `json:"predictFilledQty"`
	HedgedQty        float64 `json:"hedgedQty"`
	RemainingQty     float64 `json:"remainingQty"`
	AvgPredictPrice  float64 `json:"avgPredictPrice"`
	AvgHedgePrice    float64 `json:"avgHedgePrice"`
	ActualProfit     float64 `json:"actualProfit"`
	UnwindLoss       float64 `json:"unwindLoss"`

	CurrentOrderHash    string `json:"currentOrderHash,omitempty"`
	CurrentHedgeOrderID string `json:"currentHedgeOrderId,omitempty"`
	PauseCount          int    `json:"pauseCount"`
	HedgeRetryCount     int    `json:"hedgeRetryCount"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Unhedged returns the maker quantity not yet covered on the hedge
// venue.
func (t *Task) Unhedged() float64 {
	return t.PredictFilledQty - t.HedgedQty
}

// Active reports whether the task still needs the executor.
func (t *Task) Active() bool {
	return !t.Status.Terminal()
}

// Expired reports whether the task's deadline has passed.
func (t *Task) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Clone returns a copy safe to hand across goroutines.
func (t *Task) Clone() *Task {
	cp := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}

// idempotentID derives the task id from the identity fields and a
// 10-second window, so a double-submitted form resolves to one task.
func idempotentID(marketID string, typ types.Side, price, qty float64, now time.Time) string {
	seed := strings.Join([]string{
		marketID,
		string(typ),
		strconv.FormatFloat(price, 'f', -1, 64),
		strconv.FormatFloat(qty, 'f', -1, 64),
		strconv.FormatInt(now.Unix()/10, 10),
	}, "|")
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}
