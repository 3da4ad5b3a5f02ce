package scanner

import (
	"fmt"
	"time"

	"github.com/mselser95/crossarb/pkg/types"
)

// Opportunity is one profitable (side, strategy) combination on a
// matched pair. Identity is (marketId, side, strategy); an identity is
// refreshed in place while profitable and dropped when profit goes or
// the entry ages out.
type Opportunity struct {
	MarketID string         `json:"marketId"`
	Title    string         `json:"title"`
	Side     types.Outcome  `json:"side"`
	Strategy types.Strategy `json:"strategy"`

	// MakerToken is the maker venue token the strategy trades;
	// HedgeToken is the hedge venue token that covers it.
	MakerToken string `json:"makerToken"`
	HedgeToken string `json:"hedgeToken"`

	PredictPrice float64 `json:"predictPrice"`
	HedgePrice   float64 `json:"hedgePrice"`
	PredictFee   float64 `json:"predictFee"`
	TotalCost    float64 `json:"totalCost"`
	Profit       float64 `json:"profit"` // per share, 1 - totalCost
	ProfitBps    int     `json:"profitBps"`

	MaxQuantity  float64 `json:"maxQuantity"`
	PredictDepth float64 `json:"predictDepth"`
	HedgeDepth   float64 `json:"hedgeDepth"`

	LastUpdate time.Time `json:"lastUpdate"`
	IsNew      bool      `json:"isNew"`
}

// Key returns the opportunity identity.
func (o *Opportunity) Key() string {
	return o.MarketID + "|" + string(o.Side) + "|" + string(o.Strategy)
}

// String renders a one-line summary for logs.
func (o *Opportunity) String() string {
	return fmt.Sprintf("Opportunity[%s %s/%s] predict=%.4f hedge=%.4f cost=%.4f profit=%dbps qty=%.2f",
		o.MarketID, o.Side, o.Strategy,
		o.PredictPrice, o.HedgePrice, o.TotalCost, o.ProfitBps, o.MaxQuantity)
}

// clone returns a copy safe to hand across goroutines.
func (o *Opportunity) clone() *Opportunity {
	cp := *o
	return &cp
}
