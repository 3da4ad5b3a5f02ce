package types

import (
	"encoding/json"
	"time"
)

// HedgeMarket is a hedge-venue market as served by its metadata API.
// Outcomes and token ids arrive as JSON-encoded strings nested inside
// the JSON document, so unmarshalling flattens them into Tokens.
type HedgeMarket struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"conditionId"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug"`
	Closed      bool      `json:"closed"`
	Active      bool      `json:"active"`
	NegRisk     bool      `json:"negRisk"`
	Tokens      []Token   `json:"-"`
	EndDate     time.Time `json:"endDate"`
	Outcomes    string    `json:"outcomes"`     // JSON string: "[\"Yes\", \"No\"]"
	ClobTokens  string    `json:"clobTokenIds"` // JSON string: "[\"token1\", \"token2\"]"
}

// UnmarshalJSON populates Tokens from the nested outcomes and
// clobTokenIds strings.
func (m *HedgeMarket) UnmarshalJSON(data []byte) error {
	type Alias HedgeMarket
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if m.Outcomes != "" && m.ClobTokens != "" {
		var outcomes []string
		var tokenIDs []string

		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err == nil {
			if err := json.Unmarshal([]byte(m.ClobTokens), &tokenIDs); err == nil {
				m.Tokens = make([]Token, 0, len(outcomes))
				for i, outcome := range outcomes {
					if i < len(tokenIDs) {
						m.Tokens = append(m.Tokens, Token{
							TokenID: tokenIDs[i],
							Outcome: outcome,
						})
					}
				}
			}
		}
	}

	return nil
}

// Token represents a market outcome token.
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price,omitempty"`
}

// TokenByOutcome returns the token for an outcome, matching YES/Yes
// and NO/No spellings.
func (m *HedgeMarket) TokenByOutcome(outcome Outcome) *Token {
	for i := range m.Tokens {
		got := m.Tokens[i].Outcome
		if got == string(outcome) ||
			(outcome == OutcomeYes && got == "Yes") ||
			(outcome == OutcomeNo && got == "No") {
			return &m.Tokens[i]
		}
	}
	return nil
}

// MakerMarket is a maker-venue market. The maker venue exposes both
// outcome token ids directly and tags each market with the condition
// id it settles against, which is the primary cross-venue join key.
type MakerMarket struct {
	ID             string    `json:"id"`
	ConditionID    string    `json:"conditionId"`
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Category       string    `json:"category"`
	YesTokenID     string    `json:"yesTokenId"`
	NoTokenID      string    `json:"noTokenId"`
	TickSize       float64   `json:"tickSize"`
	FeeRateBps     int       `json:"feeRateBps"`
	Status         string    `json:"status"` // "open", "paused", "resolved"
	SettlementDate time.Time `json:"settlementDate"`
}

// Open reports whether the market accepts new orders.
func (m *MakerMarket) Open() bool {
	return m != nil && m.Status == "open"
}

// TokenByOutcome returns the maker token id for an outcome.
func (m *MakerMarket) TokenByOutcome(outcome Outcome) string {
	if outcome == OutcomeYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// MarketStats is the maker venue's per-market activity summary.
type MarketStats struct {
	MarketID    string  `json:"marketId"`
	Volume24hr  float64 `json:"volume24hr"`
	Liquidity   float64 `json:"liquidity"`
	OpenOrders  int     `json:"openOrders"`
	LastTradeAt int64   `json:"lastTradeAt"`
}
