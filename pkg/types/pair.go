package types

import "time"

// MatchMethod records how a cross-venue pair was established.
type MatchMethod string

const (
	// MatchByCondition means both venues reference the same condition id.
	MatchByCondition MatchMethod = "condition"
	// MatchBySlug means the pair was inferred from a sports slug pattern.
	MatchBySlug MatchMethod = "slug"
	// MatchByTitle means the pair was inferred from normalized titles.
	MatchByTitle MatchMethod = "title"
	// MatchManual means the pair came from a seeded result file.
	MatchManual MatchMethod = "manual"
)

// MarketPair binds a maker-venue market to its hedge-venue twin. All
// trading flows operate on pairs; a market without a hedge twin is
// never traded.
type MarketPair struct {
	// Maker venue side.
	MakerMarketID string  `json:"makerMarketId"`
	MakerTitle    string  `json:"makerTitle"`
	MakerSlug     string  `json:"makerSlug"`
	MakerYesToken string  `json:"makerYesToken"`
	MakerNoToken  string  `json:"makerNoToken"`
	TickSize      float64 `json:"tickSize"`
	FeeRateBps    int     `json:"feeRateBps"`

	// Hedge venue side.
	ConditionID   string `json:"conditionId"`
	HedgeSlug     string `json:"hedgeSlug"`
	HedgeYesToken string `json:"hedgeYesToken"`
	HedgeNoToken  string `json:"hedgeNoToken"`
	NegRisk       bool   `json:"negRisk"`

	// Inverted means the hedge venue's YES corresponds to the maker
	// venue's NO outcome. Heuristic matches on sports markets can pair
	// mirrored questions.
	Inverted bool        `json:"inverted"`
	Method   MatchMethod `json:"method"`

	SettlementDate time.Time `json:"settlementDate"`
	MatchedAt      time.Time `json:"matchedAt"`
}

// HedgeTokenFor maps a maker outcome to the hedge token that pays out
// under the same real-world result, honoring inversion.
func (p *MarketPair) HedgeTokenFor(makerOutcome Outcome) string {
	effective := makerOutcome
	if p.Inverted {
		effective = makerOutcome.Opposite()
	}
	if effective == OutcomeYes {
		return p.HedgeYesToken
	}
	return p.HedgeNoToken
}

// MakerTokenFor maps an outcome to the maker venue token id.
func (p *MarketPair) MakerTokenFor(outcome Outcome) string {
	if outcome == OutcomeYes {
		return p.MakerYesToken
	}
	return p.MakerNoToken
}

// Complete reports whether both legs carry tradable token ids.
func (p *MarketPair) Complete() bool {
	return p != nil &&
		p.MakerMarketID != "" &&
		p.MakerYesToken != "" && p.MakerNoToken != "" &&
		p.HedgeYesToken != "" && p.HedgeNoToken != ""
}
