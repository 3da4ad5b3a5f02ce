// Package matching pairs maker venue markets with their hedge venue
// twins. Resolution order: shared condition id, sports slug heuristic
// with one-day date tolerance, generic slug pattern. Results are
// cached so list refreshes only recompute new markets, and a seed
// file can pin matches the heuristics get wrong.
package matching

import (
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/cache"
	"github.com/mselser95/crossarb/pkg/types"
)

const (
	resultKeyPrefix = "match-result:"
	resultTTL       = time.Hour
)

// matchResult is the cached/seeded outcome of matching one maker
// market: which hedge condition it maps to and whether outcomes are
// mirrored.
type matchResult struct {
	ConditionID string            `json:"conditionId"`
	Inverted    bool              `json:"inverted"`
	Method      types.MatchMethod `json:"method"`
}

// seedEntry is one pinned match from the seed file.
type seedEntry struct {
	MakerMarketID string `json:"makerMarketId"`
	ConditionID   string `json:"conditionId"`
	Inverted      bool   `json:"inverted"`
}

// Config holds matcher configuration.
type Config struct {
	Logger *zap.Logger
	Cache  cache.Cache

	// SeedPath optionally points at a polymarket-match-result.json
	// file of pinned matches. Missing file is not an error.
	SeedPath string
}

// Service is the market matcher.
type Service struct {
	logger *zap.Logger
	cache  cache.Cache
	seeds  map[string]seedEntry

	mu      sync.RWMutex
	pairs   []*types.MarketPair
	byMaker map[string]*types.MarketPair
}

// New creates the matcher and loads the seed file when configured.
func New(cfg *Config) *Service {
	s := &Service{
		logger:  cfg.Logger.Named("matching"),
		cache:   cfg.Cache,
		seeds:   make(map[string]seedEntry),
		byMaker: make(map[string]*types.MarketPair),
	}

	if cfg.SeedPath != "" {
		if err := s.loadSeeds(cfg.SeedPath); err != nil {
			s.logger.Warn("match-seed-load-failed",
				zap.String("path", cfg.SeedPath),
				zap.Error(err))
		}
	}

	return s
}

func (s *Service) loadSeeds(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []seedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for _, e := range entries {
		if e.MakerMarketID != "" && e.ConditionID != "" {
			s.seeds[e.MakerMarketID] = e
		}
	}

	s.logger.Info("match-seeds-loaded",
		zap.String("path", path),
		zap.Int("entries", len(s.seeds)))

	return nil
}

// Rebuild recomputes the pair set from fresh market lists. Safe to
// call concurrently with reads; the pair slice is replaced atomically.
func (s *Service) Rebuild(makers []types.MakerMarket, hedges []types.HedgeMarket) []*types.MarketPair {
	start := time.Now()

	byCondition := make(map[string]*types.HedgeMarket, len(hedges))
	parsed := make([]slugParts, len(hedges))
	parsedOK := make([]bool, len(hedges))
	for i := range hedges {
		h := &hedges[i]
		if h.ConditionID != "" {
			byCondition[h.ConditionID] = h
		}
		parsed[i], parsedOK[i] = parseSlug(h.Slug)
	}

	pairs := make([]*types.MarketPair, 0, len(makers))
	byMaker := make(map[string]*types.MarketPair, len(makers))
	counts := make(map[types.MatchMethod]int)

	for i := range makers {
		m := &makers[i]

		pair := s.match(m, byCondition, hedges, parsed, parsedOK)
		if pair == nil {
			unmatchedTotal.Inc()
			continue
		}

		pairs = append(pairs, pair)
		byMaker[m.ID] = pair
		counts[pair.Method]++
		matchesTotal.WithLabelValues(string(pair.Method)).Inc()
	}

	s.mu.Lock()
	s.pairs = pairs
	s.byMaker = byMaker
	s.mu.Unlock()

	pairsTracked.Set(float64(len(pairs)))
	s.logger.Info("market-pairs-rebuilt",
		zap.Int("makers", len(makers)),
		zap.Int("hedges", len(hedges)),
		zap.Int("pairs", len(pairs)),
		zap.Int("by-condition", counts[types.MatchByCondition]),
		zap.Int("by-slug", counts[types.MatchBySlug]),
		zap.Int("manual", counts[types.MatchManual]),
		zap.Duration("elapsed", time.Since(start)))

	return pairs
}

func (s *Service) match(
	m *types.MakerMarket,
	byCondition map[string]*types.HedgeMarket,
	hedges []types.HedgeMarket,
	parsed []slugParts,
	parsedOK []bool,
) *types.MarketPair {
	// Seeded matches win over everything.
	if seed, ok := s.seeds[m.ID]; ok {
		if h, found := byCondition[seed.ConditionID]; found {
			return s.buildPair(m, h, types.MatchManual, seed.Inverted)
		}
	}

	// Cached result from an earlier rebuild.
	if s.cache != nil {
		if v, ok := s.cache.Get(resultKeyPrefix + m.ID); ok {
			if r, ok := v.(*matchResult); ok {
				if h, found := byCondition[r.ConditionID]; found {
					return s.buildPair(m, h, r.Method, r.Inverted)
				}
			}
		}
	}

	// Shared condition id.
	if m.ConditionID != "" {
		if h, ok := byCondition[m.ConditionID]; ok {
			return s.finish(m, h, types.MatchByCondition, false)
		}
	}

	// Slug heuristics.
	mp, ok := parseSlug(m.Slug)
	if !ok {
		return nil
	}
	for i := range hedges {
		if !parsedOK[i] {
			continue
		}
		if !slugsMatch(mp, parsed[i]) {
			continue
		}
		// Venues that list the fixture with teams swapped frame YES
		// around the other team.
		inverted := mp.first != parsed[i].first
		return s.finish(m, &hedges[i], types.MatchBySlug, inverted)
	}

	return nil
}

// finish records the computed result in the cache and builds the pair.
func (s *Service) finish(m *types.MakerMarket, h *types.HedgeMarket, method types.MatchMethod, inverted bool) *types.MarketPair {
	if s.cache != nil {
		s.cache.Set(resultKeyPrefix+m.ID, &matchResult{
			ConditionID: h.ConditionID,
			Inverted:    inverted,
			Method:      method,
		}, resultTTL)
	}
	return s.buildPair(m, h, method, inverted)
}

func (s *Service) buildPair(m *types.MakerMarket, h *types.HedgeMarket, method types.MatchMethod, inverted bool) *types.MarketPair {
	yes := h.TokenByOutcome(types.OutcomeYes)
	no := h.TokenByOutcome(types.OutcomeNo)
	if yes == nil || no == nil {
		s.logger.Debug("hedge-market-missing-tokens",
			zap.String("condition-id", h.ConditionID),
			zap.String("slug", h.Slug))
		return nil
	}

	title := m.Title
	if genericTitle(title) {
		title = h.Question
	}

	settlement := m.SettlementDate
	if settlement.IsZero() {
		settlement = h.EndDate
	}

	return &types.MarketPair{
		MakerMarketID: m.ID,
		MakerTitle:    title,
		MakerSlug:     m.Slug,
		MakerYesToken: m.YesTokenID,
		MakerNoToken:  m.NoTokenID,
		TickSize:      m.TickSize,
		FeeRateBps:    m.FeeRateBps,

		ConditionID:   h.ConditionID,
		HedgeSlug:     h.Slug,
		HedgeYesToken: yes.TokenID,
		HedgeNoToken:  no.TokenID,
		NegRisk:       h.NegRisk,

		Inverted:       inverted,
		Method:         method,
		SettlementDate: settlement,
		MatchedAt:      time.Now(),
	}
}

// Pairs returns the current pair set.
func (s *Service) Pairs() []*types.MarketPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*types.MarketPair(nil), s.pairs...)
}

// PairFor returns the pair for a maker market id.
func (s *Service) PairFor(makerMarketID string) (*types.MarketPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byMaker[makerMarketID]
	return p, ok
}
