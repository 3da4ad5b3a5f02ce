// Package scanner computes cross-venue arbitrage opportunities from
// cached order books. For every matched pair it evaluates four
// combinations, (YES, NO) x (MAKER, TAKER), and keeps the profitable
// ones alive in an identity-keyed cache that the dashboard and task
// creation read from.
package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/pkg/types"
)

// Two profitable sides on the same pair beyond this epsilon means the
// books contradict each other; the pair is suppressed until the next
// clean snapshot.
const consistencyEps = 1e-4

const sweepInterval = 30 * time.Second

// Storage persists discovered opportunities.
type Storage interface {
	StoreOpportunity(ctx context.Context, opp *Opportunity) error
}

type tokenKey struct {
	venue types.Venue
	token string
}

// sideQuote is the top of book for one maker outcome. The NO side may
// be derived from the YES book when the venue lists only YES.
type sideQuote struct {
	bid    types.Level
	ask    types.Level
	hasBid bool
	hasAsk bool
}

// Config holds scanner configuration.
type Config struct {
	Logger  *zap.Logger
	Books   *books.Manager
	Storage Storage // optional

	// StaleCalc is the freshness window a book must satisfy to feed a
	// computation. Stale books suppress emission, they never feed it.
	StaleCalc time.Duration

	// Throttle is the per-market recompute cadence under WS churn.
	Throttle time.Duration

	// TTL evicts opportunities that stopped refreshing.
	TTL time.Duration

	// MinProfit is the per-share dollar floor a combo must clear to be
	// published. Zero keeps every positive-profit combo.
	MinProfit float64

	// BufferSize sizes the updates and removals channels.
	BufferSize int
}

// Scanner discovers and maintains live opportunities.
type Scanner struct {
	logger    *zap.Logger
	books     *books.Manager
	storage   Storage
	staleCalc time.Duration
	throttle  time.Duration
	ttl       time.Duration
	minProfit float64

	mu       sync.RWMutex
	pairs    map[string]*types.MarketPair
	tokenIdx map[tokenKey][]string
	opps     map[string]*Opportunity

	dirtyMu sync.Mutex
	dirty   map[string]struct{}

	updates  chan *Opportunity
	removals chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scanner and registers it on the book manager's update
// stream. Call before the book manager starts.
func New(cfg *Config) *Scanner {
	staleCalc := cfg.StaleCalc
	if staleCalc == 0 {
		staleCalc = 10 * time.Second
	}
	throttle := cfg.Throttle
	if throttle == 0 {
		throttle = 50 * time.Millisecond
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scanner{
		logger:    cfg.Logger.Named("scanner"),
		books:     cfg.Books,
		storage:   cfg.Storage,
		staleCalc: staleCalc,
		throttle:  throttle,
		ttl:       ttl,
		minProfit: cfg.MinProfit,
		pairs:     make(map[string]*types.MarketPair),
		tokenIdx:  make(map[tokenKey][]string),
		opps:      make(map[string]*Opportunity),
		dirty:     make(map[string]struct{}),
		updates:   make(chan *Opportunity, buffer),
		removals:  make(chan string, buffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.books.OnUpdate(s.onBook)
	return s
}

// Start launches the recompute loop.
func (s *Scanner) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.loop()

	s.logger.Info("scanner-started",
		zap.Duration("throttle", s.throttle),
		zap.Duration("ttl", s.ttl))
	return nil
}

// Updates streams refreshed opportunities. IsNew is true exactly once
// per identity.
func (s *Scanner) Updates() <-chan *Opportunity {
	return s.updates
}

// Removals streams identity keys of dropped opportunities.
func (s *Scanner) Removals() <-chan string {
	return s.removals
}

// SetPairs replaces the scanned pair set, subscribes their tokens on
// the book manager, and queues an initial scan per market. Incomplete
// pairs are skipped. Opportunities on markets that left the set are
// dropped.
func (s *Scanner) SetPairs(ctx context.Context, pairs []*types.MarketPair) error {
	byID := make(map[string]*types.MarketPair, len(pairs))
	idx := make(map[tokenKey][]string)
	perVenue := make(map[types.Venue][]string)

	for _, p := range pairs {
		if !p.Complete() {
			continue
		}
		byID[p.MakerMarketID] = p
		for _, tk := range []tokenKey{
			{venue: types.VenuePredict, token: p.MakerYesToken},
			{venue: types.VenuePredict, token: p.MakerNoToken},
			{venue: types.VenuePolymarket, token: p.HedgeYesToken},
			{venue: types.VenuePolymarket, token: p.HedgeNoToken},
		} {
			idx[tk] = append(idx[tk], p.MakerMarketID)
			perVenue[tk.venue] = append(perVenue[tk.venue], tk.token)
		}
	}

	var removed []string
	s.mu.Lock()
	s.pairs = byID
	s.tokenIdx = idx
	for k, opp := range s.opps {
		if _, ok := byID[opp.MarketID]; !ok {
			delete(s.opps, k)
			removed = append(removed, k)
		}
	}
	marketsTracked.Set(float64(len(byID)))
	opportunitiesActive.Set(float64(len(s.opps)))
	s.mu.Unlock()

	for _, k := range removed {
		removalsTotal.WithLabelValues("unmatched").Inc()
		s.pushRemoval(k)
	}

	for v, tokens := range perVenue {
		if err := s.books.Subscribe(ctx, v, tokens); err != nil {
			return fmt.Errorf("subscribe %s books: %w", v, err)
		}
	}

	for id, p := range byID {
		s.wg.Add(1)
		go s.prime(id, p)
	}

	s.logger.Info("scanner-pairs-updated",
		zap.Int("pairs", len(byID)),
		zap.Int("skipped", len(pairs)-len(byID)),
		zap.Int("dropped-opportunities", len(removed)))
	return nil
}

// Snapshot returns the live opportunities, most profitable first.
func (s *Scanner) Snapshot() []*Opportunity {
	s.mu.RLock()
	out := make([]*Opportunity, 0, len(s.opps))
	for _, opp := range s.opps {
		out = append(out, opp.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProfitBps != out[j].ProfitBps {
			return out[i].ProfitBps > out[j].ProfitBps
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// ActiveMarkets returns the sorted market ids that currently carry at
// least one live opportunity.
func (s *Scanner) ActiveMarkets() []string {
	s.mu.RLock()
	seen := make(map[string]bool)
	for _, opp := range s.opps {
		seen[opp.MarketID] = true
	}
	s.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close stops the loop. The updates and removals channels stay open;
// callers stop reading when their own scope ends.
func (s *Scanner) Close() error {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scanner-closed")
	return nil
}

// onBook runs on the book pump goroutine; it only marks markets dirty.
func (s *Scanner) onBook(tokenID string, book *types.OrderBook) {
	s.mu.RLock()
	ids := s.tokenIdx[tokenKey{venue: book.Venue, token: tokenID}]
	s.mu.RUnlock()
	if len(ids) == 0 {
		return
	}

	s.dirtyMu.Lock()
	for _, id := range ids {
		s.dirty[id] = struct{}{}
	}
	s.dirtyMu.Unlock()
}

// prime waits for a pair's books to land, then queues its first scan.
// The maker NO book is not waited on: it is derived from the YES book
// when absent.
func (s *Scanner) prime(marketID string, p *types.MarketPair) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	legs := []tokenKey{
		{venue: types.VenuePredict, token: p.MakerYesToken},
		{venue: types.VenuePolymarket, token: p.HedgeYesToken},
		{venue: types.VenuePolymarket, token: p.HedgeNoToken},
	}
	for _, leg := range legs {
		if _, err := s.books.Get(ctx, leg.venue, leg.token, s.staleCalc); err != nil {
			s.logger.Debug("scanner-prime-incomplete",
				zap.String("market-id", marketID),
				zap.String("venue", string(leg.venue)),
				zap.String("token", leg.token),
				zap.Error(err))
			break
		}
	}

	s.dirtyMu.Lock()
	s.dirty[marketID] = struct{}{}
	s.dirtyMu.Unlock()
}

func (s *Scanner) loop() {
	defer s.wg.Done()

	tick := time.NewTicker(s.throttle)
	defer tick.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick.C:
			s.drainDirty()
		case <-sweep.C:
			s.evictExpired()
		}
	}
}

func (s *Scanner) drainDirty() {
	s.dirtyMu.Lock()
	if len(s.dirty) == 0 {
		s.dirtyMu.Unlock()
		return
	}
	batch := s.dirty
	s.dirty = make(map[string]struct{})
	s.dirtyMu.Unlock()

	for id := range batch {
		s.scanMarket(id)
	}
}

// scanMarket recomputes all four combos for one market. Combos whose
// books are stale or missing are left untouched; profitable ones are
// published, unprofitable ones dropped. An inconsistent snapshot
// suppresses the whole market.
func (s *Scanner) scanMarket(marketID string) {
	s.mu.RLock()
	pair := s.pairs[marketID]
	s.mu.RUnlock()
	if pair == nil {
		return
	}

	scansTotal.Inc()
	now := time.Now()

	yes := s.makerQuote(pair, types.OutcomeYes, now)
	no := s.makerQuote(pair, types.OutcomeNo, now)
	if !no.hasBid && !no.hasAsk {
		no = complementQuote(yes)
	}

	hedgeYes, hedgeYesOK := s.hedgeAsk(pair, types.OutcomeYes, now)
	hedgeNo, hedgeNoOK := s.hedgeAsk(pair, types.OutcomeNo, now)

	for _, strat := range []types.Strategy{types.StrategyMaker, types.StrategyTaker} {
		oppYes, okYes := buildCombo(pair, types.OutcomeYes, strat, yes, hedgeYes, hedgeYesOK, now)
		oppNo, okNo := buildCombo(pair, types.OutcomeNo, strat, no, hedgeNo, hedgeNoOK, now)

		if okYes && okNo {
			sum := oppYes.TotalCost + oppNo.TotalCost
			if sum < 1-consistencyEps {
				s.logger.Warn("pair-books-inconsistent",
					zap.String("market-id", marketID),
					zap.String("strategy", string(strat)),
					zap.Float64("cost-sum", sum))
				s.removeMarket(marketID, "inconsistent")
				return
			}
		}

		s.settle(oppYes, okYes)
		s.settle(oppNo, okNo)
	}
}

// settle publishes a profitable combo or drops its prior entry.
func (s *Scanner) settle(opp *Opportunity, ok bool) {
	if !ok {
		return
	}
	if opp.Profit > 0 && opp.Profit >= s.minProfit {
		s.publish(opp)
		return
	}
	s.removeKey(opp.Key(), "unprofitable")
}

func (s *Scanner) publish(opp *Opportunity) {
	k := opp.Key()

	s.mu.Lock()
	_, existed := s.opps[k]
	opp.IsNew = false
	s.opps[k] = opp
	opportunitiesActive.Set(float64(len(s.opps)))
	s.mu.Unlock()

	out := opp.clone()
	out.IsNew = !existed

	if out.IsNew {
		opportunitiesFound.Inc()
		profitBpsHist.Observe(float64(out.ProfitBps))
		s.logger.Info("opportunity-found",
			zap.String("market-id", out.MarketID),
			zap.String("side", string(out.Side)),
			zap.String("strategy", string(out.Strategy)),
			zap.Float64("predict-price", out.PredictPrice),
			zap.Float64("hedge-price", out.HedgePrice),
			zap.Int("profit-bps", out.ProfitBps),
			zap.Float64("max-quantity", out.MaxQuantity))

		if s.storage != nil {
			if err := s.storage.StoreOpportunity(s.ctx, out); err != nil {
				s.logger.Error("store-opportunity-failed",
					zap.String("key", k),
					zap.Error(err))
			}
		}
	} else {
		opportunitiesRefreshed.Inc()
	}

	s.pushUpdate(out)
}

func (s *Scanner) removeKey(k, reason string) {
	s.mu.Lock()
	_, existed := s.opps[k]
	if existed {
		delete(s.opps, k)
		opportunitiesActive.Set(float64(len(s.opps)))
	}
	s.mu.Unlock()

	if !existed {
		return
	}
	removalsTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("opportunity-dropped",
		zap.String("key", k),
		zap.String("reason", reason))
	s.pushRemoval(k)
}

func (s *Scanner) removeMarket(marketID, reason string) {
	var removed []string
	s.mu.Lock()
	for k, opp := range s.opps {
		if opp.MarketID == marketID {
			delete(s.opps, k)
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		opportunitiesActive.Set(float64(len(s.opps)))
	}
	s.mu.Unlock()

	for _, k := range removed {
		removalsTotal.WithLabelValues(reason).Inc()
		s.pushRemoval(k)
	}
}

func (s *Scanner) evictExpired() {
	now := time.Now()
	var expired []string

	s.mu.Lock()
	for k, opp := range s.opps {
		if now.Sub(opp.LastUpdate) > s.ttl {
			delete(s.opps, k)
			expired = append(expired, k)
		}
	}
	if len(expired) > 0 {
		opportunitiesActive.Set(float64(len(s.opps)))
	}
	s.mu.Unlock()

	for _, k := range expired {
		removalsTotal.WithLabelValues("expired").Inc()
		s.logger.Info("opportunity-expired", zap.String("key", k))
		s.pushRemoval(k)
	}
}

func (s *Scanner) pushUpdate(opp *Opportunity) {
	select {
	case s.updates <- opp:
	default:
		updatesDroppedTotal.Inc()
		s.logger.Warn("opportunity-channel-full", zap.String("key", opp.Key()))
	}
}

func (s *Scanner) pushRemoval(k string) {
	select {
	case s.removals <- k:
	default:
		updatesDroppedTotal.Inc()
	}
}

// makerQuote reads the top of the maker book for one outcome. Stale or
// missing books come back empty.
func (s *Scanner) makerQuote(pair *types.MarketPair, side types.Outcome, now time.Time) sideQuote {
	book, ok := s.books.GetSync(types.VenuePredict, pair.MakerTokenFor(side))
	if !ok || !book.Fresh(now, s.staleCalc) {
		return sideQuote{}
	}
	var q sideQuote
	q.bid, q.hasBid = book.BestBid()
	q.ask, q.hasAsk = book.BestAsk()
	return q
}

// hedgeAsk reads the best ask of the hedge token that covers the given
// maker side.
func (s *Scanner) hedgeAsk(pair *types.MarketPair, side types.Outcome, now time.Time) (types.Level, bool) {
	token := pair.HedgeTokenFor(side.Opposite())
	book, ok := s.books.GetSync(types.VenuePolymarket, token)
	if !ok || !book.Fresh(now, s.staleCalc) {
		return types.Level{}, false
	}
	return book.BestAsk()
}

// complementQuote derives the NO top of book from the YES book:
// bidNO = 1 - askYES, askNO = 1 - bidYES, sizes carried over.
func complementQuote(yes sideQuote) sideQuote {
	var no sideQuote
	if yes.hasAsk {
		no.bid = types.Level{Price: 1 - yes.ask.Price, Size: yes.ask.Size}
		no.hasBid = true
	}
	if yes.hasBid {
		no.ask = types.Level{Price: 1 - yes.bid.Price, Size: yes.bid.Size}
		no.hasAsk = true
	}
	return no
}

// buildCombo prices one (side, strategy) combination. MAKER rests at
// the maker best bid fee-free; TAKER lifts the maker best ask and pays
// the taker fee. Both hedge by lifting the complementary hedge ask.
func buildCombo(
	pair *types.MarketPair,
	side types.Outcome,
	strat types.Strategy,
	maker sideQuote,
	hedge types.Level,
	hedgeOK bool,
	now time.Time,
) (*Opportunity, bool) {
	if !hedgeOK {
		return nil, false
	}

	var predictPrice, predictDepth, fee float64
	switch strat {
	case types.StrategyMaker:
		if !maker.hasBid {
			return nil, false
		}
		predictPrice = maker.bid.Price
		predictDepth = maker.bid.Size
	case types.StrategyTaker:
		if !maker.hasAsk {
			return nil, false
		}
		predictPrice = maker.ask.Price
		predictDepth = maker.ask.Size
		fee = predictPrice * float64(pair.FeeRateBps) / 10000
	default:
		return nil, false
	}

	totalCost := predictPrice + fee + hedge.Price
	profit := 1 - totalCost

	return &Opportunity{
		MarketID:     pair.MakerMarketID,
		Title:        pair.MakerTitle,
		Side:         side,
		Strategy:     strat,
		MakerToken:   pair.MakerTokenFor(side),
		HedgeToken:   pair.HedgeTokenFor(side.Opposite()),
		PredictPrice: predictPrice,
		HedgePrice:   hedge.Price,
		PredictFee:   fee,
		TotalCost:    totalCost,
		Profit:       profit,
		ProfitBps:    int(math.Round(profit * 10000)),
		MaxQuantity:  math.Min(predictDepth, hedge.Size),
		PredictDepth: predictDepth,
		HedgeDepth:   hedge.Size,
		LastUpdate:   now,
	}, true
}
