package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/pkg/types"
)

type storeRecorder struct {
	mu     sync.Mutex
	stored []*Opportunity
}

func (r *storeRecorder) StoreOpportunity(_ context.Context, opp *Opportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, opp)
	return nil
}

func (r *storeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stored)
}

func newTestScanner(t *testing.T, ttl time.Duration) (*Scanner, *books.Manager, *storeRecorder) {
	t.Helper()

	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	store := &storeRecorder{}
	s := New(&Config{
		Logger:  zap.NewNop(),
		Books:   mgr,
		Storage: store,
		TTL:     ttl,
	})
	t.Cleanup(func() {
		_ = s.Close()
		_ = mgr.Close()
	})
	return s, mgr, store
}

func testPair() *types.MarketPair {
	return &types.MarketPair{
		MakerMarketID: "mkt-1",
		MakerTitle:    "Will the Lakers win?",
		MakerYesToken: "m-yes",
		MakerNoToken:  "m-no",
		TickSize:      0.01,
		FeeRateBps:    200,
		ConditionID:   "0xcond",
		HedgeYesToken: "h-yes",
		HedgeNoToken:  "h-no",
		Method:        types.MatchByCondition,
	}
}

func putBook(mgr *books.Manager, v types.Venue, token string, bids, asks []types.Level) {
	mgr.Put(&types.OrderBook{
		Venue:      v,
		TokenID:    token,
		Bids:       bids,
		Asks:       asks,
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	})
}

// seedBooks loads maker YES 0.42x100 / 0.55x80 plus hedge asks of 0.28
// (NO, covers YES) and 0.30 (YES, covers NO). The maker NO book is
// deliberately absent so scans derive it from the YES complement.
func seedBooks(mgr *books.Manager) {
	putBook(mgr, types.VenuePredict, "m-yes",
		[]types.Level{{Price: 0.42, Size: 100}},
		[]types.Level{{Price: 0.55, Size: 80}})
	putBook(mgr, types.VenuePolymarket, "h-no",
		[]types.Level{{Price: 0.26, Size: 40}},
		[]types.Level{{Price: 0.28, Size: 150}})
	putBook(mgr, types.VenuePolymarket, "h-yes",
		[]types.Level{{Price: 0.27, Size: 40}},
		[]types.Level{{Price: 0.30, Size: 60}})
}

func drainUpdates(s *Scanner) []*Opportunity {
	var out []*Opportunity
	for {
		select {
		case opp := <-s.Updates():
			out = append(out, opp)
		default:
			return out
		}
	}
}

func drainRemovals(s *Scanner) []string {
	var out []string
	for {
		select {
		case k := <-s.Removals():
			out = append(out, k)
		default:
			return out
		}
	}
}

func bySide(opps []*Opportunity) map[string]*Opportunity {
	out := make(map[string]*Opportunity, len(opps))
	for _, o := range opps {
		out[string(o.Side)+"/"+string(o.Strategy)] = o
	}
	return out
}

func TestScanFindsAllFourCombos(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")

	snap := s.Snapshot()
	require.Len(t, snap, 4)

	combos := bySide(snap)

	ym := combos["YES/MAKER"]
	require.NotNil(t, ym)
	assert.InDelta(t, 0.42, ym.PredictPrice, 1e-9)
	assert.InDelta(t, 0.28, ym.HedgePrice, 1e-9)
	assert.InDelta(t, 0.0, ym.PredictFee, 1e-9)
	assert.InDelta(t, 0.30, ym.Profit, 1e-9)
	assert.Equal(t, 3000, ym.ProfitBps)
	assert.InDelta(t, 100.0, ym.MaxQuantity, 1e-9)
	assert.Equal(t, "m-yes", ym.MakerToken)
	assert.Equal(t, "h-no", ym.HedgeToken)

	yt := combos["YES/TAKER"]
	require.NotNil(t, yt)
	assert.InDelta(t, 0.55, yt.PredictPrice, 1e-9)
	assert.InDelta(t, 0.011, yt.PredictFee, 1e-9)
	assert.InDelta(t, 0.841, yt.TotalCost, 1e-9)
	assert.Equal(t, 1590, yt.ProfitBps)
	assert.InDelta(t, 80.0, yt.MaxQuantity, 1e-9)

	nm := combos["NO/MAKER"]
	require.NotNil(t, nm)
	assert.InDelta(t, 0.45, nm.PredictPrice, 1e-9)
	assert.InDelta(t, 0.30, nm.HedgePrice, 1e-9)
	assert.Equal(t, 2500, nm.ProfitBps)
	assert.InDelta(t, 60.0, nm.MaxQuantity, 1e-9)
	assert.Equal(t, "m-no", nm.MakerToken)
	assert.Equal(t, "h-yes", nm.HedgeToken)

	nt := combos["NO/TAKER"]
	require.NotNil(t, nt)
	assert.InDelta(t, 0.58, nt.PredictPrice, 1e-9)
	assert.InDelta(t, 0.0116, nt.PredictFee, 1e-9)
	assert.Equal(t, 1084, nt.ProfitBps)

	// Snapshot sorts by profit.
	assert.Equal(t, "mkt-1|YES|MAKER", snap[0].Key())
	assert.Equal(t, "mkt-1|NO|MAKER", snap[1].Key())
	assert.Equal(t, "mkt-1|YES|TAKER", snap[2].Key())
	assert.Equal(t, "mkt-1|NO|TAKER", snap[3].Key())
}

func TestScanPrefersRealNoBook(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	putBook(mgr, types.VenuePredict, "m-no",
		[]types.Level{{Price: 0.44, Size: 50}},
		[]types.Level{{Price: 0.57, Size: 30}})
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")

	combos := bySide(s.Snapshot())
	nm := combos["NO/MAKER"]
	require.NotNil(t, nm)
	assert.InDelta(t, 0.44, nm.PredictPrice, 1e-9)
	assert.InDelta(t, 50.0, nm.PredictDepth, 1e-9)
}

func TestIsNewExactlyOncePerIdentity(t *testing.T) {
	s, mgr, store := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	first := drainUpdates(s)
	require.Len(t, first, 4)
	for _, opp := range first {
		assert.True(t, opp.IsNew, opp.Key())
	}
	assert.Equal(t, 4, store.count())

	s.scanMarket("mkt-1")
	second := drainUpdates(s)
	require.Len(t, second, 4)
	for _, opp := range second {
		assert.False(t, opp.IsNew, opp.Key())
	}
	// Refreshes are not re-stored.
	assert.Equal(t, 4, store.count())
}

func TestMinProfitFloorFiltersThinCombos(t *testing.T) {
	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	s := New(&Config{
		Logger:    zap.NewNop(),
		Books:     mgr,
		MinProfit: 0.20,
	})
	t.Cleanup(func() {
		_ = s.Close()
		_ = mgr.Close()
	})

	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")

	// Both TAKER combos clear $0.10-0.16 per share, under the floor.
	combos := bySide(s.Snapshot())
	require.Len(t, combos, 2)
	assert.NotNil(t, combos["YES/MAKER"])
	assert.NotNil(t, combos["NO/MAKER"])
}

func TestUnprofitableComboIsDropped(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	require.Len(t, s.Snapshot(), 4)
	drainUpdates(s)

	// Hedge NO ask jumps: both YES combos go unprofitable.
	putBook(mgr, types.VenuePolymarket, "h-no",
		[]types.Level{{Price: 0.58, Size: 40}},
		[]types.Level{{Price: 0.60, Size: 150}})
	s.scanMarket("mkt-1")

	combos := bySide(s.Snapshot())
	assert.Len(t, combos, 2)
	assert.Nil(t, combos["YES/MAKER"])
	assert.Nil(t, combos["YES/TAKER"])
	assert.NotNil(t, combos["NO/MAKER"])
	assert.NotNil(t, combos["NO/TAKER"])

	removed := drainRemovals(s)
	assert.ElementsMatch(t, []string{"mkt-1|YES|MAKER", "mkt-1|YES|TAKER"}, removed)
}

func TestStaleBooksSuppressWithoutDropping(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	require.Len(t, s.Snapshot(), 4)
	drainUpdates(s)

	// Maker book goes stale: no recompute, but existing entries stay
	// until TTL eviction.
	mgr.Put(&types.OrderBook{
		Venue:      types.VenuePredict,
		TokenID:    "m-yes",
		Bids:       []types.Level{{Price: 0.42, Size: 100}},
		Asks:       []types.Level{{Price: 0.55, Size: 80}},
		Source:     types.SourceWS,
		IngestedAt: time.Now().Add(-time.Minute),
	})
	s.scanMarket("mkt-1")

	assert.Len(t, s.Snapshot(), 4)
	assert.Empty(t, drainUpdates(s))
	assert.Empty(t, drainRemovals(s))
}

func TestInconsistentBooksSuppressMarket(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	require.Len(t, s.Snapshot(), 4)
	drainUpdates(s)

	// Both hedge asks collapse so both sides look profitable at once:
	// 0.42+0.05 + 0.45+0.05 = 0.97 < 1.
	putBook(mgr, types.VenuePolymarket, "h-no",
		[]types.Level{{Price: 0.04, Size: 40}},
		[]types.Level{{Price: 0.05, Size: 150}})
	putBook(mgr, types.VenuePolymarket, "h-yes",
		[]types.Level{{Price: 0.04, Size: 40}},
		[]types.Level{{Price: 0.05, Size: 60}})
	s.scanMarket("mkt-1")

	assert.Empty(t, s.Snapshot())
	assert.Empty(t, drainUpdates(s))
	assert.Len(t, drainRemovals(s), 4)

	// Fresh scan on inconsistent books creates nothing either.
	s.scanMarket("mkt-1")
	assert.Empty(t, s.Snapshot())
}

func TestEvictExpired(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 30*time.Millisecond)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	require.Len(t, s.Snapshot(), 4)
	drainUpdates(s)

	time.Sleep(100 * time.Millisecond)
	s.evictExpired()

	assert.Empty(t, s.Snapshot())
	assert.Len(t, drainRemovals(s), 4)
	assert.Empty(t, s.ActiveMarkets())
}

func TestSetPairsDropsRemovedMarkets(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	s.scanMarket("mkt-1")
	require.Len(t, s.Snapshot(), 4)
	require.Equal(t, []string{"mkt-1"}, s.ActiveMarkets())
	drainUpdates(s)

	require.NoError(t, s.SetPairs(context.Background(), nil))

	assert.Empty(t, s.Snapshot())
	assert.Len(t, drainRemovals(s), 4)
	s.scanMarket("mkt-1")
	assert.Empty(t, s.Snapshot())
}

func TestEventDrivenRecompute(t *testing.T) {
	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	s := New(&Config{
		Logger:   zap.NewNop(),
		Books:    mgr,
		Throttle: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = s.Close()
		_ = mgr.Close()
	})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{testPair()}))

	// WS puts mark the market dirty; the loop picks it up.
	seedBooks(mgr)

	require.Eventually(t, func() bool {
		return len(s.Snapshot()) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestComplementQuote(t *testing.T) {
	tests := []struct {
		name string
		yes  sideQuote
		want sideQuote
	}{
		{
			name: "full-book",
			yes: sideQuote{
				bid: types.Level{Price: 0.42, Size: 100}, hasBid: true,
				ask: types.Level{Price: 0.55, Size: 80}, hasAsk: true,
			},
			want: sideQuote{
				bid: types.Level{Price: 0.45, Size: 80}, hasBid: true,
				ask: types.Level{Price: 0.58, Size: 100}, hasAsk: true,
			},
		},
		{
			name: "bid-only",
			yes: sideQuote{
				bid: types.Level{Price: 0.42, Size: 100}, hasBid: true,
			},
			want: sideQuote{
				ask: types.Level{Price: 0.58, Size: 100}, hasAsk: true,
			},
		},
		{
			name: "empty",
			yes:  sideQuote{},
			want: sideQuote{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := complementQuote(tt.yes)
			assert.Equal(t, tt.want.hasBid, got.hasBid)
			assert.Equal(t, tt.want.hasAsk, got.hasAsk)
			if tt.want.hasBid {
				assert.InDelta(t, tt.want.bid.Price, got.bid.Price, 1e-9)
				assert.InDelta(t, tt.want.bid.Size, got.bid.Size, 1e-9)
			}
			if tt.want.hasAsk {
				assert.InDelta(t, tt.want.ask.Price, got.ask.Price, 1e-9)
				assert.InDelta(t, tt.want.ask.Size, got.ask.Size, 1e-9)
			}
		})
	}
}

func TestInvertedPairRoutesHedgeTokens(t *testing.T) {
	s, mgr, _ := newTestScanner(t, 0)

	pair := testPair()
	pair.Inverted = true
	seedBooks(mgr)
	require.NoError(t, s.SetPairs(context.Background(), []*types.MarketPair{pair}))

	s.scanMarket("mkt-1")

	combos := bySide(s.Snapshot())
	// Inverted: maker YES hedges with the hedge venue's YES token.
	ym := combos["YES/MAKER"]
	require.NotNil(t, ym)
	assert.Equal(t, "h-yes", ym.HedgeToken)
	assert.InDelta(t, 0.30, ym.HedgePrice, 1e-9)

	nm := combos["NO/MAKER"]
	require.NotNil(t, nm)
	assert.Equal(t, "h-no", nm.HedgeToken)
	assert.InDelta(t, 0.28, nm.HedgePrice, 1e-9)
}
