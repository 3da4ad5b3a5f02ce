package dashboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

func newBridgeHub(t *testing.T) *Hub {
	t.Helper()
	h := New(&Config{
		Logger:        zap.NewNop(),
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, h.Close()) })
	return h
}

func newBridgeStore(t *testing.T) *tasks.Store {
	t.Helper()
	store, err := tasks.New(&tasks.Config{
		Logger: zap.NewNop(),
		Path:   filepath.Join(t.TempDir(), "tasks.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createBridgeTask(t *testing.T, store *tasks.Store) *tasks.Task {
	t.Helper()
	task, err := store.Create(tasks.CreateInput{
		MarketID:     "mkt-lakers",
		Title:        "Will the Lakers win?",
		Type:         types.SideBuy,
		Strategy:     types.StrategyMaker,
		ArbSide:      types.OutcomeYes,
		MakerToken:   "m-yes",
		HedgeToken:   "h-no",
		Quantity:     25,
		PredictPrice: 0.42,
		HedgeMaxAsk:  0.56,
	})
	require.NoError(t, err)
	return task
}

// collectFrames reads until done reports satisfaction or the deadline
// passes, returning the latest frame per channel.
func collectFrames(t *testing.T, c *Client, done func(map[string]Event) bool) map[string]Event {
	t.Helper()

	latest := make(map[string]Event)
	deadline := time.After(2 * time.Second)
	for {
		if done(latest) {
			return latest
		}
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "client stream closed")
			latest[ev.Channel] = ev
		case <-deadline:
			t.Fatalf("timed out, channels seen: %v", keysOf(latest))
			return nil
		}
	}
}

func keysOf(m map[string]Event) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestTasksChannelFollowsStoreEvents(t *testing.T) {
	hub := newBridgeHub(t)
	store := newBridgeStore(t)

	b := NewBridge(&BridgeConfig{
		Logger: zap.NewNop(),
		Hub:    hub,
		Store:  store,
	})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	c := hub.Subscribe()
	task := createBridgeTask(t, store)

	frames := collectFrames(t, c, func(latest map[string]Event) bool {
		_, ok := latest[ChannelTasks]
		return ok
	})

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[ChannelTasks].Payload, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, task.ID, rows[0]["id"])
	assert.Equal(t, "mkt-lakers", rows[0]["marketId"])
}

func TestStatsAndMarketsPublishOnInterval(t *testing.T) {
	hub := newBridgeHub(t)
	store := newBridgeStore(t)
	createBridgeTask(t, store)

	pairs := []*types.MarketPair{
		{
			MakerMarketID: "mkt-lakers",
			MakerTitle:    "Will the Lakers win?",
			MakerSlug:     "lakers-vs-celtics",
			ConditionID:   "0xcond",
			Method:        types.MatchBySlug,
		},
		{
			MakerMarketID: "mkt-fed",
			MakerTitle:    "Fed cuts rates in September?",
			ConditionID:   "0xfed",
			Method:        types.MatchByCondition,
		},
	}

	b := NewBridge(&BridgeConfig{
		Logger:        zap.NewNop(),
		Hub:           hub,
		Store:         store,
		Pairs:         func() []*types.MarketPair { return pairs },
		StatsInterval: 10 * time.Millisecond,
	})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	c := hub.Subscribe()
	frames := collectFrames(t, c, func(latest map[string]Event) bool {
		for _, ch := range []string{ChannelStats, ChannelMarkets, ChannelSports} {
			if _, ok := latest[ch]; !ok {
				return false
			}
		}
		return true
	})

	var stats statsPayload
	require.NoError(t, json.Unmarshal(frames[ChannelStats].Payload, &stats))
	assert.Equal(t, 1, stats.TotalTasks)
	assert.Equal(t, 1, stats.ActiveTasks)

	var markets []marketRow
	require.NoError(t, json.Unmarshal(frames[ChannelMarkets].Payload, &markets))
	require.Len(t, markets, 2)
	assert.Equal(t, "mkt-fed", markets[0].MarketID)
	assert.Equal(t, "mkt-lakers", markets[1].MarketID)

	var sports []marketRow
	require.NoError(t, json.Unmarshal(frames[ChannelSports].Payload, &sports))
	require.Len(t, sports, 1)
	assert.Equal(t, "mkt-lakers", sports[0].MarketID)
	assert.Equal(t, types.MatchBySlug, sports[0].Method)
}

func TestOpportunityChannelTracksScanner(t *testing.T) {
	hub := newBridgeHub(t)

	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	sc := scanner.New(&scanner.Config{
		Logger:   zap.NewNop(),
		Books:    mgr,
		Throttle: 5 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = sc.Close()
		_ = mgr.Close()
	})
	require.NoError(t, sc.Start(context.Background()))
	require.NoError(t, sc.SetPairs(context.Background(), []*types.MarketPair{{
		MakerMarketID: "mkt-1",
		MakerTitle:    "Will the Lakers win?",
		MakerYesToken: "m-yes",
		MakerNoToken:  "m-no",
		TickSize:      0.01,
		ConditionID:   "0xcond",
		HedgeYesToken: "h-yes",
		HedgeNoToken:  "h-no",
		Method:        types.MatchByCondition,
	}}))

	b := NewBridge(&BridgeConfig{
		Logger:  zap.NewNop(),
		Hub:     hub,
		Scanner: sc,
	})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { require.NoError(t, b.Close()) })

	c := hub.Subscribe()

	put := func(token string, venue types.Venue, bid, ask types.Level) {
		mgr.Put(&types.OrderBook{
			Venue:      venue,
			TokenID:    token,
			Bids:       []types.Level{bid},
			Asks:       []types.Level{ask},
			Source:     types.SourceWS,
			IngestedAt: time.Now(),
		})
	}

	// Profitable books: maker YES bid 0.42 hedged by NO asks at 0.28.
	put("m-yes", types.VenuePredict, types.Level{Price: 0.42, Size: 100}, types.Level{Price: 0.55, Size: 80})
	put("h-no", types.VenuePolymarket, types.Level{Price: 0.26, Size: 40}, types.Level{Price: 0.28, Size: 150})
	put("h-yes", types.VenuePolymarket, types.Level{Price: 0.27, Size: 40}, types.Level{Price: 0.30, Size: 60})

	frames := collectFrames(t, c, func(latest map[string]Event) bool {
		ev, ok := latest[ChannelOpportunity]
		if !ok {
			return false
		}
		var opps []map[string]interface{}
		if err := json.Unmarshal(ev.Payload, &opps); err != nil {
			return false
		}
		return len(opps) > 0
	})

	var opps []map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[ChannelOpportunity].Payload, &opps))
	assert.NotEmpty(t, opps)

	// Hedge asks through the ceiling kill every combination; the keys
	// surface on the close channel and the live set empties.
	put("m-yes", types.VenuePredict, types.Level{Price: 0.48, Size: 100}, types.Level{Price: 0.52, Size: 80})
	put("h-no", types.VenuePolymarket, types.Level{Price: 0.55, Size: 40}, types.Level{Price: 0.60, Size: 150})
	put("h-yes", types.VenuePolymarket, types.Level{Price: 0.60, Size: 40}, types.Level{Price: 0.65, Size: 60})

	frames = collectFrames(t, c, func(latest map[string]Event) bool {
		closeEv, ok := latest[ChannelCloseOpportunities]
		if !ok {
			return false
		}
		var closed []closedOpportunity
		if err := json.Unmarshal(closeEv.Payload, &closed); err != nil {
			return false
		}
		oppEv, ok := latest[ChannelOpportunity]
		if !ok {
			return false
		}
		var opps []map[string]interface{}
		if err := json.Unmarshal(oppEv.Payload, &opps); err != nil {
			return false
		}
		return len(closed) > 0 && len(opps) == 0
	})

	var closed []closedOpportunity
	require.NoError(t, json.Unmarshal(frames[ChannelCloseOpportunities].Payload, &closed))
	assert.NotEmpty(t, closed)
	assert.False(t, closed[0].At.IsZero())
}
