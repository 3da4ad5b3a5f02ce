package books

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/pkg/types"
)

type fakeFeed struct {
	mu         sync.Mutex
	subscribed []string
	updates    chan *types.OrderBook
	connected  bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{updates: make(chan *types.OrderBook, 16), connected: true}
}

func (f *fakeFeed) Start(ctx context.Context) error { return nil }

func (f *fakeFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, tokenIDs...)
	return nil
}

func (f *fakeFeed) Updates() <-chan *types.OrderBook { return f.updates }

func (f *fakeFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) setConnected(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = up
}

func (f *fakeFeed) Close() error { return nil }

func (f *fakeFeed) subscribedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

type fakeGetter struct {
	mu    sync.Mutex
	calls int
	book  *types.OrderBook
}

func (g *fakeGetter) GetBook(ctx context.Context, tokenID string) (*types.OrderBook, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	book := *g.book
	book.TokenID = tokenID
	return &book, nil
}

func (g *fakeGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func wsBook(token string, at time.Time) *types.OrderBook {
	return &types.OrderBook{
		Venue:      types.VenuePredict,
		TokenID:    token,
		Bids:       []types.Level{{Price: 0.40, Size: 100}},
		Asks:       []types.Level{{Price: 0.60, Size: 100}},
		Source:     types.SourceWS,
		IngestedAt: at,
	}
}

func restBook(token string, at time.Time) *types.OrderBook {
	b := wsBook(token, at)
	b.Source = types.SourceREST
	return b
}

func newTestManager(t *testing.T, cfg *Config) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = zap.NewNop()
	m := New(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestPutAndGetSync(t *testing.T) {
	m := newTestManager(t, nil)

	stored := m.Put(wsBook("tok-1", time.Now()))
	require.True(t, stored)

	book, ok := m.GetSync(types.VenuePredict, "tok-1")
	require.True(t, ok)
	assert.Equal(t, "tok-1", book.TokenID)

	// Returned copy must not alias the cached entry.
	book.Bids[0].Size = 1
	again, _ := m.GetSync(types.VenuePredict, "tok-1")
	assert.InDelta(t, 100, again.Bids[0].Size, 1e-9)
}

func TestSourcePrecedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		existing *types.OrderBook
		incoming *types.OrderBook
		want     bool
	}{
		{
			name:     "ws-replaces-ws",
			existing: wsBook("t", now),
			incoming: wsBook("t", now.Add(time.Second)),
			want:     true,
		},
		{
			name:     "ws-replaces-rest",
			existing: restBook("t", now),
			incoming: wsBook("t", now.Add(-time.Minute)),
			want:     true,
		},
		{
			name:     "rest-never-displaces-newer-ws",
			existing: wsBook("t", now),
			incoming: restBook("t", now.Add(-time.Second)),
			want:     false,
		},
		{
			name:     "rest-refreshes-older-ws",
			existing: wsBook("t", now.Add(-time.Minute)),
			incoming: restBook("t", now),
			want:     true,
		},
		{
			name:     "rest-keeps-newest",
			existing: restBook("t", now),
			incoming: restBook("t", now.Add(-time.Second)),
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, supersedes(tt.existing, tt.incoming))
		})
	}
}

func TestPutKeepsNewerWSEntry(t *testing.T) {
	m := newTestManager(t, nil)

	now := time.Now()
	require.True(t, m.Put(wsBook("tok-1", now)))
	require.False(t, m.Put(restBook("tok-1", now.Add(-time.Second))))

	book, ok := m.GetSync(types.VenuePredict, "tok-1")
	require.True(t, ok)
	assert.Equal(t, types.SourceWS, book.Source)
}

func TestGetBlocksUntilFresh(t *testing.T) {
	m := newTestManager(t, nil)

	done := make(chan *types.OrderBook, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		book, err := m.Get(ctx, types.VenuePredict, "tok-1", 10*time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- book
	}()

	time.Sleep(20 * time.Millisecond)
	m.Put(wsBook("tok-1", time.Now()))

	select {
	case book := <-done:
		require.NotNil(t, book)
		assert.Equal(t, "tok-1", book.TokenID)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not unblock on Put")
	}
}

func TestGetTimeoutDistinguishesStaleFromMissing(t *testing.T) {
	m := newTestManager(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := m.Get(ctx, types.VenuePredict, "tok-absent", 10*time.Second)
	assert.ErrorIs(t, err, types.ErrBookMissing)

	m.Put(wsBook("tok-old", time.Now().Add(-time.Minute)))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	_, err = m.Get(ctx2, types.VenuePredict, "tok-old", 10*time.Second)
	assert.ErrorIs(t, err, types.ErrBookStale)
}

func TestOnUpdateFiresOnlyForWS(t *testing.T) {
	m := newTestManager(t, nil)

	var mu sync.Mutex
	var seen []string
	m.OnUpdate(func(tokenID string, book *types.OrderBook) {
		mu.Lock()
		seen = append(seen, tokenID)
		mu.Unlock()
	})

	m.Put(restBook("tok-rest", time.Now()))
	m.Put(wsBook("tok-ws", time.Now()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tok-ws"}, seen)
}

func TestSubscribeWarmsAndFeeds(t *testing.T) {
	feed := newFakeFeed()
	getter := &fakeGetter{book: restBook("", time.Now())}

	m := newTestManager(t, &Config{
		Feeds: map[types.Venue]venue.BookFeed{types.VenuePredict: feed},
		REST:  map[types.Venue]venue.BookGetter{types.VenuePredict: getter},
	})
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Subscribe(context.Background(), types.VenuePredict, []string{"tok-1", "tok-2"}))
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, feed.subscribedTokens())

	assert.Eventually(t, func() bool {
		_, ok1 := m.GetSync(types.VenuePredict, "tok-1")
		_, ok2 := m.GetSync(types.VenuePredict, "tok-2")
		return ok1 && ok2
	}, 2*time.Second, 10*time.Millisecond, "warm fetches must populate the cache")

	// Re-subscribing already-known tokens is a no-op.
	before := getter.callCount()
	require.NoError(t, m.Subscribe(context.Background(), types.VenuePredict, []string{"tok-1"}))
	assert.Equal(t, before, getter.callCount())
	assert.Len(t, feed.subscribedTokens(), 2)
}

func TestPumpStoresFeedUpdates(t *testing.T) {
	feed := newFakeFeed()
	m := newTestManager(t, &Config{
		Feeds: map[types.Venue]venue.BookFeed{types.VenuePredict: feed},
	})
	require.NoError(t, m.Start(context.Background()))

	feed.updates <- wsBook("tok-1", time.Now())

	assert.Eventually(t, func() bool {
		_, ok := m.GetSync(types.VenuePredict, "tok-1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHybridPollRefreshesWhileDisconnected(t *testing.T) {
	feed := newFakeFeed()
	feed.setConnected(false)
	getter := &fakeGetter{book: restBook("", time.Now())}

	m := newTestManager(t, &Config{
		Feeds:               map[types.Venue]venue.BookFeed{types.VenuePredict: feed},
		REST:                map[types.Venue]venue.BookGetter{types.VenuePredict: getter},
		HealthCheckInterval: 20 * time.Millisecond,
		HybridPoll:          true,
	})
	require.NoError(t, m.Start(context.Background()))

	// Seed subscription without triggering a warm (entry already present).
	m.Put(restBook("tok-1", time.Now()))
	require.NoError(t, m.Subscribe(context.Background(), types.VenuePredict, []string{"tok-1"}))
	baseline := getter.callCount()

	assert.Eventually(t, func() bool {
		return getter.callCount() > baseline
	}, 2*time.Second, 10*time.Millisecond, "hybrid poll must hit REST while WS is down")

	// Reconnect stops the polling.
	feed.setConnected(true)
	time.Sleep(60 * time.Millisecond)
	settled := getter.callCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, getter.callCount())
}

func TestRestOnlyVenuePollsEverySweep(t *testing.T) {
	getter := &fakeGetter{book: restBook("", time.Now())}

	m := newTestManager(t, &Config{
		REST:                map[types.Venue]venue.BookGetter{types.VenuePredict: getter},
		HealthCheckInterval: 20 * time.Millisecond,
		HybridPoll:          true,
	})
	require.NoError(t, m.Start(context.Background()))

	m.Put(restBook("tok-1", time.Now()))
	require.NoError(t, m.Subscribe(context.Background(), types.VenuePredict, []string{"tok-1"}))
	baseline := getter.callCount()

	// No feed for the venue: every sweep refreshes over REST.
	assert.Eventually(t, func() bool {
		return getter.callCount() >= baseline+3
	}, 2*time.Second, 10*time.Millisecond, "rest-only venue must keep polling")
}

func TestAllReturnsVenueEntries(t *testing.T) {
	m := newTestManager(t, nil)

	m.Put(wsBook("tok-1", time.Now()))
	hedge := wsBook("tok-2", time.Now())
	hedge.Venue = types.VenuePolymarket
	m.Put(hedge)

	predict := m.All(types.VenuePredict)
	require.Len(t, predict, 1)
	assert.Contains(t, predict, "tok-1")
}
