package predict

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
	"github.com/mselser95/crossarb/pkg/websocket"
)

// wsEnvelope is the common frame shape on the maker venue WS.
type wsEnvelope struct {
	Channel   string             `json:"channel"`
	Type      string             `json:"type"`
	MarketID  string             `json:"marketId,omitempty"`
	TokenID   string             `json:"tokenId,omitempty"`
	Bids      []types.PriceLevel `json:"bids,omitempty"`
	Asks      []types.PriceLevel `json:"asks,omitempty"`
	Timestamp string             `json:"timestamp,omitempty"`
}

// BookFeedConfig holds maker book feed configuration.
type BookFeedConfig struct {
	WS websocket.Config

	// Resolve maps a token id to its market id; the venue subscribes
	// by market but delivers per-token payloads.
	Resolve func(tokenID string) (string, bool)

	BufferSize int
	Logger     *zap.Logger
}

// BookFeed maintains full books from the venue's snapshot+delta
// stream and emits a fresh copy per update.
type BookFeed struct {
	conn    *websocket.Conn
	resolve func(string) (string, bool)
	logger  *zap.Logger

	mu      sync.Mutex
	markets map[string]bool
	state   map[string]*types.OrderBook // tokenID -> live book

	updates chan *types.OrderBook
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBookFeed creates the maker book feed.
func NewBookFeed(cfg *BookFeedConfig) *BookFeed {
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &BookFeed{
		resolve: cfg.Resolve,
		logger:  cfg.Logger.Named("predict-books"),
		markets: make(map[string]bool),
		state:   make(map[string]*types.OrderBook),
		updates: make(chan *types.OrderBook, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	wsCfg := cfg.WS
	wsCfg.Logger = f.logger
	wsCfg.OnConnect = f.replaySubscriptions
	f.conn = websocket.New(wsCfg)

	return f
}

// Start dials and begins decoding frames.
func (f *BookFeed) Start(ctx context.Context) error {
	err := f.conn.Start()
	if err != nil {
		return fmt.Errorf("start book feed: %w", err)
	}

	f.wg.Add(1)
	go f.loop()

	return nil
}

// Subscribe adds tokens to the stream. Unknown tokens (not yet in the
// market index) are reported as an error so callers can refresh
// markets first.
func (f *BookFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	newMarkets := make([]string, 0, len(tokenIDs))

	f.mu.Lock()
	for _, tokenID := range tokenIDs {
		marketID, ok := f.resolve(tokenID)
		if !ok {
			f.mu.Unlock()
			return fmt.Errorf("subscribe: unknown token %s", tokenID)
		}
		if !f.markets[marketID] {
			f.markets[marketID] = true
			newMarkets = append(newMarkets, marketID)
		}
	}
	f.mu.Unlock()

	if len(newMarkets) == 0 {
		return nil
	}

	err := f.conn.WriteJSON(map[string]any{
		"op":        "subscribe",
		"channel":   "orderbook",
		"marketIds": newMarkets,
	})
	if err != nil {
		// Roll back so a later Subscribe retries these markets.
		f.mu.Lock()
		for _, m := range newMarkets {
			delete(f.markets, m)
		}
		f.mu.Unlock()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.logger.Info("subscribed-to-markets", zap.Int("new", len(newMarkets)))

	return nil
}

// replaySubscriptions re-sends the full subscription set after a
// (re)connect.
func (f *BookFeed) replaySubscriptions(ctx context.Context, c *websocket.Conn) error {
	f.mu.Lock()
	markets := make([]string, 0, len(f.markets))
	for m := range f.markets {
		markets = append(markets, m)
	}
	// Book state is stale across a disconnect; drop it so deltas never
	// apply to a pre-outage book.
	f.state = make(map[string]*types.OrderBook)
	f.mu.Unlock()

	if len(markets) == 0 {
		return nil
	}

	err := c.WriteJSON(map[string]any{
		"op":        "subscribe",
		"channel":   "orderbook",
		"marketIds": markets,
	})
	if err != nil {
		return fmt.Errorf("replay subscribe: %w", err)
	}

	f.logger.Info("resubscribed-to-markets", zap.Int("count", len(markets)))

	return nil
}

func (f *BookFeed) loop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		case frame, ok := <-f.conn.Frames():
			if !ok {
				return
			}
			f.handleFrame(frame)
		}
	}
}

func (f *BookFeed) handleFrame(frame []byte) {
	var env wsEnvelope
	err := json.Unmarshal(frame, &env)
	if err != nil {
		f.logger.Debug("unparseable-frame", zap.Int("bytes", len(frame)))
		return
	}

	if env.Channel != "orderbook" || env.TokenID == "" {
		return
	}

	bookUpdatesTotal.WithLabelValues(env.Type).Inc()

	book := f.applyMessage(&env)
	if book == nil {
		return
	}

	select {
	case f.updates <- book:
	default:
		f.logger.Warn("updates-channel-full", zap.String("token", env.TokenID))
	}
}

// applyMessage folds a snapshot or delta into per-token state and
// returns a copy for downstream consumers.
func (f *BookFeed) applyMessage(env *wsEnvelope) *types.OrderBook {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	switch env.Type {
	case "snapshot":
		book := &types.OrderBook{
			Venue:      types.VenuePredict,
			TokenID:    env.TokenID,
			Bids:       parseLevels(env.Bids),
			Asks:       parseLevels(env.Asks),
			Source:     types.SourceWS,
			IngestedAt: now,
		}
		book.Normalize()
		f.state[env.TokenID] = book
		return book.Clone()

	case "delta":
		book, ok := f.state[env.TokenID]
		if !ok {
			// Delta before snapshot: happens right after subscribe
			// races; ignore until the snapshot lands.
			return nil
		}
		book.Bids = mergeLevels(book.Bids, env.Bids)
		book.Asks = mergeLevels(book.Asks, env.Asks)
		book.IngestedAt = now
		book.Normalize()
		return book.Clone()

	default:
		return nil
	}
}

// Updates returns the decoded book stream, Source=ws.
func (f *BookFeed) Updates() <-chan *types.OrderBook {
	return f.updates
}

// Connected reports socket health.
func (f *BookFeed) Connected() bool {
	return f.conn.Connected()
}

// LastMessageAt reports the most recent frame arrival.
func (f *BookFeed) LastMessageAt() time.Time {
	return f.conn.LastMessageAt()
}

// Close stops the feed.
func (f *BookFeed) Close() error {
	f.cancel()
	err := f.conn.Close()
	f.wg.Wait()
	close(f.updates)
	return err
}

func parseLevels(wire []types.PriceLevel) []types.Level {
	out := make([]types.Level, 0, len(wire))
	for _, l := range wire {
		out = append(out, l.Parse())
	}
	return out
}

// mergeLevels applies delta levels: size zero removes the price level,
// anything else replaces it.
func mergeLevels(existing []types.Level, deltas []types.PriceLevel) []types.Level {
	if len(deltas) == 0 {
		return existing
	}

	byPrice := make(map[float64]float64, len(existing))
	for _, l := range existing {
		byPrice[l.Price] = l.Size
	}
	for _, d := range deltas {
		lvl := d.Parse()
		if lvl.Price == 0 {
			continue
		}
		if lvl.Size == 0 {
			delete(byPrice, lvl.Price)
			continue
		}
		byPrice[lvl.Price] = lvl.Size
	}

	out := make([]types.Level, 0, len(byPrice))
	for price, size := range byPrice {
		out = append(out, types.Level{Price: price, Size: size})
	}
	return out
}
