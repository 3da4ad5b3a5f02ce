package polymarket

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

// marketEvent is a frame on the venue's market channel. The stream
// interleaves full "book" snapshots with "price_change" deltas and
// occasional tick_size_change events.
type marketEvent struct {
	EventType string             `json:"event_type"`
	AssetID   string             `json:"asset_id"`
	Market    string             `json:"market"`
	Bids      []types.PriceLevel `json:"bids,omitempty"`
	Asks      []types.PriceLevel `json:"asks,omitempty"`
	Changes   []priceChange      `json:"changes,omitempty"`
	PriceChg  []assetChanges     `json:"price_changes,omitempty"`
	NewTick   string             `json:"new_tick_size,omitempty"`
}

type priceChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

// assetChanges is the batched price_change shape carrying changes for
// several assets in one frame.
type assetChanges struct {
	AssetID string        `json:"asset_id"`
	Changes []priceChange `json:"changes"`
}

// BookFeedConfig holds hedge book feed configuration.
type BookFeedConfig struct {
	WS         websocket.Config
	BufferSize int
	Logger     *zap.Logger

	// OnTickChange fires when the venue announces a new tick size for
	// a token; wired to the metadata cache.
	OnTickChange func(tokenID string, tick float64)
}

// BookFeed maintains full hedge venue books from the market channel.
type BookFeed struct {
	conn         *websocket.Conn
	logger       *zap.Logger
	onTickChange func(string, float64)

	mu     sync.Mutex
	tokens map[string]bool
	state  map[string]*types.OrderBook

	updates chan *types.OrderBook
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBookFeed creates the hedge book feed.
func NewBookFeed(cfg *BookFeedConfig) *BookFeed {
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &BookFeed{
		logger:       cfg.Logger.Named("polymarket-books"),
		onTickChange: cfg.OnTickChange,
		tokens:       make(map[string]bool),
		state:        make(map[string]*types.OrderBook),
		updates:      make(chan *types.OrderBook, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
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
		return fmt.Errorf("start hedge book feed: %w", err)
	}

	f.wg.Add(1)
	go f.loop()

	return nil
}

// Subscribe adds tokens to the market channel. The venue distinguishes
// the initial subscription payload from dynamic additions.
func (f *BookFeed) Subscribe(ctx context.Context, tokenIDs []string) error {
	f.mu.Lock()
	newTokens := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if !f.tokens[id] {
			f.tokens[id] = true
			newTokens = append(newTokens, id)
		}
	}
	initial := len(f.tokens) == len(newTokens)
	f.mu.Unlock()

	if len(newTokens) == 0 {
		return nil
	}

	var msg map[string]any
	if initial {
		msg = map[string]any{"assets_ids": newTokens, "type": "market"}
	} else {
		msg = map[string]any{"assets_ids": newTokens, "operation": "subscribe"}
	}

	err := f.conn.WriteJSON(msg)
	if err != nil {
		f.mu.Lock()
		for _, id := range newTokens {
			delete(f.tokens, id)
		}
		f.mu.Unlock()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.logger.Info("subscribed-to-hedge-tokens", zap.Int("new", len(newTokens)))

	return nil
}

// replaySubscriptions re-sends the full token set after a (re)connect
// and invalidates book state accumulated before the outage.
func (f *BookFeed) replaySubscriptions(ctx context.Context, c *websocket.Conn) error {
	f.mu.Lock()
	tokens := make([]string, 0, len(f.tokens))
	for id := range f.tokens {
		tokens = append(tokens, id)
	}
	f.state = make(map[string]*types.OrderBook)
	f.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	err := c.WriteJSON(map[string]any{"assets_ids": tokens, "type": "market"})
	if err != nil {
		return fmt.Errorf("replay subscribe: %w", err)
	}

	f.logger.Info("resubscribed-to-hedge-tokens", zap.Int("count", len(tokens)))

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

// handleFrame decodes one frame. The venue sends both single events
// and arrays of events.
func (f *BookFeed) handleFrame(frame []byte) {
	if len(frame) > 0 && frame[0] == '[' {
		var events []marketEvent
		if err := json.Unmarshal(frame, &events); err != nil {
			f.logger.Debug("unparseable-frame", zap.Int("bytes", len(frame)))
			return
		}
		for i := range events {
			f.handleEvent(&events[i])
		}
		return
	}

	var event marketEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		f.logger.Debug("unparseable-frame", zap.Int("bytes", len(frame)))
		return
	}
	f.handleEvent(&event)
}

func (f *BookFeed) handleEvent(ev *marketEvent) {
	bookEventsTotal.WithLabelValues(ev.EventType).Inc()

	switch ev.EventType {
	case "book":
		f.emit(f.applySnapshot(ev))

	case "price_change":
		if len(ev.PriceChg) > 0 {
			for _, ac := range ev.PriceChg {
				f.emit(f.applyChanges(ac.AssetID, ac.Changes))
			}
			return
		}
		f.emit(f.applyChanges(ev.AssetID, ev.Changes))

	case "tick_size_change":
		if f.onTickChange == nil {
			return
		}
		var tick float64
		fmt.Sscanf(ev.NewTick, "%f", &tick)
		if tick > 0 {
			f.onTickChange(ev.AssetID, tick)
		}
	}
}

func (f *BookFeed) applySnapshot(ev *marketEvent) *types.OrderBook {
	if ev.AssetID == "" {
		return nil
	}

	book := &types.OrderBook{
		Venue:      types.VenuePolymarket,
		TokenID:    ev.AssetID,
		Bids:       parseLevels(ev.Bids),
		Asks:       parseLevels(ev.Asks),
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	}
	book.Normalize()

	f.mu.Lock()
	f.state[ev.AssetID] = book
	f.mu.Unlock()

	return book.Clone()
}

// applyChanges folds per-level deltas into the live book. A change
// before any snapshot is dropped; the venue re-snapshots on resubscribe.
func (f *BookFeed) applyChanges(assetID string, changes []priceChange) *types.OrderBook {
	if assetID == "" || len(changes) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	book, ok := f.state[assetID]
	if !ok {
		return nil
	}

	for _, ch := range changes {
		lvl := types.PriceLevel{Price: ch.Price, Size: ch.Size}.Parse()
		if lvl.Price == 0 {
			continue
		}
		switch ch.Side {
		case "BUY", "buy", "BID", "bid":
			book.Bids = setLevel(book.Bids, lvl)
		case "SELL", "sell", "ASK", "ask":
			book.Asks = setLevel(book.Asks, lvl)
		}
	}

	book.IngestedAt = time.Now()
	book.Normalize()

	return book.Clone()
}

func (f *BookFeed) emit(book *types.OrderBook) {
	if book == nil {
		return
	}
	select {
	case f.updates <- book:
	default:
		f.logger.Warn("updates-channel-full", zap.String("token", book.TokenID))
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

// setLevel replaces or removes one price level; size zero removes.
func setLevel(levels []types.Level, lvl types.Level) []types.Level {
	for i := range levels {
		if levels[i].Price == lvl.Price {
			if lvl.Size == 0 {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = lvl.Size
			return levels
		}
	}
	if lvl.Size == 0 {
		return levels
	}
	return append(levels, lvl)
}
