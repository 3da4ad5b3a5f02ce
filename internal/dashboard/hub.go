// Package dashboard is the UI event hub. Snapshot channels coalesce to
// the latest payload and flush on a fixed cadence; lifecycle events
// pass through unconditionally. Oversized opportunity payloads are
// paginated, and a consumer that cannot drain its buffer inside the
// configured grace is disconnected.
package dashboard

import (
	"context"
	"reflect"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot channel names. Publishes coalesce per channel between
// flushes.
const (
	ChannelOpportunity        = "opportunity"
	ChannelStats              = "stats"
	ChannelMarkets            = "markets"
	ChannelTasks              = "tasks"
	ChannelSports             = "sports"
	ChannelCloseOpportunities = "closeOpportunities"
	ChannelAccounts           = "accounts"
)

// Lifecycle event names. Every emit reaches every client.
const (
	EventTask          = "taskEvent"
	EventChainFill     = "bscOrderFilled"
	EventExposureAlert = "exposureAlert"
)

// Event is one named frame delivered to dashboard clients.
type Event struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// batchPayload wraps one page of a paginated snapshot.
type batchPayload struct {
	Page  int         `json:"page"`
	Pages int         `json:"pages"`
	Items interface{} `json:"items"`
}

// Client is one connected dashboard consumer.
type Client struct {
	id      string
	ch      chan Event
	strikes int
	hub     *Hub
}

// ID returns the client's identity, used in logs.
func (c *Client) ID() string {
	return c.id
}

// Events returns the client's frame stream. The hub closes it on
// disconnect.
func (c *Client) Events() <-chan Event {
	return c.ch
}

// Close detaches the client from the hub.
func (c *Client) Close() {
	c.hub.unsubscribe(c)
}

// Config holds hub configuration.
type Config struct {
	Logger *zap.Logger

	// FlushInterval is the coalescing cadence.
	FlushInterval time.Duration

	// DrainTimeout bounds one delivery attempt against a full client
	// buffer; MaxTimeoutCount consecutive timeouts disconnect the
	// client.
	DrainTimeout    time.Duration
	MaxTimeoutCount int

	// ClientBuffer sizes each client's frame channel.
	ClientBuffer int

	// BatchSize is the pagination threshold for opportunity payloads.
	BatchSize int
}

// Hub fans events out to dashboard clients.
type Hub struct {
	logger *zap.Logger

	flushEvery time.Duration
	drain      time.Duration
	maxStrikes int
	clientBuf  int
	batchSize  int

	mu     sync.Mutex
	latest map[string]interface{}
	dirty  map[string]struct{}

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	events chan Event
	unsub  chan *Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the hub.
func New(cfg *Config) *Hub {
	flushEvery := cfg.FlushInterval
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = 500 * time.Millisecond
	}
	maxStrikes := cfg.MaxTimeoutCount
	if maxStrikes <= 0 {
		maxStrikes = 3
	}
	clientBuf := cfg.ClientBuffer
	if clientBuf <= 0 {
		clientBuf = 64
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		logger:     cfg.Logger.Named("dashboard"),
		flushEvery: flushEvery,
		drain:      drain,
		maxStrikes: maxStrikes,
		clientBuf:  clientBuf,
		batchSize:  batchSize,
		latest:     make(map[string]interface{}),
		dirty:      make(map[string]struct{}),
		clients:    make(map[*Client]struct{}),
		events:     make(chan Event, 256),
		unsub:      make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the flush loop.
func (h *Hub) Start(ctx context.Context) error {
	h.wg.Add(1)
	go h.loop()

	h.logger.Info("dashboard-hub-started",
		zap.Duration("flush-interval", h.flushEvery),
		zap.Duration("drain-timeout", h.drain),
		zap.Int("max-timeout-count", h.maxStrikes))
	return nil
}

// Close stops the loop and closes every client stream.
func (h *Hub) Close() error {
	h.cancel()
	h.wg.Wait()

	h.clientsMu.Lock()
	for c := range h.clients {
		close(c.ch)
		delete(h.clients, c)
	}
	clientsActive.Set(0)
	h.clientsMu.Unlock()

	h.logger.Info("dashboard-hub-closed")
	return nil
}

// Subscribe attaches a new client.
func (h *Hub) Subscribe() *Client {
	c := &Client{
		id:  uuid.NewString(),
		ch:  make(chan Event, h.clientBuf),
		hub: h,
	}

	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	clientsActive.Set(float64(len(h.clients)))
	h.clientsMu.Unlock()

	h.logger.Info("dashboard-client-connected", zap.String("client-id", c.id))
	return c
}

// Publish stages a snapshot payload; the flush loop delivers the
// latest staged value per channel.
func (h *Hub) Publish(channel string, payload interface{}) {
	h.mu.Lock()
	h.latest[channel] = payload
	h.dirty[channel] = struct{}{}
	h.mu.Unlock()
}

// Emit delivers a lifecycle event to every client on the next loop
// turn, without coalescing.
func (h *Hub) Emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("event-marshal-failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	ev := Event{Channel: event, Payload: data, At: time.Now()}
	select {
	case h.events <- ev:
	default:
		emitDroppedTotal.Inc()
		h.logger.Warn("event-queue-full", zap.String("event", event))
	}
}

func (h *Hub) loop() {
	defer h.wg.Done()

	tick := time.NewTicker(h.flushEvery)
	defer tick.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.unsub:
			h.removeClient(c, "closed")
		case ev := <-h.events:
			h.broadcast(ev)
		case <-tick.C:
			h.flushDirty()
		}
	}
}

func (h *Hub) flushDirty() {
	h.mu.Lock()
	if len(h.dirty) == 0 {
		h.mu.Unlock()
		return
	}
	batch := make(map[string]interface{}, len(h.dirty))
	for ch := range h.dirty {
		batch[ch] = h.latest[ch]
	}
	h.dirty = make(map[string]struct{})
	h.mu.Unlock()

	flushesTotal.Inc()
	for channel, payload := range batch {
		if channel == ChannelOpportunity && h.sendBatches(channel, payload) {
			continue
		}
		h.send(channel, payload)
	}
}

// sendBatches paginates a slice payload above the batch size. Returns
// false when the payload fits one frame.
func (h *Hub) sendBatches(channel string, payload interface{}) bool {
	v := reflect.ValueOf(payload)
	if v.Kind() != reflect.Slice || v.Len() <= h.batchSize {
		return false
	}

	pages := (v.Len() + h.batchSize - 1) / h.batchSize
	for p := 0; p < pages; p++ {
		lo := p * h.batchSize
		hi := lo + h.batchSize
		if hi > v.Len() {
			hi = v.Len()
		}
		h.send(channel, batchPayload{
			Page:  p + 1,
			Pages: pages,
			Items: v.Slice(lo, hi).Interface(),
		})
	}
	return true
}

func (h *Hub) send(channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("payload-marshal-failed",
			zap.String("channel", channel),
			zap.Error(err))
		return
	}
	h.broadcast(Event{Channel: channel, Payload: data, At: time.Now()})
}

// broadcast delivers one frame to every client. Runs on the loop
// goroutine, the only sender on client channels.
func (h *Hub) broadcast(ev Event) {
	h.clientsMu.Lock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clientsMu.Unlock()

	framesTotal.WithLabelValues(ev.Channel).Inc()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

// deliver tries the buffer first, then waits out the drain grace. A
// client striking out MaxTimeoutCount times in a row is disconnected.
func (h *Hub) deliver(c *Client, ev Event) {
	select {
	case c.ch <- ev:
		c.strikes = 0
		return
	default:
	}

	timer := time.NewTimer(h.drain)
	defer timer.Stop()

	select {
	case c.ch <- ev:
		c.strikes = 0
	case <-timer.C:
		c.strikes++
		drainTimeoutsTotal.Inc()
		if c.strikes >= h.maxStrikes {
			h.removeClient(c, "slow-consumer")
		}
	case <-h.ctx.Done():
	}
}

// removeClient runs on the loop goroutine so the close cannot race a
// delivery.
func (h *Hub) removeClient(c *Client, reason string) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.ch)
		clientsActive.Set(float64(len(h.clients)))
	}
	h.clientsMu.Unlock()

	if !ok {
		return
	}
	if reason == "slow-consumer" {
		slowDisconnectsTotal.Inc()
	}
	h.logger.Info("dashboard-client-disconnected",
		zap.String("client-id", c.id),
		zap.String("reason", reason))
}

func (h *Hub) unsubscribe(c *Client) {
	select {
	case h.unsub <- c:
	case <-h.ctx.Done():
	}
}
