// Package orderstatus caches maker venue order state. A poll loop
// seeds the cache from ListOpenOrders; WS user events pre-empt
// entries between polls. Tracked orders that disappear from a
// successful poll emit a maybe-completed pulse instead of being
// deleted: the executor owns resolving the terminal state.
package orderstatus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/pkg/types"
)

// Event is one change notification for a watched order.
type Event struct {
	OrderID string
	// Status is the new cached state. Nil for a maybe-completed pulse.
	Status *types.OrderStatus
	// MaybeCompleted marks an order absent from a successful open-orders
	// poll while its last known state was non-terminal.
	MaybeCompleted bool
}

type entry struct {
	status    *types.OrderStatus
	updatedAt time.Time
	tracked   bool
}

// Config holds order-status cache configuration.
type Config struct {
	Logger *zap.Logger
	Client venue.Client

	// Orders optionally streams WS user events that pre-empt polled
	// state.
	Orders <-chan *types.OrderStatus

	// PollInterval is the ListOpenOrders cadence.
	PollInterval time.Duration

	// StaleAfter only drives the staleness metric; reads always return
	// the cached entry regardless of age.
	StaleAfter time.Duration
}

// Cache is the maker order-status cache.
type Cache struct {
	logger     *zap.Logger
	client     venue.Client
	orders     <-chan *types.OrderStatus
	pollEvery  time.Duration
	staleAfter time.Duration

	mu       sync.RWMutex
	entries  map[string]*entry
	watchers map[string][]chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the order-status cache.
func New(cfg *Config) *Cache {
	pollEvery := cfg.PollInterval
	if pollEvery == 0 {
		pollEvery = 3 * time.Second
	}
	staleAfter := cfg.StaleAfter
	if staleAfter == 0 {
		staleAfter = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		logger:     cfg.Logger.Named("orderstatus"),
		client:     cfg.Client,
		orders:     cfg.Orders,
		pollEvery:  pollEvery,
		staleAfter: staleAfter,
		entries:    make(map[string]*entry),
		watchers:   make(map[string][]chan Event),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the poll loop and, when wired, the WS event pump.
func (c *Cache) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.pollLoop()

	if c.orders != nil {
		c.wg.Add(1)
		go c.eventPump()
	}

	c.logger.Info("order-status-cache-started",
		zap.Duration("poll-interval", c.pollEvery))

	return nil
}

// Close stops the loops.
func (c *Cache) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// Get returns the cached status, possibly stale. The second return is
// false when the order was never seen.
func (c *Cache) Get(orderID string) (*types.OrderStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[orderID]
	if !ok {
		return nil, false
	}
	if time.Since(e.updatedAt) > c.staleAfter {
		staleReadsTotal.Inc()
	}
	cp := *e.status
	return &cp, true
}

// Track registers an order for missing-from-poll detection, seeding
// the cache when a status is supplied. Called right after placement.
func (c *Cache) Track(orderID string, seed *types.OrderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[orderID]
	if !ok {
		e = &entry{updatedAt: time.Now()}
		c.entries[orderID] = e
		entriesTracked.Set(float64(len(c.entries)))
	}
	e.tracked = true
	if seed != nil {
		cp := *seed
		e.status = &cp
		e.updatedAt = time.Now()
	} else if e.status == nil {
		e.status = &types.OrderStatus{
			Venue:   types.VenuePredict,
			OrderID: orderID,
			Status:  types.OrderOpen,
		}
	}
}

// Untrack stops missing-from-poll detection for an order the executor
// has resolved. The cached entry survives for reads.
func (c *Cache) Untrack(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[orderID]; ok {
		e.tracked = false
	}
}

// Update writes a status into the cache and notifies watchers. WS
// user events and executor read-backs both land here.
func (c *Cache) Update(status *types.OrderStatus) {
	if status == nil || status.OrderID == "" {
		return
	}

	cp := *status

	c.mu.Lock()
	e, ok := c.entries[status.OrderID]
	if !ok {
		e = &entry{}
		c.entries[status.OrderID] = e
		entriesTracked.Set(float64(len(c.entries)))
	}
	e.status = &cp
	e.updatedAt = time.Now()
	watchers := append([]chan Event(nil), c.watchers[status.OrderID]...)
	c.mu.Unlock()

	updatesTotal.WithLabelValues(string(cp.Status)).Inc()
	c.notify(watchers, Event{OrderID: status.OrderID, Status: &cp})
}

// Watch returns a channel of change events for one order. The channel
// is buffered; slow consumers lose events and must fall back to Get.
func (c *Cache) Watch(orderID string) <-chan Event {
	ch := make(chan Event, 8)

	c.mu.Lock()
	c.watchers[orderID] = append(c.watchers[orderID], ch)
	c.mu.Unlock()

	return ch
}

// Unwatch removes a watcher channel registered with Watch.
func (c *Cache) Unwatch(orderID string, ch <-chan Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	watchers := c.watchers[orderID]
	for i, w := range watchers {
		if w == ch {
			c.watchers[orderID] = append(watchers[:i], watchers[i+1:]...)
			break
		}
	}
	if len(c.watchers[orderID]) == 0 {
		delete(c.watchers, orderID)
	}
}

func (c *Cache) pollLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.poll()
		}
	}
}

// poll refreshes every open maker order and flags tracked orders that
// vanished from the listing.
func (c *Cache) poll() {
	ctx, cancel := context.WithTimeout(c.ctx, c.pollEvery)
	defer cancel()

	open, err := c.client.ListOpenOrders(ctx)
	if err != nil {
		pollsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("open-orders-poll-failed", zap.Error(err))
		return
	}
	pollsTotal.WithLabelValues("ok").Inc()

	seen := make(map[string]bool, len(open))
	for i := range open {
		seen[open[i].OrderID] = true
		c.Update(&open[i])
	}

	// Missing tracked orders: notify, never delete.
	type pulse struct {
		orderID  string
		watchers []chan Event
	}
	var pulses []pulse

	c.mu.Lock()
	for id, e := range c.entries {
		if !e.tracked || seen[id] {
			continue
		}
		if e.status != nil && e.status.Status.Terminal() {
			continue
		}
		pulses = append(pulses, pulse{
			orderID:  id,
			watchers: append([]chan Event(nil), c.watchers[id]...),
		})
	}
	c.mu.Unlock()

	for _, p := range pulses {
		maybeCompletedTotal.Inc()
		c.logger.Debug("order-maybe-completed", zap.String("order-id", p.orderID))
		c.notify(p.watchers, Event{OrderID: p.orderID, MaybeCompleted: true})
	}
}

func (c *Cache) eventPump() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case status, ok := <-c.orders:
			if !ok {
				return
			}
			c.Update(status)
		}
	}
}

func (c *Cache) notify(watchers []chan Event, ev Event) {
	for _, ch := range watchers {
		select {
		case ch <- ev:
		default:
			eventsDroppedTotal.Inc()
		}
	}
}
