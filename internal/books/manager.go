// Package books maintains the unified order-book cache for both
// venues. Entries are keyed (venue, token) and merged by source
// precedence: a REST fetch never displaces a newer WS entry, a WS
// update always wins. Staleness is judged by readers at compute time,
// never by connection state.
package books

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/pkg/types"
)

type key struct {
	venue types.Venue
	token string
}

// UpdateFunc observes WS-sourced book writes. Callbacks run on the
// feed pump goroutine and must not block.
type UpdateFunc func(tokenID string, book *types.OrderBook)

// Config holds book manager configuration.
type Config struct {
	Logger *zap.Logger

	// Feeds are the per-venue WS book streams. A venue without a feed
	// is served from REST warms only.
	Feeds map[types.Venue]venue.BookFeed

	// REST are the per-venue snapshot getters used for warm-on-subscribe
	// and the hybrid poll.
	REST map[types.Venue]venue.BookGetter

	// WarmConcurrency bounds concurrent REST warm fetches.
	WarmConcurrency int

	// HealthCheckInterval is the cadence of the WS health sweep that
	// drives the hybrid REST poll. Zero disables the sweep.
	HealthCheckInterval time.Duration

	// HybridPoll enables REST refresh of subscribed tokens while a
	// venue's WS is down; a venue with no feed at all refreshes every
	// sweep. Refreshed entries carry Source=rest and are filtered out
	// of trade decisions by freshness/source gates.
	HybridPoll bool
}

// Manager is the unified order-book cache.
type Manager struct {
	logger      *zap.Logger
	feeds       map[types.Venue]venue.BookFeed
	rest        map[types.Venue]venue.BookGetter
	warmSem     chan struct{}
	healthEvery time.Duration
	hybridPoll  bool

	mu      sync.RWMutex
	books   map[key]*types.OrderBook
	waiters map[key]chan struct{}
	subs    map[types.Venue]map[string]bool

	cbMu      sync.RWMutex
	callbacks []UpdateFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the book manager.
func New(cfg *Config) *Manager {
	warm := cfg.WarmConcurrency
	if warm <= 0 {
		warm = 8
	}
	healthEvery := cfg.HealthCheckInterval
	if healthEvery == 0 {
		healthEvery = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		logger:      cfg.Logger.Named("books"),
		feeds:       cfg.Feeds,
		rest:        cfg.REST,
		warmSem:     make(chan struct{}, warm),
		healthEvery: healthEvery,
		hybridPoll:  cfg.HybridPoll,
		books:       make(map[key]*types.OrderBook),
		waiters:     make(map[key]chan struct{}),
		subs:        make(map[types.Venue]map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins consuming the venue feeds and, when enabled, the WS
// health sweep.
func (m *Manager) Start(ctx context.Context) error {
	for v, feed := range m.feeds {
		m.wg.Add(1)
		go m.pump(v, feed)
	}

	if m.hybridPoll && len(m.rest) > 0 {
		m.wg.Add(1)
		go m.healthLoop()
	}

	m.logger.Info("book-manager-started",
		zap.Int("feeds", len(m.feeds)),
		zap.Bool("hybrid-poll", m.hybridPoll))

	return nil
}

// OnUpdate registers a WS delta observer. Register before Start.
func (m *Manager) OnUpdate(cb UpdateFunc) {
	m.cbMu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.cbMu.Unlock()
}

// Subscribe adds tokens to a venue's WS subscription set and warms
// absent entries over REST. When it returns, every token either has a
// cache entry or a warm fetch in flight.
func (m *Manager) Subscribe(ctx context.Context, v types.Venue, tokenIDs []string) error {
	m.mu.Lock()
	set := m.subs[v]
	if set == nil {
		set = make(map[string]bool)
		m.subs[v] = set
	}
	added := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if !set[id] {
			set[id] = true
			added = append(added, id)
		}
	}
	m.mu.Unlock()

	if len(added) == 0 {
		return nil
	}

	if feed := m.feeds[v]; feed != nil {
		if err := feed.Subscribe(ctx, added); err != nil {
			return fmt.Errorf("subscribe %s books: %w", v, err)
		}
	}

	if getter := m.rest[v]; getter != nil {
		for _, id := range added {
			if _, ok := m.GetSync(v, id); ok {
				continue
			}
			m.wg.Add(1)
			go m.warm(v, id, getter)
		}
	}

	return nil
}

// Put merges a snapshot into the cache. Returns false when precedence
// kept the existing entry.
func (m *Manager) Put(book *types.OrderBook) bool {
	if book == nil || book.TokenID == "" {
		return false
	}

	k := key{venue: book.Venue, token: book.TokenID}

	m.mu.Lock()
	existing := m.books[k]
	if !supersedes(existing, book) {
		m.mu.Unlock()
		putsTotal.WithLabelValues(string(book.Venue), string(book.Source), "kept_existing").Inc()
		return false
	}
	m.books[k] = book
	waiter := m.waiters[k]
	delete(m.waiters, k)
	booksTracked.Set(float64(len(m.books)))
	m.mu.Unlock()

	if waiter != nil {
		close(waiter)
	}
	putsTotal.WithLabelValues(string(book.Venue), string(book.Source), "stored").Inc()

	if book.Source == types.SourceWS {
		m.cbMu.RLock()
		callbacks := m.callbacks
		m.cbMu.RUnlock()
		if len(callbacks) > 0 {
			snap := book.Clone()
			for _, cb := range callbacks {
				cb(book.TokenID, snap)
			}
		}
	}

	return true
}

// Get blocks until a fresh-enough entry exists or ctx expires. On
// expiry the error distinguishes a stale entry from a missing one.
func (m *Manager) Get(ctx context.Context, v types.Venue, tokenID string, maxAge time.Duration) (*types.OrderBook, error) {
	for {
		book, wait := m.freshOrWaiter(v, tokenID, maxAge)
		if book != nil {
			return book, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			m.mu.RLock()
			_, exists := m.books[key{venue: v, token: tokenID}]
			m.mu.RUnlock()
			if exists {
				getTimeoutsTotal.WithLabelValues(string(v), "stale").Inc()
				return nil, fmt.Errorf("book %s/%s: %w", v, tokenID, types.ErrBookStale)
			}
			getTimeoutsTotal.WithLabelValues(string(v), "missing").Inc()
			return nil, fmt.Errorf("book %s/%s: %w", v, tokenID, types.ErrBookMissing)
		case <-m.ctx.Done():
			return nil, fmt.Errorf("book %s/%s: manager closed", v, tokenID)
		}
	}
}

// GetSync returns the cached entry regardless of age.
func (m *Manager) GetSync(v types.Venue, tokenID string) (*types.OrderBook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[key{venue: v, token: tokenID}]
	if !ok {
		return nil, false
	}
	return book.Clone(), true
}

// All returns a copy of every entry for one venue, keyed by token.
func (m *Manager) All(v types.Venue) map[string]*types.OrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*types.OrderBook)
	for k, book := range m.books {
		if k.venue == v {
			out[k.token] = book.Clone()
		}
	}
	return out
}

// Connected reports whether the venue's WS feed is up.
func (m *Manager) Connected(v types.Venue) bool {
	feed := m.feeds[v]
	return feed != nil && feed.Connected()
}

// Close stops the pumps and the health sweep. Feeds are owned and
// closed by the caller.
func (m *Manager) Close() error {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("book-manager-closed")
	return nil
}

func (m *Manager) pump(v types.Venue, feed venue.BookFeed) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case book, ok := <-feed.Updates():
			if !ok {
				m.logger.Info("book-feed-closed", zap.String("venue", string(v)))
				return
			}
			m.Put(book)
		}
	}
}

func (m *Manager) freshOrWaiter(v types.Venue, tokenID string, maxAge time.Duration) (*types.OrderBook, <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{venue: v, token: tokenID}
	if book := m.books[k]; book.Fresh(time.Now(), maxAge) {
		return book.Clone(), nil
	}

	wait, ok := m.waiters[k]
	if !ok {
		wait = make(chan struct{})
		m.waiters[k] = wait
	}
	return nil, wait
}

func (m *Manager) warm(v types.Venue, tokenID string, getter venue.BookGetter) {
	defer m.wg.Done()

	select {
	case m.warmSem <- struct{}{}:
		defer func() { <-m.warmSem }()
	case <-m.ctx.Done():
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	book, err := getter.GetBook(ctx, tokenID)
	if err != nil {
		warmFetchesTotal.WithLabelValues(string(v), "error").Inc()
		m.logger.Debug("book-warm-failed",
			zap.String("venue", string(v)),
			zap.String("token", tokenID),
			zap.Error(err))
		return
	}

	m.Put(book)
	warmFetchesTotal.WithLabelValues(string(v), "ok").Inc()
}

// healthLoop refreshes subscribed tokens over REST while a venue's WS
// is down. Refreshed books keep the UI alive; the rest-source tag and
// compute-time freshness gates keep them out of trade decisions.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			// Venues without a feed poll every sweep; venues with one
			// poll only while their socket is down.
			for v, getter := range m.rest {
				if m.Connected(v) {
					continue
				}
				m.refreshVenue(v, getter)
			}
		}
	}
}

func (m *Manager) refreshVenue(v types.Venue, getter venue.BookGetter) {
	m.mu.RLock()
	tokens := make([]string, 0, len(m.subs[v]))
	for id := range m.subs[v] {
		tokens = append(tokens, id)
	}
	m.mu.RUnlock()

	if len(tokens) == 0 {
		return
	}

	hybridRefreshTotal.WithLabelValues(string(v)).Inc()
	m.logger.Debug("hybrid-rest-refresh",
		zap.String("venue", string(v)),
		zap.Int("tokens", len(tokens)))

	var wg sync.WaitGroup
	for _, id := range tokens {
		select {
		case m.warmSem <- struct{}{}:
		case <-m.ctx.Done():
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(tokenID string) {
			defer wg.Done()
			defer func() { <-m.warmSem }()

			ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
			defer cancel()

			book, err := getter.GetBook(ctx, tokenID)
			if err != nil {
				warmFetchesTotal.WithLabelValues(string(v), "error").Inc()
				return
			}
			m.Put(book)
			warmFetchesTotal.WithLabelValues(string(v), "ok").Inc()
		}(id)
	}
	wg.Wait()
}

// supersedes decides whether incoming replaces existing. WS always
// wins; REST only fills gaps or refreshes entries it is newer than,
// and never displaces a newer WS entry.
func supersedes(existing, incoming *types.OrderBook) bool {
	if existing == nil {
		return true
	}
	if incoming.Source == types.SourceWS {
		return true
	}
	if existing.Source == types.SourceWS && !existing.IngestedAt.Before(incoming.IngestedAt) {
		return false
	}
	return !incoming.IngestedAt.Before(existing.IngestedAt)
}
