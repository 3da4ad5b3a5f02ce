package predict

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
)

// FillRouterConfig holds fill router configuration.
type FillRouterConfig struct {
	Logger *zap.Logger

	// Fills is the user feed's fill stream.
	Fills <-chan *types.Fill

	// BufferSize sizes each per-order fill channel.
	BufferSize int
}

// FillRouter fans the user feed's flat fill stream out into per-order
// channels so task runners can watch their own maker order. It stands
// in for the chain watcher when no chain endpoint is configured.
type FillRouter struct {
	logger *zap.Logger
	fills  <-chan *types.Fill
	buffer int

	mu   sync.Mutex
	subs map[string]chan *types.Fill

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFillRouter creates the router.
func NewFillRouter(cfg *FillRouterConfig) *FillRouter {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FillRouter{
		logger: cfg.Logger.Named("fill-router"),
		fills:  cfg.Fills,
		buffer: buffer,
		subs:   make(map[string]chan *types.Fill),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the routing loop.
func (r *FillRouter) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.loop()
	return nil
}

// Close stops routing. Subscriber channels are closed.
func (r *FillRouter) Close() error {
	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	for key, ch := range r.subs {
		delete(r.subs, key)
		close(ch)
	}
	r.mu.Unlock()
	return nil
}

// Subscribe returns the fill stream for one maker order hash.
func (r *FillRouter) Subscribe(orderHash string) <-chan *types.Fill {
	key := strings.ToLower(orderHash)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.subs[key]; ok {
		close(old)
	}
	ch := make(chan *types.Fill, r.buffer)
	r.subs[key] = ch
	return ch
}

// Unsubscribe closes and forgets the order's stream.
func (r *FillRouter) Unsubscribe(orderHash string) {
	key := strings.ToLower(orderHash)

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.subs[key]
	if !ok {
		return
	}
	delete(r.subs, key)
	close(ch)
}

func (r *FillRouter) loop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case fill, ok := <-r.fills:
			if !ok {
				return
			}
			r.dispatch(fill)
		}
	}
}

func (r *FillRouter) dispatch(fill *types.Fill) {
	key := strings.ToLower(fill.OrderID)

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.subs[key]
	if !ok {
		fillsUnmatchedTotal.Inc()
		return
	}
	select {
	case ch <- fill:
		fillsRoutedTotal.Inc()
	default:
		r.logger.Warn("fill-subscriber-full",
			zap.String("order-hash", fill.OrderID))
	}
}
