// Package chainfill streams the exchange contract's OrderFilled events
// over the chain WebSocket and fans them out per maker order hash.
// Events are deduplicated by (txHash, logIndex) before they reach
// subscribers, so downstream accumulation stays exact across
// redeliveries. A dropped stream is redialed with exponential backoff;
// fills missed during the outage surface through REST reconciliation.
package chainfill

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
)

const orderFilledABI = `[{"anonymous":false,"inputs":[` +
	`{"indexed":true,"name":"orderHash","type":"bytes32"},` +
	`{"indexed":true,"name":"maker","type":"address"},` +
	`{"indexed":true,"name":"taker","type":"address"},` +
	`{"indexed":false,"name":"makerAssetId","type":"uint256"},` +
	`{"indexed":false,"name":"takerAssetId","type":"uint256"},` +
	`{"indexed":false,"name":"makerAmountFilled","type":"uint256"},` +
	`{"indexed":false,"name":"takerAmountFilled","type":"uint256"},` +
	`{"indexed":false,"name":"fee","type":"uint256"}],` +
	`"name":"OrderFilled","type":"event"}]`

// LogStreamer is the slice of the eth client the watcher needs. Both
// *ethclient.Client and test fakes implement it.
type LogStreamer interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
}

// Config holds chain fill watcher configuration.
type Config struct {
	Logger *zap.Logger

	// WSURL is the chain WebSocket endpoint.
	WSURL string

	// Exchange is the maker venue's exchange contract.
	Exchange common.Address

	// Wallet is the smart wallet whose fills the watcher keeps. The
	// subscription filters on it as the order maker.
	Wallet common.Address

	// Dial overrides the default ethclient dial. Tests inject fakes
	// here.
	Dial func(ctx context.Context) (LogStreamer, error)

	// OnFill, when set, observes every decoded fill after the
	// per-order fan-out. The dashboard taps the stream here.
	OnFill func(fill *types.Fill)

	// BufferSize sizes each per-order fill channel.
	BufferSize int

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// DedupeWindow bounds the (txHash, logIndex) memory.
	DedupeWindow int
}

type dedupeKey struct {
	tx    common.Hash
	index uint
}

// Watcher owns the log subscription and the per-order fanout. It
// implements the executor's fill source.
type Watcher struct {
	logger *zap.Logger
	dial   func(ctx context.Context) (LogStreamer, error)
	onFill func(fill *types.Fill)
	query  ethereum.FilterQuery
	abi    abi.ABI
	topic  common.Hash
	wallet common.Address

	buffer       int
	reconInitial time.Duration
	reconMax     time.Duration
	dedupeWindow int

	mu    sync.Mutex
	subs  map[string]chan *types.Fill
	seen  map[dedupeKey]struct{}
	order []dedupeKey

	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the watcher.
func New(cfg *Config) (*Watcher, error) {
	parsed, err := abi.JSON(strings.NewReader(orderFilledABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	event, ok := parsed.Events["OrderFilled"]
	if !ok {
		return nil, fmt.Errorf("ABI missing OrderFilled event")
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 64
	}
	reconInitial := cfg.ReconnectInitial
	if reconInitial <= 0 {
		reconInitial = time.Second
	}
	reconMax := cfg.ReconnectMax
	if reconMax <= 0 {
		reconMax = 30 * time.Second
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = 4096
	}

	dial := cfg.Dial
	if dial == nil {
		url := cfg.WSURL
		dial = func(ctx context.Context) (LogStreamer, error) {
			return ethclient.DialContext(ctx, url)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		logger: cfg.Logger.Named("chainfill"),
		dial:   dial,
		onFill: cfg.OnFill,
		query: ethereum.FilterQuery{
			Addresses: []common.Address{cfg.Exchange},
			Topics: [][]common.Hash{
				{event.ID},
				nil,
				{common.BytesToHash(cfg.Wallet.Bytes())},
			},
		},
		abi:          parsed,
		topic:        event.ID,
		wallet:       cfg.Wallet,
		buffer:       buffer,
		reconInitial: reconInitial,
		reconMax:     reconMax,
		dedupeWindow: window,
		subs:         make(map[string]chan *types.Fill),
		seen:         make(map[dedupeKey]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the stream loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.run()

	w.logger.Info("chain-watcher-started",
		zap.String("exchange", w.query.Addresses[0].Hex()),
		zap.String("wallet", w.wallet.Hex()))
	return nil
}

// Close stops the stream loop. Subscriber channels opened before Close
// stay open; callers stop reading when their own scope ends.
func (w *Watcher) Close() error {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("chain-watcher-closed")
	return nil
}

// Connected reports stream health.
func (w *Watcher) Connected() bool {
	return w.connected.Load()
}

// Subscribe returns the fill stream for one maker order hash.
func (w *Watcher) Subscribe(orderHash string) <-chan *types.Fill {
	key := strings.ToLower(orderHash)

	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.subs[key]; ok {
		close(old)
	}
	ch := make(chan *types.Fill, w.buffer)
	w.subs[key] = ch
	subscribersActive.Set(float64(len(w.subs)))
	return ch
}

// Unsubscribe closes and forgets the order's stream.
func (w *Watcher) Unsubscribe(orderHash string) {
	key := strings.ToLower(orderHash)

	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.subs[key]
	if !ok {
		return
	}
	delete(w.subs, key)
	close(ch)
	subscribersActive.Set(float64(len(w.subs)))
}

func (w *Watcher) run() {
	defer w.wg.Done()

	backoff := w.reconInitial
	for {
		subscribed, err := w.session(w.ctx)
		if w.ctx.Err() != nil {
			return
		}
		if subscribed {
			backoff = w.reconInitial
		}

		disconnectsTotal.Inc()
		w.logger.Warn("chain-stream-disconnected",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > w.reconMax {
			backoff = w.reconMax
		}
	}
}

// session dials, subscribes and consumes logs until the stream drops.
// subscribed reports whether the subscription was established, which
// resets the redial backoff.
func (w *Watcher) session(ctx context.Context) (subscribed bool, err error) {
	backend, err := w.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial chain ws: %w", err)
	}
	if closer, ok := backend.(interface{ Close() }); ok {
		defer closer.Close()
	}

	logs := make(chan ethtypes.Log, 256)
	sub, err := backend.SubscribeFilterLogs(ctx, w.query, logs)
	if err != nil {
		return false, fmt.Errorf("subscribe order-filled logs: %w", err)
	}
	defer sub.Unsubscribe()

	w.connected.Store(true)
	connectedGauge.Set(1)
	defer func() {
		w.connected.Store(false)
		connectedGauge.Set(0)
	}()

	w.logger.Info("chain-stream-connected")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err := <-sub.Err():
			return true, err
		case lg := <-logs:
			w.handleLog(&lg)
		}
	}
}

func (w *Watcher) handleLog(lg *ethtypes.Log) {
	if lg.Removed {
		w.logger.Debug("order-filled-reorged",
			zap.String("tx", lg.TxHash.Hex()),
			zap.Uint("log-index", lg.Index))
		return
	}
	if !w.markSeen(dedupeKey{tx: lg.TxHash, index: lg.Index}) {
		duplicatesTotal.Inc()
		return
	}

	fill, ok := w.decode(lg)
	if !ok {
		return
	}

	fillsTotal.Inc()
	w.logger.Info("chain-order-filled",
		zap.String("order-hash", fill.OrderID),
		zap.String("side", string(fill.Side)),
		zap.Float64("size", fill.Size),
		zap.Float64("price", fill.Price),
		zap.String("tx", fill.TxHash))

	w.dispatch(fill)
	if w.onFill != nil {
		w.onFill(fill)
	}
}

// markSeen records the key, evicting the oldest entry once the window
// is full. Returns false for duplicates.
func (w *Watcher) markSeen(key dedupeKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[key]; dup {
		return false
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	if len(w.order) > w.dedupeWindow {
		evict := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, evict)
	}
	return true
}

// decode turns one OrderFilled log into a fill. Asset id zero is the
// collateral leg; the other side carries the outcome token, whose
// amounts are 6-decimal fixed point.
func (w *Watcher) decode(lg *ethtypes.Log) (*types.Fill, bool) {
	if len(lg.Topics) < 4 || lg.Topics[0] != w.topic {
		return nil, false
	}

	vals, err := w.abi.Unpack("OrderFilled", lg.Data)
	if err != nil || len(vals) < 4 {
		w.logger.Debug("order-filled-unpack-failed",
			zap.String("tx", lg.TxHash.Hex()),
			zap.Error(err))
		return nil, false
	}
	makerAsset, _ := vals[0].(*big.Int)
	takerAsset, _ := vals[1].(*big.Int)
	makerAmt, _ := vals[2].(*big.Int)
	takerAmt, _ := vals[3].(*big.Int)
	if makerAsset == nil || takerAsset == nil || makerAmt == nil || takerAmt == nil {
		return nil, false
	}

	var (
		side     types.Side
		tokenID  string
		shares   *big.Int
		notional *big.Int
	)
	if makerAsset.Sign() == 0 {
		side = types.SideBuy
		tokenID = takerAsset.String()
		shares = takerAmt
		notional = makerAmt
	} else {
		side = types.SideSell
		tokenID = makerAsset.String()
		shares = makerAmt
		notional = takerAmt
	}
	if shares.Sign() == 0 {
		return nil, false
	}

	size, _ := new(big.Float).Quo(
		new(big.Float).SetInt(shares),
		big.NewFloat(1e6)).Float64()
	price, _ := new(big.Float).Quo(
		new(big.Float).SetInt(notional),
		new(big.Float).SetInt(shares)).Float64()

	return &types.Fill{
		Venue:     types.VenuePredict,
		OrderID:   strings.ToLower(lg.Topics[1].Hex()),
		TokenID:   tokenID,
		Side:      side,
		Price:     price,
		Size:      size,
		TxHash:    lg.TxHash.Hex(),
		Timestamp: time.Now(),
	}, true
}

// dispatch hands the fill to its order's subscriber, if any. The send
// happens under the fanout lock so Unsubscribe can never close the
// channel mid-send.
func (w *Watcher) dispatch(fill *types.Fill) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.subs[fill.OrderID]
	if !ok {
		unmatchedTotal.Inc()
		return
	}
	select {
	case ch <- fill:
	default:
		fillsDroppedTotal.Inc()
		w.logger.Warn("fill-channel-full",
			zap.String("order-hash", fill.OrderID))
	}
}
