package predict

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
	"github.com/mselser95/crossarb/pkg/websocket"
)

// userEnvelope is a frame on the authenticated user channel.
type userEnvelope struct {
	Channel   string        `json:"channel"`
	Type      string        `json:"type"`
	OrderHash string        `json:"orderHash,omitempty"`
	TokenID   string        `json:"tokenId,omitempty"`
	Side      string        `json:"side,omitempty"`
	Price     string        `json:"price,omitempty"`
	Size      string        `json:"size,omitempty"`
	TxHash    string        `json:"txHash,omitempty"`
	Timestamp string        `json:"timestamp,omitempty"`
	Order     *orderPayload `json:"order,omitempty"`
}

// UserFeedConfig holds maker user feed configuration.
type UserFeedConfig struct {
	WS         websocket.Config
	APIKey     string
	APISecret  string
	Wallet     string
	BufferSize int
	Logger     *zap.Logger
}

// UserFeed streams the account's fills and order updates. Fill events
// here pre-empt the slower REST status poll.
type UserFeed struct {
	conn   *websocket.Conn
	apiKey string
	secret string
	wallet string
	logger *zap.Logger

	fills  chan *types.Fill
	orders chan *types.OrderStatus

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewUserFeed creates the maker user feed.
func NewUserFeed(cfg *UserFeedConfig) *UserFeed {
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	f := &UserFeed{
		apiKey: cfg.APIKey,
		secret: cfg.APISecret,
		wallet: cfg.Wallet,
		logger: cfg.Logger.Named("predict-user"),
		fills:  make(chan *types.Fill, bufferSize),
		orders: make(chan *types.OrderStatus, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	wsCfg := cfg.WS
	wsCfg.Logger = f.logger
	wsCfg.OnConnect = f.authenticate
	f.conn = websocket.New(wsCfg)

	return f
}

// Start dials, authenticates, and begins decoding frames.
func (f *UserFeed) Start(ctx context.Context) error {
	err := f.conn.Start()
	if err != nil {
		return fmt.Errorf("start user feed: %w", err)
	}

	f.wg.Add(1)
	go f.loop()

	return nil
}

// authenticate runs on every (re)connect: auth handshake then user
// channel subscription.
func (f *UserFeed) authenticate(ctx context.Context, c *websocket.Conn) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := signRequest(f.secret, timestamp, "GET", "/ws/user", "")
	if err != nil {
		return fmt.Errorf("sign ws auth: %w", err)
	}

	err = c.WriteJSON(map[string]any{
		"op":        "auth",
		"apiKey":    f.apiKey,
		"timestamp": timestamp,
		"signature": sig,
	})
	if err != nil {
		return fmt.Errorf("write auth: %w", err)
	}

	err = c.WriteJSON(map[string]any{
		"op":      "subscribe",
		"channel": "user",
		"wallet":  f.wallet,
	})
	if err != nil {
		return fmt.Errorf("write user subscribe: %w", err)
	}

	f.logger.Info("user-channel-subscribed", zap.String("wallet", f.wallet))

	return nil
}

func (f *UserFeed) loop() {
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

func (f *UserFeed) handleFrame(frame []byte) {
	var env userEnvelope
	err := json.Unmarshal(frame, &env)
	if err != nil || env.Channel != "user" {
		return
	}

	userEventsTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case "fill":
		fill := &types.Fill{
			Venue:     types.VenuePredict,
			OrderID:   env.OrderHash,
			TokenID:   env.TokenID,
			Side:      types.Side(env.Side),
			TxHash:    env.TxHash,
			Timestamp: parseMillis(env.Timestamp),
		}
		fill.Price, _ = strconv.ParseFloat(env.Price, 64)
		fill.Size, _ = strconv.ParseFloat(env.Size, 64)

		select {
		case f.fills <- fill:
		default:
			f.logger.Warn("fill-channel-full", zap.String("hash", env.OrderHash))
		}

	case "order":
		if env.Order == nil {
			return
		}
		status := env.Order.toStatus()

		select {
		case f.orders <- &status:
		default:
			f.logger.Warn("order-channel-full", zap.String("hash", status.OrderID))
		}
	}
}

// Fills returns the fill event stream.
func (f *UserFeed) Fills() <-chan *types.Fill {
	return f.fills
}

// Orders returns the order update stream.
func (f *UserFeed) Orders() <-chan *types.OrderStatus {
	return f.orders
}

// Connected reports socket health.
func (f *UserFeed) Connected() bool {
	return f.conn.Connected()
}

// Close stops the feed.
func (f *UserFeed) Close() error {
	f.cancel()
	err := f.conn.Close()
	f.wg.Wait()
	close(f.fills)
	close(f.orders)
	return err
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
