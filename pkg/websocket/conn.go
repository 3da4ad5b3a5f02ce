// Package websocket provides a reconnecting WebSocket connection with
// ping/pong supervision and exponential backoff. It is transport only:
// venue feeds layer their subscription protocol on top through the
// OnConnect hook and consume raw frames.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config holds connection configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger

	// OnConnect runs after every successful dial, before reads start.
	// Feeds use it to send (or replay) subscription payloads. A non-nil
	// error counts as a failed connection attempt.
	OnConnect func(ctx context.Context, c *Conn) error
}

// Conn is a single supervised WebSocket connection. Frames are
// delivered on a buffered channel; when the consumer lags, frames are
// dropped and counted rather than blocking the read loop.
type Conn struct {
	url     string
	config  Config
	logger  *zap.Logger
	backoff *reconnectBackoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	conn *websocket.Conn

	frames chan []byte

	connected       atomic.Bool
	lastPongTime    atomic.Int64
	lastMessageTime atomic.Int64
	connectionStart atomic.Int64
}

// New creates a connection supervisor. Call Start to dial.
func New(cfg Config) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	return &Conn{
		url:    cfg.URL,
		config: cfg,
		logger: cfg.Logger,
		backoff: newReconnectBackoff(backoffConfig{
			initial:    cfg.ReconnectInitialDelay,
			max:        cfg.ReconnectMaxDelay,
			multiplier: cfg.ReconnectBackoffMult,
			jitter:     0.2,
		}, cfg.Logger),
		ctx:    ctx,
		cancel: cancel,
		frames: make(chan []byte, cfg.MessageBufferSize),
	}
}

// Start performs the initial dial and launches the supervision loops.
func (c *Conn) Start() error {
	c.logger.Info("websocket-starting", zap.String("url", c.url))

	err := c.connect(c.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

// connect dials and runs the OnConnect hook.
func (c *Conn) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		c.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	now := time.Now()
	c.connected.Store(true)
	c.lastPongTime.Store(now.Unix())
	c.lastMessageTime.Store(now.UnixMilli())
	c.connectionStart.Store(now.Unix())
	activeConnections.WithLabelValues(c.url).Set(1)

	if c.config.OnConnect != nil {
		err = c.config.OnConnect(ctx, c)
		if err != nil {
			c.connected.Store(false)
			activeConnections.WithLabelValues(c.url).Set(0)
			conn.Close()
			return fmt.Errorf("on-connect hook: %w", err)
		}
	}

	c.logger.Info("websocket-connected", zap.String("url", c.url))

	return nil
}

// WriteJSON sends a JSON payload on the live socket.
func (c *Conn) WriteJSON(v any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !c.connected.Load() {
		return fmt.Errorf("websocket not connected")
	}

	return conn.WriteJSON(v)
}

// readLoop pumps frames until the socket drops.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			c.logger.Warn("read-error", zap.String("url", c.url), zap.Error(err))

			startTime := c.connectionStart.Load()
			if startTime > 0 {
				connectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			c.connected.Store(false)
			activeConnections.WithLabelValues(c.url).Set(0)
			return
		}

		c.lastMessageTime.Store(time.Now().UnixMilli())
		framesReceivedTotal.WithLabelValues(c.url).Inc()

		select {
		case c.frames <- message:
		default:
			framesDroppedTotal.WithLabelValues(c.url).Inc()
			c.logger.Warn("frame-channel-full", zap.String("url", c.url))
		}
	}
}

// pingLoop keeps the connection alive.
func (c *Conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				c.logger.Warn("ping-error", zap.String("url", c.url), zap.Error(err))
			}

			// A pong gap beyond the timeout means the peer is gone even
			// if the TCP socket looks healthy.
			lastPong := time.Unix(c.lastPongTime.Load(), 0)
			if time.Since(lastPong) > c.config.PongTimeout {
				c.logger.Warn("pong-timeout-forcing-reconnect",
					zap.String("url", c.url),
					zap.Time("last-pong", lastPong))
				conn.Close()
			}
		}
	}
}

// reconnectLoop redials after disconnects and restarts the read loop.
func (c *Conn) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		c.logger.Warn("connection-lost-initiating-reconnect", zap.String("url", c.url))

		err := c.backoff.run(c.ctx, c.connect)
		if err != nil {
			if err == context.Canceled {
				return
			}
			c.logger.Error("reconnection-failed", zap.String("url", c.url), zap.Error(err))
			continue
		}

		c.logger.Info("reconnection-complete-restarting-read-loop", zap.String("url", c.url))

		c.wg.Add(1)
		go c.readLoop()
	}
}

// Frames returns the raw inbound frame channel. Closed by Close.
func (c *Conn) Frames() <-chan []byte {
	return c.frames
}

// Connected reports whether the socket is currently up.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// LastMessageAt returns the arrival time of the most recent frame.
func (c *Conn) LastMessageAt() time.Time {
	ms := c.lastMessageTime.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Close tears the connection down and stops all loops.
func (c *Conn) Close() error {
	c.logger.Info("closing-websocket", zap.String("url", c.url))

	c.cancel()

	c.mu.RLock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.RUnlock()

	c.wg.Wait()

	close(c.frames)
	activeConnections.WithLabelValues(c.url).Set(0)

	return nil
}
