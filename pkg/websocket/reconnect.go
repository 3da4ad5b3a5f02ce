package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// backoffConfig parametrizes exponential backoff with jitter.
type backoffConfig struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64 // 0.2 = up to +20%
}

// reconnectBackoff retries a connect function with growing delays.
// Jitter keeps a fleet of connections from redialing in lockstep.
type reconnectBackoff struct {
	config  backoffConfig
	logger  *zap.Logger
	mu      sync.Mutex
	current time.Duration
}

func newReconnectBackoff(cfg backoffConfig, logger *zap.Logger) *reconnectBackoff {
	return &reconnectBackoff{
		config:  cfg,
		logger:  logger,
		current: cfg.initial,
	}
}

// run keeps attempting connectFunc until it succeeds or ctx ends.
func (rb *reconnectBackoff) run(ctx context.Context, connectFunc func(context.Context) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		delay := rb.next()

		rb.logger.Info("attempting-reconnection", zap.Duration("backoff", delay))
		reconnectAttemptsTotal.Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		err := connectFunc(ctx)
		if err == nil {
			rb.reset()
			rb.logger.Info("reconnection-successful")
			return nil
		}

		rb.logger.Warn("reconnection-attempt-failed", zap.Error(err))
		reconnectFailuresTotal.Inc()
		rb.grow()
	}
}

func (rb *reconnectBackoff) reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.current = rb.config.initial
}

// next returns the current delay with jitter applied.
func (rb *reconnectBackoff) next() time.Duration {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	jitter := rand.Float64() * rb.config.jitter
	return time.Duration(float64(rb.current) * (1.0 + jitter))
}

func (rb *reconnectBackoff) grow() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	grown := time.Duration(float64(rb.current) * rb.config.multiplier)
	if grown > rb.config.max {
		grown = rb.config.max
	}
	rb.current = grown
}
