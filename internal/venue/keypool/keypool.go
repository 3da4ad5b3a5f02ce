// Package keypool rotates venue API credentials. Scan traffic and
// trade traffic draw from separate pools so a throttled scanner never
// starves order placement.
package keypool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Key is one credential in a pool.
type Key struct {
	// ID is a loggable fingerprint, never the secret itself.
	ID     string
	Secret string
}

// Pool hands out keys round-robin. Individual keys sit out a cooldown
// after errors; an HTTP 429 parks the whole pool.
type Pool struct {
	name    string
	backoff time.Duration
	logger  *zap.Logger

	mu            sync.Mutex
	keys          []Key
	next          int
	keyCooldown   []time.Time
	pausedUntil   time.Time
	rateLimitHits int
}

// New builds a pool from raw secrets. backoff is the minimum whole-pool
// pause applied on rate limiting.
func New(name string, secrets []string, backoff time.Duration, logger *zap.Logger) *Pool {
	keys := make([]Key, 0, len(secrets))
	for i, s := range secrets {
		keys = append(keys, Key{ID: fingerprint(name, i, s), Secret: s})
	}

	return &Pool{
		name:        name,
		backoff:     backoff,
		logger:      logger.Named("keypool"),
		keys:        keys,
		keyCooldown: make([]time.Time, len(keys)),
	}
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next blocks until a usable key is available or ctx ends. Keys on
// cooldown are skipped; if every key is cooling, Next waits for the
// earliest one to recover.
func (p *Pool) Next(ctx context.Context) (Key, error) {
	for {
		key, wait, ok := p.tryNext(time.Now())
		if ok {
			return key, nil
		}
		if wait <= 0 {
			return Key{}, fmt.Errorf("pool %s has no keys", p.name)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Key{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryNext returns a key, or the duration to wait before retrying.
// wait <= 0 with ok=false means the pool is empty.
func (p *Pool) tryNext(now time.Time) (Key, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return Key{}, 0, false
	}

	if now.Before(p.pausedUntil) {
		return Key{}, p.pausedUntil.Sub(now), false
	}

	earliest := time.Duration(-1)
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		cooldown := p.keyCooldown[idx]
		if now.Before(cooldown) {
			if remaining := cooldown.Sub(now); earliest < 0 || remaining < earliest {
				earliest = remaining
			}
			continue
		}
		p.next = (idx + 1) % len(p.keys)
		return p.keys[idx], 0, true
	}

	return Key{}, earliest, false
}

// MarkRateLimited parks the whole pool for max(backoff, retryAfter).
func (p *Pool) MarkRateLimited(retryAfter time.Duration) {
	pause := p.backoff
	if retryAfter > pause {
		pause = retryAfter
	}

	p.mu.Lock()
	until := time.Now().Add(pause)
	if until.After(p.pausedUntil) {
		p.pausedUntil = until
	}
	p.rateLimitHits++
	hits := p.rateLimitHits
	p.mu.Unlock()

	rateLimitPauses.WithLabelValues(p.name).Inc()
	p.logger.Warn("pool-rate-limited",
		zap.String("pool", p.name),
		zap.Duration("pause", pause),
		zap.Int("total_hits", hits))
}

// MarkKeyCooldown sidelines a single key, e.g. after an auth error.
func (p *Pool) MarkKeyCooldown(id string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.keys {
		if p.keys[i].ID == id {
			p.keyCooldown[i] = time.Now().Add(d)
			keyCooldowns.WithLabelValues(p.name).Inc()
			p.logger.Warn("key-cooldown",
				zap.String("pool", p.name),
				zap.String("key", id),
				zap.Duration("duration", d))
			return
		}
	}
}

// Paused reports whether the whole pool is currently parked.
func (p *Pool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.pausedUntil)
}

// fingerprint renders a key safe for logs: pool name, slot, plus the
// secret's first and last two characters.
func fingerprint(pool string, i int, secret string) string {
	if len(secret) < 6 {
		return fmt.Sprintf("%s-%d", pool, i)
	}
	return fmt.Sprintf("%s-%d-%s..%s", pool, i, secret[:2], secret[len(secret)-2:])
}
