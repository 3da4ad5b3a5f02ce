package polymarket

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mselser95/crossarb/pkg/cache"
)

// TokenMeta is the order-placement metadata for one hedge token. The
// neg-risk flag must reach order signing bit-exact.
type TokenMeta struct {
	TickSize     float64
	MinOrderSize float64
	NegRisk      bool
	FetchedAt    time.Time
}

// MetaSource fetches token metadata; satisfied by *Client.
type MetaSource interface {
	FetchTokenMeta(ctx context.Context, tokenID string) (*TokenMeta, error)
}

// FetchTokenMeta reads tick size from the dedicated endpoint and min
// order size plus neg-risk off the book document.
func (c *Client) FetchTokenMeta(ctx context.Context, tokenID string) (*TokenMeta, error) {
	meta := &TokenMeta{
		TickSize:     0.01,
		MinOrderSize: 5.0,
		FetchedAt:    time.Now(),
	}

	var tick struct {
		MinimumTickSize float64 `json:"minimum_tick_size"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&tick).
		Get("/tick-size")
	if err != nil {
		return nil, fmt.Errorf("fetch tick size: %w", err)
	}
	if resp.StatusCode() == http.StatusOK && tick.MinimumTickSize > 0 {
		meta.TickSize = tick.MinimumTickSize
	}

	var doc bookDocument
	resp, err = c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&doc).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("fetch book meta: %w", err)
	}
	if resp.StatusCode() == http.StatusOK {
		if min, err := strconv.ParseFloat(doc.MinOrderSize, 64); err == nil && min > 0 {
			meta.MinOrderSize = min
		}
		meta.NegRisk = doc.NegRisk
	}

	return meta, nil
}

// CachedMeta wraps a MetaSource with a shared cache so the executor's
// per-hedge metadata reads stay off the wire.
type CachedMeta struct {
	source MetaSource
	cache  cache.Cache
	ttl    time.Duration
}

// NewCachedMeta creates the caching wrapper.
func NewCachedMeta(source MetaSource, c cache.Cache) *CachedMeta {
	return &CachedMeta{
		source: source,
		cache:  c,
		ttl:    24 * time.Hour,
	}
}

// Get returns cached metadata, fetching on miss.
func (m *CachedMeta) Get(ctx context.Context, tokenID string) (*TokenMeta, error) {
	key := "hedge-meta:" + tokenID

	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			if meta, ok := cached.(*TokenMeta); ok {
				metaCacheHits.Inc()
				return meta, nil
			}
		}
		metaCacheMisses.Inc()
	}

	meta, err := m.source.FetchTokenMeta(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		m.cache.Set(key, meta, m.ttl)
	}

	return meta, nil
}

// UpdateTickSize rewrites a cached tick after a tick_size_change WS
// event. Absent entries are left to the next fetch.
func (m *CachedMeta) UpdateTickSize(tokenID string, tick float64) {
	if m.cache == nil || tick <= 0 {
		return
	}

	key := "hedge-meta:" + tokenID
	if cached, ok := m.cache.Get(key); ok {
		if meta, ok := cached.(*TokenMeta); ok {
			updated := *meta
			updated.TickSize = tick
			updated.FetchedAt = time.Now()
			m.cache.Set(key, &updated, m.ttl)
		}
	}
}
