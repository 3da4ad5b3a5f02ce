package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	entries map[string]interface{}
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]interface{})}
}

func (c *mapCache) Get(key string) (interface{}, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Set(key string, value interface{}, _ time.Duration) bool {
	c.entries[key] = value
	return true
}

func (c *mapCache) Delete(key string) { delete(c.entries, key) }
func (c *mapCache) Clear()            { c.entries = make(map[string]interface{}) }
func (c *mapCache) Close()            {}

type countingSource struct {
	meta  *TokenMeta
	calls int
}

func (s *countingSource) FetchTokenMeta(ctx context.Context, tokenID string) (*TokenMeta, error) {
	s.calls++
	return s.meta, nil
}

func TestFetchTokenMeta(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tick-size":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]float64{"minimum_tick_size": 0.001})
		case "/book":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(bookDocument{
				AssetID:      r.URL.Query().Get("token_id"),
				MinOrderSize: "15",
				NegRisk:      true,
			})
		default:
			http.NotFound(w, r)
		}
	}))

	meta, err := client.FetchTokenMeta(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.001, meta.TickSize, 1e-9)
	assert.InDelta(t, 15, meta.MinOrderSize, 1e-9)
	assert.True(t, meta.NegRisk)
}

func TestFetchTokenMetaDefaults(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	meta, err := client.FetchTokenMeta(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.01, meta.TickSize, 1e-9)
	assert.InDelta(t, 5.0, meta.MinOrderSize, 1e-9)
	assert.False(t, meta.NegRisk)
}

func TestCachedMetaHitAndMiss(t *testing.T) {
	source := &countingSource{meta: &TokenMeta{TickSize: 0.01, MinOrderSize: 5, NegRisk: true}}
	cached := NewCachedMeta(source, newMapCache())

	first, err := cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	second, err := cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls, "second read must come from cache")
	assert.Same(t, first, second)
}

func TestCachedMetaUpdateTickSize(t *testing.T) {
	source := &countingSource{meta: &TokenMeta{TickSize: 0.01, MinOrderSize: 5}}
	cached := NewCachedMeta(source, newMapCache())

	_, err := cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)

	cached.UpdateTickSize("tok-1", 0.001)

	meta, err := cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, meta.TickSize, 1e-9)
	assert.Equal(t, 1, source.calls)

	// Tick update for an unknown token must not fabricate an entry.
	cached.UpdateTickSize("tok-2", 0.001)
	_, err = cached.Get(context.Background(), "tok-2")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestCachedMetaNilCachePassesThrough(t *testing.T) {
	source := &countingSource{meta: &TokenMeta{TickSize: 0.01}}
	cached := NewCachedMeta(source, nil)

	_, err := cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)
	_, err = cached.Get(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, 2, source.calls)
}
