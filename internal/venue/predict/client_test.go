package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/pkg/types"
)

func newTestPredict(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := zap.NewNop()
	return NewClient(&Config{
		BaseURL:   server.URL,
		APISecret: "test-secret",
		ScanPool:  keypool.New("scan", []string{"scan-key"}, 50*time.Millisecond, logger),
		TradePool: keypool.New("trade", []string{"trade-key"}, 50*time.Millisecond, logger),
		Logger:    logger,
	})
}

func marketDoc(i int) marketPayload {
	return marketPayload{
		ID:          fmt.Sprintf("mkt-%d", i),
		ConditionID: fmt.Sprintf("0xcond-%d", i),
		Title:       fmt.Sprintf("Market %d", i),
		YesTokenID:  fmt.Sprintf("yes-%d", i),
		NoTokenID:   fmt.Sprintf("no-%d", i),
		TickSize:    "0.01",
		FeeRateBps:  200,
		Status:      "open",
	}
}

func TestListMarketsPagesAndIndexes(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/markets", r.URL.Path)
		require.Equal(t, "scan-key", r.Header.Get(headerAPIKey))
		require.Equal(t, "open", r.URL.Query().Get("status"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var page marketsResponse
		if offset == 0 {
			for i := 0; i < listPageSize; i++ {
				page.Markets = append(page.Markets, marketDoc(i))
			}
		} else {
			page.Markets = []marketPayload{marketDoc(listPageSize)}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))

	markets, err := client.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, listPageSize+1)

	assert.Equal(t, "mkt-0", markets[0].ID)
	assert.InDelta(t, 0.01, markets[0].TickSize, 1e-9)

	// Both outcome tokens resolve back to their market.
	marketID, ok := client.ResolveMarket("yes-3")
	require.True(t, ok)
	assert.Equal(t, "mkt-3", marketID)
	marketID, ok = client.ResolveMarket(fmt.Sprintf("no-%d", listPageSize))
	require.True(t, ok)
	assert.Equal(t, fmt.Sprintf("mkt-%d", listPageSize), marketID)

	_, ok = client.ResolveMarket("unknown-token")
	assert.False(t, ok)
}

func TestPlaceLimitSignsAndSnapsPrice(t *testing.T) {
	var got orderRequest
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/markets" {
			_ = json.NewEncoder(w).Encode(marketsResponse{Markets: []marketPayload{marketDoc(1)}})
			return
		}

		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		require.Equal(t, "trade-key", r.Header.Get(headerAPIKey))
		require.NotEmpty(t, r.Header.Get(headerTimestamp))
		require.NotEmpty(t, r.Header.Get(headerSignature))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(orderResponse{OrderHash: "0xhash1", Status: "OPEN"})
	}))

	_, err := client.ListMarkets(context.Background())
	require.NoError(t, err)

	hash, err := client.PlaceLimit(context.Background(), "yes-1", types.SideBuy, 0.557, 25, types.PlaceOpts{
		TickSize: 0.01,
	})
	require.NoError(t, err)

	assert.Equal(t, "0xhash1", hash)
	assert.Equal(t, "mkt-1", got.MarketID)
	assert.Equal(t, "yes-1", got.TokenID)
	assert.Equal(t, "BUY", got.Side)
	// Price snaps to the market tick before it is sent.
	assert.Equal(t, "0.56", got.Price)
	assert.Equal(t, "25", got.Quantity)
	assert.Equal(t, "GTC", got.Type)
}

func TestPlaceLimitUnknownToken(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an unindexed token")
	}))

	_, err := client.PlaceLimit(context.Background(), "never-indexed", types.SideBuy, 0.5, 10, types.PlaceOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown token")
}

func TestPlaceLimitVenueRejection(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/markets" {
			_ = json.NewEncoder(w).Encode(marketsResponse{Markets: []marketPayload{marketDoc(1)}})
			return
		}
		var resp orderResponse
		resp.Error.Code = "INSUFFICIENT_BALANCE"
		resp.Error.Message = "not enough collateral"
		_ = json.NewEncoder(w).Encode(resp)
	}))

	_, err := client.ListMarkets(context.Background())
	require.NoError(t, err)

	_, err = client.PlaceLimit(context.Background(), "yes-1", types.SideBuy, 0.5, 10, types.PlaceOpts{})
	require.Error(t, err)

	var orderErr *types.OrderError
	require.ErrorAs(t, err, &orderErr)
	assert.Equal(t, types.VenuePredict, orderErr.Venue)
	assert.Equal(t, "INSUFFICIENT_BALANCE", orderErr.Code)
}

func TestCancelOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		response      cancelResponse
		wantCancelled bool
	}{
		{name: "cancelled", response: cancelResponse{Cancelled: true}, wantCancelled: true},
		{name: "already-terminal", response: cancelResponse{Cancelled: false, Reason: "already filled"}, wantCancelled: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodDelete, r.Method)
				require.Equal(t, "/v1/orders/0xhash1", r.URL.Path)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))

			ok, err := client.Cancel(context.Background(), "0xhash1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCancelled, ok)
		})
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.Cancel(context.Background(), "0xmissing")
	require.ErrorIs(t, err, types.ErrOrderNotFound)
}

func TestGetOrderMapsStatus(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders/0xhash1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(orderPayload{
			OrderHash:    "0xhash1",
			MarketID:     "mkt-1",
			TokenID:      "yes-1",
			Side:         "BUY",
			Price:        "0.44",
			OriginalQty:  "100",
			FilledQty:    "40",
			RemainingQty: "60",
			Status:       "PARTIALLY_FILLED",
			UpdatedAt:    "1700000000000",
		})
	}))

	status, err := client.GetOrder(context.Background(), "0xhash1")
	require.NoError(t, err)

	assert.Equal(t, types.OrderOpen, status.Status)
	assert.InDelta(t, 0.44, status.Price, 1e-9)
	assert.InDelta(t, 40.0, status.FilledQty, 1e-9)
	assert.InDelta(t, 60.0, status.RemainingQty, 1e-9)
	assert.Equal(t, time.UnixMilli(1700000000000), status.UpdatedAt)
}

func TestGetOrderNotFound(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetOrder(context.Background(), "0xmissing")
	require.ErrorIs(t, err, types.ErrOrderNotFound)
}

func TestRateLimitSurfacesTypedError(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ListMarkets(context.Background())
	require.Error(t, err)

	var rle *types.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, types.VenuePredict, rle.Venue)
	assert.Equal(t, 2*time.Second, rle.RetryAfter)
}

func TestGetBookResolvesThroughMarketIndex(t *testing.T) {
	client := newTestPredict(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/markets":
			_ = json.NewEncoder(w).Encode(marketsResponse{Markets: []marketPayload{marketDoc(1)}})
		case "/v1/markets/mkt-1/orderbook":
			_ = json.NewEncoder(w).Encode(bookResponse{
				MarketID: "mkt-1",
				Books: []tokenBook{
					{
						TokenID: "yes-1",
						Bids:    []types.PriceLevel{{Price: "0.44", Size: "100"}},
						Asks:    []types.PriceLevel{{Price: "0.55", Size: "80"}},
					},
					{TokenID: "no-1"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	_, err := client.ListMarkets(context.Background())
	require.NoError(t, err)

	book, err := client.GetBook(context.Background(), "yes-1")
	require.NoError(t, err)

	assert.Equal(t, types.VenuePredict, book.Venue)
	assert.Equal(t, "yes-1", book.TokenID)
	assert.Equal(t, types.SourceREST, book.Source)
	require.Len(t, book.Bids, 1)
	assert.InDelta(t, 0.44, book.Bids[0].Price, 1e-9)

	_, err = client.GetBook(context.Background(), "unindexed")
	require.ErrorIs(t, err, types.ErrBookMissing)
}
