package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/circuitbreaker"
	"github.com/mselser95/crossarb/internal/dashboard"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/healthprobe"
	"github.com/mselser95/crossarb/pkg/types"
	"github.com/mselser95/crossarb/pkg/wallet"
)

type fakeEngine struct {
	mu        sync.Mutex
	started   []string
	cancelled []string
	startErr  error
	cancelErr error
}

func (f *fakeEngine) StartTask(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) CancelTask(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type stubFetcher struct {
	balance *big.Int
}

func (s *stubFetcher) GetBalances(context.Context, common.Address) (*wallet.Balances, error) {
	return &wallet.Balances{Collateral: s.balance}, nil
}

func newTestStore(t *testing.T) *tasks.Store {
	t.Helper()
	store, err := tasks.New(&tasks.Config{
		Logger: zap.NewNop(),
		Path:   filepath.Join(t.TempDir(), "tasks.json"),
	})
	require.NoError(t, err)
	return store
}

func newTestBreaker(t *testing.T, balanceUSD int64) *circuitbreaker.Breaker {
	t.Helper()
	b, err := circuitbreaker.New(&circuitbreaker.Config{
		Logger:          zap.NewNop(),
		Fetcher:         &stubFetcher{balance: big.NewInt(balanceUSD * 1e6)},
		CheckInterval:   time.Minute,
		TradeMultiplier: 3.0,
		MinAbsolute:     50.0,
		HysteresisRatio: 1.5,
	})
	require.NoError(t, err)
	return b
}

func validCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"marketId":     "mkt-1",
		"title":        "Test market",
		"type":         "BUY",
		"strategy":     "MAKER",
		"arbSide":      "YES",
		"makerToken":   "0xmaker-yes",
		"hedgeToken":   "77110001",
		"quantity":     50.0,
		"predictPrice": 0.44,
		"hedgeMaxAsk":  0.52,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	health := healthprobe.New()
	s := New(&Config{Port: "0", Logger: zap.NewNop(), Health: health})

	assert.Equal(t, http.StatusOK, get(s.Handler(), "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(s.Handler(), "/ready").Code)

	health.SetReady(true)
	assert.Equal(t, http.StatusOK, get(s.Handler(), "/ready").Code)
}

func TestBearerAuth(t *testing.T) {
	s := New(&Config{
		Port:     "0",
		Logger:   zap.NewNop(),
		Health:   healthprobe.New(),
		Pairs:    func() []*types.MarketPair { return nil },
		APIToken: "sekrit",
	})

	rec := get(s.Handler(), "/api/pairs")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/pairs", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes and metrics stay open.
	assert.Equal(t, http.StatusOK, get(s.Handler(), "/health").Code)
	assert.Equal(t, http.StatusOK, get(s.Handler(), "/metrics").Code)
}

func TestPairs(t *testing.T) {
	pair := &types.MarketPair{
		MakerMarketID: "mkt-1",
		MakerTitle:    "Test market",
		MakerYesToken: "0xmaker-yes",
		MakerNoToken:  "0xmaker-no",
		HedgeYesToken: "77110001",
		HedgeNoToken:  "77110002",
	}
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Pairs:  func() []*types.MarketPair { return []*types.MarketPair{pair} },
	})

	rec := get(s.Handler(), "/api/pairs")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*types.MarketPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "mkt-1", got[0].MakerMarketID)
}

func TestBooks(t *testing.T) {
	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	mgr.Put(&types.OrderBook{
		Venue:      types.VenuePredict,
		TokenID:    "0xmaker-yes",
		Bids:       []types.Level{{Price: 0.44, Size: 100}},
		Asks:       []types.Level{{Price: 0.46, Size: 80}},
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	})
	mgr.Put(&types.OrderBook{
		Venue:      types.VenuePolymarket,
		TokenID:    "77110002",
		Asks:       []types.Level{{Price: 0.52, Size: 200}},
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	})

	pair := &types.MarketPair{
		MakerMarketID: "mkt-1",
		MakerTitle:    "Test market",
		MakerYesToken: "0xmaker-yes",
		MakerNoToken:  "0xmaker-no",
		HedgeYesToken: "77110001",
		HedgeNoToken:  "77110002",
	}
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Books:  mgr,
		Pairs:  func() []*types.MarketPair { return []*types.MarketPair{pair} },
	})

	assert.Equal(t, http.StatusBadRequest, get(s.Handler(), "/api/books").Code)
	assert.Equal(t, http.StatusNotFound, get(s.Handler(), "/api/books?market=nope").Code)

	rec := get(s.Handler(), "/api/books?market=mkt-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp booksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mkt-1", resp.MarketID)
	require.Len(t, resp.Sides, 2) // only tokens with cached books appear

	byToken := map[string]sideBook{}
	for _, side := range resp.Sides {
		byToken[side.TokenID] = side
	}
	assert.InDelta(t, 0.44, byToken["0xmaker-yes"].BidPx, 1e-9)
	assert.InDelta(t, 0.52, byToken["77110002"].AskPx, 1e-9)
	assert.False(t, byToken["0xmaker-yes"].Stale)
}

func TestCreateTask(t *testing.T) {
	store := newTestStore(t)
	engine := &fakeEngine{}
	breaker := newTestBreaker(t, 1000)

	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  store,
		Engine: engine,
		Guard:  breaker,
	})

	rec := postJSON(t, s.Handler(), "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var task tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, tasks.StatusPending, task.Status)
	assert.Equal(t, "mkt-1", task.MarketID)

	engine.mu.Lock()
	require.Len(t, engine.started, 1)
	assert.Equal(t, task.ID, engine.started[0])
	engine.mu.Unlock()

	// The hedge notional fed the breaker's rolling window.
	st := breaker.Status()
	assert.Equal(t, 1, st.RecentTradeCount)
	assert.InDelta(t, 0.52*50, st.AvgTradeNotional, 1e-9)

	// List now carries the task.
	rec = get(s.Handler(), "/api/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateTask_Validation(t *testing.T) {
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  newTestStore(t),
		Engine: &fakeEngine{},
	})

	body := validCreateBody()
	delete(body, "marketId")
	rec := postJSON(t, s.Handler(), "/api/tasks", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = validCreateBody()
	body["hedgeMaxAsk"] = 1.2
	rec = postJSON(t, s.Handler(), "/api/tasks", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_DuplicateActive(t *testing.T) {
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  newTestStore(t),
		Engine: &fakeEngine{},
	})

	require.Equal(t, http.StatusCreated, postJSON(t, s.Handler(), "/api/tasks", validCreateBody()).Code)

	// Same market and type, different size: the active slot is taken.
	body := validCreateBody()
	body["quantity"] = 75.0
	rec := postJSON(t, s.Handler(), "/api/tasks", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateTask_GuardTripped(t *testing.T) {
	breaker := newTestBreaker(t, 10) // $10 < $50 floor
	require.NoError(t, breaker.Check(context.Background()))
	require.False(t, breaker.IsEnabled())

	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  newTestStore(t),
		Engine: &fakeEngine{},
		Guard:  breaker,
	})

	rec := postJSON(t, s.Handler(), "/api/tasks", validCreateBody())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelTask(t *testing.T) {
	store := newTestStore(t)
	engine := &fakeEngine{}
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  store,
		Engine: engine,
	})

	rec := postJSON(t, s.Handler(), "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var task tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/"+task.ID, nil)
	del := httptest.NewRecorder()
	s.Handler().ServeHTTP(del, req)
	assert.Equal(t, http.StatusAccepted, del.Code)

	engine.mu.Lock()
	assert.Equal(t, []string{task.ID}, engine.cancelled)
	engine.mu.Unlock()
}

func TestCancelTask_Errors(t *testing.T) {
	store := newTestStore(t)

	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  store,
		Engine: &fakeEngine{cancelErr: tasks.ErrNotFound},
	})
	req := httptest.NewRequest(http.MethodDelete, "/api/tasks/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  store,
		Engine: &fakeEngine{cancelErr: tasks.ErrTerminal},
	})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetTask(t *testing.T) {
	store := newTestStore(t)
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  store,
		Engine: &fakeEngine{},
	})

	assert.Equal(t, http.StatusNotFound, get(s.Handler(), "/api/tasks/nope").Code)

	rec := postJSON(t, s.Handler(), "/api/tasks", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	var task tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	rec = get(s.Handler(), "/api/tasks/"+task.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartFailureSurfaces(t *testing.T) {
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Store:  newTestStore(t),
		Engine: &fakeEngine{startErr: errors.New("venue unavailable")},
	})

	rec := postJSON(t, s.Handler(), "/api/tasks", validCreateBody())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "venue unavailable")
}

func TestGuardStatus(t *testing.T) {
	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Guard:  newTestBreaker(t, 1000),
	})

	rec := get(s.Handler(), "/api/guard")
	require.Equal(t, http.StatusOK, rec.Code)

	var st circuitbreaker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Enabled)
}

func TestEventsStream(t *testing.T) {
	hub := dashboard.New(&dashboard.Config{Logger: zap.NewNop()})
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Close() })

	s := New(&Config{
		Port:   "0",
		Logger: zap.NewNop(),
		Health: healthprobe.New(),
		Hub:    hub,
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription exists once headers arrive; emit and expect a
	// framed event on the stream.
	hub.Emit(dashboard.EventTask, map[string]string{"taskId": "t-42"})

	reader := bufio.NewReader(resp.Body)
	var eventLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimSpace(line)
			break
		}
	}
	assert.Equal(t, "event: "+dashboard.EventTask, eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, dataLine, "t-42")
}
