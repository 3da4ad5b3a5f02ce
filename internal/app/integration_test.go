//go:build integration
// +build integration

package app

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/internal/testutil"
	"github.com/mselser95/crossarb/pkg/config"
)

// devSignerKey is the first well-known hardhat development key. It
// holds no funds anywhere; the fakes never verify signatures, the key
// only has to produce a parseable signed order.
const devSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// integrationConfig returns a detection-only configuration pointed at
// the fake venues, with every cadence tightened for test speed. No RPC
// endpoints are set, so the chain-dependent components (fill watcher,
// collateral guard, balance tracker) disable themselves.
func integrationConfig(t *testing.T, fp *testutil.FakePredict, fpm *testutil.FakePolymarket) *config.Config {
	t.Helper()

	return &config.Config{
		AccountName:   "itest",
		DataDir:       t.TempDir(),
		DashboardPort: "0",

		PredictRESTURL:  fp.URL,
		PredictKeysScan: []string{"scan-key"},

		PolymarketRESTURL:  fpm.URL,
		PolymarketGammaURL: fpm.URL,
		PolymarketAPIKey:   "itest-hedge-key",

		WalletPoll: time.Second,

		BalanceGuardCheck:      100 * time.Millisecond,
		BalanceGuardMinUSD:     50,
		BalanceGuardMultiplier: 3,
		BalanceGuardHysteresis: 1.5,

		PairRefresh: 150 * time.Millisecond,

		OrderbookMode:        "legacy",
		HedgeOrderbookSource: "rest",
		StaleCalc:            time.Minute,
		StaleUI:              5 * time.Second,
		WarmConcurrency:      4,

		WSHealthCheck: 100 * time.Millisecond,

		PollInterval:     25 * time.Millisecond,
		OrderCacheStale:  time.Minute,
		FillPoll:         25 * time.Millisecond,
		RateLimitBackoff: 50 * time.Millisecond,

		ScanThrottle:   10 * time.Millisecond,
		OpportunityTTL: time.Minute,

		MinHedgeNotionalUSD:  1,
		MinHedgeQtyShares:    1,
		MaxPauseCount:        5,
		MaxHedgeRetries:      3,
		HedgeRetryBase:       20 * time.Millisecond,
		HedgeRetryCap:        100 * time.Millisecond,
		DepthGuardInterval:   25 * time.Millisecond,
		DepthGuardCooldown:   100 * time.Millisecond,
		PriceGuardInterval:   20 * time.Millisecond,
		SubmitCheckInterval:  20 * time.Millisecond,
		DelayedFillProbes:    3,
		DelayedFillInterval:  50 * time.Millisecond,
		ShutdownPauseTimeout: 2 * time.Second,

		ExposureThreshold: 10000,
		ExposureCheck:     100 * time.Millisecond,

		DashboardFlush: 50 * time.Millisecond,
		DashboardBatch: 32,

		StorageMode: "console",
	}
}

// apiDo runs one request against the in-process router.
func apiDo(h http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_TradingFlowOverAPI boots the fully assembled app
// against fake venues and drives one task through the dashboard API:
// detect over GET /api/opportunities, create over POST /api/tasks, fill
// the resting maker order on the fake, and watch the task complete over
// GET /api/tasks/{id}. The hedge leg runs through the real order signer.
func TestIntegration_TradingFlowOverAPI(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	fp := testutil.NewFakePredict(t)
	fpm := testutil.NewFakePolymarket(t)

	conditionID := "0xabc123feed01"
	makerYes, _ := fp.AddMarket("mkt-fed-cut", conditionID, "Will the Fed cut rates in March")
	hedgeYes, hedgeNo := fpm.AddMarket(conditionID, "Will the Fed cut rates in March")

	// Maker YES bid 0.42 + hedge NO ask 0.55 = 0.97/share, 300 bps.
	// Hedge YES stays expensive so only the YES/MAKER combo prices in.
	fp.SetBook(makerYes,
		testutil.Levels([2]float64{0.42, 100}),
		testutil.Levels([2]float64{0.55, 80}))
	fpm.SetBook(hedgeNo,
		testutil.Levels([2]float64{0.53, 100}),
		testutil.Levels([2]float64{0.55, 100}))
	fpm.SetBook(hedgeYes,
		testutil.Levels([2]float64{0.58, 100}),
		testutil.Levels([2]float64{0.60, 100}))

	cfg := integrationConfig(t, fp, fpm)
	cfg.PredictKeysTrade = []string{"trade-key"}
	cfg.PolymarketPrivateKey = devSignerKey
	cfg.DashboardAPIToken = "itest-token"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	a, err := New(cfg, logger, nil)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}
	if a.engine == nil {
		t.Fatal("engine should be enabled with credentials on both venues")
	}
	if a.fills != nil || a.guard != nil || a.tracker != nil {
		t.Fatal("chain-dependent components should be disabled without RPC endpoints")
	}

	if err := a.startComponents(); err != nil {
		t.Fatalf("start components: %v", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	h := a.http.Handler()
	token := cfg.DashboardAPIToken

	// Liveness is immediate; readiness stays down until the run loop
	// flips it; the API rejects requests without the bearer token.
	if rec := apiDo(h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}
	if rec := apiDo(h, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d, want 503", rec.Code)
	}
	if rec := apiDo(h, http.MethodGet, "/api/opportunities", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("GET /api/opportunities without token = %d, want 401", rec.Code)
	}
	t.Logf("✓ Probes and auth: live, not ready, bearer token enforced")

	if pairs := a.discovery.Pairs(); len(pairs) != 1 {
		t.Fatalf("expected 1 matched pair after startup, got %d", len(pairs))
	}
	t.Logf("✓ Pair matched on condition %s", conditionID)

	// Books warm over REST once the pair lands; poll the public API
	// until the scanner publishes the combo.
	var opp scanner.Opportunity
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := apiDo(h, http.MethodGet, "/api/opportunities", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /api/opportunities = %d, want 200", rec.Code)
		}
		var opps []scanner.Opportunity
		if err := json.Unmarshal(rec.Body.Bytes(), &opps); err != nil {
			t.Fatalf("decode opportunities: %v", err)
		}
		if len(opps) > 1 {
			t.Fatalf("expected at most 1 opportunity, got %d", len(opps))
		}
		if len(opps) == 1 {
			opp = opps[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for an opportunity")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if opp.ProfitBps != 300 {
		t.Fatalf("opportunity profit = %d bps, want 300", opp.ProfitBps)
	}
	t.Logf("✓ Opportunity published: %s %s/%s at %d bps",
		opp.MarketID, opp.Side, opp.Strategy, opp.ProfitBps)

	body, err := json.Marshal(map[string]any{
		"marketId":     opp.MarketID,
		"title":        opp.Title,
		"type":         "BUY",
		"strategy":     "MAKER",
		"arbSide":      string(opp.Side),
		"makerToken":   opp.MakerToken,
		"hedgeToken":   opp.HedgeToken,
		"tickSize":     0.01,
		"quantity":     25,
		"predictPrice": opp.PredictPrice,
		"hedgeMaxAsk":  0.56,
		"entryCost":    opp.TotalCost,
	})
	if err != nil {
		t.Fatalf("marshal task request: %v", err)
	}
	rec := apiDo(h, http.MethodPost, "/api/tasks", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /api/tasks = %d: %s", rec.Code, rec.Body.String())
	}
	var created tasks.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created task has no id")
	}
	t.Logf("✓ Task %s created and started over the API", created.ID)

	var makerHash string
	deadline = time.Now().Add(5 * time.Second)
	for makerHash == "" {
		if open := fp.OpenOrders(); len(open) > 0 {
			makerHash = open[0]
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for the maker order to rest")
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Logf("✓ Maker GTC resting: %s", makerHash)

	fp.FillOrder(makerHash, 25)

	var final tasks.Task
	deadline = time.Now().Add(10 * time.Second)
	for {
		rec := apiDo(h, http.MethodGet, "/api/tasks/"+created.ID, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /api/tasks/%s = %d", created.ID, rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &final); err != nil {
			t.Fatalf("decode task: %v", err)
		}
		if final.Status == tasks.StatusCompleted {
			break
		}
		if final.Status == tasks.StatusFailed || final.Status == tasks.StatusCancelled {
			t.Fatalf("task ended %s: %s", final.Status, final.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for completion, status %s", final.Status)
		}
		time.Sleep(25 * time.Millisecond)
	}

	if math.Abs(final.HedgedQty-25) > 1e-9 {
		t.Errorf("hedged = %f, want 25", final.HedgedQty)
	}
	if math.Abs(final.AvgHedgePrice-0.55) > 1e-9 {
		t.Errorf("avg hedge price = %f, want 0.55", final.AvgHedgePrice)
	}
	if math.Abs(final.ActualProfit-0.75) > 1e-6 {
		t.Errorf("actual profit = %f, want 0.75", final.ActualProfit)
	}
	if ids := fpm.Orders(); len(ids) != 1 {
		t.Errorf("expected 1 hedge IOC, got %d", len(ids))
	}
	t.Logf("✓ Filled and hedged: %.0f shares, $%.2f locked profit",
		final.HedgedQty, final.ActualProfit)
}

// TestIntegration_DetectionOnlyBoot boots without signing credentials.
// Discovery and scanning still run; the mutating task surface is not
// mounted.
func TestIntegration_DetectionOnlyBoot(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	fp := testutil.NewFakePredict(t)
	fpm := testutil.NewFakePolymarket(t)

	conditionID := "0xabc123feed02"
	makerYes, _ := fp.AddMarket("mkt-eth-flip", conditionID, "Will ETH flip BTC this cycle")
	hedgeYes, hedgeNo := fpm.AddMarket(conditionID, "Will ETH flip BTC this cycle")

	// Maker YES bid 0.33 + hedge NO ask 0.65 = 0.98/share, 200 bps.
	fp.SetBook(makerYes,
		testutil.Levels([2]float64{0.33, 40}),
		testutil.Levels([2]float64{0.37, 50}))
	fpm.SetBook(hedgeNo,
		testutil.Levels([2]float64{0.60, 90}),
		testutil.Levels([2]float64{0.65, 90}))
	fpm.SetBook(hedgeYes,
		testutil.Levels([2]float64{0.66, 60}),
		testutil.Levels([2]float64{0.70, 60}))

	cfg := integrationConfig(t, fp, fpm)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	a, err := New(cfg, logger, nil)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}
	if a.engine != nil {
		t.Fatal("engine must stay disabled without credentials")
	}

	if err := a.startComponents(); err != nil {
		t.Fatalf("start components: %v", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	if pairs := a.discovery.Pairs(); len(pairs) != 1 {
		t.Fatalf("expected 1 matched pair, got %d", len(pairs))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if snap := a.scanner.Snapshot(); len(snap) == 1 {
			if snap[0].ProfitBps != 200 {
				t.Fatalf("opportunity profit = %d bps, want 200", snap[0].ProfitBps)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for an opportunity")
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Logf("✓ Detection-only boot still scans: 200 bps combo found")

	h := a.http.Handler()
	if rec := apiDo(h, http.MethodGet, "/api/tasks", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("GET /api/tasks = %d, want 200", rec.Code)
	}
	if rec := apiDo(h, http.MethodPost, "/api/tasks", "", []byte(`{}`)); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/tasks without engine = %d, want 405", rec.Code)
	}
	t.Logf("✓ Task intake not mounted without the engine")
}

// TestIntegration_DifferentialPairDiscovery verifies that a market
// listed on both venues mid-run is picked up by the next discovery
// refresh and lands on the new-pair channel exactly once.
func TestIntegration_DifferentialPairDiscovery(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	fp := testutil.NewFakePredict(t)
	fpm := testutil.NewFakePolymarket(t)

	cond1 := "0xabc123feed03"
	makerYes1, _ := fp.AddMarket("mkt-gold-3k", cond1, "Will gold close above 3000")
	hedgeYes1, hedgeNo1 := fpm.AddMarket(cond1, "Will gold close above 3000")

	fp.SetBook(makerYes1,
		testutil.Levels([2]float64{0.40, 50}),
		testutil.Levels([2]float64{0.60, 50}))
	fpm.SetBook(hedgeNo1,
		testutil.Levels([2]float64{0.55, 50}),
		testutil.Levels([2]float64{0.65, 50}))
	fpm.SetBook(hedgeYes1,
		testutil.Levels([2]float64{0.55, 50}),
		testutil.Levels([2]float64{0.65, 50}))

	cfg := integrationConfig(t, fp, fpm)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	a, err := New(cfg, logger, nil)
	if err != nil {
		t.Fatalf("assemble app: %v", err)
	}
	if err := a.startComponents(); err != nil {
		t.Fatalf("start components: %v", err)
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	if pairs := a.discovery.Pairs(); len(pairs) != 1 {
		t.Fatalf("expected 1 pair after startup, got %d", len(pairs))
	}

	// Startup refresh is synchronous, so the first pair is already on
	// the channel.
	select {
	case p := <-a.discovery.NewPairs():
		if p.ConditionID != cond1 {
			t.Fatalf("initial pair condition = %s, want %s", p.ConditionID, cond1)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("initial pair never reached the new-pair channel")
	}
	t.Logf("✓ Initial discovery: 1 pair")

	cond2 := "0xabc123feed04"
	makerYes2, _ := fp.AddMarket("mkt-oil-50", cond2, "Will oil trade under 50")
	hedgeYes2, hedgeNo2 := fpm.AddMarket(cond2, "Will oil trade under 50")

	fp.SetBook(makerYes2,
		testutil.Levels([2]float64{0.20, 30}),
		testutil.Levels([2]float64{0.80, 30}))
	fpm.SetBook(hedgeNo2,
		testutil.Levels([2]float64{0.75, 30}),
		testutil.Levels([2]float64{0.85, 30}))
	fpm.SetBook(hedgeYes2,
		testutil.Levels([2]float64{0.15, 30}),
		testutil.Levels([2]float64{0.85, 30}))

	select {
	case p := <-a.discovery.NewPairs():
		if p.ConditionID != cond2 {
			t.Fatalf("differential pair condition = %s, want %s", p.ConditionID, cond2)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for the differential pair")
	}

	if pairs := a.discovery.Pairs(); len(pairs) != 2 {
		t.Fatalf("expected 2 pairs after differential refresh, got %d", len(pairs))
	}
	t.Logf("✓ Differential discovery: second market picked up mid-run")
}
