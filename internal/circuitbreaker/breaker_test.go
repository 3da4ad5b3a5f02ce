package circuitbreaker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/wallet"
)

type fakeFetcher struct {
	mu      sync.Mutex
	balance *big.Int
	err     error
	calls   int
}

func (f *fakeFetcher) GetBalances(_ context.Context, _ common.Address) (*wallet.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &wallet.Balances{Collateral: new(big.Int).Set(f.balance)}, nil
}

func (f *fakeFetcher) setBalance(b *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = b
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// usd returns v dollars as a 6-decimal collateral amount.
func usd(v float64) *big.Int {
	return big.NewInt(int64(v * 1e6))
}

func newTestBreaker(t *testing.T, f *fakeFetcher) *Breaker {
	t.Helper()
	b, err := New(&Config{
		Logger:          zap.NewNop(),
		Fetcher:         f,
		Owner:           common.HexToAddress("0x1111111111111111111111111111111111111111"),
		CheckInterval:   time.Minute,
		TradeMultiplier: 3.0,
		MinAbsolute:     50.0,
		HysteresisRatio: 1.5,
	})
	require.NoError(t, err)
	return b
}

func TestNew_Validation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Logger:          zap.NewNop(),
			Fetcher:         &fakeFetcher{balance: usd(100)},
			CheckInterval:   time.Minute,
			TradeMultiplier: 3.0,
			MinAbsolute:     50.0,
			HysteresisRatio: 1.5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "nil fetcher", mutate: func(c *Config) { c.Fetcher = nil }, wantErr: "fetcher"},
		{name: "nil logger", mutate: func(c *Config) { c.Logger = nil }, wantErr: "logger"},
		{name: "zero interval", mutate: func(c *Config) { c.CheckInterval = 0 }, wantErr: "check interval"},
		{name: "zero multiplier", mutate: func(c *Config) { c.TradeMultiplier = 0 }, wantErr: "trade multiplier"},
		{name: "zero min absolute", mutate: func(c *Config) { c.MinAbsolute = 0 }, wantErr: "min absolute"},
		{name: "hysteresis below one", mutate: func(c *Config) { c.HysteresisRatio = 0.9 }, wantErr: "hysteresis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			b, err := New(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, b.IsEnabled(), "new breaker starts enabled")
		})
	}
}

func TestRecordTrade_UpdatesThresholds(t *testing.T) {
	b := newTestBreaker(t, &fakeFetcher{balance: usd(1000)})

	// Floor starts at the hard minimum.
	st := b.Status()
	assert.InDelta(t, 50.0, st.DisableThreshold, 1e-9)
	assert.InDelta(t, 75.0, st.EnableThreshold, 1e-9)

	b.RecordTrade(100)
	st = b.Status()
	assert.InDelta(t, 100.0, st.AvgTradeNotional, 1e-9)
	assert.InDelta(t, 300.0, st.DisableThreshold, 1e-9) // 100 x 3
	assert.InDelta(t, 450.0, st.EnableThreshold, 1e-9)  // 300 x 1.5
	assert.Equal(t, 1, st.RecentTradeCount)
}

func TestRecordTrade_HardFloorWins(t *testing.T) {
	b := newTestBreaker(t, &fakeFetcher{balance: usd(1000)})

	// Tiny trades cannot pull the floor below the absolute minimum.
	b.RecordTrade(2)
	st := b.Status()
	assert.InDelta(t, 50.0, st.DisableThreshold, 1e-9)
	assert.InDelta(t, 75.0, st.EnableThreshold, 1e-9)
}

func TestRecordTrade_RollingWindow(t *testing.T) {
	b := newTestBreaker(t, &fakeFetcher{balance: usd(1000)})

	// 20 trades of 10 then 20 trades of 50: the first batch ages out.
	for i := 0; i < tradeWindow; i++ {
		b.RecordTrade(10)
	}
	for i := 0; i < tradeWindow; i++ {
		b.RecordTrade(50)
	}

	st := b.Status()
	assert.Equal(t, tradeWindow, st.RecentTradeCount)
	assert.InDelta(t, 50.0, st.AvgTradeNotional, 1e-9)
	assert.InDelta(t, 150.0, st.DisableThreshold, 1e-9)
}

func TestRecordTrade_IgnoresNonPositive(t *testing.T) {
	b := newTestBreaker(t, &fakeFetcher{balance: usd(1000)})

	b.RecordTrade(0)
	b.RecordTrade(-5)

	assert.Equal(t, 0, b.Status().RecentTradeCount)
}

func TestCheck_DisablesBelowThreshold(t *testing.T) {
	f := &fakeFetcher{balance: usd(40)} // below the $50 floor
	b := newTestBreaker(t, f)

	require.NoError(t, b.Check(context.Background()))

	assert.False(t, b.IsEnabled())
	st := b.Status()
	assert.InDelta(t, 40.0, st.LastBalance, 1e-9)
	assert.False(t, st.LastCheck.IsZero())
}

func TestCheck_Hysteresis(t *testing.T) {
	f := &fakeFetcher{balance: usd(40)}
	b := newTestBreaker(t, f)

	require.NoError(t, b.Check(context.Background()))
	require.False(t, b.IsEnabled())

	// Recovery past the disable floor but short of the enable level
	// keeps the gate closed.
	f.setBalance(usd(60))
	require.NoError(t, b.Check(context.Background()))
	assert.False(t, b.IsEnabled())

	// Crossing the enable level (50 x 1.5 = 75) reopens it.
	f.setBalance(usd(80))
	require.NoError(t, b.Check(context.Background()))
	assert.True(t, b.IsEnabled())
}

func TestCheck_StaysEnabledAboveThreshold(t *testing.T) {
	f := &fakeFetcher{balance: usd(500)}
	b := newTestBreaker(t, f)

	require.NoError(t, b.Check(context.Background()))
	assert.True(t, b.IsEnabled())
}

func TestCheck_FetchErrorKeepsState(t *testing.T) {
	f := &fakeFetcher{err: errors.New("rpc unavailable")}
	b := newTestBreaker(t, f)

	err := b.Check(context.Background())
	require.Error(t, err)
	assert.True(t, b.IsEnabled(), "fetch failure must not flip the gate")
}

func TestCheck_EighteenDecimalCollateral(t *testing.T) {
	bal := new(big.Int).Mul(big.NewInt(40), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	f := &fakeFetcher{balance: bal}

	b, err := New(&Config{
		Logger:          zap.NewNop(),
		Fetcher:         f,
		Decimals:        18,
		CheckInterval:   time.Minute,
		TradeMultiplier: 3.0,
		MinAbsolute:     50.0,
		HysteresisRatio: 1.5,
	})
	require.NoError(t, err)

	require.NoError(t, b.Check(context.Background()))
	assert.False(t, b.IsEnabled())
	assert.InDelta(t, 40.0, b.Status().LastBalance, 1e-9)
}

func TestBreaker_StartClose(t *testing.T) {
	f := &fakeFetcher{balance: usd(500)}
	b, err := New(&Config{
		Logger:          zap.NewNop(),
		Fetcher:         f,
		CheckInterval:   10 * time.Millisecond,
		TradeMultiplier: 3.0,
		MinAbsolute:     50.0,
		HysteresisRatio: 1.5,
	})
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return f.callCount() >= 3 // initial check plus ticks
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Close())
	calls := f.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.callCount(), "loop must stop after Close")
}
