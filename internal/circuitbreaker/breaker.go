// Package circuitbreaker gates new task intake on hedge-venue
// collateral. A maker fill that cannot be hedged for lack of USDC is
// naked exposure, so when the funder balance drops below a dynamic
// floor the breaker disables task creation until the balance recovers
// past a hysteresis margin.
package circuitbreaker

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/wallet"
)

// tradeWindow is the rolling number of trades behind the dynamic
// threshold.
const tradeWindow = 20

// BalanceFetcher reads on-chain balances. *wallet.Client implements it.
type BalanceFetcher interface {
	GetBalances(ctx context.Context, owner common.Address) (*wallet.Balances, error)
}

// Config holds breaker configuration.
type Config struct {
	Logger  *zap.Logger
	Fetcher BalanceFetcher
	Owner   common.Address // hedge funder wallet

	Decimals        int32         // collateral token decimals, default 6
	CheckInterval   time.Duration // balance poll cadence
	TradeMultiplier float64       // floor = avg trade notional x multiplier
	MinAbsolute     float64       // hard floor in USD
	HysteresisRatio float64       // re-enable at floor x ratio, >= 1
}

// Status is a point-in-time view for the dashboard API.
type Status struct {
	Enabled          bool      `json:"enabled"`
	LastBalance      float64   `json:"lastBalance"`
	LastCheck        time.Time `json:"lastCheck"`
	DisableThreshold float64   `json:"disableThreshold"`
	EnableThreshold  float64   `json:"enableThreshold"`
	AvgTradeNotional float64   `json:"avgTradeNotional"`
	RecentTradeCount int       `json:"recentTradeCount"`
}

// Breaker tracks the funder balance against a floor derived from
// recent trade notionals, with hysteresis so a balance oscillating
// around the floor cannot flap the gate.
type Breaker struct {
	enabled atomic.Bool

	logger          *zap.Logger
	fetcher         BalanceFetcher
	owner           common.Address
	decimals        int32
	checkInterval   time.Duration
	tradeMultiplier float64
	minAbsolute     float64
	hysteresisRatio float64

	mu               sync.RWMutex
	lastBalance      float64
	lastCheck        time.Time
	recentTrades     []float64
	disableThreshold float64
	enableThreshold  float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the breaker. It starts enabled; the first balance check
// runs on Start.
func New(cfg *Config) (*Breaker, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, errors.New("check interval must be positive")
	}
	if cfg.TradeMultiplier <= 0 {
		return nil, errors.New("trade multiplier must be positive")
	}
	if cfg.MinAbsolute <= 0 {
		return nil, errors.New("min absolute must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, errors.New("hysteresis ratio must be >= 1.0")
	}

	decimals := cfg.Decimals
	if decimals <= 0 {
		decimals = 6
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Breaker{
		logger:           cfg.Logger.Named("breaker"),
		fetcher:          cfg.Fetcher,
		owner:            cfg.Owner,
		decimals:         decimals,
		checkInterval:    cfg.CheckInterval,
		tradeMultiplier:  cfg.TradeMultiplier,
		minAbsolute:      cfg.MinAbsolute,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentTrades:     make([]float64, 0, tradeWindow),
		disableThreshold: cfg.MinAbsolute,
		enableThreshold:  cfg.MinAbsolute * cfg.HysteresisRatio,
		ctx:              ctx,
		cancel:           cancel,
	}
	b.enabled.Store(true)

	breakerEnabled.Set(1)
	breakerDisableThreshold.Set(b.disableThreshold)
	breakerEnableThreshold.Set(b.enableThreshold)
	return b, nil
}

// Start checks once and launches the poll loop.
func (b *Breaker) Start(ctx context.Context) error {
	if err := b.Check(ctx); err != nil {
		b.logger.Warn("initial-balance-check-failed", zap.Error(err))
	}

	b.wg.Add(1)
	go b.loop()

	b.logger.Info("breaker-started",
		zap.Duration("check-interval", b.checkInterval),
		zap.Float64("min-absolute", b.minAbsolute),
		zap.Float64("trade-multiplier", b.tradeMultiplier),
		zap.Float64("hysteresis", b.hysteresisRatio))
	return nil
}

// Close stops the poll loop.
func (b *Breaker) Close() error {
	b.cancel()
	b.wg.Wait()
	b.logger.Info("breaker-closed")
	return nil
}

// IsEnabled reports whether new tasks may be created. Lock-free, safe
// on hot paths.
func (b *Breaker) IsEnabled() bool {
	return b.enabled.Load()
}

// RecordTrade folds a task's hedge notional into the rolling window
// and recomputes the thresholds.
func (b *Breaker) RecordTrade(notional float64) {
	if notional <= 0 {
		return
	}

	b.mu.Lock()
	b.recentTrades = append(b.recentTrades, notional)
	if len(b.recentTrades) > tradeWindow {
		b.recentTrades = b.recentTrades[1:]
	}

	sum := 0.0
	for _, n := range b.recentTrades {
		sum += n
	}
	avg := sum / float64(len(b.recentTrades))

	b.disableThreshold = math.Max(avg*b.tradeMultiplier, b.minAbsolute)
	b.enableThreshold = b.disableThreshold * b.hysteresisRatio
	disable, enable := b.disableThreshold, b.enableThreshold
	b.mu.Unlock()

	breakerAvgTradeNotional.Set(avg)
	breakerDisableThreshold.Set(disable)
	breakerEnableThreshold.Set(enable)
}

// Check fetches the funder balance once and applies the hysteresis
// transition.
func (b *Breaker) Check(ctx context.Context) error {
	start := time.Now()
	defer func() {
		breakerCheckDuration.Observe(time.Since(start).Seconds())
	}()

	balances, err := b.fetcher.GetBalances(ctx, b.owner)
	if err != nil {
		return err
	}
	balance := b.toUSD(balances.Collateral)

	b.mu.Lock()
	b.lastBalance = balance
	b.lastCheck = time.Now()
	disable, enable := b.disableThreshold, b.enableThreshold
	b.mu.Unlock()

	breakerBalance.Set(balance)

	switch {
	case b.enabled.Load() && balance < disable:
		b.enabled.Store(false)
		breakerEnabled.Set(0)
		breakerStateChanges.Inc()
		b.logger.Warn("task-intake-disabled",
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disable))

	case !b.enabled.Load() && balance >= enable:
		b.enabled.Store(true)
		breakerEnabled.Set(1)
		breakerStateChanges.Inc()
		b.logger.Info("task-intake-enabled",
			zap.Float64("balance", balance),
			zap.Float64("enable-threshold", enable))

	default:
		b.logger.Debug("balance-checked",
			zap.Float64("balance", balance),
			zap.Bool("enabled", b.enabled.Load()))
	}
	return nil
}

// Status returns the breaker state for /api/guard.
func (b *Breaker) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	avg := 0.0
	if len(b.recentTrades) > 0 {
		sum := 0.0
		for _, n := range b.recentTrades {
			sum += n
		}
		avg = sum / float64(len(b.recentTrades))
	}

	return Status{
		Enabled:          b.enabled.Load(),
		LastBalance:      b.lastBalance,
		LastCheck:        b.lastCheck,
		DisableThreshold: b.disableThreshold,
		EnableThreshold:  b.enableThreshold,
		AvgTradeNotional: avg,
		RecentTradeCount: len(b.recentTrades),
	}
}

func (b *Breaker) loop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if err := b.Check(b.ctx); err != nil {
				breakerCheckErrors.Inc()
				b.logger.Warn("balance-check-failed", zap.Error(err))
			}
		}
	}
}

func (b *Breaker) toUSD(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(b.decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return out
}
