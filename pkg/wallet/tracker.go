package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Entry is one (chain, owner) pair the tracker watches.
type Entry struct {
	Client *Client
	Owner  common.Address

	// Positions includes the data-API position sweep when true.
	Positions bool
}

// Snapshot is one entry's last observed state.
type Snapshot struct {
	Chain         string    `json:"chain"`
	Owner         string    `json:"owner"`
	CollateralUSD float64   `json:"collateralUsd"`
	AllowanceUSD  float64   `json:"allowanceUsd"`
	NativeBalance float64   `json:"nativeBalance"`
	Positions     int       `json:"positions"`
	PositionValue float64   `json:"positionValue"`
	At            time.Time `json:"at"`
}

// TrackerConfig holds tracker configuration.
type TrackerConfig struct {
	Logger   *zap.Logger
	Entries  []Entry
	Interval time.Duration

	// OnUpdate receives every refreshed snapshot; the app publishes
	// them on the accounts dashboard channel. Optional.
	OnUpdate func(Snapshot)
}

// Tracker polls each entry's balances on one cadence and keeps metrics
// and snapshots current.
type Tracker struct {
	logger   *zap.Logger
	entries  []Entry
	interval time.Duration
	onUpdate func(Snapshot)

	mu   sync.RWMutex
	last map[string]Snapshot // keyed by chain

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates the tracker.
func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(cfg.Entries) == 0 {
		return nil, errors.New("at least one entry required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		logger:   cfg.Logger.Named("wallet-tracker"),
		entries:  cfg.Entries,
		interval: interval,
		onUpdate: cfg.OnUpdate,
		last:     make(map[string]Snapshot, len(cfg.Entries)),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the polling loop.
func (t *Tracker) Start(ctx context.Context) error {
	t.logger.Info("wallet-tracker-started",
		zap.Duration("interval", t.interval),
		zap.Int("entries", len(t.entries)))

	t.wg.Add(1)
	go t.loop()
	return nil
}

// Close stops the loop.
func (t *Tracker) Close() error {
	t.cancel()
	t.wg.Wait()
	t.logger.Info("wallet-tracker-closed")
	return nil
}

// Snapshots returns the last observation per chain.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.last))
	for _, s := range t.last {
		out = append(out, s)
	}
	return out
}

func (t *Tracker) loop() {
	defer t.wg.Done()

	t.pollAll()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.pollAll()
		}
	}
}

func (t *Tracker) pollAll() {
	for i := range t.entries {
		if err := t.poll(&t.entries[i]); err != nil {
			updateErrorsTotal.WithLabelValues(t.entries[i].Client.Chain()).Inc()
			t.logger.Warn("wallet-poll-failed",
				zap.String("chain", t.entries[i].Client.Chain()),
				zap.Error(err))
		}
	}
}

func (t *Tracker) poll(e *Entry) error {
	start := time.Now()
	defer func() {
		updateDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()

	balances, err := e.Client.GetBalances(ctx, e.Owner)
	if err != nil {
		return err
	}

	snap := Snapshot{
		Chain:         e.Client.Chain(),
		Owner:         e.Owner.Hex(),
		CollateralUSD: e.Client.CollateralUSD(balances.Collateral),
		AllowanceUSD:  e.Client.CollateralUSD(balances.Allowance),
		NativeBalance: weiToFloat(balances.Native),
		At:            time.Now(),
	}

	if e.Positions {
		positions, perr := e.Client.GetPositions(ctx, e.Owner.Hex())
		if perr != nil {
			t.logger.Debug("position-sweep-failed", zap.Error(perr))
		} else {
			snap.Positions = len(positions)
			for _, p := range positions {
				snap.PositionValue += p.Value
			}
		}
	}

	chain := e.Client.Chain()
	collateralBalance.WithLabelValues(chain).Set(snap.CollateralUSD)
	allowanceBalance.WithLabelValues(chain).Set(snap.AllowanceUSD)
	nativeBalance.WithLabelValues(chain).Set(snap.NativeBalance)
	positionsOpen.WithLabelValues(chain).Set(float64(snap.Positions))
	positionValue.WithLabelValues(chain).Set(snap.PositionValue)
	lastUpdateTimestamp.WithLabelValues(chain).Set(float64(snap.At.Unix()))

	t.mu.Lock()
	t.last[chain] = snap
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(snap)
	}
	return nil
}
