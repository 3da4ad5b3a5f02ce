package dashboard

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/exposure"
	"github.com/mselser95/crossarb/internal/executor"
	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// closedOpportunity is one entry on the closeOpportunities channel.
type closedOpportunity struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// marketRow summarizes one matched pair for the markets and sports
// channels.
type marketRow struct {
	MarketID    string            `json:"marketId"`
	Title       string            `json:"title"`
	Slug        string            `json:"slug"`
	ConditionID string            `json:"conditionId"`
	HedgeSlug   string            `json:"hedgeSlug"`
	Method      types.MatchMethod `json:"method"`
	Inverted    bool              `json:"inverted"`
	Live        bool              `json:"live"`
}

// statsPayload is the stats channel snapshot.
type statsPayload struct {
	UptimeSeconds    float64   `json:"uptimeSeconds"`
	Opportunities    int       `json:"opportunities"`
	ActiveTasks      int       `json:"activeTasks"`
	TotalTasks       int       `json:"totalTasks"`
	UnhedgedShares   float64   `json:"unhedgedShares"`
	ExposureBreached bool      `json:"exposureBreached"`
	At               time.Time `json:"at"`
}

// BridgeConfig wires the hub to its event sources. Nil sources are
// skipped, so a degraded deployment still serves the channels it can.
type BridgeConfig struct {
	Logger   *zap.Logger
	Hub      *Hub
	Scanner  *scanner.Scanner
	Store    *tasks.Store
	Engine   *executor.Engine
	Exposure *exposure.Monitor

	// Pairs supplies the matched universe backing the markets and
	// sports channels.
	Pairs func() []*types.MarketPair

	// StatsInterval is the cadence of the stats, markets, and sports
	// snapshots.
	StatsInterval time.Duration

	// CloseHistory bounds the recently-closed opportunity list.
	CloseHistory int
}

// Bridge pumps scanner, task store, engine, and exposure events into
// hub channels.
type Bridge struct {
	logger   *zap.Logger
	hub      *Hub
	scanner  *scanner.Scanner
	store    *tasks.Store
	engine   *executor.Engine
	exposure *exposure.Monitor
	pairs    func() []*types.MarketPair

	statsEvery   time.Duration
	closeHistory int

	closedMu sync.Mutex
	closed   []closedOpportunity

	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBridge creates the bridge.
func NewBridge(cfg *BridgeConfig) *Bridge {
	statsEvery := cfg.StatsInterval
	if statsEvery <= 0 {
		statsEvery = 3 * time.Second
	}
	closeHistory := cfg.CloseHistory
	if closeHistory <= 0 {
		closeHistory = 50
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		logger:       cfg.Logger.Named("dashboard-bridge"),
		hub:          cfg.Hub,
		scanner:      cfg.Scanner,
		store:        cfg.Store,
		engine:       cfg.Engine,
		exposure:     cfg.Exposure,
		pairs:        cfg.Pairs,
		statsEvery:   statsEvery,
		closeHistory: closeHistory,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches one pump per wired source.
func (b *Bridge) Start(ctx context.Context) error {
	b.startedAt = time.Now()

	if b.scanner != nil {
		b.wg.Add(1)
		go b.pumpOpportunities()
	}
	if b.store != nil {
		b.wg.Add(1)
		go b.pumpTasks()
	}
	if b.engine != nil {
		b.wg.Add(1)
		go b.pumpTaskEvents()
	}
	if b.exposure != nil {
		b.wg.Add(1)
		go b.pumpExposure()
	}
	b.wg.Add(1)
	go b.pumpStats()

	b.logger.Info("dashboard-bridge-started",
		zap.Bool("scanner", b.scanner != nil),
		zap.Bool("store", b.store != nil),
		zap.Bool("engine", b.engine != nil),
		zap.Bool("exposure", b.exposure != nil))
	return nil
}

// Close stops the pumps.
func (b *Bridge) Close() error {
	b.cancel()
	b.wg.Wait()
	b.logger.Info("dashboard-bridge-closed")
	return nil
}

func (b *Bridge) pumpOpportunities() {
	defer b.wg.Done()

	updates := b.scanner.Updates()
	removals := b.scanner.Removals()
	for {
		select {
		case <-b.ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			b.hub.Publish(ChannelOpportunity, b.scanner.Snapshot())
		case key, ok := <-removals:
			if !ok {
				removals = nil
				continue
			}
			b.recordClosed(key)
			b.hub.Publish(ChannelOpportunity, b.scanner.Snapshot())
			b.hub.Publish(ChannelCloseOpportunities, b.closedSnapshot())
		}
	}
}

func (b *Bridge) pumpTasks() {
	defer b.wg.Done()

	events := b.store.Events()
	for {
		select {
		case <-b.ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			b.hub.Publish(ChannelTasks, b.store.List())
		}
	}
}

func (b *Bridge) pumpTaskEvents() {
	defer b.wg.Done()

	events := b.engine.Events()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.hub.Emit(EventTask, ev)
		}
	}
}

func (b *Bridge) pumpExposure() {
	defer b.wg.Done()

	alerts := b.exposure.Alerts()
	for {
		select {
		case <-b.ctx.Done():
			return
		case report, ok := <-alerts:
			if !ok {
				return
			}
			b.hub.Emit(EventExposureAlert, report)
		}
	}
}

func (b *Bridge) pumpStats() {
	defer b.wg.Done()

	tick := time.NewTicker(b.statsEvery)
	defer tick.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-tick.C:
			b.publishStats()
			b.publishMarkets()
		}
	}
}

func (b *Bridge) publishStats() {
	stats := statsPayload{
		UptimeSeconds: time.Since(b.startedAt).Seconds(),
		At:            time.Now(),
	}
	if b.scanner != nil {
		stats.Opportunities = len(b.scanner.Snapshot())
	}
	if b.store != nil {
		all := b.store.List()
		stats.TotalTasks = len(all)
		for _, t := range all {
			if t.Active() {
				stats.ActiveTasks++
			}
		}
	}
	if b.exposure != nil {
		report := b.exposure.Snapshot()
		stats.UnhedgedShares = report.TotalUnhedged
		stats.ExposureBreached = report.Breached
	}
	b.hub.Publish(ChannelStats, stats)
}

func (b *Bridge) publishMarkets() {
	if b.pairs == nil {
		return
	}
	pairs := b.pairs()

	live := make(map[string]bool)
	if b.scanner != nil {
		for _, m := range b.scanner.ActiveMarkets() {
			live[m] = true
		}
	}

	rows := make([]marketRow, 0, len(pairs))
	sports := make([]marketRow, 0)
	for _, p := range pairs {
		row := marketRow{
			MarketID:    p.MakerMarketID,
			Title:       p.MakerTitle,
			Slug:        p.MakerSlug,
			ConditionID: p.ConditionID,
			HedgeSlug:   p.HedgeSlug,
			Method:      p.Method,
			Inverted:    p.Inverted,
			Live:        live[p.MakerMarketID],
		}
		rows = append(rows, row)
		if p.Method == types.MatchBySlug {
			sports = append(sports, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].MarketID < rows[j].MarketID })
	sort.Slice(sports, func(i, j int) bool { return sports[i].MarketID < sports[j].MarketID })

	b.hub.Publish(ChannelMarkets, rows)
	b.hub.Publish(ChannelSports, sports)
}

func (b *Bridge) recordClosed(key string) {
	b.closedMu.Lock()
	b.closed = append(b.closed, closedOpportunity{Key: key, At: time.Now()})
	if len(b.closed) > b.closeHistory {
		b.closed = b.closed[len(b.closed)-b.closeHistory:]
	}
	b.closedMu.Unlock()
}

func (b *Bridge) closedSnapshot() []closedOpportunity {
	b.closedMu.Lock()
	defer b.closedMu.Unlock()
	out := make([]closedOpportunity, len(b.closed))
	copy(out, b.closed)
	return out
}
