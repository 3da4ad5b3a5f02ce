// Package executor drives the per-task state machine: maker order
// submission, incremental IOC hedging, price and depth guards, and
// delayed-settlement verification. Each task runs on its own runner
// goroutine with a cancellable scope; delayed-settlement probes are
// rooted at the engine so they outlive task cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/orderstatus"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/pkg/types"
)

// ErrAlreadyRunning means the task already has a live runner.
var ErrAlreadyRunning = errors.New("task already running")

// fillEps absorbs float noise when comparing share quantities.
const fillEps = 1e-9

// FillSource streams deduplicated on-chain fills for a maker order
// hash. A nil source degrades the engine to REST-only fill detection.
type FillSource interface {
	Subscribe(orderHash string) <-chan *types.Fill
	Unsubscribe(orderHash string)
}

// MetaSource resolves hedge-venue token metadata (tick size, neg-risk).
type MetaSource interface {
	Get(ctx context.Context, tokenID string) (*polymarket.TokenMeta, error)
}

// Journal records task lifecycle events and book snapshots. Optional.
type Journal interface {
	Record(taskID, event string, payload interface{})
}

// TaskEvent is a named lifecycle event surfaced to the dashboard.
type TaskEvent struct {
	TaskID string    `json:"taskId"`
	Type   string    `json:"type"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Lifecycle event names. These match the strings persisted in journals
// and shown on the dashboard.
const (
	EventPriceGuardTriggered = "PRICE_GUARD_TRIGGERED"
	EventDepthAdjusted       = "DEPTH_ADJUSTED"
	EventDelayedFillDetected = "DELAYED_FILL_DETECTED"
	EventEmergencyHedge      = "EMERGENCY_HEDGE"
	EventGhostDepth          = "GHOST_DEPTH"
	EventOrderFailed         = "ORDER_FAILED"
	EventTaskResumed         = "TASK_RESUMED"
	EventTaskCompleted       = "TASK_COMPLETED"
)

// Config holds executor configuration. Durations and limits default to
// the documented values when zero.
type Config struct {
	Logger *zap.Logger
	Store  *tasks.Store
	Books  *books.Manager
	Maker  venue.Client
	Hedge  venue.Client
	Orders *orderstatus.Cache

	Fills     FillSource // optional: nil runs REST-only
	HedgeMeta MetaSource // optional: nil assumes 0.01 tick
	Journal   Journal    // optional

	// FeedHealth reports whether every trade-relevant WS feed is
	// connected. Optional; nil disables the feed gate.
	FeedHealth func() bool

	MaxPauseCount    int           // 5
	MaxHedgeRetries  int           // 3
	HedgeRetryBase   time.Duration // 500ms, scales linearly per attempt
	HedgeRetryCap    time.Duration // 2s
	MinHedgeNotional float64       // $1
	MinHedgeQty      float64       // 1 share
	SubmitPoll       time.Duration // 1s safety re-check while waiting to rest
	DepthInterval    time.Duration // 1s depth guard cadence
	DepthCooldown    time.Duration // 10s between expansions
	PriceInterval    time.Duration // 500ms price guard cadence
	FillPoll         time.Duration // 500ms maker order-status poll
	HedgeWatchTick   time.Duration // 250ms IOC status watch
	HedgeWatchTries  int           // 8
	SettleProbes     int           // 6
	SettleInterval   time.Duration // 5s
	ShutdownTimeout  time.Duration // 60s hard cap
	StaleCalc        time.Duration // 10s book freshness for decisions
	FeedPoll         time.Duration // 1s feed health cadence
	DisconnectPause  time.Duration // 15s of feed downtime before tasks park
	ResumeDelay      time.Duration // 3s of feed health before recovery may resume
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxPauseCount <= 0 {
		out.MaxPauseCount = 5
	}
	if out.MaxHedgeRetries <= 0 {
		out.MaxHedgeRetries = 3
	}
	if out.HedgeRetryBase == 0 {
		out.HedgeRetryBase = 500 * time.Millisecond
	}
	if out.HedgeRetryCap == 0 {
		out.HedgeRetryCap = 2 * time.Second
	}
	if out.MinHedgeNotional == 0 {
		out.MinHedgeNotional = 1.0
	}
	if out.MinHedgeQty == 0 {
		out.MinHedgeQty = 1.0
	}
	if out.SubmitPoll == 0 {
		out.SubmitPoll = time.Second
	}
	if out.DepthInterval == 0 {
		out.DepthInterval = time.Second
	}
	if out.DepthCooldown == 0 {
		out.DepthCooldown = 10 * time.Second
	}
	if out.PriceInterval == 0 {
		out.PriceInterval = 500 * time.Millisecond
	}
	if out.FillPoll == 0 {
		out.FillPoll = 500 * time.Millisecond
	}
	if out.HedgeWatchTick == 0 {
		out.HedgeWatchTick = 250 * time.Millisecond
	}
	if out.HedgeWatchTries <= 0 {
		out.HedgeWatchTries = 8
	}
	if out.SettleProbes <= 0 {
		out.SettleProbes = 6
	}
	if out.SettleInterval == 0 {
		out.SettleInterval = 5 * time.Second
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = 60 * time.Second
	}
	if out.StaleCalc == 0 {
		out.StaleCalc = 10 * time.Second
	}
	if out.FeedPoll == 0 {
		out.FeedPoll = time.Second
	}
	if out.DisconnectPause == 0 {
		out.DisconnectPause = 15 * time.Second
	}
	if out.ResumeDelay == 0 {
		out.ResumeDelay = 3 * time.Second
	}
	return out
}

// Engine owns the task runners.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	store  *tasks.Store
	books  *books.Manager
	maker  venue.Client
	hedge  venue.Client
	orders *orderstatus.Cache
	fills  FillSource
	meta   MetaSource
	jrnl   Journal

	mu      sync.Mutex
	runners map[string]*runner

	events chan TaskEvent

	// feedOK gates new maker episodes and recovery while the WS feeds
	// are down. Stays true when no FeedHealth is configured.
	feedOK atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // runners
	probes sync.WaitGroup // delayed-settlement probes, engine-scoped
	aux    sync.WaitGroup // feed watcher
}

// New creates the engine.
func New(cfg *Config) *Engine {
	c := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:     c,
		logger:  c.Logger.Named("executor"),
		store:   c.Store,
		books:   c.Books,
		maker:   c.Maker,
		hedge:   c.Hedge,
		orders:  c.Orders,
		fills:   c.Fills,
		meta:    c.HedgeMeta,
		jrnl:    c.Journal,
		runners: make(map[string]*runner),
		events:  make(chan TaskEvent, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.feedOK.Store(true)
	return e
}

// Start launches the feed watcher; runners launch per task.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.FeedHealth != nil {
		e.aux.Add(1)
		go e.watchFeeds()
	}
	e.logger.Info("executor-started",
		zap.Bool("chain-fills", e.fills != nil),
		zap.Bool("feed-gate", e.cfg.FeedHealth != nil),
		zap.Int("max-pause-count", e.cfg.MaxPauseCount))
	return nil
}

// watchFeeds parks every live task when the WS feeds stay down past
// the grace period, and lifts the gate once they have been healthy
// for the resume delay. Books refreshed by the REST fallback must not
// drive quoting decisions, so quoting stops outright.
func (e *Engine) watchFeeds() {
	defer e.aux.Done()

	ticker := time.NewTicker(e.cfg.FeedPoll)
	defer ticker.Stop()

	var downSince, upSince time.Time
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if e.cfg.FeedHealth() {
			downSince = time.Time{}
			if e.feedOK.Load() {
				continue
			}
			if upSince.IsZero() {
				upSince = now
				continue
			}
			if now.Sub(upSince) >= e.cfg.ResumeDelay {
				e.feedOK.Store(true)
				e.logger.Info("feed-gate-lifted",
					zap.Duration("healthy-for", now.Sub(upSince)))
			}
			continue
		}

		upSince = time.Time{}
		if downSince.IsZero() {
			downSince = now
			continue
		}
		if e.feedOK.Load() && now.Sub(downSince) >= e.cfg.DisconnectPause {
			e.feedOK.Store(false)
			feedGateTotal.Inc()
			e.pauseAllForFeeds()
		}
	}
}

// pauseAllForFeeds asks every live runner to park its task.
func (e *Engine) pauseAllForFeeds() {
	e.mu.Lock()
	live := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		live = append(live, r)
	}
	e.mu.Unlock()

	for _, r := range live {
		r.requestFeedPause()
	}
	e.logger.Warn("feeds-down-parking-tasks",
		zap.Duration("down-for", e.cfg.DisconnectPause),
		zap.Int("tasks", len(live)))
}

// feedsHealthy reports whether the feed gate allows quoting.
func (e *Engine) feedsHealthy() bool {
	return e.feedOK.Load()
}

// Events streams named lifecycle events.
func (e *Engine) Events() <-chan TaskEvent {
	return e.events
}

// StartTask launches a runner for the task. Terminal tasks and tasks
// that already have a runner are rejected.
func (e *Engine) StartTask(id string) error {
	task, ok := e.store.Get(id)
	if !ok {
		return fmt.Errorf("start task %s: %w", id, tasks.ErrNotFound)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("start task %s: %w", id, tasks.ErrTerminal)
	}

	e.mu.Lock()
	if _, exists := e.runners[id]; exists {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrAlreadyRunning)
	}
	r := newRunner(e, id)
	e.runners[id] = r
	e.mu.Unlock()

	runnersActive.Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.runners, id)
			e.mu.Unlock()
			runnersActive.Dec()
		}()
		r.run()
	}()

	e.logger.Info("task-runner-started",
		zap.String("task-id", id),
		zap.String("strategy", string(task.Strategy)),
		zap.String("status", string(task.Status)))
	return nil
}

// Recover adopts every recoverable task from the store. Called once
// after Start.
func (e *Engine) Recover() {
	recoverable := e.store.GetRecoverable()
	for _, t := range recoverable {
		if err := e.StartTask(t.ID); err != nil {
			e.logger.Warn("task-recovery-failed",
				zap.String("task-id", t.ID),
				zap.Error(err))
		}
	}
	if len(recoverable) > 0 {
		e.logger.Info("tasks-recovered", zap.Int("count", len(recoverable)))
	}
}

// CancelTask requests a user cancel. A live runner winds the task down
// (cancel maker, hedge residue); without one the store transition is
// applied directly.
func (e *Engine) CancelTask(id string) error {
	e.mu.Lock()
	r := e.runners[id]
	e.mu.Unlock()

	if r != nil {
		r.requestCancel()
		return nil
	}
	_, err := e.store.Cancel(id)
	return err
}

// Close pauses every live task (cancel maker order, hedge residue,
// persist PAUSED) under the shutdown hard cap, then stops the engine
// scope, which also ends outstanding settlement probes.
func (e *Engine) Close() error {
	e.mu.Lock()
	live := make([]*runner, 0, len(e.runners))
	for _, r := range e.runners {
		live = append(live, r)
	}
	e.mu.Unlock()

	for _, r := range live {
		r.requestShutdown()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Error("shutdown-hard-cap-reached",
			zap.Duration("cap", e.cfg.ShutdownTimeout),
			zap.Int("tasks", len(live)))
	}

	e.cancel()
	e.probes.Wait()
	e.aux.Wait()
	e.logger.Info("executor-closed")
	return nil
}

func (e *Engine) emit(taskID, typ, detail string) {
	ev := TaskEvent{TaskID: taskID, Type: typ, Detail: detail, At: time.Now()}
	select {
	case e.events <- ev:
	default:
		eventsDroppedTotal.Inc()
	}
	if e.jrnl != nil {
		e.jrnl.Record(taskID, typ, ev)
	}
	taskEventsTotal.WithLabelValues(typ).Inc()
}

// hedgeOpts resolves hedge-venue order parameters for a token.
func (e *Engine) hedgeOpts(ctx context.Context, token string, fallbackNegRisk bool) types.PlaceOpts {
	opts := types.PlaceOpts{
		OrderType: types.OrderTypeIOC,
		TickSize:  0.01,
		NegRisk:   fallbackNegRisk,
	}
	if e.meta == nil {
		return opts
	}
	meta, err := e.meta.Get(ctx, token)
	if err != nil {
		e.logger.Debug("hedge-meta-lookup-failed",
			zap.String("token", token),
			zap.Error(err))
		return opts
	}
	opts.TickSize = meta.TickSize
	opts.NegRisk = meta.NegRisk
	return opts
}
