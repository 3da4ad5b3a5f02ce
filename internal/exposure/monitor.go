// Package exposure watches the aggregate unhedged maker quantity
// across live tasks and alerts when it crosses the configured
// threshold. The sweep cadence is deliberately slow so in-flight
// hedges settle before they can count as exposure.
package exposure

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/tasks"
)

// shareEps absorbs float noise when comparing share quantities.
const shareEps = 1e-9

// TaskExposure is one task's contribution to the unhedged total.
type TaskExposure struct {
	TaskID   string  `json:"taskId"`
	MarketID string  `json:"marketId"`
	Title    string  `json:"title,omitempty"`
	Status   string  `json:"status"`
	Unhedged float64 `json:"unhedged"`
}

// Report is one sweep's exposure picture. Breached reports are pushed
// on the alerts channel; the first clean sweep after a breach is
// pushed too so consumers can clear their pinned alert.
type Report struct {
	TotalUnhedged float64        `json:"totalUnhedged"`
	Threshold     float64        `json:"threshold"`
	Breached      bool           `json:"breached"`
	Tasks         []TaskExposure `json:"tasks,omitempty"`
	At            time.Time      `json:"at"`
}

// Notifier delivers breached reports out of band, for a pinned
// operator message. Optional.
type Notifier interface {
	NotifyExposure(report Report)
}

// Config holds exposure monitor configuration.
type Config struct {
	Logger *zap.Logger
	Store  *tasks.Store

	// Interval is the sweep cadence.
	Interval time.Duration

	// Threshold is the unhedged-share level that triggers alerts.
	Threshold float64

	// Notifier receives breached and clearing reports. Optional.
	Notifier Notifier

	// BufferSize sizes the alerts channel.
	BufferSize int
}

// Monitor periodically sums unhedged quantity over non-terminal tasks.
type Monitor struct {
	logger    *zap.Logger
	store     *tasks.Store
	interval  time.Duration
	threshold float64
	notifier  Notifier

	mu       sync.RWMutex
	last     Report
	breached bool

	alerts chan Report

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the monitor.
func New(cfg *Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 10
	}
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 16
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		logger:    cfg.Logger.Named("exposure"),
		store:     cfg.Store,
		interval:  interval,
		threshold: threshold,
		notifier:  cfg.Notifier,
		alerts:    make(chan Report, buffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the sweep loop. The first sweep runs one full
// interval after start, giving recovery and in-flight hedges time to
// settle.
func (m *Monitor) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.loop()

	m.logger.Info("exposure-monitor-started",
		zap.Duration("interval", m.interval),
		zap.Float64("threshold", m.threshold))
	return nil
}

// Close stops the sweep loop. The alerts channel stays open; callers
// stop reading when their own scope ends.
func (m *Monitor) Close() error {
	m.cancel()
	m.wg.Wait()
	m.logger.Info("exposure-monitor-closed")
	return nil
}

// Alerts streams breached reports plus the clearing report after a
// breach ends.
func (m *Monitor) Alerts() <-chan Report {
	return m.alerts
}

// Snapshot returns the most recent sweep's report.
func (m *Monitor) Snapshot() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.last
	out.Tasks = append([]TaskExposure(nil), m.last.Tasks...)
	return out
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	tick := time.NewTicker(m.interval)
	defer tick.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-tick.C:
			m.sweep()
		}
	}
}

// sweep sums the positive unhedged quantity of every live task. An
// over-hedged task never offsets another task's exposure.
func (m *Monitor) sweep() {
	sweepsTotal.Inc()
	now := time.Now()

	var total float64
	var exposed []TaskExposure
	for _, t := range m.store.Active() {
		u := t.Unhedged()
		if u <= shareEps {
			continue
		}
		total += u
		exposed = append(exposed, TaskExposure{
			TaskID:   t.ID,
			MarketID: t.MarketID,
			Title:    t.Title,
			Status:   string(t.Status),
			Unhedged: u,
		})
	}

	sort.Slice(exposed, func(i, j int) bool {
		if exposed[i].Unhedged != exposed[j].Unhedged {
			return exposed[i].Unhedged > exposed[j].Unhedged
		}
		return exposed[i].TaskID < exposed[j].TaskID
	})

	breached := total > m.threshold
	report := Report{
		TotalUnhedged: total,
		Threshold:     m.threshold,
		Breached:      breached,
		Tasks:         exposed,
		At:            now,
	}

	unhedgedShares.Set(total)
	tasksExposed.Set(float64(len(exposed)))

	m.mu.Lock()
	wasBreached := m.breached
	m.breached = breached
	m.last = report
	m.mu.Unlock()

	switch {
	case breached:
		alertsTotal.Inc()
		m.logger.Warn("exposure-threshold-exceeded",
			zap.Float64("unhedged-shares", total),
			zap.Float64("threshold", m.threshold),
			zap.Int("tasks", len(exposed)))
		m.push(report)
		if m.notifier != nil {
			m.notifier.NotifyExposure(report)
		}
	case wasBreached:
		m.logger.Info("exposure-recovered",
			zap.Float64("unhedged-shares", total),
			zap.Float64("threshold", m.threshold))
		m.push(report)
		if m.notifier != nil {
			m.notifier.NotifyExposure(report)
		}
	default:
		m.logger.Debug("exposure-swept",
			zap.Float64("unhedged-shares", total),
			zap.Int("tasks", len(exposed)))
	}
}

func (m *Monitor) push(report Report) {
	select {
	case m.alerts <- report:
	default:
		alertsDroppedTotal.Inc()
		m.logger.Warn("exposure-alert-channel-full")
	}
}
