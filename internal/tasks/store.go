package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/pkg/types"
)

var (
	// ErrDuplicateActive means the (market, type) slot already has a
	// live task.
	ErrDuplicateActive = errors.New("active task exists for market and type")
	// ErrNotFound means no task carries the given id.
	ErrNotFound = errors.New("task not found")
	// ErrTerminal means the operation needs a live task.
	ErrTerminal = errors.New("task is terminal")
	// ErrNotTerminal means the operation needs a finished task.
	ErrNotTerminal = errors.New("task is not terminal")
)

// EventType tags store notifications.
type EventType string

const (
	TaskCreated EventType = "task:created"
	TaskUpdated EventType = "task:updated"
	TaskDeleted EventType = "task:deleted"
)

// Event is a store notification carrying a task snapshot.
type Event struct {
	Type EventType
	Task *Task
}

// CreateInput is the user-supplied part of a task.
type CreateInput struct {
	MarketID string
	Title    string
	Type     types.Side
	Strategy types.Strategy
	ArbSide  types.Outcome

	MakerToken string
	HedgeToken string
	NegRisk    bool
	TickSize   float64
	FeeRateBps int

	Quantity     float64
	PredictPrice float64
	HedgeMaxAsk  float64
	HedgeMinBid  float64
	EntryCost    float64

	PredictAskPrice float64
	PredictBidPrice float64
	MaxTotalCost    float64

	ExpiresAt *time.Time
}

// Config holds store configuration.
type Config struct {
	Logger *zap.Logger

	// Path is the account-scoped snapshot file, tasks.json.
	Path string

	// BufferSize sizes the event channel.
	BufferSize int
}

// Store is the persistent task index. All writes funnel through one
// persistence goroutine; the snapshot file is replaced atomically.
type Store struct {
	logger *zap.Logger
	path   string

	mu    sync.RWMutex
	tasks map[string]*Task

	now func() time.Time

	events  chan Event
	writeCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// storedPair is the on-disk shape: a JSON array of [id, task] pairs.
type storedPair struct {
	ID   string
	Task *Task
}

func (p storedPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.ID, p.Task})
}

func (p *storedPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("task pair: want 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	p.Task = &Task{}
	return json.Unmarshal(raw[1], p.Task)
}

// New creates the store and loads the existing snapshot, if any.
func New(cfg *Config) (*Store, error) {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		logger:  cfg.Logger.Named("tasks"),
		path:    cfg.Path,
		tasks:   make(map[string]*Task),
		now:     time.Now,
		events:  make(chan Event, buffer),
		writeCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.load(); err != nil {
		cancel()
		return nil, err
	}
	s.refreshGauges()
	return s, nil
}

// Start launches the persistence queue.
func (s *Store) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.writeLoop()

	s.mu.RLock()
	count := len(s.tasks)
	s.mu.RUnlock()
	s.logger.Info("task-store-started",
		zap.String("path", s.path),
		zap.Int("tasks", count))
	return nil
}

// Close flushes and stops the persistence queue.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("task-store-closed")
	return nil
}

// Events streams store notifications. Pushes never block; a full
// channel drops the oldest-consumer's events and counts them.
func (s *Store) Events() <-chan Event {
	return s.events
}

// Create validates, assigns the idempotent id and registers the task
// as PENDING. Re-submitting identical input inside the id window
// returns the already-live task.
func (s *Store) Create(in CreateInput) (*Task, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	now := s.now()
	id := idempotentID(in.MarketID, in.Type, primaryPrice(in), in.Quantity, now)

	s.mu.Lock()
	if existing, ok := s.tasks[id]; ok {
		if existing.Active() {
			out := existing.Clone()
			s.mu.Unlock()
			s.logger.Info("task-create-idempotent-hit", zap.String("task-id", id))
			return out, nil
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", id, ErrTerminal)
	}
	for _, t := range s.tasks {
		if t.MarketID == in.MarketID && t.Type == in.Type && t.Active() {
			s.mu.Unlock()
			return nil, fmt.Errorf("market %s %s: %w", in.MarketID, in.Type, ErrDuplicateActive)
		}
	}

	task := &Task{
		ID:              id,
		MarketID:        in.MarketID,
		Title:           in.Title,
		Type:            in.Type,
		Strategy:        in.Strategy,
		ArbSide:         in.ArbSide,
		MakerToken:      in.MakerToken,
		HedgeToken:      in.HedgeToken,
		NegRisk:         in.NegRisk,
		TickSize:        in.TickSize,
		FeeRateBps:      in.FeeRateBps,
		Quantity:        in.Quantity,
		TotalQuantity:   in.Quantity,
		PredictPrice:    in.PredictPrice,
		HedgeMaxAsk:     in.HedgeMaxAsk,
		HedgeMinBid:     in.HedgeMinBid,
		EntryCost:       in.EntryCost,
		PredictAskPrice: in.PredictAskPrice,
		PredictBidPrice: in.PredictBidPrice,
		MaxTotalCost:    in.MaxTotalCost,
		ExpiresAt:       in.ExpiresAt,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.tasks[id] = task
	out := task.Clone()
	s.mu.Unlock()

	tasksCreatedTotal.Inc()
	s.refreshGauges()
	s.requestPersist()
	s.emit(TaskCreated, out)

	s.logger.Info("task-created",
		zap.String("task-id", id),
		zap.String("market-id", in.MarketID),
		zap.String("type", string(in.Type)),
		zap.String("strategy", string(in.Strategy)),
		zap.Float64("quantity", in.Quantity))
	return out.Clone(), nil
}

// Get returns a snapshot of one task.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// List returns snapshots of every task, newest first.
func (s *Store) List() []*Task {
	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns snapshots of non-terminal tasks.
func (s *Store) Active() []*Task {
	all := s.List()
	out := all[:0]
	for _, t := range all {
		if t.Active() {
			out = append(out, t)
		}
	}
	return out
}

// GetRecoverable returns tasks a restarted executor must adopt:
// everything non-terminal, including PENDING and PAUSED.
func (s *Store) GetRecoverable() []*Task {
	return s.Active()
}

// Update applies mutate to the stored task, restores the remaining-qty
// invariant, persists and emits task:updated.
func (s *Store) Update(id string, mutate func(*Task)) (*Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	before := t.Status
	mutate(t)
	t.RemainingQty = t.PredictFilledQty - t.HedgedQty
	t.UpdatedAt = s.now()
	out := t.Clone()
	s.mu.Unlock()

	if out.Status != before {
		taskTransitionsTotal.WithLabelValues(string(out.Status)).Inc()
		s.logger.Info("task-status-changed",
			zap.String("task-id", id),
			zap.String("from", string(before)),
			zap.String("to", string(out.Status)))
	}
	s.refreshGauges()
	s.requestPersist()
	s.emit(TaskUpdated, out)
	return out.Clone(), nil
}

// Cancel moves a non-terminal task to CANCELLED.
func (s *Store) Cancel(id string) (*Task, error) {
	s.mu.RLock()
	t, ok := s.tasks[id]
	if ok && t.Status.Terminal() {
		s.mu.RUnlock()
		return nil, fmt.Errorf("task %s: %w", id, ErrTerminal)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	return s.Update(id, func(t *Task) {
		t.Status = StatusCancelled
	})
}

// Delete removes a terminal task.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if !t.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotTerminal)
	}
	out := t.Clone()
	delete(s.tasks, id)
	s.mu.Unlock()

	s.refreshGauges()
	s.requestPersist()
	s.emit(TaskDeleted, out)
	s.logger.Info("task-deleted", zap.String("task-id", id))
	return nil
}

func (s *Store) emit(typ EventType, t *Task) {
	select {
	case s.events <- Event{Type: typ, Task: t}:
	default:
		eventsDroppedTotal.Inc()
	}
}

// primaryPrice is the price folded into the idempotent id: the maker
// rest price for MAKER tasks, the crossing ask for TAKER tasks.
func primaryPrice(in CreateInput) float64 {
	if in.Strategy == types.StrategyTaker {
		return in.PredictAskPrice
	}
	return in.PredictPrice
}

func validate(in CreateInput) error {
	if in.MarketID == "" {
		return errors.New("marketId required")
	}
	if in.Type != types.SideBuy && in.Type != types.SideSell {
		return fmt.Errorf("type %q invalid", in.Type)
	}
	if !in.Strategy.Valid() {
		return fmt.Errorf("strategy %q invalid", in.Strategy)
	}
	if in.ArbSide != types.OutcomeYes && in.ArbSide != types.OutcomeNo {
		return fmt.Errorf("arbSide %q invalid", in.ArbSide)
	}
	if in.MakerToken == "" || in.HedgeToken == "" {
		return errors.New("maker and hedge tokens required")
	}
	if in.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}

	switch in.Type {
	case types.SideBuy:
		if err := priceIn01("hedgeMaxAsk", in.HedgeMaxAsk); err != nil {
			return err
		}
	case types.SideSell:
		if err := priceIn01("hedgeMinBid", in.HedgeMinBid); err != nil {
			return err
		}
		if in.EntryCost <= 0 {
			return errors.New("entryCost required for SELL")
		}
	}

	switch in.Strategy {
	case types.StrategyMaker:
		if err := priceIn01("predictPrice", in.PredictPrice); err != nil {
			return err
		}
	case types.StrategyTaker:
		if err := priceIn01("predictAskPrice", in.PredictAskPrice); err != nil {
			return err
		}
		if in.MaxTotalCost <= 0 {
			return errors.New("maxTotalCost required for TAKER")
		}
		if in.Type == types.SideSell {
			if err := priceIn01("predictBidPrice", in.PredictBidPrice); err != nil {
				return err
			}
		}
	}
	return nil
}

func priceIn01(name string, v float64) error {
	if v <= 0 || v >= 1 {
		return fmt.Errorf("%s must be in (0,1), got %v", name, v)
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read task snapshot: %w", err)
	}

	var pairs []storedPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("parse task snapshot: %w", err)
	}

	for _, p := range pairs {
		if p.Task == nil || p.ID == "" {
			continue
		}
		p.Task.ID = p.ID
		s.tasks[p.ID] = p.Task
	}

	s.logger.Info("task-snapshot-loaded",
		zap.String("path", s.path),
		zap.Int("tasks", len(s.tasks)))
	return nil
}

func (s *Store) requestPersist() {
	select {
	case s.writeCh <- struct{}{}:
	default:
	}
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.persistNow()
			return
		case <-s.writeCh:
			s.persistNow()
		}
	}
}

// persistNow snapshots the store and replaces the file via tmp+rename.
// It runs only on the write-loop goroutine.
func (s *Store) persistNow() {
	s.mu.RLock()
	pairs := make([]storedPair, 0, len(s.tasks))
	for id, t := range s.tasks {
		pairs = append(pairs, storedPair{ID: id, Task: t.Clone()})
	}
	s.mu.RUnlock()

	sort.Slice(pairs, func(i, j int) bool {
		if !pairs[i].Task.CreatedAt.Equal(pairs[j].Task.CreatedAt) {
			return pairs[i].Task.CreatedAt.Before(pairs[j].Task.CreatedAt)
		}
		return pairs[i].ID < pairs[j].ID
	})

	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		persistsTotal.WithLabelValues("error").Inc()
		s.logger.Error("task-snapshot-marshal-failed", zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		persistsTotal.WithLabelValues("error").Inc()
		s.logger.Error("task-snapshot-dir-failed", zap.Error(err))
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		persistsTotal.WithLabelValues("error").Inc()
		s.logger.Error("task-snapshot-write-failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		persistsTotal.WithLabelValues("error").Inc()
		s.logger.Error("task-snapshot-rename-failed", zap.Error(err))
		return
	}
	persistsTotal.WithLabelValues("ok").Inc()
}

func (s *Store) refreshGauges() {
	s.mu.RLock()
	counts := make(map[Status]int)
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	s.mu.RUnlock()

	for _, st := range []Status{
		StatusPending, StatusPredictSubmitted, StatusPartiallyFilled,
		StatusHedging, StatusHedgePending, StatusPaused,
		StatusCompleted, StatusFailed, StatusCancelled,
		StatusTimeoutCancelled, StatusHedgeFailed, StatusUnwindCompleted,
	} {
		tasksByStatus.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
