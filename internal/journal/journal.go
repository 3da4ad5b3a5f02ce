// Package journal persists per-task lifecycle events and order-book
// snapshots under the account's data directory. Recording is
// best-effort and asynchronous: a full queue or a failed write never
// reaches the executor.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// snapshotTriggers are the events that capture both venue books next
// to the entry.
var snapshotTriggers = map[string]bool{
	"order_submit": true,
	"order_fill":   true,
	"price_guard":  true,
	"hedge_start":  true,
}

// Config holds journal configuration.
type Config struct {
	Logger *zap.Logger

	// Dir is the account-scoped task log root, data/<account>/logs/tasks.
	Dir string

	// Store resolves task tokens for snapshots. Optional.
	Store *tasks.Store

	// Books is the snapshot source. Optional.
	Books *books.Manager

	// BufferSize sizes the entry queue.
	BufferSize int
}

type entry struct {
	TaskID  string      `json:"-"`
	At      time.Time   `json:"at"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// bookSnapshot is the on-disk shape of one trigger's book capture.
type bookSnapshot struct {
	At    time.Time        `json:"at"`
	Event string           `json:"event"`
	Maker *types.OrderBook `json:"maker,omitempty"`
	Hedge *types.OrderBook `json:"hedge,omitempty"`
}

// Writer appends task events to data/<account>/logs/tasks/<id>/
// events.jsonl through a single drain goroutine.
type Writer struct {
	logger *zap.Logger
	dir    string
	store  *tasks.Store
	books  *books.Manager

	queue chan entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the journal writer.
func New(cfg *Config) *Writer {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		logger: cfg.Logger.Named("journal"),
		dir:    cfg.Dir,
		store:  cfg.Store,
		books:  cfg.Books,
		queue:  make(chan entry, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the drain loop.
func (w *Writer) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.loop()

	w.logger.Info("journal-started", zap.String("dir", w.dir))
	return nil
}

// Close drains queued entries and stops the loop.
func (w *Writer) Close() error {
	w.cancel()
	w.wg.Wait()
	w.logger.Info("journal-closed")
	return nil
}

// Record queues one task event. Never blocks; a full queue drops the
// entry and counts it.
func (w *Writer) Record(taskID, event string, payload interface{}) {
	e := entry{TaskID: taskID, At: time.Now(), Event: event, Payload: payload}
	select {
	case w.queue <- e:
	default:
		droppedTotal.Inc()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			for {
				select {
				case e := <-w.queue:
					w.write(e)
				default:
					return
				}
			}
		case e := <-w.queue:
			w.write(e)
		}
	}
}

func (w *Writer) write(e entry) {
	dir := filepath.Join(w.dir, e.TaskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeErrorsTotal.Inc()
		w.logger.Warn("journal-dir-failed",
			zap.String("task-id", e.TaskID),
			zap.Error(err))
		return
	}

	line, err := json.Marshal(e)
	if err != nil {
		writeErrorsTotal.Inc()
		w.logger.Warn("journal-marshal-failed",
			zap.String("task-id", e.TaskID),
			zap.String("event", e.Event),
			zap.Error(err))
		return
	}

	if err := appendLine(filepath.Join(dir, "events.jsonl"), line); err != nil {
		writeErrorsTotal.Inc()
		w.logger.Warn("journal-append-failed",
			zap.String("task-id", e.TaskID),
			zap.Error(err))
		return
	}
	entriesTotal.WithLabelValues(e.Event).Inc()

	if snapshotTriggers[e.Event] {
		w.snapshot(dir, e)
	}
}

// snapshot captures both venue books for the task next to the entry.
func (w *Writer) snapshot(dir string, e entry) {
	if w.store == nil || w.books == nil {
		return
	}
	task, ok := w.store.Get(e.TaskID)
	if !ok {
		return
	}

	snap := bookSnapshot{At: e.At, Event: e.Event}
	if book, ok := w.books.GetSync(types.VenuePredict, task.MakerToken); ok {
		snap.Maker = book
	}
	if book, ok := w.books.GetSync(types.VenuePolymarket, task.HedgeToken); ok {
		snap.Hedge = book
	}
	if snap.Maker == nil && snap.Hedge == nil {
		return
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		writeErrorsTotal.Inc()
		return
	}
	name := fmt.Sprintf("book_%s_%d.json", e.Event, e.At.UnixMilli())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		writeErrorsTotal.Inc()
		w.logger.Warn("journal-snapshot-failed",
			zap.String("task-id", e.TaskID),
			zap.Error(err))
		return
	}
	snapshotsTotal.Inc()
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
