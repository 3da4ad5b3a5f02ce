package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/journal"
	"github.com/mselser95/crossarb/internal/storage"
)

const sinkQueueSize = 256

// eventSink tees engine journal entries into the file journal and the
// opportunity storage backend. Journal writes are already queued by the
// writer; storage writes go through this sink's own queue so a slow
// backend never blocks a task runner.
type eventSink struct {
	logger  *zap.Logger
	journal *journal.Writer
	storage storage.Storage

	queue chan *storage.TaskEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newEventSink(logger *zap.Logger, jrnl *journal.Writer, store storage.Storage) *eventSink {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventSink{
		logger:  logger.Named("event-sink"),
		journal: jrnl,
		storage: store,
		queue:   make(chan *storage.TaskEvent, sinkQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the storage drain loop.
func (s *eventSink) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Close drains queued events and stops the loop.
func (s *eventSink) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Record fans one task event out to both backends. Never blocks.
func (s *eventSink) Record(taskID, event string, payload interface{}) {
	s.journal.Record(taskID, event, payload)

	ev := &storage.TaskEvent{
		TaskID:  taskID,
		Event:   event,
		Payload: payload,
		At:      time.Now(),
	}
	select {
	case s.queue <- ev:
	default:
		sinkDroppedTotal.Inc()
		s.logger.Warn("event-sink-queue-full",
			zap.String("task-id", taskID),
			zap.String("event", event))
	}
}

func (s *eventSink) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.store(ev)
				default:
					return
				}
			}
		case ev := <-s.queue:
			s.store(ev)
		}
	}
}

func (s *eventSink) store(ev *storage.TaskEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.storage.StoreTaskEvent(ctx, ev); err != nil {
		sinkErrorsTotal.Inc()
		s.logger.Warn("event-store-failed",
			zap.String("task-id", ev.TaskID),
			zap.String("event", ev.Event),
			zap.Error(err))
	}
}
