// Package storage persists scanned opportunities and task lifecycle
// events for later analysis. PostgresStorage writes durable history;
// ConsoleStorage pretty-prints for local runs.
package storage

import (
	"context"
	"time"

	"github.com/mselser95/crossarb/internal/scanner"
)

// TaskEvent is one lifecycle record emitted by the execution engine.
type TaskEvent struct {
	TaskID  string
	Event   string
	Payload interface{}
	At      time.Time
}

// Storage defines the persistence interface.
type Storage interface {
	StoreOpportunity(ctx context.Context, opp *scanner.Opportunity) error
	StoreTaskEvent(ctx context.Context, ev *TaskEvent) error
	Close() error
}
