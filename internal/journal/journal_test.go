package journal

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

type journalFixture struct {
	dir    string
	writer *Writer
	store  *tasks.Store
	books  *books.Manager
}

func newTestJournal(t *testing.T) *journalFixture {
	t.Helper()

	root := t.TempDir()
	store, err := tasks.New(&tasks.Config{
		Logger: zap.NewNop(),
		Path:   filepath.Join(root, "tasks.json"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mgr := books.New(&books.Config{Logger: zap.NewNop()})
	t.Cleanup(func() { _ = mgr.Close() })

	f := &journalFixture{
		dir:   filepath.Join(root, "logs", "tasks"),
		store: store,
		books: mgr,
	}
	f.writer = New(&Config{
		Logger: zap.NewNop(),
		Dir:    f.dir,
		Store:  store,
		Books:  mgr,
	})
	return f
}

func (f *journalFixture) createTask(t *testing.T) *tasks.Task {
	t.Helper()
	task, err := f.store.Create(tasks.CreateInput{
		MarketID:     "mkt-nuggets-champ",
		Title:        "Nuggets to win the championship",
		Type:         types.SideBuy,
		Strategy:     types.StrategyMaker,
		ArbSide:      types.OutcomeYes,
		MakerToken:   "tok-nuggets-yes",
		HedgeToken:   "tok-nuggets-no",
		Quantity:     10,
		PredictPrice: 0.42,
		HedgeMaxAsk:  0.56,
	})
	require.NoError(t, err)
	return task
}

func (f *journalFixture) putBooks(t *testing.T) {
	t.Helper()
	f.books.Put(&types.OrderBook{
		Venue:      types.VenuePredict,
		TokenID:    "tok-nuggets-yes",
		Bids:       []types.Level{{Price: 0.42, Size: 100}},
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	})
	f.books.Put(&types.OrderBook{
		Venue:      types.VenuePolymarket,
		TokenID:    "tok-nuggets-no",
		Asks:       []types.Level{{Price: 0.55, Size: 100}},
		Source:     types.SourceWS,
		IngestedAt: time.Now(),
	})
}

func readLines(t *testing.T, path string) []entry {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var out []entry
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		var e entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestRecordAppendsEntries(t *testing.T) {
	f := newTestJournal(t)
	task := f.createTask(t)

	require.NoError(t, f.writer.Start(context.Background()))
	f.writer.Record(task.ID, "TASK_RESUMED", nil)
	f.writer.Record(task.ID, "TASK_COMPLETED", map[string]interface{}{
		"profit": 0.30,
	})
	require.NoError(t, f.writer.Close())

	lines := readLines(t, filepath.Join(f.dir, task.ID, "events.jsonl"))
	require.Len(t, lines, 2)
	assert.Equal(t, "TASK_RESUMED", lines[0].Event)
	assert.Equal(t, "TASK_COMPLETED", lines[1].Event)
	assert.False(t, lines[1].At.IsZero())

	payload, ok := lines[1].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.InDelta(t, 0.30, payload["profit"].(float64), 1e-9)
}

func TestTriggerEventsSnapshotBooks(t *testing.T) {
	f := newTestJournal(t)
	task := f.createTask(t)
	f.putBooks(t)

	require.NoError(t, f.writer.Start(context.Background()))
	f.writer.Record(task.ID, "order_submit", map[string]interface{}{
		"orderHash": "0xabc",
		"price":     0.42,
		"qty":       10.0,
	})
	require.NoError(t, f.writer.Close())

	matches, err := filepath.Glob(filepath.Join(f.dir, task.ID, "book_order_submit_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	var snap bookSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "order_submit", snap.Event)
	require.NotNil(t, snap.Maker)
	assert.Equal(t, "tok-nuggets-yes", snap.Maker.TokenID)
	require.NotNil(t, snap.Hedge)
	assert.Equal(t, "tok-nuggets-no", snap.Hedge.TokenID)
	require.Len(t, snap.Hedge.Asks, 1)
	assert.InDelta(t, 0.55, snap.Hedge.Asks[0].Price, 1e-9)
}

func TestLifecycleEventsSkipSnapshots(t *testing.T) {
	f := newTestJournal(t)
	task := f.createTask(t)
	f.putBooks(t)

	require.NoError(t, f.writer.Start(context.Background()))
	f.writer.Record(task.ID, "PRICE_GUARD_TRIGGERED", nil)
	require.NoError(t, f.writer.Close())

	matches, err := filepath.Glob(filepath.Join(f.dir, task.ID, "book_*.json"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	lines := readLines(t, filepath.Join(f.dir, task.ID, "events.jsonl"))
	require.Len(t, lines, 1)
	assert.Equal(t, "PRICE_GUARD_TRIGGERED", lines[0].Event)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	f := newTestJournal(t)
	task := f.createTask(t)

	w := New(&Config{
		Logger:     zap.NewNop(),
		Dir:        f.dir,
		BufferSize: 1,
	})
	w.Record(task.ID, "first", nil)
	w.Record(task.ID, "second", nil)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Close())

	lines := readLines(t, filepath.Join(f.dir, task.ID, "events.jsonl"))
	require.Len(t, lines, 1)
	assert.Equal(t, "first", lines[0].Event)
}
