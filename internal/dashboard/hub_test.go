package dashboard

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T, mutate func(*Config)) *Hub {
	t.Helper()

	cfg := &Config{
		Logger:          zap.NewNop(),
		FlushInterval:   10 * time.Millisecond,
		DrainTimeout:    5 * time.Millisecond,
		MaxTimeoutCount: 3,
		ClientBuffer:    16,
		BatchSize:       50,
	}
	if mutate != nil {
		mutate(cfg)
	}

	h := New(cfg)
	t.Cleanup(func() {
		require.NoError(t, h.Close())
	})
	return h
}

func readFrame(t *testing.T, c *Client, timeout time.Duration) Event {
	t.Helper()

	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "client stream closed")
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for frame")
		return Event{}
	}
}

func assertNoFrame(t *testing.T, c *Client, wait time.Duration) {
	t.Helper()

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected frame on channel %s", ev.Channel)
	case <-time.After(wait):
	}
}

func TestSnapshotsCoalesceToLatest(t *testing.T) {
	h := newTestHub(t, nil)
	c := h.Subscribe()

	h.Publish(ChannelStats, map[string]interface{}{"scans": 1})
	h.Publish(ChannelStats, map[string]interface{}{"scans": 2})
	require.NoError(t, h.Start(context.Background()))

	ev := readFrame(t, c, 2*time.Second)
	assert.Equal(t, ChannelStats, ev.Channel)

	var stats map[string]float64
	require.NoError(t, json.Unmarshal(ev.Payload, &stats))
	assert.Equal(t, float64(2), stats["scans"])

	assertNoFrame(t, c, 50*time.Millisecond)
}

func TestLifecycleEventsDeliverEachEmit(t *testing.T) {
	h := newTestHub(t, nil)
	c := h.Subscribe()

	h.Emit(EventTask, map[string]string{"task_id": "t-1", "event": "TASK_CREATED"})
	h.Emit(EventTask, map[string]string{"task_id": "t-1", "event": "TASK_COMPLETED"})
	require.NoError(t, h.Start(context.Background()))

	first := readFrame(t, c, 2*time.Second)
	second := readFrame(t, c, 2*time.Second)
	assert.Equal(t, EventTask, first.Channel)
	assert.Equal(t, EventTask, second.Channel)

	var got map[string]string
	require.NoError(t, json.Unmarshal(first.Payload, &got))
	assert.Equal(t, "TASK_CREATED", got["event"])
	require.NoError(t, json.Unmarshal(second.Payload, &got))
	assert.Equal(t, "TASK_COMPLETED", got["event"])
}

func TestOpportunityPayloadsPaginate(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) {
		cfg.BatchSize = 2
	})
	c := h.Subscribe()

	opps := []map[string]string{
		{"id": "opp-1"}, {"id": "opp-2"}, {"id": "opp-3"},
		{"id": "opp-4"}, {"id": "opp-5"},
	}
	h.Publish(ChannelOpportunity, opps)
	require.NoError(t, h.Start(context.Background()))

	type page struct {
		Page  int                 `json:"page"`
		Pages int                 `json:"pages"`
		Items []map[string]string `json:"items"`
	}

	sizes := []int{2, 2, 1}
	var last page
	for i := 0; i < 3; i++ {
		ev := readFrame(t, c, 2*time.Second)
		require.Equal(t, ChannelOpportunity, ev.Channel)

		require.NoError(t, json.Unmarshal(ev.Payload, &last))
		assert.Equal(t, i+1, last.Page)
		assert.Equal(t, 3, last.Pages)
		assert.Len(t, last.Items, sizes[i])
	}
	assert.Equal(t, "opp-5", last.Items[0]["id"])

	// Below the threshold the payload ships as a plain array.
	h.Publish(ChannelOpportunity, opps[:2])
	ev := readFrame(t, c, 2*time.Second)

	var plain []map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &plain))
	assert.Len(t, plain, 2)
	assert.Equal(t, "opp-1", plain[0]["id"])
}

func TestSlowConsumerDisconnected(t *testing.T) {
	h := newTestHub(t, func(cfg *Config) {
		cfg.ClientBuffer = 1
		cfg.MaxTimeoutCount = 2
	})
	slow := h.Subscribe()
	reader := h.Subscribe()
	require.NoError(t, h.Start(context.Background()))

	// Drain the healthy client eagerly so only the idle one strikes out.
	collected := make(chan Event, 16)
	go func() {
		for ev := range reader.Events() {
			collected <- ev
		}
		close(collected)
	}()

	for i := 0; i < 3; i++ {
		h.Emit(EventChainFill, map[string]int{"seq": i})
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-collected:
			assert.Equal(t, EventChainFill, ev.Channel)
		case <-time.After(2 * time.Second):
			t.Fatal("healthy client missed a frame")
		}
	}

	// The slow client holds one buffered frame, then the stream closes
	// after two consecutive drain timeouts.
	first := readFrame(t, slow, 2*time.Second)
	assert.Equal(t, EventChainFill, first.Channel)

	select {
	case _, ok := <-slow.Events():
		assert.False(t, ok, "expected stream to be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not disconnected")
	}

	h.Emit(EventChainFill, map[string]int{"seq": 3})
	select {
	case ev := <-collected:
		assert.Equal(t, EventChainFill, ev.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client missed the final frame")
	}
}

func TestClientCloseDetaches(t *testing.T) {
	h := newTestHub(t, nil)
	left := h.Subscribe()
	stays := h.Subscribe()
	require.NoError(t, h.Start(context.Background()))

	left.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-left.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	h.Emit(EventExposureAlert, map[string]float64{"total_unhedged": 12})
	ev := readFrame(t, stays, 2*time.Second)
	assert.Equal(t, EventExposureAlert, ev.Channel)
}

func TestCloseClosesClientStreams(t *testing.T) {
	cfg := &Config{Logger: zap.NewNop(), FlushInterval: 10 * time.Millisecond}
	h := New(cfg)
	c := h.Subscribe()
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Close())

	select {
	case _, ok := <-c.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed on hub shutdown")
	}
}
