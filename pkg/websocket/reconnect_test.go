package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testBackoff() *reconnectBackoff {
	return newReconnectBackoff(backoffConfig{
		initial:    10 * time.Millisecond,
		max:        40 * time.Millisecond,
		multiplier: 2.0,
		jitter:     0,
	}, zap.NewNop())
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	rb := testBackoff()

	if got := rb.next(); got != 10*time.Millisecond {
		t.Errorf("expected initial 10ms, got %v", got)
	}

	rb.grow()
	if got := rb.next(); got != 20*time.Millisecond {
		t.Errorf("expected 20ms after one growth, got %v", got)
	}

	rb.grow()
	rb.grow()
	rb.grow()
	if got := rb.next(); got != 40*time.Millisecond {
		t.Errorf("expected cap at 40ms, got %v", got)
	}

	rb.reset()
	if got := rb.next(); got != 10*time.Millisecond {
		t.Errorf("expected reset to 10ms, got %v", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	rb := newReconnectBackoff(backoffConfig{
		initial:    100 * time.Millisecond,
		max:        time.Second,
		multiplier: 2.0,
		jitter:     0.2,
	}, zap.NewNop())

	for i := 0; i < 50; i++ {
		d := rb.next()
		if d < 100*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 120ms]", d)
		}
	}
}

func TestBackoffRunRetriesUntilSuccess(t *testing.T) {
	rb := testBackoff()

	attempts := 0
	err := rb.run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	// Success resets the delay.
	if got := rb.next(); got != 10*time.Millisecond {
		t.Errorf("expected reset delay after success, got %v", got)
	}
}

func TestBackoffRunHonorsContext(t *testing.T) {
	rb := testBackoff()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err := rb.run(ctx, func(ctx context.Context) error {
		return errors.New("always fails")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}
