package executor

import (
	"math"
	"sync"
)

// fillMerger folds the two fill sources for the current maker order
// into one monotone filled quantity: merged = base + max(chain, rest),
// where base is the quantity filled by earlier orders of the same
// task. The merged value never decreases, whatever order the sources
// report in.
type fillMerger struct {
	mu     sync.Mutex
	base   float64
	chain  float64
	rest   float64
	merged float64
}

// reset rebases the merger for a freshly submitted order.
func (m *fillMerger) reset(base float64) {
	m.mu.Lock()
	m.base = base
	m.chain = 0
	m.rest = 0
	m.merged = base
	m.mu.Unlock()
}

// adopt rebases for a recovered order that already reports restFilled.
// total is the task's persisted filled quantity, which already
// includes this order's fills up to the last persist.
func (m *fillMerger) adopt(total, restFilled float64) {
	m.mu.Lock()
	base := total - restFilled
	if base < 0 {
		base = 0
	}
	m.base = base
	m.chain = 0
	m.rest = restFilled
	m.merged = math.Max(total, base+restFilled)
	m.mu.Unlock()
}

// onChain accumulates one deduplicated on-chain fill.
func (m *fillMerger) onChain(size float64) (merged, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain += size
	return m.recompute()
}

// onRest folds a cumulative REST-reported filled quantity.
func (m *fillMerger) onRest(filled float64) (merged, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if filled > m.rest {
		m.rest = filled
	}
	return m.recompute()
}

func (m *fillMerger) recompute() (float64, float64) {
	next := m.base + math.Max(m.chain, m.rest)
	var delta float64
	if next > m.merged {
		delta = next - m.merged
		m.merged = next
	}
	return m.merged, delta
}

// value returns the current merged quantity.
func (m *fillMerger) value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merged
}

// orderFilled returns what the current order alone has filled, the
// baseline for delayed-settlement probes.
func (m *fillMerger) orderFilled() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Max(m.chain, m.rest)
}

// rebase lifts the base so merged covers an externally raised total
// (delayed-settlement folds), preserving this order's own counters.
func (m *fillMerger) rebase(total float64) {
	m.mu.Lock()
	base := total - math.Max(m.chain, m.rest)
	if base < 0 {
		base = 0
	}
	m.base = base
	if total > m.merged {
		m.merged = total
	}
	m.mu.Unlock()
}
