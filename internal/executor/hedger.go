package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// ghostZeroFillLimit is how many consecutive zero-fill IOCs against
// visible depth we tolerate before pausing the task.
const ghostZeroFillLimit = 2

// cycleKind classifies one hedge cycle outcome.
type cycleKind int

const (
	cycleFilled  cycleKind = iota // IOC filled something; accounting updated
	cycleDust                     // below MIN_HEDGE_QTY; venue untouched
	cycleNoDepth                  // no usable depth inside the price limit
	cycleGhost                    // visible depth refused consecutive IOCs
	cycleFailed                   // venue errors exhausted the retry budget
)

type cycleOutcome struct {
	kind   cycleKind
	filled float64
	err    error
}

// hedger serializes the task's IOC pipeline: one hedge order in flight
// at a time, batched by notional, fills deduplicated by order id.
type hedger struct {
	r *runner

	pending    float64
	folded     map[string]struct{}
	zeroStreak int
}

func newHedger(r *runner) *hedger {
	return &hedger{r: r, folded: make(map[string]struct{})}
}

// reset rebases the pending batch, e.g. to the recovered residue.
func (h *hedger) reset(pending float64) {
	if pending < 0 {
		pending = 0
	}
	h.pending = pending
	h.zeroStreak = 0
}

// addPending adds a fresh maker fill delta to the batch.
func (h *hedger) addPending(delta float64) {
	h.pending += delta
}

// shouldHedge applies the batch thresholds: notional while the maker
// order works, plain unhedged quantity once it is done.
func (h *hedger) shouldHedge(task *tasks.Task, makerDone bool) bool {
	cfg := h.r.e.cfg
	if makerDone {
		return task.Unhedged() >= cfg.MinHedgeQty
	}
	return h.pending*h.estPrice(task) >= cfg.MinHedgeNotional
}

// estPrice is the working estimate of the hedge fill price: the live
// best opposite price when fresh, the task cap otherwise.
func (h *hedger) estPrice(task *tasks.Task) float64 {
	if p, ok := h.r.hedgePrice(task); ok {
		return p
	}
	if task.Type == types.SideBuy {
		return task.HedgeMaxAsk
	}
	return task.HedgeMinBid
}

// iocPrice picks the IOC limit: cross at the live best price when it
// is inside the cap, else at the cap itself.
func (h *hedger) iocPrice(task *tasks.Task, limit float64) float64 {
	p, ok := h.r.hedgePrice(task)
	if !ok {
		return limit
	}
	if task.Type == types.SideBuy {
		return math.Min(p, limit)
	}
	return math.Max(p, limit)
}

// runCycle drives one hedge decision to a settled outcome: place an
// IOC at the permissible price, watch it, cancel any residue, fold the
// fills. widen loosens the price cap; emergency callers pass +0.02.
func (h *hedger) runCycle(task *tasks.Task, makerDone bool, widen float64) cycleOutcome {
	e := h.r.e

	if fresh := h.r.task(); fresh != nil {
		task = fresh
	}

	unhedged := task.Unhedged()
	qty := h.pending
	if makerDone || qty > unhedged {
		qty = unhedged
	}
	if qty < e.cfg.MinHedgeQty {
		return cycleOutcome{kind: cycleDust}
	}

	limit := task.HedgeMaxAsk + widen
	if task.Type == types.SideSell {
		limit = task.HedgeMinBid - widen
	}

	if e.jrnl != nil {
		e.jrnl.Record(task.ID, "hedge_start", map[string]interface{}{
			"qty":   qty,
			"limit": limit,
		})
	}
	_, _ = e.store.Update(task.ID, func(t *tasks.Task) {
		if !t.Status.Terminal() && t.Status != tasks.StatusPaused {
			t.Status = tasks.StatusHedging
		}
	})

	for attempt := 1; ; attempt++ {
		depth, depthKnown := h.r.hedgeDepthAt(task, limit)
		if depthKnown && depth < e.cfg.MinHedgeQty {
			return cycleOutcome{kind: cycleNoDepth}
		}
		price := h.iocPrice(task, limit)

		orderID, final, err := e.execIOC(h.r.ctx, task.HedgeToken, task.Type, price, qty, task.NegRisk,
			func(id string) {
				_, _ = e.store.Update(task.ID, func(t *tasks.Task) {
					if !t.Status.Terminal() {
						t.Status = tasks.StatusHedgePending
						t.CurrentHedgeOrderID = id
					}
				})
			})
		if err != nil {
			var oe *types.OrderError
			if errors.As(err, &oe) {
				hedgeOrdersTotal.WithLabelValues("rejected").Inc()
				return cycleOutcome{kind: cycleFailed, err: err}
			}
			hedgeOrdersTotal.WithLabelValues("error").Inc()
			h.r.logger.Warn("hedge-ioc-failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			_, _ = e.store.Update(task.ID, func(t *tasks.Task) {
				t.HedgeRetryCount++
			})
			if attempt >= e.cfg.MaxHedgeRetries {
				return cycleOutcome{kind: cycleFailed, err: err}
			}
			if !h.backoff(attempt) {
				return cycleOutcome{kind: cycleFailed, err: h.r.ctx.Err()}
			}
			continue
		}
		hedgeOrdersTotal.WithLabelValues("ok").Inc()

		var filled, fillPrice float64
		if final != nil {
			filled = final.FilledQty
			fillPrice = final.Price
		}
		if fillPrice <= 0 {
			fillPrice = price
		}

		if filled > fillEps {
			h.zeroStreak = 0
			if updated := h.applyFill(task.ID, orderID, filled, fillPrice); updated != nil {
				h.r.logger.Info("hedge-filled",
					zap.String("order-id", orderID),
					zap.Float64("qty", filled),
					zap.Float64("price", fillPrice),
					zap.Float64("hedged", updated.HedgedQty),
					zap.Float64("unhedged", updated.Unhedged()))
			}
			return cycleOutcome{kind: cycleFilled, filled: filled}
		}

		// zero fill: release the hedge order id, then classify
		_, _ = e.store.Update(task.ID, func(t *tasks.Task) {
			if t.CurrentHedgeOrderID == orderID {
				t.CurrentHedgeOrderID = ""
			}
		})
		if !depthKnown {
			return cycleOutcome{kind: cycleNoDepth}
		}
		h.zeroStreak++
		ghostRetriesTotal.Inc()
		h.r.logger.Warn("hedge-ioc-zero-fill",
			zap.Float64("visible-depth", depth),
			zap.Float64("price", price),
			zap.Int("streak", h.zeroStreak))
		if h.zeroStreak >= ghostZeroFillLimit || attempt >= e.cfg.MaxHedgeRetries {
			return cycleOutcome{kind: cycleGhost}
		}
		if !h.backoff(attempt) {
			return cycleOutcome{kind: cycleFailed, err: h.r.ctx.Err()}
		}
	}
}

// applyFill folds one hedge order's fills into the task. The fold and
// the order-id release share one update so a crash replay can never
// double-count. Returns nil when the order was already folded.
func (h *hedger) applyFill(taskID, orderID string, filled, price float64) *tasks.Task {
	if _, dup := h.folded[orderID]; dup {
		return nil
	}
	h.folded[orderID] = struct{}{}
	h.pending = math.Max(0, h.pending-filled)

	updated, err := h.r.e.store.Update(taskID, func(t *tasks.Task) {
		sum := t.AvgHedgePrice*t.HedgedQty + price*filled
		t.HedgedQty += filled
		if t.HedgedQty > fillEps {
			t.AvgHedgePrice = sum / t.HedgedQty
		}
		if t.CurrentHedgeOrderID == orderID {
			t.CurrentHedgeOrderID = ""
		}
		if !t.Status.Terminal() && t.Status != tasks.StatusPaused {
			t.Status = tasks.StatusPartiallyFilled
		}
	})
	if err != nil {
		return nil
	}
	hedgeSharesTotal.Add(filled)
	hedgeNotionalTotal.Add(filled * price)
	return updated
}

// backoff sleeps HedgeRetryBase × attempt, capped at HedgeRetryCap.
// False when the runner scope died.
func (h *hedger) backoff(attempt int) bool {
	cfg := h.r.e.cfg
	d := time.Duration(attempt) * cfg.HedgeRetryBase
	if d > cfg.HedgeRetryCap {
		d = cfg.HedgeRetryCap
	}
	select {
	case <-h.r.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// execIOC places one hedge IOC, watches it toward a terminal state,
// cancels any residue and fetches the final status. onPlaced, when
// non-nil, runs as soon as the venue hands back the order id.
func (e *Engine) execIOC(ctx context.Context, token string, side types.Side, price, qty float64, negRisk bool, onPlaced func(string)) (string, *types.OrderStatus, error) {
	pctx, pcancel := context.WithTimeout(ctx, restTimeout)
	opts := e.hedgeOpts(pctx, token, negRisk)
	orderID, err := e.hedge.PlaceLimit(pctx, token, side, price, qty, opts)
	pcancel()
	if err != nil {
		return "", nil, fmt.Errorf("place hedge ioc: %w", err)
	}
	if onPlaced != nil {
		onPlaced(orderID)
	}

	var final *types.OrderStatus
	for i := 0; i < e.cfg.HedgeWatchTries; i++ {
		sctx, scancel := context.WithTimeout(context.Background(), statusTimeout)
		st, serr := e.hedge.GetOrder(sctx, orderID)
		scancel()
		if serr == nil {
			final = st
			if st.Status.Terminal() {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.HedgeWatchTick):
		}
	}

	// belt and braces: IOC residue must never rest
	cctx, ccancel := context.WithTimeout(context.Background(), restTimeout)
	_, _ = e.hedge.Cancel(cctx, orderID)
	ccancel()

	if final == nil || !final.Status.Terminal() {
		fctx, fcancel := context.WithTimeout(context.Background(), statusTimeout)
		if st, ferr := e.hedge.GetOrder(fctx, orderID); ferr == nil {
			final = st
		}
		fcancel()
	}
	return orderID, final, nil
}
