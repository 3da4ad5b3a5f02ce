package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// emergencyWiden is added to the hedge price cap when covering a fill
// discovered after the maker order was cancelled.
const emergencyWiden = 0.02

// scheduleSettleProbes re-queries a cancelled maker order on a fixed
// schedule and emergency-hedges any fill growth past the baseline.
// Probes are rooted at the engine scope: user cancellation of the task
// must not end them.
func (e *Engine) scheduleSettleProbes(taskID, orderHash string, baseline float64) {
	e.probes.Add(1)
	go func() {
		defer e.probes.Done()

		base := baseline
		for i := 0; i < e.cfg.SettleProbes; i++ {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(e.cfg.SettleInterval):
			}

			ctx, cancel := context.WithTimeout(e.ctx, statusTimeout)
			st, err := e.maker.GetOrder(ctx, orderHash)
			cancel()
			if err != nil {
				settleProbesTotal.WithLabelValues("error").Inc()
				if errors.Is(err, types.ErrOrderNotFound) {
					return
				}
				continue
			}

			if st.FilledQty <= base+fillEps {
				settleProbesTotal.WithLabelValues("clean").Inc()
				continue
			}

			delta := st.FilledQty - base
			base = st.FilledQty
			settleProbesTotal.WithLabelValues("delayed-fill").Inc()
			e.logger.Warn("delayed-fill-detected",
				zap.String("task-id", taskID),
				zap.String("order-hash", orderHash),
				zap.Float64("delta", delta),
				zap.Float64("venue-filled", st.FilledQty))
			e.emit(taskID, EventDelayedFillDetected,
				fmt.Sprintf("%.4f filled after cancel", delta))
			e.absorbDelayedFill(taskID, delta)
		}
	}()
}

// absorbDelayedFill folds post-cancel maker fills into the task, even
// a terminal one, and covers them with an emergency hedge.
func (e *Engine) absorbDelayedFill(taskID string, delta float64) {
	task, err := e.store.Update(taskID, func(t *tasks.Task) {
		t.PredictFilledQty += delta
		t.AvgPredictPrice = t.PredictPrice
	})
	if err != nil {
		e.logger.Error("delayed-fill-fold-failed",
			zap.String("task-id", taskID),
			zap.Error(err))
		return
	}
	e.emergencyHedge(task)
}

// emergencyHedge covers unhedged exposure at a widened price cap. Used
// for fills discovered after the task's own pipeline is gone, so it
// places at the cap rather than chasing the book.
func (e *Engine) emergencyHedge(task *tasks.Task) {
	unhedged := task.Unhedged()
	if unhedged < e.cfg.MinHedgeQty {
		return
	}

	limit := task.HedgeMaxAsk + emergencyWiden
	if task.Type == types.SideSell {
		limit = task.HedgeMinBid - emergencyWiden
	}
	e.emit(task.ID, EventEmergencyHedge,
		fmt.Sprintf("%.4f shares at limit %.4f", unhedged, limit))

	orderID, final, err := e.execIOC(e.ctx, task.HedgeToken, task.Type, limit, unhedged, task.NegRisk, nil)
	if err != nil {
		e.logger.Error("emergency-hedge-failed",
			zap.String("task-id", task.ID),
			zap.Float64("unhedged", unhedged),
			zap.Error(err))
		return
	}

	var filled, price float64
	if final != nil {
		filled = final.FilledQty
		price = final.Price
	}
	if price <= 0 {
		price = limit
	}
	if filled <= fillEps {
		e.logger.Error("emergency-hedge-unfilled",
			zap.String("task-id", task.ID),
			zap.String("order-id", orderID),
			zap.Float64("unhedged", unhedged))
		return
	}

	updated, uerr := e.store.Update(task.ID, func(t *tasks.Task) {
		sum := t.AvgHedgePrice*t.HedgedQty + price*filled
		t.HedgedQty += filled
		if t.HedgedQty > fillEps {
			t.AvgHedgePrice = sum / t.HedgedQty
		}
	})
	if uerr != nil {
		return
	}
	hedgeSharesTotal.Add(filled)
	hedgeNotionalTotal.Add(filled * price)
	e.logger.Info("emergency-hedge-filled",
		zap.String("task-id", task.ID),
		zap.Float64("qty", filled),
		zap.Float64("price", price),
		zap.Float64("unhedged", updated.Unhedged()))
}
