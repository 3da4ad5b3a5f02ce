package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// runTaker executes a TAKER task: one fill-or-kill cross of the maker
// book, then the whole fill hedged through the usual pipeline. The
// cross is irreversible, so the hedge side is verified first and any
// placement failure is terminal.
func (r *runner) runTaker(task *tasks.Task) {
	if task.PredictFilledQty > fillEps || task.CurrentOrderHash != "" {
		// recovered mid-flight: only the hedge leg can be outstanding
		r.settleTakerOrder()
		r.finishTaker()
		return
	}

	price, ok := r.hedgePrice(task)
	if !ok {
		r.failTask("hedge book stale before taker cross")
		return
	}
	if task.Type == types.SideBuy && price > task.HedgeMaxAsk+fillEps {
		r.failTask(fmt.Sprintf("hedge ask %.4f above max %.4f before taker cross", price, task.HedgeMaxAsk))
		return
	}
	if task.Type == types.SideSell && price < task.HedgeMinBid-fillEps {
		r.failTask(fmt.Sprintf("hedge bid %.4f below min %.4f before taker cross", price, task.HedgeMinBid))
		return
	}

	crossPrice := task.PredictAskPrice
	if task.Type == types.SideSell {
		crossPrice = task.PredictBidPrice
	}
	qty := takerQuantity(task, crossPrice)
	if qty <= fillEps {
		r.failTask("taker budget below one tradable share")
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, restTimeout)
	orderID, err := r.e.maker.PlaceLimit(ctx, task.MakerToken, task.Type, crossPrice, qty, types.PlaceOpts{
		OrderType:  types.OrderTypeFOK,
		TickSize:   task.TickSize,
		FeeRateBps: task.FeeRateBps,
	})
	cancel()
	if err != nil {
		makerOrdersTotal.WithLabelValues("error").Inc()
		var oe *types.OrderError
		if errors.As(err, &oe) && oe.Code == types.ErrCodeFOKNotFilled {
			r.failTask(fmt.Sprintf("fok-not-filled: %v", oe))
			return
		}
		// the opportunity was priced for this instant; no retry
		r.e.emit(r.id, EventOrderFailed, err.Error())
		r.failTask(fmt.Sprintf("taker cross failed: %v", err))
		return
	}
	makerOrdersTotal.WithLabelValues("ok").Inc()

	if _, uerr := r.e.store.Update(r.id, func(t *tasks.Task) {
		t.CurrentOrderHash = orderID
		t.Status = tasks.StatusPredictSubmitted
	}); uerr != nil {
		return
	}
	r.logger.Info("taker-order-submitted",
		zap.String("order-hash", orderID),
		zap.Float64("price", crossPrice),
		zap.Float64("qty", qty))

	st := r.watchTakerOrder(orderID)
	if st == nil || st.Status != types.OrderFilled || st.FilledQty <= fillEps {
		detail := "fok-not-filled"
		if st != nil {
			detail = fmt.Sprintf("fok-not-filled: order %s", strings.ToLower(string(st.Status)))
		}
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.Status = tasks.StatusFailed
			t.Error = detail
			t.CurrentOrderHash = ""
		})
		r.logger.Warn("taker-order-killed", zap.String("order-hash", orderID))
		return
	}

	r.foldTakerFill(st)
	r.finishTaker()
}

// takerQuantity sizes the cross by the maxTotalCost budget, fee
// included, floored to two decimals.
func takerQuantity(task *tasks.Task, crossPrice float64) float64 {
	qty := task.Quantity
	if task.Type != types.SideBuy || task.MaxTotalCost <= 0 || crossPrice <= 0 {
		return qty
	}
	unit := crossPrice * (1 + float64(task.FeeRateBps)/10000)
	budget := math.Floor(task.MaxTotalCost/unit*100) / 100
	return math.Min(qty, budget)
}

// foldTakerFill records the cross. Working quantity collapses to the
// filled size so the recovery paths never look for a maker remainder.
func (r *runner) foldTakerFill(st *types.OrderStatus) {
	price := st.Price
	if _, err := r.e.store.Update(r.id, func(t *tasks.Task) {
		if price <= 0 {
			price = t.PredictAskPrice
			if t.Type == types.SideSell {
				price = t.PredictBidPrice
			}
		}
		t.PredictFilledQty = st.FilledQty
		t.AvgPredictPrice = price
		t.Quantity = st.FilledQty
		t.CurrentOrderHash = ""
		t.Status = tasks.StatusPartiallyFilled
	}); err != nil {
		return
	}
	r.hedger.reset(st.FilledQty)
	r.logger.Info("taker-order-filled",
		zap.String("order-hash", st.OrderID),
		zap.Float64("filled", st.FilledQty),
		zap.Float64("price", price))
}

// finishTaker drives the hedge to completion, waiting out pauses the
// same way the maker loop does.
func (r *runner) finishTaker() {
	if task := r.task(); task != nil {
		r.hedger.reset(task.Unhedged())
	}
	for {
		if r.ctx.Err() != nil {
			return
		}
		task := r.task()
		if task == nil || task.Status.Terminal() {
			return
		}

		switch {
		case r.shutdownReq.Load():
			r.pauseForShutdown(task)
			return
		case r.cancelReq.Load():
			r.windDown(task, tasks.StatusCancelled, "cancelled by user")
			return
		case task.Expired(time.Now()):
			r.windDown(task, tasks.StatusTimeoutCancelled, "task expired")
			return
		}

		if task.Status == tasks.StatusPaused {
			r.awaitRecovery()
			continue
		}
		if r.driveHedgeToCompletion() == epDone {
			return
		}
	}
}

// settleTakerOrder resolves a cross that was in flight at the crash.
func (r *runner) settleTakerOrder() {
	task := r.task()
	if task == nil || task.CurrentOrderHash == "" {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, restTimeout)
	st, err := r.e.maker.GetOrder(ctx, task.CurrentOrderHash)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) && task.PredictFilledQty <= fillEps {
			r.failTask("taker order unknown to venue after restart")
			return
		}
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.CurrentOrderHash = ""
		})
		return
	}

	if st.Status == types.OrderFilled && st.FilledQty > fillEps {
		r.foldTakerFill(st)
		return
	}
	if task.PredictFilledQty <= fillEps {
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.Status = tasks.StatusFailed
			t.Error = "fok-not-filled"
			t.CurrentOrderHash = ""
		})
		return
	}
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		t.CurrentOrderHash = ""
	})
}

// watchTakerOrder polls the cross to its terminal state.
func (r *runner) watchTakerOrder(orderID string) *types.OrderStatus {
	var last *types.OrderStatus
	for i := 0; i < r.e.cfg.HedgeWatchTries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		st, err := r.e.maker.GetOrder(ctx, orderID)
		cancel()
		if err == nil {
			last = st
			if st.Status.Terminal() {
				return st
			}
		}
		select {
		case <-r.ctx.Done():
			return last
		case <-time.After(r.e.cfg.HedgeWatchTick):
		}
	}
	return last
}

func (r *runner) failTask(reason string) {
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		t.Status = tasks.StatusFailed
		t.Error = reason
	})
	r.e.emit(r.id, EventOrderFailed, reason)
	r.logger.Error("task-failed", zap.String("reason", reason))
}
