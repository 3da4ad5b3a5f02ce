package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/pkg/types"
)

// episodeResult tells the maker loop what to do after one order episode.
type episodeResult int

const (
	epContinue episodeResult = iota // re-evaluate and possibly resubmit
	epPaused                        // task paused, wait for recovery
	epDone                          // runner exits
)

type guardKind int

const (
	guardPrice guardKind = iota
	guardDepth
)

// guardSignal is one trigger from the price or depth guard.
type guardSignal struct {
	kind     guardKind
	observed float64 // offending hedge price, or available depth
	target   float64 // depth guard: new working quantity
}

// fillSignal is one observation from the fill watcher.
type fillSignal struct {
	merged   float64
	status   types.OrderStatusCode
	terminal bool
}

const (
	// restTimeout bounds a mutating venue REST call.
	restTimeout = 10 * time.Second
	// statusTimeout bounds an order-status fetch.
	statusTimeout = 3 * time.Second
)

// runner drives one task to a terminal state. The maker loop runs
// order episodes: submit (or adopt) one maker order, watch fills and
// guards until the order ends or a guard cancels it, then decide
// whether to resubmit, pause, or finish.
type runner struct {
	e      *Engine
	logger *zap.Logger
	id     string

	ctx    context.Context
	cancel context.CancelFunc

	cancelReq    atomic.Bool
	shutdownReq  atomic.Bool
	feedPauseReq atomic.Bool
	wake         chan struct{}

	// generation invalidates an in-flight recovery when another guard
	// trigger lands between its safety check and its commit.
	generation atomic.Uint64

	// lastDepthAdjust gates depth-guard expansion (unix nanos).
	lastDepthAdjust atomic.Int64

	merger fillMerger
	hedger *hedger

	// adoptHash is a live order found during reconciliation; the next
	// episode resumes it instead of submitting a new one.
	adoptHash string
}

func newRunner(e *Engine, id string) *runner {
	ctx, cancel := context.WithCancel(e.ctx)
	r := &runner{
		e:      e,
		logger: e.logger.With(zap.String("task-id", id)),
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
	r.hedger = newHedger(r)
	return r
}

// requestCancel asks the runner to wind the task down as CANCELLED.
func (r *runner) requestCancel() {
	r.cancelReq.Store(true)
	r.poke()
}

// requestShutdown asks the runner to pause the task and exit.
func (r *runner) requestShutdown() {
	r.shutdownReq.Store(true)
	r.poke()
}

// requestFeedPause asks the runner to park the task while the WS
// feeds are down.
func (r *runner) requestFeedPause() {
	r.feedPauseReq.Store(true)
	r.poke()
}

func (r *runner) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// task returns a fresh snapshot, nil when the task was deleted.
func (r *runner) task() *tasks.Task {
	t, ok := r.e.store.Get(r.id)
	if !ok {
		return nil
	}
	return t
}

func (r *runner) run() {
	defer r.cancel()

	task := r.task()
	if task == nil || task.Status.Terminal() {
		return
	}

	if task.Strategy == types.StrategyTaker {
		r.runTaker(task)
		return
	}
	r.runMaker()
}

func (r *runner) runMaker() {
	if err := r.reconcile(); err != nil {
		r.logger.Warn("task-reconcile-failed", zap.Error(err))
	}
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
		case r.feedPauseReq.Load():
			r.pauseFeedDown(task)
			continue
		}

		if task.Status == tasks.StatusPaused {
			r.awaitRecovery()
			continue
		}

		if r.episode(task) == epDone {
			return
		}
	}
}

// episode works one maker order from submission to an outcome.
func (r *runner) episode(task *tasks.Task) episodeResult {
	workQty := task.Quantity - task.PredictFilledQty
	if workQty <= fillEps {
		return r.driveHedgeToCompletion()
	}

	orderID := r.adoptHash
	r.adoptHash = ""
	if orderID == "" {
		if !r.e.feedsHealthy() {
			r.pauseFeedDown(task)
			return epPaused
		}
		if !r.waitUntilRestSafe(task) {
			return epContinue
		}
		var res episodeResult
		orderID, res = r.submitMaker(task, workQty)
		if orderID == "" {
			return res
		}
		r.merger.reset(task.PredictFilledQty)
	}

	epCtx, epCancel := context.WithCancel(r.ctx)
	signals := make(chan guardSignal, 4)
	fillCh := make(chan fillSignal, 16)

	var gwg sync.WaitGroup
	gwg.Add(3)
	go func() { defer gwg.Done(); r.priceGuard(epCtx, signals) }()
	go func() { defer gwg.Done(); r.depthGuard(epCtx, signals) }()
	go func() { defer gwg.Done(); r.watchFills(epCtx, orderID, fillCh) }()
	defer func() {
		epCancel()
		gwg.Wait()
	}()

	var expiry <-chan time.Time
	if task.ExpiresAt != nil {
		t := time.NewTimer(time.Until(*task.ExpiresAt))
		defer t.Stop()
		expiry = t.C
	}

	for {
		select {
		case <-r.ctx.Done():
			return epDone

		case <-r.wake:
			task = r.task()
			if task == nil {
				return epDone
			}
			if r.shutdownReq.Load() {
				r.pauseForShutdown(task)
				return epDone
			}
			if r.cancelReq.Load() {
				r.windDown(task, tasks.StatusCancelled, "cancelled by user")
				return epDone
			}
			if r.feedPauseReq.Load() {
				r.pauseFeedDown(task)
				return epPaused
			}

		case <-expiry:
			task = r.task()
			if task == nil {
				return epDone
			}
			r.windDown(task, tasks.StatusTimeoutCancelled, "task expired")
			return epDone

		case sig := <-signals:
			switch sig.kind {
			case guardPrice:
				return r.handlePriceTrigger(sig)
			default:
				return r.handleDepthAdjust(sig)
			}

		case fs := <-fillCh:
			res, done := r.handleFill(fs)
			if done {
				return res
			}
		}
	}
}

// waitUntilRestSafe blocks until the maker quote would rest instead of
// crossing, polling once a second. Returns false when interrupted.
func (r *runner) waitUntilRestSafe(task *tasks.Task) bool {
	ticker := time.NewTicker(r.e.cfg.SubmitPoll)
	defer ticker.Stop()

	for {
		if r.restSafe(task) {
			return true
		}
		select {
		case <-r.ctx.Done():
			return false
		case <-r.wake:
			// flags are re-checked by the caller's loop
			return false
		case <-ticker.C:
		}
	}
}

// restSafe reports whether the maker price would rest in the current
// book. Stale books are unsafe.
func (r *runner) restSafe(task *tasks.Task) bool {
	book, ok := r.e.books.GetSync(r.e.maker.Venue(), task.MakerToken)
	if !ok || !book.Fresh(time.Now(), r.e.cfg.StaleCalc) {
		return false
	}
	if task.Type == types.SideBuy {
		ask, has := book.BestAsk()
		return !has || task.PredictPrice < ask.Price-fillEps
	}
	bid, has := book.BestBid()
	return !has || task.PredictPrice > bid.Price+fillEps
}

// hedgePrice returns the best opposite-side price on the hedge venue,
// false when the book is stale, missing, or empty.
func (r *runner) hedgePrice(task *tasks.Task) (float64, bool) {
	book, ok := r.e.books.GetSync(r.e.hedge.Venue(), task.HedgeToken)
	if !ok || !book.Fresh(time.Now(), r.e.cfg.StaleCalc) {
		return 0, false
	}
	if task.Type == types.SideBuy {
		ask, has := book.BestAsk()
		if !has {
			return 0, false
		}
		return ask.Price, true
	}
	bid, has := book.BestBid()
	if !has {
		return 0, false
	}
	return bid.Price, true
}

// hedgeDepthAt sums hedge-venue depth inside the given price limit.
// false means unknown, which callers must treat as skip, never zero.
func (r *runner) hedgeDepthAt(task *tasks.Task, limit float64) (float64, bool) {
	book, ok := r.e.books.GetSync(r.e.hedge.Venue(), task.HedgeToken)
	if !ok || !book.Fresh(time.Now(), r.e.cfg.StaleCalc) {
		return 0, false
	}
	if task.Type == types.SideBuy {
		return book.AskDepthWithin(limit), true
	}
	return book.BidDepthWithin(limit), true
}

func (r *runner) hedgeDepth(task *tasks.Task) (float64, bool) {
	if task.Type == types.SideBuy {
		return r.hedgeDepthAt(task, task.HedgeMaxAsk)
	}
	return r.hedgeDepthAt(task, task.HedgeMinBid)
}

// submitMaker places the GTC maker order and moves the task to
// PREDICT_SUBMITTED. An empty order id means the episode result is
// final.
func (r *runner) submitMaker(task *tasks.Task, qty float64) (string, episodeResult) {
	ctx, cancel := context.WithTimeout(r.ctx, restTimeout)
	defer cancel()

	opts := types.PlaceOpts{
		OrderType: types.OrderTypeGTC,
		TickSize:  task.TickSize,
	}
	if task.ExpiresAt != nil {
		opts.Expiration = task.ExpiresAt.Unix()
	}

	orderID, err := r.e.maker.PlaceLimit(ctx, task.MakerToken, task.Type, task.PredictPrice, qty, opts)
	if err != nil {
		return "", r.submitFailed(err)
	}
	makerOrdersTotal.WithLabelValues("ok").Inc()

	if _, uerr := r.e.store.Update(r.id, func(t *tasks.Task) {
		t.CurrentOrderHash = orderID
		t.Status = tasks.StatusPredictSubmitted
		t.Error = ""
	}); uerr != nil {
		// task vanished between submit and record: pull the order back
		cctx, ccancel := context.WithTimeout(context.Background(), restTimeout)
		_, _ = r.e.maker.Cancel(cctx, orderID)
		ccancel()
		return "", epDone
	}

	r.e.orders.Track(orderID, &types.OrderStatus{
		Venue:        r.e.maker.Venue(),
		OrderID:      orderID,
		TokenID:      task.MakerToken,
		Side:         task.Type,
		Price:        task.PredictPrice,
		OriginalQty:  qty,
		RemainingQty: qty,
		Status:       types.OrderOpen,
		UpdatedAt:    time.Now(),
	})
	if r.e.jrnl != nil {
		r.e.jrnl.Record(r.id, "order_submit", map[string]interface{}{
			"orderHash": orderID,
			"price":     task.PredictPrice,
			"qty":       qty,
		})
	}

	r.logger.Info("maker-order-submitted",
		zap.String("order-hash", orderID),
		zap.Float64("price", task.PredictPrice),
		zap.Float64("qty", qty))
	return orderID, epContinue
}

// submitFailed classifies a placement error: venue rejections fail the
// task with the venue reason, transient errors back off and retry.
func (r *runner) submitFailed(err error) episodeResult {
	makerOrdersTotal.WithLabelValues("error").Inc()

	var oe *types.OrderError
	if errors.As(err, &oe) {
		r.e.emit(r.id, EventOrderFailed, oe.Error())
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.Status = tasks.StatusFailed
			t.Error = fmt.Sprintf("order rejected: %v", oe)
		})
		r.logger.Error("maker-order-rejected", zap.Error(err))
		return epDone
	}

	wait := time.Second
	var rl *types.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		wait = rl.RetryAfter
	}
	r.logger.Warn("maker-order-submit-failed",
		zap.Duration("retry-in", wait),
		zap.Error(err))
	r.sleep(wait)
	return epContinue
}

func (r *runner) sleep(d time.Duration) {
	select {
	case <-r.ctx.Done():
	case <-r.wake:
	case <-time.After(d):
	}
}

// priceGuard watches the hedge venue's best opposite price and fires
// once when it breaches the task's limit. Stale books skip the cycle.
func (r *runner) priceGuard(ctx context.Context, out chan<- guardSignal) {
	ticker := time.NewTicker(r.e.cfg.PriceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task := r.task()
		if task == nil {
			return
		}
		price, ok := r.hedgePrice(task)
		if !ok {
			continue
		}

		var triggered bool
		if task.Type == types.SideBuy {
			triggered = price > task.HedgeMaxAsk+fillEps
		} else {
			triggered = price < task.HedgeMinBid-fillEps
		}
		if !triggered {
			continue
		}

		guardTriggersTotal.WithLabelValues("price").Inc()
		select {
		case out <- guardSignal{kind: guardPrice, observed: price}:
		case <-ctx.Done():
		}
		return
	}
}

// depthGuard keeps the working quantity inside the hedgeable depth:
// shrink immediately when depth falls below the remaining size, expand
// back toward totalQuantity after the cooldown.
func (r *runner) depthGuard(ctx context.Context, out chan<- guardSignal) {
	ticker := time.NewTicker(r.e.cfg.DepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task := r.task()
		if task == nil {
			return
		}
		depth, ok := r.hedgeDepth(task)
		if !ok {
			continue // unknown depth is a skip, never zero
		}
		if p, has := r.hedgePrice(task); has {
			if task.Type == types.SideBuy && p > task.HedgeMaxAsk+fillEps {
				continue // cap breaches belong to the price guard
			}
			if task.Type == types.SideSell && p < task.HedgeMinBid-fillEps {
				continue
			}
		}

		target := math.Min(task.TotalQuantity, task.PredictFilledQty+math.Floor(depth))
		if target < task.PredictFilledQty {
			target = task.PredictFilledQty
		}

		switch {
		case target < task.Quantity-fillEps:
			// shrink now: the remainder is no longer hedgeable
		case target > task.Quantity+fillEps:
			last := time.Unix(0, r.lastDepthAdjust.Load())
			if time.Since(last) < r.e.cfg.DepthCooldown {
				continue
			}
		default:
			continue
		}

		guardTriggersTotal.WithLabelValues("depth").Inc()
		select {
		case out <- guardSignal{kind: guardDepth, observed: depth, target: target}:
		case <-ctx.Done():
		}
		return
	}
}

// watchFills merges chain fills, cache events and direct polling into
// fill signals for the episode loop.
func (r *runner) watchFills(ctx context.Context, orderID string, out chan<- fillSignal) {
	var chainFills <-chan *types.Fill
	if r.e.fills != nil {
		chainFills = r.e.fills.Subscribe(orderID)
		defer r.e.fills.Unsubscribe(orderID)
	}
	watch := r.e.orders.Watch(orderID)
	defer r.e.orders.Unwatch(orderID, watch)

	ticker := time.NewTicker(r.e.cfg.FillPoll)
	defer ticker.Stop()

	push := func(sig fillSignal) bool {
		select {
		case out <- sig:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case f := <-chainFills:
			if f == nil {
				chainFills = nil
				continue
			}
			merged, delta := r.merger.onChain(f.Size)
			if delta > fillEps {
				fillDeltasTotal.WithLabelValues("chain").Inc()
				if !push(fillSignal{merged: merged}) {
					return
				}
			}

		case ev := <-watch:
			if ev.Status != nil {
				merged, delta := r.merger.onRest(ev.Status.FilledQty)
				terminal := ev.Status.Status.Terminal()
				if delta > fillEps {
					fillDeltasTotal.WithLabelValues("cache").Inc()
				}
				if delta > fillEps || terminal {
					if !push(fillSignal{merged: merged, status: ev.Status.Status, terminal: terminal}) {
						return
					}
				}
				if terminal {
					return
				}
			} else if ev.MaybeCompleted {
				if r.pollOrder(ctx, orderID, push) {
					return
				}
			}

		case <-ticker.C:
			if r.pollOrder(ctx, orderID, push) {
				return
			}
		}
	}
}

// pollOrder fetches the order once and pushes any progress. Returns
// true when watching should stop.
func (r *runner) pollOrder(ctx context.Context, orderID string, push func(fillSignal) bool) bool {
	sctx, cancel := context.WithTimeout(ctx, statusTimeout)
	st, err := r.e.maker.GetOrder(sctx, orderID)
	cancel()
	if err != nil {
		// transient gaps and not-found are both retried next tick; the
		// episode acts only on explicit status
		return false
	}
	r.e.orders.Update(st)

	merged, delta := r.merger.onRest(st.FilledQty)
	terminal := st.Status.Terminal()
	if delta > fillEps {
		fillDeltasTotal.WithLabelValues("rest").Inc()
	}
	if delta > fillEps || terminal {
		if !push(fillSignal{merged: merged, status: st.Status, terminal: terminal}) {
			return true
		}
	}
	return terminal
}

// handleFill folds a merged-fill observation into the task and drives
// the hedge pipeline. done=true ends the episode with res.
func (r *runner) handleFill(fs fillSignal) (res episodeResult, done bool) {
	task := r.task()
	if task == nil {
		return epDone, true
	}

	if fs.merged < task.PredictFilledQty-fillEps {
		// the task absorbed fills outside this episode, e.g. through a
		// delayed-settlement probe on a previous order; lift the merger
		// base rather than letting the count retreat
		r.merger.rebase(task.PredictFilledQty)
		r.logger.Warn("fill-merger-rebased",
			zap.Float64("episode", fs.merged),
			zap.Float64("task", task.PredictFilledQty))
		return epContinue, false
	}

	if fs.merged > task.PredictFilledQty+fillEps {
		delta := fs.merged - task.PredictFilledQty
		r.hedger.addPending(delta)
		updated, err := r.e.store.Update(r.id, func(t *tasks.Task) {
			t.PredictFilledQty = fs.merged
			t.AvgPredictPrice = t.PredictPrice
			if t.Status == tasks.StatusPredictSubmitted {
				t.Status = tasks.StatusPartiallyFilled
			}
		})
		if err != nil {
			return epDone, true
		}
		task = updated
		r.logger.Info("maker-fill",
			zap.Float64("delta", delta),
			zap.Float64("filled", fs.merged),
			zap.Float64("working-qty", task.Quantity))
		if r.e.jrnl != nil {
			r.e.jrnl.Record(r.id, "order_fill", map[string]interface{}{
				"delta":  delta,
				"filled": fs.merged,
			})
		}
	}

	makerDone := fs.terminal && fs.status == types.OrderFilled
	if !makerDone && fs.merged >= task.Quantity-fillEps {
		// chain fills can complete the order before REST reports it
		makerDone = true
	}
	if makerDone {
		return r.driveHedgeToCompletion(), true
	}

	// mid-flight: hedge whenever a batch threshold crosses
hedgeLoop:
	for r.hedger.shouldHedge(task, false) {
		out := r.hedger.runCycle(task, false, 0)
		switch out.kind {
		case cycleGhost:
			return r.pauseGhost(), true
		case cycleFailed:
			return r.failHedge(out.err), true
		case cycleFilled:
			task = r.task()
			if task == nil {
				return epDone, true
			}
		default:
			// dust or no visible depth: leave the rest to the guards
			break hedgeLoop
		}
	}

	if fs.terminal {
		// order ended on the venue without filling the working size
		return r.pauseTask("venue",
			fmt.Sprintf("maker order %s on venue", strings.ToLower(string(fs.status))), "", ""), true
	}
	return epContinue, false
}

// driveHedgeToCompletion covers the remaining exposure once the maker
// leg is done, then completes the task. Sub-share residue is accepted
// as dust.
func (r *runner) driveHedgeToCompletion() episodeResult {
	for {
		task := r.task()
		if task == nil {
			return epDone
		}
		if r.shutdownReq.Load() {
			r.pauseForShutdown(task)
			return epDone
		}
		if r.cancelReq.Load() {
			r.windDown(task, tasks.StatusCancelled, "cancelled by user")
			return epDone
		}
		if task.Unhedged() < r.e.cfg.MinHedgeQty {
			return r.complete(task)
		}

		out := r.hedger.runCycle(task, true, 0)
		switch out.kind {
		case cycleFilled:
			continue
		case cycleDust:
			return r.complete(task)
		case cycleNoDepth:
			return r.pauseTask("depth",
				"hedge depth unavailable inside price limit", "", "")
		case cycleGhost:
			return r.pauseGhost()
		default:
			return r.failHedge(out.err)
		}
	}
}

// complete finishes the task and books realized profit.
func (r *runner) complete(task *tasks.Task) episodeResult {
	updated, err := r.e.store.Update(r.id, func(t *tasks.Task) {
		t.Status = tasks.StatusCompleted
		t.CurrentOrderHash = ""
		t.Error = ""
		t.ActualProfit = actualProfit(t)
	})
	if err != nil {
		return epDone
	}
	profitRealized.Add(updated.ActualProfit)
	r.e.emit(r.id, EventTaskCompleted, fmt.Sprintf("profit %.4f", updated.ActualProfit))
	r.logger.Info("task-completed",
		zap.Float64("filled", updated.PredictFilledQty),
		zap.Float64("hedged", updated.HedgedQty),
		zap.Float64("avg-predict-price", updated.AvgPredictPrice),
		zap.Float64("avg-hedge-price", updated.AvgHedgePrice),
		zap.Float64("profit", updated.ActualProfit))
	return epDone
}

// actualProfit values the hedged position. Both legs of a BUY cost
// money now and pay $1 per share pair at settlement; a SELL unwinds a
// position recorded at EntryCost per share pair.
func actualProfit(t *tasks.Task) float64 {
	qty := t.HedgedQty
	if qty <= fillEps {
		return 0
	}
	var p float64
	if t.Type == types.SideBuy {
		p = (1 - t.AvgPredictPrice - t.AvgHedgePrice) * qty
	} else {
		p = (t.AvgPredictPrice + t.AvgHedgePrice - t.EntryCost) * qty
	}
	if t.Strategy == types.StrategyTaker && t.FeeRateBps > 0 {
		p -= t.AvgPredictPrice * qty * float64(t.FeeRateBps) / 10000
	}
	return p
}

// handlePriceTrigger cancels the maker order and pauses the task.
func (r *runner) handlePriceTrigger(sig guardSignal) episodeResult {
	task := r.task()
	if task == nil {
		return epDone
	}
	var reason string
	if task.Type == types.SideBuy {
		reason = fmt.Sprintf("price guard: hedge ask %.4f above max %.4f", sig.observed, task.HedgeMaxAsk)
	} else {
		reason = fmt.Sprintf("price guard: hedge bid %.4f below min %.4f", sig.observed, task.HedgeMinBid)
	}
	if r.e.jrnl != nil {
		r.e.jrnl.Record(r.id, "price_guard", map[string]interface{}{
			"observed": sig.observed,
		})
	}
	return r.pauseTask("price", reason, EventPriceGuardTriggered, reason)
}

// handleDepthAdjust cancels the maker order and resizes the working
// quantity to what the hedge book can absorb.
func (r *runner) handleDepthAdjust(sig guardSignal) episodeResult {
	task := r.task()
	if task == nil {
		return epDone
	}
	if sig.target <= fillEps {
		// nothing filled and no hedgeable depth left: park the task
		// instead of resizing the order to zero
		return r.pauseTask("depth", "hedge depth collapsed below one share", "", "")
	}
	r.generation.Add(1)

	if !r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled()) {
		return r.pauseTask("depth", "maker cancel failed during depth adjust", "", "")
	}

	prev := task.Quantity
	updated, err := r.e.store.Update(r.id, func(t *tasks.Task) {
		q := sig.target
		if q < t.PredictFilledQty {
			q = t.PredictFilledQty
		}
		if q > t.TotalQuantity {
			q = t.TotalQuantity
		}
		t.Quantity = q
		t.CurrentOrderHash = ""
		if t.Status == tasks.StatusPredictSubmitted {
			t.Status = tasks.StatusPending
		}
	})
	if err != nil {
		return epDone
	}
	r.lastDepthAdjust.Store(time.Now().UnixNano())

	direction := "shrink"
	if updated.Quantity > prev {
		direction = "expand"
	}
	depthAdjustsTotal.WithLabelValues(direction).Inc()
	r.e.emit(r.id, EventDepthAdjusted,
		fmt.Sprintf("depth %.2f, working quantity %.2f", sig.observed, updated.Quantity))
	r.logger.Info("depth-adjusted",
		zap.String("direction", direction),
		zap.Float64("depth", sig.observed),
		zap.Float64("quantity", updated.Quantity))
	return epContinue
}

// pauseTask cancels the live maker order and parks the task as PAUSED,
// or FAILED once the pause budget is spent.
func (r *runner) pauseTask(label, reason, event, detail string) episodeResult {
	r.generation.Add(1)
	task := r.task()
	if task == nil {
		return epDone
	}

	cleared := true
	if task.CurrentOrderHash != "" {
		cleared = r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled())
	}

	if event != "" {
		r.e.emit(r.id, event, detail)
	}
	pausesTotal.WithLabelValues(label).Inc()

	newCount := task.PauseCount + 1
	if newCount >= r.e.cfg.MaxPauseCount {
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.Status = tasks.StatusFailed
			t.PauseCount = newCount
			t.Error = fmt.Sprintf("max pause count reached: %s", reason)
			if cleared {
				t.CurrentOrderHash = ""
			}
		})
		r.logger.Error("task-max-pauses-reached",
			zap.Int("pause-count", newCount),
			zap.String("reason", reason))
		return epDone
	}

	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		t.Status = tasks.StatusPaused
		t.PauseCount = newCount
		t.Error = reason
		if cleared {
			t.CurrentOrderHash = ""
		}
	})
	r.logger.Warn("task-paused",
		zap.String("reason", reason),
		zap.Int("pause-count", newCount),
		zap.Bool("order-hash-cleared", cleared))
	return epPaused
}

func (r *runner) pauseGhost() episodeResult {
	return r.pauseTask("ghost",
		"ghost depth: hedge ioc returned zero fill against visible depth",
		EventGhostDepth, "")
}

// failHedge ends the task as HEDGE_FAILED, stopping maker fills first.
func (r *runner) failHedge(err error) episodeResult {
	task := r.task()
	if task == nil {
		return epDone
	}
	if task.CurrentOrderHash != "" {
		r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled())
	}

	msg := "hedge retries exhausted"
	if err != nil {
		msg = fmt.Sprintf("hedge retries exhausted: %v", err)
	}
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		t.Status = tasks.StatusHedgeFailed
		t.Error = msg
	})
	r.e.emit(r.id, EventOrderFailed, msg)
	r.logger.Error("hedge-failed",
		zap.Float64("unhedged", task.Unhedged()),
		zap.Error(err))
	return epDone
}

// cancelOrder cancels one maker order and schedules delayed-settlement
// probes. baseline is this order's filled quantity at cancel time.
func (r *runner) cancelOrder(hash string, baseline float64) bool {
	if hash == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	if _, err := r.e.maker.Cancel(ctx, hash); err != nil {
		makerCancelsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("maker-cancel-failed",
			zap.String("order-hash", hash),
			zap.Error(err))
		return false
	}
	makerCancelsTotal.WithLabelValues("ok").Inc()
	r.e.orders.Untrack(hash)
	r.e.scheduleSettleProbes(r.id, hash, baseline)
	return true
}

// windDown closes the task out on user cancel or expiry: cancel the
// maker order, cover the unhedged residue best-effort, persist the
// terminal status.
func (r *runner) windDown(task *tasks.Task, status tasks.Status, reason string) {
	cleared := true
	if task.CurrentOrderHash != "" {
		cleared = r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled())
	}

	if task.Unhedged() >= r.e.cfg.MinHedgeQty {
		out := r.hedger.runCycle(task, true, 0)
		if out.kind != cycleFilled && out.kind != cycleDust {
			r.logger.Warn("wind-down-residue-unhedged",
				zap.Float64("unhedged", task.Unhedged()),
				zap.Error(out.err))
		}
	}

	if status == tasks.StatusTimeoutCancelled {
		timeoutsTotal.Inc()
	}
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		if t.Status.Terminal() {
			return
		}
		t.Status = status
		t.Error = reason
		if cleared {
			t.CurrentOrderHash = ""
		}
	})
	r.logger.Info("task-wound-down",
		zap.String("status", string(status)),
		zap.String("reason", reason))
}

// pauseFeedDown parks the task while the WS feeds are down. The pause
// budget is not charged: the trigger is operational, not market risk.
// The runner stays alive and recovers once the feed gate lifts.
func (r *runner) pauseFeedDown(task *tasks.Task) {
	r.feedPauseReq.Store(false)
	r.generation.Add(1)

	cleared := true
	if task.CurrentOrderHash != "" {
		cleared = r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled())
	}

	pausesTotal.WithLabelValues("feed").Inc()
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		if t.Status.Terminal() {
			return
		}
		t.Status = tasks.StatusPaused
		t.Error = "market feeds disconnected"
		if cleared {
			t.CurrentOrderHash = ""
		}
	})
	r.logger.Warn("task-paused-feeds-down",
		zap.Bool("order-hash-cleared", cleared))
}

// pauseForShutdown parks the task for the restart to adopt: cancel the
// maker order, persist PAUSED, leave the hash when the cancel failed.
// No new hedge orders are placed on this path.
func (r *runner) pauseForShutdown(task *tasks.Task) {
	cleared := true
	if task.CurrentOrderHash != "" {
		cleared = r.cancelOrder(task.CurrentOrderHash, r.merger.orderFilled())
	}
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		if t.Status.Terminal() {
			return
		}
		t.Status = tasks.StatusPaused
		if cleared {
			t.CurrentOrderHash = ""
		}
	})
	r.logger.Info("task-paused-for-shutdown",
		zap.Bool("order-hash-cleared", cleared))
}

// awaitRecovery polls until every recovery precondition holds, then
// moves the task back to PENDING for the next episode. Returns early
// on interruption; the maker loop re-checks its flags either way.
func (r *runner) awaitRecovery() {
	ticker := time.NewTicker(r.e.cfg.SubmitPoll)
	defer ticker.Stop()

	gen := r.generation.Load()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
			return
		case <-ticker.C:
		}

		task := r.task()
		if task == nil || task.Status != tasks.StatusPaused {
			return
		}
		if task.Expired(time.Now()) {
			return
		}

		if task.CurrentOrderHash != "" {
			r.settleRetainedHash(task)
			continue
		}

		if !r.e.feedsHealthy() {
			continue
		}
		if !r.recoverySafe(task) {
			continue
		}
		if g := r.generation.Load(); g != gen {
			gen = g
			continue
		}
		if r.cancelReq.Load() || r.shutdownReq.Load() {
			return
		}

		if _, err := r.e.store.Update(r.id, func(t *tasks.Task) {
			if t.Status == tasks.StatusPaused {
				t.Status = tasks.StatusPending
				t.Error = ""
			}
		}); err != nil {
			return
		}
		resumesTotal.Inc()
		r.e.emit(r.id, EventTaskResumed, "")
		r.logger.Info("task-resumed")
		return
	}
}

// recoverySafe requires the maker quote to still rest, the hedge price
// back inside the cap, and enough hedge depth to cover everything not
// yet hedged.
func (r *runner) recoverySafe(task *tasks.Task) bool {
	if !r.restSafe(task) && task.Quantity-task.PredictFilledQty > fillEps {
		return false
	}
	price, ok := r.hedgePrice(task)
	if !ok {
		return false
	}
	if task.Type == types.SideBuy {
		if price > task.HedgeMaxAsk+fillEps {
			return false
		}
	} else if price < task.HedgeMinBid-fillEps {
		return false
	}

	need := task.Quantity - task.HedgedQty
	if need <= fillEps {
		return true
	}
	depth, ok := r.hedgeDepth(task)
	if !ok {
		return false
	}
	return depth >= need-fillEps
}

// settleRetainedHash resolves a hash kept after a failed cancel: fold
// a terminal order's fills, or retry the cancel.
func (r *runner) settleRetainedHash(task *tasks.Task) {
	ctx, cancel := context.WithTimeout(r.ctx, statusTimeout)
	st, err := r.e.maker.GetOrder(ctx, task.CurrentOrderHash)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
				t.CurrentOrderHash = ""
			})
		}
		return
	}
	if st.Status.Terminal() {
		r.foldOrderStatus(st)
		return
	}
	if r.cancelOrder(task.CurrentOrderHash, st.FilledQty) {
		_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
			t.CurrentOrderHash = ""
		})
	}
}

// foldOrderStatus absorbs venue-reported fills for the current order
// and releases the hash. The venue's cumulative count wins whenever it
// exceeds what we tracked.
func (r *runner) foldOrderStatus(st *types.OrderStatus) {
	var delta float64
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		if st.FilledQty > t.PredictFilledQty {
			delta = st.FilledQty - t.PredictFilledQty
			t.PredictFilledQty = st.FilledQty
			t.AvgPredictPrice = t.PredictPrice
			if t.Status == tasks.StatusPredictSubmitted {
				t.Status = tasks.StatusPartiallyFilled
			}
		}
		t.CurrentOrderHash = ""
	})
	if delta > fillEps {
		r.hedger.addPending(delta)
		r.logger.Info("maker-fills-folded",
			zap.String("order-hash", st.OrderID),
			zap.Float64("delta", delta))
	}
}

// reconcile aligns a recovered task with venue truth before the maker
// loop runs: adopt a live order, fold a terminal one, settle a hedge
// order that was in flight at the crash.
func (r *runner) reconcile() error {
	task := r.task()
	if task == nil {
		return nil
	}

	if task.CurrentHedgeOrderID != "" {
		r.reconcileHedgeOrder(task)
		task = r.task()
		if task == nil {
			return nil
		}
	}

	if task.CurrentOrderHash == "" || task.Status == tasks.StatusPaused {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, restTimeout)
	st, err := r.e.maker.GetOrder(ctx, task.CurrentOrderHash)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			_, uerr := r.e.store.Update(r.id, func(t *tasks.Task) {
				t.CurrentOrderHash = ""
				if !t.Status.Terminal() {
					t.Status = tasks.StatusPaused
					t.Error = "maker order unknown to venue after restart"
				}
			})
			return uerr
		}
		return fmt.Errorf("reconcile order %s: %w", task.CurrentOrderHash, err)
	}

	if st.Status.Terminal() {
		r.foldOrderStatus(st)
		if st.Status != types.OrderFilled {
			// cancelled while we were down: recovery re-checks safety
			_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
				if !t.Status.Terminal() {
					t.Status = tasks.StatusPaused
					t.Error = fmt.Sprintf("maker order %s while offline", strings.ToLower(string(st.Status)))
				}
			})
		}
		return nil
	}

	// live order: adopt it into the next episode
	r.merger.adopt(task.PredictFilledQty, st.FilledQty)
	r.adoptHash = task.CurrentOrderHash
	r.e.orders.Track(task.CurrentOrderHash, st)
	_, uerr := r.e.store.Update(r.id, func(t *tasks.Task) {
		if t.Status == tasks.StatusPending {
			t.Status = tasks.StatusPredictSubmitted
		}
	})
	r.logger.Info("maker-order-adopted",
		zap.String("order-hash", task.CurrentOrderHash),
		zap.Float64("venue-filled", st.FilledQty))
	return uerr
}

// reconcileHedgeOrder settles a hedge IOC that was in flight when the
// process died. The fold and the id release share one update, so a
// replay can never double-count.
func (r *runner) reconcileHedgeOrder(task *tasks.Task) {
	orderID := task.CurrentHedgeOrderID

	ctx, cancel := context.WithTimeout(r.ctx, restTimeout)
	st, err := r.e.hedge.GetOrder(ctx, orderID)
	cancel()
	if err != nil {
		if errors.Is(err, types.ErrOrderNotFound) {
			_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
				t.CurrentHedgeOrderID = ""
			})
		}
		return
	}

	cctx, ccancel := context.WithTimeout(context.Background(), restTimeout)
	_, _ = r.e.hedge.Cancel(cctx, orderID)
	ccancel()

	if st.FilledQty > fillEps {
		price := st.Price
		updated := r.hedger.applyFill(r.id, orderID, st.FilledQty, price)
		if updated != nil {
			r.logger.Info("hedge-order-reconciled",
				zap.String("order-id", orderID),
				zap.Float64("filled", st.FilledQty))
		}
		return
	}
	_, _ = r.e.store.Update(r.id, func(t *tasks.Task) {
		if t.CurrentHedgeOrderID == orderID {
			t.CurrentHedgeOrderID = ""
		}
	})
}
