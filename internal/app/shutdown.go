package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown stops the application. Order reverses startup: the HTTP
// surface and dashboard drop first, then trading, then market data,
// then persistence, so every producer dies before its consumer.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.health.SetReady(false)
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	a.closeComponent("bridge", a.bridge.Close)
	a.closeComponent("discovery", a.discovery.Close)
	a.closeComponent("scanner", a.scanner.Close)

	// Engine first among trading pieces: runners read the guard state
	// while pausing out.
	if a.engine != nil {
		a.closeComponent("engine", a.engine.Close)
	}
	a.closeComponent("exposure", a.exposure.Close)
	if a.guard != nil {
		a.closeComponent("guard", a.guard.Close)
	}
	if a.tracker != nil {
		a.closeComponent("tracker", a.tracker.Close)
	}
	if a.fills != nil {
		a.closeComponent("chain-fills", a.fills.Close)
	}
	if a.router != nil {
		a.closeComponent("fill-router", a.router.Close)
	}

	a.closeComponent("orders", a.orders.Close)
	a.closeComponent("books", a.books.Close)
	if a.userFeed != nil {
		a.closeComponent("user-feed", a.userFeed.Close)
	}
	if a.hedgeFeed != nil {
		a.closeComponent("hedge-feed", a.hedgeFeed.Close)
	}
	if a.makerFeed != nil {
		a.closeComponent("maker-feed", a.makerFeed.Close)
	}

	a.closeComponent("event-sink", a.sink.Close)
	a.closeComponent("journal", a.journal.Close)
	a.closeComponent("task-store", a.store.Close)
	a.closeComponent("storage", a.storage.Close)
	a.closeComponent("hub", a.hub.Close)

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")
	return nil
}

func (a *App) closeComponent(name string, close func() error) {
	if err := close(); err != nil {
		a.logger.Error("component-close-error",
			zap.String("component", name),
			zap.Error(err))
	}
}
