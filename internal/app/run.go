package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("orderbook-mode", a.cfg.OrderbookMode),
		zap.String("hedge-book-source", a.cfg.HedgeOrderbookSource),
		zap.Bool("trading-enabled", a.engine != nil))

	if err := a.startComponents(); err != nil {
		return err
	}

	a.health.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("dashboard-port", a.cfg.DashboardPort))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// HTTP first so liveness answers while the rest warms up.
	a.wg.Add(1)
	go a.runHTTPServer()
	time.Sleep(100 * time.Millisecond)

	if err := a.hub.Start(a.ctx); err != nil {
		return fmt.Errorf("start dashboard hub: %w", err)
	}
	if err := a.store.Start(a.ctx); err != nil {
		return fmt.Errorf("start task store: %w", err)
	}
	if err := a.journal.Start(a.ctx); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}
	if err := a.sink.Start(a.ctx); err != nil {
		return fmt.Errorf("start event sink: %w", err)
	}

	// Books before feeds so the pumps are draining when frames arrive.
	if err := a.books.Start(a.ctx); err != nil {
		return fmt.Errorf("start book manager: %w", err)
	}
	if err := a.startFeeds(); err != nil {
		return err
	}
	if err := a.orders.Start(a.ctx); err != nil {
		return fmt.Errorf("start order cache: %w", err)
	}

	if a.fills != nil {
		if err := a.fills.Start(a.ctx); err != nil {
			return fmt.Errorf("start chain fill watcher: %w", err)
		}
	}

	if err := a.scanner.Start(a.ctx); err != nil {
		return fmt.Errorf("start scanner: %w", err)
	}
	// Discovery refreshes synchronously on start, so the scanner has
	// its pair set before anything trades.
	if err := a.discovery.Start(a.ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	// Bridge before the engine so recovery events reach the dashboard.
	if err := a.bridge.Start(a.ctx); err != nil {
		return fmt.Errorf("start dashboard bridge: %w", err)
	}
	if err := a.startEngine(); err != nil {
		return err
	}

	if err := a.exposure.Start(a.ctx); err != nil {
		return fmt.Errorf("start exposure monitor: %w", err)
	}
	if a.guard != nil {
		if err := a.guard.Start(a.ctx); err != nil {
			return fmt.Errorf("start collateral guard: %w", err)
		}
	}
	if a.tracker != nil {
		if err := a.tracker.Start(a.ctx); err != nil {
			return fmt.Errorf("start balance tracker: %w", err)
		}
	}

	return nil
}

func (a *App) startFeeds() error {
	if a.makerFeed != nil {
		if err := a.makerFeed.Start(a.ctx); err != nil {
			return fmt.Errorf("start maker book feed: %w", err)
		}
	}
	if a.hedgeFeed != nil {
		if err := a.hedgeFeed.Start(a.ctx); err != nil {
			return fmt.Errorf("start hedge book feed: %w", err)
		}
	}
	if a.userFeed != nil {
		if err := a.userFeed.Start(a.ctx); err != nil {
			return fmt.Errorf("start user feed: %w", err)
		}
		if err := a.router.Start(a.ctx); err != nil {
			return fmt.Errorf("start fill router: %w", err)
		}
	}
	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	if err := a.http.Start(); err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) startEngine() error {
	if a.engine == nil {
		a.logger.Info("engine-not-started",
			zap.String("reason", "detection-only mode"))
		return nil
	}

	if err := a.engine.Start(a.ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	a.engine.Recover()
	return nil
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
