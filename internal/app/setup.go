package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mselser95/crossarb/internal/books"
	"github.com/mselser95/crossarb/internal/chainfill"
	"github.com/mselser95/crossarb/internal/circuitbreaker"
	"github.com/mselser95/crossarb/internal/dashboard"
	"github.com/mselser95/crossarb/internal/discovery"
	"github.com/mselser95/crossarb/internal/executor"
	"github.com/mselser95/crossarb/internal/exposure"
	"github.com/mselser95/crossarb/internal/journal"
	"github.com/mselser95/crossarb/internal/matching"
	"github.com/mselser95/crossarb/internal/orderstatus"
	"github.com/mselser95/crossarb/internal/scanner"
	"github.com/mselser95/crossarb/internal/storage"
	"github.com/mselser95/crossarb/internal/tasks"
	"github.com/mselser95/crossarb/internal/venue"
	"github.com/mselser95/crossarb/internal/venue/keypool"
	"github.com/mselser95/crossarb/internal/venue/polymarket"
	"github.com/mselser95/crossarb/internal/venue/predict"
	"github.com/mselser95/crossarb/pkg/cache"
	"github.com/mselser95/crossarb/pkg/config"
	"github.com/mselser95/crossarb/pkg/healthprobe"
	"github.com/mselser95/crossarb/pkg/httpserver"
	"github.com/mselser95/crossarb/pkg/types"
	"github.com/mselser95/crossarb/pkg/wallet"
	"github.com/mselser95/crossarb/pkg/websocket"
)

// New assembles the application. Components with missing credentials
// degrade individually: the engine, collateral guard, chain watcher,
// and balance tracker each disable themselves rather than failing the
// whole process.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:    cfg,
		logger: logger,
		health: healthprobe.New(),
		ctx:    ctx,
		cancel: cancel,
	}

	a.hub = dashboard.New(&dashboard.Config{
		Logger:        logger,
		FlushInterval: cfg.DashboardFlush,
		BatchSize:     cfg.DashboardBatch,
	})

	marketCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	meta, err := a.setupVenues(marketCache)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup venues: %w", err)
	}

	a.setupMarketData(marketCache, meta)

	if err := a.setupPersistence(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup persistence: %w", err)
	}

	if err := a.setupDiscovery(); err != nil {
		cancel()
		return nil, fmt.Errorf("setup discovery: %w", err)
	}

	if err := a.setupTrading(opts, meta); err != nil {
		cancel()
		return nil, fmt.Errorf("setup trading: %w", err)
	}

	a.setupBalances()
	a.setupDashboard()
	a.setupHTTPServer()

	return a, nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max items (1000 markets)
		MaxCost:     1000,  // maximum 1000 items in cache
		BufferItems: 64,
		Logger:      logger,
	})
}

// setupVenues builds the key pools, both venue clients, and the hedge
// metadata cache. The order signer is optional; without it the hedge
// client can read books and markets but not place orders.
func (a *App) setupVenues(marketCache cache.Cache) (*polymarket.CachedMeta, error) {
	cfg := a.cfg

	scanPool := keypool.New("scan", cfg.PredictKeysScan, cfg.RateLimitBackoff, a.logger)
	tradePool := keypool.New("trade", cfg.PredictKeysTrade, cfg.RateLimitBackoff, a.logger)

	a.maker = predict.NewClient(&predict.Config{
		BaseURL:   cfg.PredictRESTURL,
		APISecret: cfg.PredictAPISecret,
		ScanPool:  scanPool,
		TradePool: tradePool,
		Logger:    a.logger,
	})

	if cfg.PolymarketPrivateKey != "" {
		signer, err := polymarket.NewOrderSigner(
			cfg.PolymarketPrivateKey,
			cfg.PolymarketFunderAddress,
			cfg.PolymarketSignatureType,
		)
		if err != nil {
			return nil, fmt.Errorf("create order signer: %w", err)
		}
		a.signer = signer
	}

	hedgeCfg := &polymarket.Config{
		BaseURL:    cfg.PolymarketRESTURL,
		GammaURL:   cfg.PolymarketGammaURL,
		APIKey:     cfg.PolymarketAPIKey,
		Passphrase: cfg.PolymarketPassphrase,
		Secret:     cfg.PolymarketSecret,
		Logger:     a.logger,
	}
	if a.signer != nil {
		hedgeCfg.Signer = a.signer
	}
	a.hedge = polymarket.NewClient(hedgeCfg)

	return polymarket.NewCachedMeta(a.hedge, marketCache), nil
}

// setupPersistence builds the opportunity store, the task store, the
// per-task file journal, and the event sink that tees engine events
// into both.
func (a *App) setupPersistence() error {
	cfg := a.cfg

	st, err := setupStorage(cfg, a.logger)
	if err != nil {
		return err
	}
	a.storage = st

	store, err := tasks.New(&tasks.Config{
		Logger: a.logger,
		Path:   cfg.TaskFilePath(),
	})
	if err != nil {
		return fmt.Errorf("create task store: %w", err)
	}
	a.store = store

	a.journal = journal.New(&journal.Config{
		Logger: a.logger,
		Dir:    cfg.JournalDir(),
		Store:  a.store,
		Books:  a.books,
	})

	a.sink = newEventSink(a.logger, a.journal, a.storage)

	return nil
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

// setupMarketData builds the book feeds per book-mode, the unified
// book manager, the order-status cache, and the market matcher.
func (a *App) setupMarketData(marketCache cache.Cache, meta *polymarket.CachedMeta) {
	cfg := a.cfg

	feeds := make(map[types.Venue]venue.BookFeed)

	if cfg.OrderbookMode == "ws" {
		a.makerFeed = predict.NewBookFeed(&predict.BookFeedConfig{
			WS:      a.wsConfig(cfg.PredictWSURL),
			Resolve: a.maker.ResolveMarket,
			Logger:  a.logger,
		})
		feeds[types.VenuePredict] = a.makerFeed
	} else {
		a.logger.Info("maker-books-legacy-mode",
			zap.String("note", "maker books come from REST polling only"))
	}

	if cfg.HedgeOrderbookSource == "ws" {
		a.hedgeFeed = polymarket.NewBookFeed(&polymarket.BookFeedConfig{
			WS:           a.wsConfig(cfg.PolymarketWSURL),
			OnTickChange: meta.UpdateTickSize,
			Logger:       a.logger,
		})
		feeds[types.VenuePolymarket] = a.hedgeFeed
	} else {
		a.logger.Info("hedge-books-rest-mode",
			zap.String("note", "hedge books come from REST polling only"))
	}

	a.books = books.New(&books.Config{
		Logger: a.logger,
		Feeds:  feeds,
		REST: map[types.Venue]venue.BookGetter{
			types.VenuePredict:    a.maker,
			types.VenuePolymarket: a.hedge,
		},
		WarmConcurrency:     cfg.WarmConcurrency,
		HealthCheckInterval: cfg.WSHealthCheck,
		HybridPoll:          true,
	})

	if cfg.OrderbookMode == "ws" && len(cfg.PredictKeysTrade) > 0 && cfg.WalletAddress != "" {
		a.userFeed = predict.NewUserFeed(&predict.UserFeedConfig{
			WS:        a.wsConfig(cfg.PredictWSURL),
			APIKey:    cfg.PredictKeysTrade[0],
			APISecret: cfg.PredictAPISecret,
			Wallet:    cfg.WalletAddress,
			Logger:    a.logger,
		})
		a.router = predict.NewFillRouter(&predict.FillRouterConfig{
			Logger: a.logger,
			Fills:  a.userFeed.Fills(),
		})
	}

	ordersCfg := &orderstatus.Config{
		Logger:       a.logger,
		Client:       a.maker,
		PollInterval: cfg.PollInterval,
		StaleAfter:   cfg.OrderCacheStale,
	}
	if a.userFeed != nil {
		ordersCfg.Orders = a.userFeed.Orders()
	}
	a.orders = orderstatus.New(ordersCfg)

	a.matcher = matching.New(&matching.Config{
		Logger:   a.logger,
		Cache:    marketCache,
		SeedPath: cfg.MatchResultCache,
	})
}

// setupDiscovery builds the scanner and the pair discovery service
// that drives it.
func (a *App) setupDiscovery() error {
	cfg := a.cfg

	a.scanner = scanner.New(&scanner.Config{
		Logger:    a.logger,
		Books:     a.books,
		Storage:   a.storage,
		StaleCalc: cfg.StaleCalc,
		Throttle:  cfg.ScanThrottle,
		TTL:       cfg.OpportunityTTL,
		MinProfit: cfg.ScanMinProfit,
	})

	disc, err := discovery.New(&discovery.Config{
		Logger:      a.logger,
		Maker:       a.maker,
		Hedge:       a.hedge,
		Matcher:     a.matcher,
		Interval:    cfg.PairRefresh,
		MarketLimit: cfg.MarketLimit,
		OnPairs: func(ctx context.Context, pairs []*types.MarketPair) error {
			return a.scanner.SetPairs(ctx, pairs)
		},
	})
	if err != nil {
		return fmt.Errorf("create discovery service: %w", err)
	}
	a.discovery = disc

	return nil
}

// setupTrading builds the chain fill watcher, the execution engine,
// and the exposure monitor. The engine requires signing credentials on
// both venues; without them the app runs detection-only.
func (a *App) setupTrading(opts *Options, meta *polymarket.CachedMeta) error {
	cfg := a.cfg

	if cfg.BSCWSURL != "" {
		watcher, err := chainfill.New(&chainfill.Config{
			Logger:   a.logger,
			WSURL:    cfg.BSCWSURL,
			Exchange: common.HexToAddress(cfg.ExchangeContract),
			Wallet:   common.HexToAddress(cfg.WalletAddress),
			OnFill: func(fill *types.Fill) {
				a.hub.Emit(dashboard.EventChainFill, fill)
			},
			ReconnectInitial: cfg.WSReconnectInitialDelay,
			ReconnectMax:     cfg.WSReconnectMaxDelay,
		})
		if err != nil {
			return fmt.Errorf("create chain fill watcher: %w", err)
		}
		a.fills = watcher
	}

	switch {
	case opts.DryRun:
		a.logger.Info("engine-disabled-dry-run",
			zap.String("note", "opportunities will be detected and logged only"))
	case a.signer == nil:
		a.logger.Info("engine-disabled-no-hedge-signer",
			zap.String("note", "POLYMARKET_PRIVATE_KEY not set"))
	case len(cfg.PredictKeysTrade) == 0:
		a.logger.Info("engine-disabled-no-trade-keys",
			zap.String("note", "PREDICT_KEYS_TRADE not set"))
	default:
		engineCfg := &executor.Config{
			Logger:           a.logger,
			Store:            a.store,
			Books:            a.books,
			Maker:            a.maker,
			Hedge:            a.hedge,
			Orders:           a.orders,
			HedgeMeta:        meta,
			Journal:          a.sink,
			MaxPauseCount:    cfg.MaxPauseCount,
			MaxHedgeRetries:  cfg.MaxHedgeRetries,
			HedgeRetryBase:   cfg.HedgeRetryBase,
			HedgeRetryCap:    cfg.HedgeRetryCap,
			MinHedgeNotional: cfg.MinHedgeNotionalUSD,
			MinHedgeQty:      cfg.MinHedgeQtyShares,
			SubmitPoll:       cfg.SubmitCheckInterval,
			DepthInterval:    cfg.DepthGuardInterval,
			DepthCooldown:    cfg.DepthGuardCooldown,
			PriceInterval:    cfg.PriceGuardInterval,
			FillPoll:         cfg.FillPoll,
			SettleProbes:     cfg.DelayedFillProbes,
			SettleInterval:   cfg.DelayedFillInterval,
			ShutdownTimeout:  cfg.ShutdownPauseTimeout,
			StaleCalc:        cfg.StaleCalc,
			DisconnectPause:  cfg.WSDisconnectPause,
			ResumeDelay:      cfg.WSResumeDelay,
		}
		// Chain fills are authoritative; the user feed router covers
		// deployments without a chain endpoint.
		switch {
		case a.fills != nil:
			engineCfg.Fills = a.fills
		case a.router != nil:
			engineCfg.Fills = a.router
		}
		engineCfg.FeedHealth = a.feedHealth()
		a.engine = executor.New(engineCfg)
	}

	a.exposure = exposure.New(&exposure.Config{
		Logger:    a.logger,
		Store:     a.store,
		Interval:  cfg.ExposureCheck,
		Threshold: cfg.ExposureThreshold,
	})

	return nil
}

// feedHealth builds the executor's feed gate from whichever WS feeds
// are configured. Legacy REST-only deployments run ungated.
func (a *App) feedHealth() func() bool {
	var checks []func() bool
	if a.makerFeed != nil {
		checks = append(checks, a.makerFeed.Connected)
	}
	if a.hedgeFeed != nil {
		checks = append(checks, a.hedgeFeed.Connected)
	}
	if len(checks) == 0 {
		return nil
	}
	return func() bool {
		for _, c := range checks {
			if !c() {
				return false
			}
		}
		return true
	}
}

// setupBalances builds the per-chain wallet clients, the balance
// tracker, and the hedge collateral guard. Client failures degrade to
// a missing entry rather than failing startup.
func (a *App) setupBalances() {
	cfg := a.cfg

	var entries []wallet.Entry

	owner := cfg.PolymarketFunderAddress
	if owner == "" && a.signer != nil {
		owner = a.signer.Address()
	}

	if owner != "" {
		polygonClient, err := wallet.NewClient(&wallet.Config{
			RPCURL:     cfg.PolygonRPCURL,
			Chain:      "polygon",
			Collateral: common.HexToAddress(cfg.PolygonCollateral),
			Spender:    common.HexToAddress(cfg.PolygonSpender),
			Decimals:   6,
			DataAPIURL: cfg.PolymarketDataAPIURL,
			Logger:     a.logger,
		})
		if err != nil {
			a.logger.Warn("polygon-wallet-client-failed", zap.Error(err))
		} else {
			entries = append(entries, wallet.Entry{
				Client:    polygonClient,
				Owner:     common.HexToAddress(owner),
				Positions: true,
			})

			guard, err := circuitbreaker.New(&circuitbreaker.Config{
				Logger:          a.logger,
				Fetcher:         polygonClient,
				Owner:           common.HexToAddress(owner),
				Decimals:        6,
				CheckInterval:   cfg.BalanceGuardCheck,
				TradeMultiplier: cfg.BalanceGuardMultiplier,
				MinAbsolute:     cfg.BalanceGuardMinUSD,
				HysteresisRatio: cfg.BalanceGuardHysteresis,
			})
			if err != nil {
				a.logger.Warn("collateral-guard-disabled", zap.Error(err))
			} else {
				a.guard = guard
			}
		}
	} else {
		a.logger.Info("collateral-guard-disabled-no-owner",
			zap.String("note", "set POLYMARKET_FUNDER_ADDRESS or POLYMARKET_PRIVATE_KEY"))
	}

	if cfg.WalletAddress != "" {
		bscCfg := &wallet.Config{
			RPCURL:     cfg.BSCRPCURL,
			Chain:      "bsc",
			Collateral: common.HexToAddress(cfg.BSCCollateral),
			Decimals:   18,
			Logger:     a.logger,
		}
		if cfg.ExchangeContract != "" {
			bscCfg.Spender = common.HexToAddress(cfg.ExchangeContract)
		}
		bscClient, err := wallet.NewClient(bscCfg)
		if err != nil {
			a.logger.Warn("bsc-wallet-client-failed", zap.Error(err))
		} else {
			entries = append(entries, wallet.Entry{
				Client: bscClient,
				Owner:  common.HexToAddress(cfg.WalletAddress),
			})
		}
	}

	if len(entries) == 0 {
		a.logger.Info("balance-tracker-disabled-no-entries")
		return
	}

	tracker, err := wallet.NewTracker(&wallet.TrackerConfig{
		Logger:   a.logger,
		Entries:  entries,
		Interval: cfg.WalletPoll,
		OnUpdate: func(snap wallet.Snapshot) {
			a.hub.Publish(dashboard.ChannelAccounts, snap)
		},
	})
	if err != nil {
		a.logger.Warn("balance-tracker-disabled", zap.Error(err))
		return
	}
	a.tracker = tracker
}

func (a *App) setupDashboard() {
	bridgeCfg := &dashboard.BridgeConfig{
		Logger:   a.logger,
		Hub:      a.hub,
		Scanner:  a.scanner,
		Store:    a.store,
		Exposure: a.exposure,
		Pairs:    a.discovery.Pairs,
	}
	if a.engine != nil {
		bridgeCfg.Engine = a.engine
	}
	a.bridge = dashboard.NewBridge(bridgeCfg)
}

func (a *App) setupHTTPServer() {
	cfg := a.cfg

	httpCfg := &httpserver.Config{
		Port:     cfg.DashboardPort,
		Logger:   a.logger,
		Health:   a.health,
		Hub:      a.hub,
		Scanner:  a.scanner,
		Books:    a.books,
		Store:    a.store,
		Exposure: a.exposure,
		Guard:    a.guard,
		Pairs:    a.discovery.Pairs,
		APIToken: cfg.DashboardAPIToken,
		StaleUI:  cfg.StaleUI,
	}
	if a.engine != nil {
		httpCfg.Engine = a.engine
	}
	a.http = httpserver.New(httpCfg)
}

func (a *App) wsConfig(url string) websocket.Config {
	cfg := a.cfg
	return websocket.Config{
		URL:                   url,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                a.logger,
	}
}
