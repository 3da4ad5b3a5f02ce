package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel          string
	LogFile           string
	AccountName       string
	DataDir           string
	DashboardPort     string
	DashboardAPIToken string

	// Maker venue (Predict)
	PredictRESTURL   string
	PredictWSURL     string
	PredictKeysScan  []string
	PredictKeysTrade []string
	PredictAPISecret string

	// Hedge venue (Polymarket CLOB)
	PolymarketRESTURL       string
	PolymarketGammaURL      string
	PolymarketWSURL         string
	PolymarketAPIKey        string
	PolymarketSecret        string
	PolymarketPassphrase    string
	PolymarketPrivateKey    string
	PolymarketFunderAddress string
	PolymarketSignatureType int

	// On-chain settlement watcher
	BSCWSURL         string
	ExchangeContract string
	WalletAddress    string

	// Balance tracking
	PolygonRPCURL        string
	PolygonCollateral    string
	PolygonSpender       string
	BSCRPCURL            string
	BSCCollateral        string
	PolymarketDataAPIURL string
	WalletPoll           time.Duration

	// Hedge collateral guard
	BalanceGuardCheck      time.Duration
	BalanceGuardMinUSD     float64
	BalanceGuardMultiplier float64
	BalanceGuardHysteresis float64

	// Pair discovery
	PairRefresh time.Duration
	MarketLimit int

	// Order books
	OrderbookMode        string // "ws" or "legacy"
	HedgeOrderbookSource string // "ws" or "rest"
	StaleCalc            time.Duration
	StaleUI              time.Duration
	WarmConcurrency      int

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int
	WSHealthCheck           time.Duration
	WSDisconnectPause       time.Duration
	WSResumeDelay           time.Duration

	// Order status polling
	PollInterval     time.Duration
	OrderCacheStale  time.Duration
	FillPoll         time.Duration
	RateLimitBackoff time.Duration

	// Scanner
	ScanThrottle     time.Duration
	ScanMinProfit    float64
	OpportunityTTL   time.Duration
	MatchResultCache string

	// Executor
	MinHedgeNotionalUSD  float64
	MinHedgeQtyShares    float64
	MaxPauseCount        int
	MaxHedgeRetries      int
	HedgeRetryBase       time.Duration
	HedgeRetryCap        time.Duration
	DepthGuardInterval   time.Duration
	DepthGuardCooldown   time.Duration
	PriceGuardInterval   time.Duration
	SubmitCheckInterval  time.Duration
	DelayedFillProbes    int
	DelayedFillInterval  time.Duration
	ShutdownPauseTimeout time.Duration

	// Exposure monitor
	ExposureThreshold float64
	ExposureCheck     time.Duration

	// Dashboard hub
	DashboardFlush time.Duration
	DashboardBatch int

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
		AccountName:       getEnvOrDefault("ACCOUNT_NAME", "default"),
		DataDir:           getEnvOrDefault("DATA_DIR", "data"),
		DashboardPort:     getEnvOrDefault("DASHBOARD_PORT", "8080"),
		DashboardAPIToken: os.Getenv("DASHBOARD_API_TOKEN"),

		// Maker venue defaults
		PredictRESTURL:   getEnvOrDefault("PREDICT_REST_URL", "https://api.predict.fun"),
		PredictWSURL:     getEnvOrDefault("PREDICT_WS_URL", "wss://ws.predict.fun/v1"),
		PredictKeysScan:  getListOrDefault("PREDICT_KEYS_SCAN", nil),
		PredictKeysTrade: getListOrDefault("PREDICT_KEYS_TRADE", nil),
		PredictAPISecret: os.Getenv("PREDICT_API_SECRET"),

		// Hedge venue defaults
		PolymarketRESTURL:       getEnvOrDefault("POLYMARKET_REST_URL", "https://clob.polymarket.com"),
		PolymarketGammaURL:      getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketWSURL:         getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolymarketAPIKey:        os.Getenv("POLYMARKET_API_KEY"),
		PolymarketSecret:        os.Getenv("POLYMARKET_SECRET"),
		PolymarketPassphrase:    os.Getenv("POLYMARKET_PASSPHRASE"),
		PolymarketPrivateKey:    os.Getenv("POLYMARKET_PRIVATE_KEY"),
		PolymarketFunderAddress: os.Getenv("POLYMARKET_FUNDER_ADDRESS"),
		PolymarketSignatureType: getIntOrDefault("POLYMARKET_SIGNATURE_TYPE", 0),

		// Chain watcher defaults (BSC_WS_URL empty disables the watcher)
		BSCWSURL:         os.Getenv("BSC_WS_URL"),
		ExchangeContract: os.Getenv("EXCHANGE_CONTRACT"),
		WalletAddress:    os.Getenv("WALLET_ADDRESS"),

		// Balance tracking defaults. Collateral defaults are Polygon
		// USDC.e and BSC USDT; the Polygon spender is the CTF exchange.
		PolygonRPCURL:        getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com"),
		PolygonCollateral:    getEnvOrDefault("POLYGON_COLLATERAL", "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		PolygonSpender:       getEnvOrDefault("POLYGON_SPENDER", "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
		BSCRPCURL:            getEnvOrDefault("BSC_RPC_URL", "https://bsc-dataseed.binance.org"),
		BSCCollateral:        getEnvOrDefault("BSC_COLLATERAL", "0x55d398326f99059fF775485246999027B3197955"),
		PolymarketDataAPIURL: getEnvOrDefault("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"),
		WalletPoll:           getMillisOrDefault("WALLET_POLL_MS", 60*time.Second),

		// Collateral guard defaults
		BalanceGuardCheck:      getMillisOrDefault("BALANCE_GUARD_CHECK_MS", 30*time.Second),
		BalanceGuardMinUSD:     getFloat64OrDefault("BALANCE_GUARD_MIN_USD", 50.0),
		BalanceGuardMultiplier: getFloat64OrDefault("BALANCE_GUARD_MULTIPLIER", 3.0),
		BalanceGuardHysteresis: getFloat64OrDefault("BALANCE_GUARD_HYSTERESIS", 1.5),

		// Discovery defaults (MARKET_LIMIT 0 scans everything)
		PairRefresh: getMillisOrDefault("PAIR_REFRESH_MS", 5*time.Minute),
		MarketLimit: getIntOrDefault("MARKET_LIMIT", 0),

		// Order book defaults
		OrderbookMode:        getEnvOrDefault("ORDERBOOK_MODE", "ws"),
		HedgeOrderbookSource: getEnvOrDefault("HEDGE_ORDERBOOK_SOURCE", "ws"),
		StaleCalc:            getMillisOrDefault("STALE_CALC_MS", 10*time.Second),
		StaleUI:              getMillisOrDefault("STALE_UI_MS", 30*time.Second),
		WarmConcurrency:      getIntOrDefault("BOOK_WARM_CONCURRENCY", 8),

		// WebSocket defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),
		WSHealthCheck:           getMillisOrDefault("WS_HEALTH_CHECK_MS", 5*time.Second),
		WSDisconnectPause:       getMillisOrDefault("WS_DISCONNECT_PAUSE_MS", 15*time.Second),
		WSResumeDelay:           getMillisOrDefault("WS_RESUME_DELAY_MS", 3*time.Second),

		// Polling defaults
		PollInterval:     getMillisOrDefault("POLL_MS", 3*time.Second),
		OrderCacheStale:  getMillisOrDefault("CACHE_STALE_MS", 10*time.Second),
		FillPoll:         getMillisOrDefault("FILL_POLL_MS", 500*time.Millisecond),
		RateLimitBackoff: getMillisOrDefault("RATE_LIMIT_BACKOFF_MS", 10*time.Second),

		// Scanner defaults
		ScanThrottle:     getMillisOrDefault("SCAN_THROTTLE_MS", 50*time.Millisecond),
		ScanMinProfit:    getFloat64OrDefault("SCAN_MIN_PROFIT", 0.0),
		OpportunityTTL:   getMillisOrDefault("OPP_TTL_MS", 5*time.Minute),
		MatchResultCache: os.Getenv("MATCH_RESULT_CACHE"),

		// Executor defaults
		MinHedgeNotionalUSD:  getFloat64OrDefault("MIN_HEDGE_NOTIONAL_USD", 1.0),
		MinHedgeQtyShares:    getFloat64OrDefault("MIN_HEDGE_QTY_SHARES", 1.0),
		MaxPauseCount:        getIntOrDefault("MAX_PAUSE_COUNT", 5),
		MaxHedgeRetries:      getIntOrDefault("MAX_HEDGE_RETRIES", 3),
		HedgeRetryBase:       getMillisOrDefault("HEDGE_RETRY_BASE_MS", 500*time.Millisecond),
		HedgeRetryCap:        getMillisOrDefault("HEDGE_RETRY_CAP_MS", 2*time.Second),
		DepthGuardInterval:   getMillisOrDefault("DEPTH_GUARD_INTERVAL_MS", 1*time.Second),
		DepthGuardCooldown:   getMillisOrDefault("DEPTH_GUARD_COOLDOWN_MS", 10*time.Second),
		PriceGuardInterval:   getMillisOrDefault("PRICE_GUARD_INTERVAL_MS", 500*time.Millisecond),
		SubmitCheckInterval:  getMillisOrDefault("SUBMIT_CHECK_INTERVAL_MS", 1*time.Second),
		DelayedFillProbes:    getIntOrDefault("DELAYED_FILL_PROBES", 6),
		DelayedFillInterval:  getMillisOrDefault("DELAYED_FILL_INTERVAL_MS", 5*time.Second),
		ShutdownPauseTimeout: getMillisOrDefault("SHUTDOWN_PAUSE_TIMEOUT_MS", 60*time.Second),

		// Exposure defaults
		ExposureThreshold: getFloat64OrDefault("EXPOSURE_THRESHOLD", 10.0),
		ExposureCheck:     getMillisOrDefault("EXPOSURE_CHECK_MS", 30*time.Second),

		// Dashboard defaults
		DashboardFlush: getMillisOrDefault("DASHBOARD_FLUSH_MS", 200*time.Millisecond),
		DashboardBatch: getIntOrDefault("DASHBOARD_BATCH_SIZE", 50),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "crossarb"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "crossarb123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "crossarb"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.DashboardPort == "" {
		return fmt.Errorf("DASHBOARD_PORT cannot be empty")
	}

	if c.AccountName == "" {
		return fmt.Errorf("ACCOUNT_NAME cannot be empty")
	}

	if c.PredictRESTURL == "" {
		return fmt.Errorf("PREDICT_REST_URL cannot be empty")
	}

	if c.PolymarketRESTURL == "" {
		return fmt.Errorf("POLYMARKET_REST_URL cannot be empty")
	}

	if c.OrderbookMode != "ws" && c.OrderbookMode != "legacy" {
		return fmt.Errorf("ORDERBOOK_MODE must be 'ws' or 'legacy', got %q", c.OrderbookMode)
	}

	if c.HedgeOrderbookSource != "ws" && c.HedgeOrderbookSource != "rest" {
		return fmt.Errorf("HEDGE_ORDERBOOK_SOURCE must be 'ws' or 'rest', got %q", c.HedgeOrderbookSource)
	}

	if c.StaleCalc <= 0 {
		return fmt.Errorf("STALE_CALC_MS must be positive, got %s", c.StaleCalc)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_MS must be positive, got %s", c.PollInterval)
	}

	if c.MinHedgeNotionalUSD <= 0 {
		return fmt.Errorf("MIN_HEDGE_NOTIONAL_USD must be positive, got %f", c.MinHedgeNotionalUSD)
	}

	if c.MinHedgeQtyShares <= 0 {
		return fmt.Errorf("MIN_HEDGE_QTY_SHARES must be positive, got %f", c.MinHedgeQtyShares)
	}

	if c.MaxPauseCount < 1 {
		return fmt.Errorf("MAX_PAUSE_COUNT must be at least 1, got %d", c.MaxPauseCount)
	}

	if c.ExposureThreshold <= 0 {
		return fmt.Errorf("EXPOSURE_THRESHOLD must be positive, got %f", c.ExposureThreshold)
	}

	if c.StorageMode != "postgres" && c.StorageMode != "console" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'console', got %q", c.StorageMode)
	}

	if c.BSCWSURL != "" && c.ExchangeContract == "" {
		return fmt.Errorf("EXCHANGE_CONTRACT required when BSC_WS_URL is set")
	}

	if c.BSCWSURL != "" && c.WalletAddress == "" {
		return fmt.Errorf("WALLET_ADDRESS required when BSC_WS_URL is set")
	}

	if c.BalanceGuardMinUSD <= 0 {
		return fmt.Errorf("BALANCE_GUARD_MIN_USD must be positive, got %f", c.BalanceGuardMinUSD)
	}

	if c.BalanceGuardMultiplier <= 0 {
		return fmt.Errorf("BALANCE_GUARD_MULTIPLIER must be positive, got %f", c.BalanceGuardMultiplier)
	}

	if c.BalanceGuardHysteresis < 1.0 {
		return fmt.Errorf("BALANCE_GUARD_HYSTERESIS must be at least 1.0, got %f", c.BalanceGuardHysteresis)
	}

	if c.PairRefresh <= 0 {
		return fmt.Errorf("PAIR_REFRESH_MS must be positive, got %s", c.PairRefresh)
	}

	return nil
}

// TaskFilePath returns the account-scoped task snapshot location.
func (c *Config) TaskFilePath() string {
	return c.DataDir + "/" + c.AccountName + "/tasks.json"
}

// JournalDir returns the account-scoped per-task journal root.
func (c *Config) JournalDir() string {
	return c.DataDir + "/" + c.AccountName + "/logs/tasks"
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getMillisOrDefault reads an integer millisecond knob.
func getMillisOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return defaultValue
	}

	return time.Duration(ms) * time.Millisecond
}

// getListOrDefault reads a comma-separated list, trimming whitespace
// and dropping empty entries.
func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
