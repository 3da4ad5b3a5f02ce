package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.DashboardPort != "8080" {
		t.Errorf("expected default DashboardPort 8080, got %s", cfg.DashboardPort)
	}
	if cfg.AccountName != "default" {
		t.Errorf("expected default AccountName 'default', got %s", cfg.AccountName)
	}
	if cfg.StaleCalc != 10*time.Second {
		t.Errorf("expected default StaleCalc 10s, got %v", cfg.StaleCalc)
	}
	if cfg.StaleUI != 30*time.Second {
		t.Errorf("expected default StaleUI 30s, got %v", cfg.StaleUI)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("expected default PollInterval 3s, got %v", cfg.PollInterval)
	}
	if cfg.MinHedgeNotionalUSD != 1.0 {
		t.Errorf("expected default MinHedgeNotionalUSD 1.0, got %f", cfg.MinHedgeNotionalUSD)
	}
	if cfg.MaxPauseCount != 5 {
		t.Errorf("expected default MaxPauseCount 5, got %d", cfg.MaxPauseCount)
	}
	if cfg.ExposureThreshold != 10.0 {
		t.Errorf("expected default ExposureThreshold 10, got %f", cfg.ExposureThreshold)
	}
	if cfg.OrderbookMode != "ws" {
		t.Errorf("expected default OrderbookMode ws, got %s", cfg.OrderbookMode)
	}
	if cfg.ScanThrottle != 50*time.Millisecond {
		t.Errorf("expected default ScanThrottle 50ms, got %v", cfg.ScanThrottle)
	}
	if cfg.OpportunityTTL != 5*time.Minute {
		t.Errorf("expected default OpportunityTTL 5m, got %v", cfg.OpportunityTTL)
	}
	if cfg.PairRefresh != 5*time.Minute {
		t.Errorf("expected default PairRefresh 5m, got %v", cfg.PairRefresh)
	}
	if cfg.BalanceGuardMinUSD != 50.0 {
		t.Errorf("expected default BalanceGuardMinUSD 50, got %f", cfg.BalanceGuardMinUSD)
	}
	if cfg.BalanceGuardHysteresis != 1.5 {
		t.Errorf("expected default BalanceGuardHysteresis 1.5, got %f", cfg.BalanceGuardHysteresis)
	}
	if cfg.WalletPoll != 60*time.Second {
		t.Errorf("expected default WalletPoll 60s, got %v", cfg.WalletPoll)
	}
}

func TestLoadFromEnv_MillisecondKnobs(t *testing.T) {
	t.Run("stale_calc_override", func(t *testing.T) {
		os.Setenv("STALE_CALC_MS", "2500")
		t.Cleanup(func() {
			os.Unsetenv("STALE_CALC_MS")
		})

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if cfg.StaleCalc != 2500*time.Millisecond {
			t.Errorf("expected StaleCalc 2.5s, got %v", cfg.StaleCalc)
		}
	})

	t.Run("garbage_falls_back_to_default", func(t *testing.T) {
		os.Setenv("POLL_MS", "not-a-number")
		t.Cleanup(func() {
			os.Unsetenv("POLL_MS")
		})

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if cfg.PollInterval != 3*time.Second {
			t.Errorf("expected fallback PollInterval 3s, got %v", cfg.PollInterval)
		}
	})
}

func TestLoadFromEnv_KeyLists(t *testing.T) {
	t.Run("comma_list_trimmed", func(t *testing.T) {
		os.Setenv("PREDICT_KEYS_SCAN", "key-a, key-b ,key-c")
		t.Cleanup(func() {
			os.Unsetenv("PREDICT_KEYS_SCAN")
		})

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		want := []string{"key-a", "key-b", "key-c"}
		if len(cfg.PredictKeysScan) != len(want) {
			t.Fatalf("expected %d keys, got %d", len(want), len(cfg.PredictKeysScan))
		}
		for i, k := range want {
			if cfg.PredictKeysScan[i] != k {
				t.Errorf("key %d: expected %q, got %q", i, k, cfg.PredictKeysScan[i])
			}
		}
	})

	t.Run("empty_entries_dropped", func(t *testing.T) {
		os.Setenv("PREDICT_KEYS_TRADE", "only-key,,")
		t.Cleanup(func() {
			os.Unsetenv("PREDICT_KEYS_TRADE")
		})

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(cfg.PredictKeysTrade) != 1 || cfg.PredictKeysTrade[0] != "only-key" {
			t.Errorf("expected single key, got %v", cfg.PredictKeysTrade)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DashboardPort:          "8080",
			AccountName:            "default",
			PredictRESTURL:         "https://api.predict.fun",
			PolymarketRESTURL:      "https://clob.polymarket.com",
			OrderbookMode:          "ws",
			HedgeOrderbookSource:   "ws",
			StaleCalc:              10 * time.Second,
			PollInterval:           3 * time.Second,
			MinHedgeNotionalUSD:    1.0,
			MinHedgeQtyShares:      1.0,
			MaxPauseCount:          5,
			ExposureThreshold:      10.0,
			StorageMode:            "console",
			BalanceGuardMinUSD:     50.0,
			BalanceGuardMultiplier: 3.0,
			BalanceGuardHysteresis: 1.5,
			PairRefresh:            5 * time.Minute,
		}
	}

	t.Run("valid_config_passes", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("bad_orderbook_mode_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.OrderbookMode = "hybrid"

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error for bad orderbook mode, got nil")
		}

		expectedMsg := `ORDERBOOK_MODE must be 'ws' or 'legacy', got "hybrid"`
		if err.Error() != expectedMsg {
			t.Errorf("expected error %q, got %q", expectedMsg, err.Error())
		}
	})

	t.Run("bad_hedge_source_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.HedgeOrderbookSource = "cache"

		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for bad hedge source, got nil")
		}
	})

	t.Run("zero_pause_count_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.MaxPauseCount = 0

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error for zero pause count, got nil")
		}

		expectedMsg := "MAX_PAUSE_COUNT must be at least 1, got 0"
		if err.Error() != expectedMsg {
			t.Errorf("expected error %q, got %q", expectedMsg, err.Error())
		}
	})

	t.Run("negative_notional_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.MinHedgeNotionalUSD = -1

		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for negative notional, got nil")
		}
	})

	t.Run("chain_watcher_requires_contract", func(t *testing.T) {
		cfg := valid()
		cfg.BSCWSURL = "wss://bsc.example.com"

		err := cfg.Validate()
		if err == nil {
			t.Fatal("expected error when EXCHANGE_CONTRACT missing, got nil")
		}

		expectedMsg := "EXCHANGE_CONTRACT required when BSC_WS_URL is set"
		if err.Error() != expectedMsg {
			t.Errorf("expected error %q, got %q", expectedMsg, err.Error())
		}
	})

	t.Run("bad_storage_mode_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.StorageMode = "redis"

		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for bad storage mode, got nil")
		}
	})

	t.Run("guard_hysteresis_below_one_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.BalanceGuardHysteresis = 0.9

		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for hysteresis below 1.0, got nil")
		}
	})

	t.Run("zero_pair_refresh_rejected", func(t *testing.T) {
		cfg := valid()
		cfg.PairRefresh = 0

		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for zero pair refresh, got nil")
		}
	})
}

func TestConfig_Paths(t *testing.T) {
	cfg := &Config{DataDir: "data", AccountName: "acct-1"}

	if got := cfg.TaskFilePath(); got != "data/acct-1/tasks.json" {
		t.Errorf("expected data/acct-1/tasks.json, got %s", got)
	}
	if got := cfg.JournalDir(); got != "data/acct-1/logs/tasks" {
		t.Errorf("expected data/acct-1/logs/tasks, got %s", got)
	}
}
