package config

import (
	"os"
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.CapitalPerTrade != 10 {
		t.Errorf("expected default CapitalPerTrade to be 10, got %f", cfg.CapitalPerTrade)
	}

	if cfg.MinProfitMargin != 0.02 {
		t.Errorf("expected default MinProfitMargin to be 0.02, got %f", cfg.MinProfitMargin)
	}

	if cfg.MinProfitDollars != 1.0 {
		t.Errorf("expected default MinProfitDollars to be 1.0, got %f", cfg.MinProfitDollars)
	}

	if cfg.Cooldown != 30*time.Second {
		t.Errorf("expected default Cooldown to be 30s, got %v", cfg.Cooldown)
	}

	if cfg.MaxConcurrentPositions != 10 {
		t.Errorf("expected default MaxConcurrentPositions to be 10, got %d", cfg.MaxConcurrentPositions)
	}

	if cfg.MaxSlippage != 0.005 {
		t.Errorf("expected default MaxSlippage to be 0.005, got %f", cfg.MaxSlippage)
	}

	if cfg.WSReconnectInitialDelay != 5*time.Second || cfg.WSReconnectMaxDelay != 60*time.Second {
		t.Errorf("expected reconnect delays 5s/60s, got %v/%v",
			cfg.WSReconnectInitialDelay, cfg.WSReconnectMaxDelay)
	}

	if len(cfg.EnabledPlatforms) != 1 || cfg.EnabledPlatforms[0] != "polymarket" {
		t.Errorf("expected default platforms [polymarket], got %v", cfg.EnabledPlatforms)
	}

	if cfg.CrossPlatformArbitrage {
		t.Error("expected CrossPlatformArbitrage to default to false")
	}
}

func TestConfig_PlatformList(t *testing.T) {
	t.Run("comma_separated_list_parsed", func(t *testing.T) {
		os.Setenv("ENABLED_PLATFORMS", "Polymarket, kalshi")
		os.Setenv("CROSS_PLATFORM_ARBITRAGE", "true")
		t.Cleanup(func() {
			os.Unsetenv("ENABLED_PLATFORMS")
			os.Unsetenv("CROSS_PLATFORM_ARBITRAGE")
		})

		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if len(cfg.EnabledPlatforms) != 2 {
			t.Fatalf("expected 2 platforms, got %v", cfg.EnabledPlatforms)
		}
		if cfg.EnabledPlatforms[0] != "polymarket" || cfg.EnabledPlatforms[1] != "kalshi" {
			t.Errorf("expected normalized [polymarket kalshi], got %v", cfg.EnabledPlatforms)
		}
		if !cfg.CrossPlatformArbitrage {
			t.Error("expected CrossPlatformArbitrage to be true")
		}
	})

	t.Run("unknown_platform_rejected", func(t *testing.T) {
		os.Setenv("ENABLED_PLATFORMS", "polymarket,nyse")
		t.Cleanup(func() {
			os.Unsetenv("ENABLED_PLATFORMS")
		})

		_, err := LoadFromEnv()
		if err == nil {
			t.Fatal("expected error for unknown platform, got nil")
		}
	})

	t.Run("cross_platform_requires_two_platforms", func(t *testing.T) {
		os.Setenv("ENABLED_PLATFORMS", "polymarket")
		os.Setenv("CROSS_PLATFORM_ARBITRAGE", "true")
		t.Cleanup(func() {
			os.Unsetenv("ENABLED_PLATFORMS")
			os.Unsetenv("CROSS_PLATFORM_ARBITRAGE")
		})

		_, err := LoadFromEnv()
		if err == nil {
			t.Fatal("expected error for cross-platform with single platform, got nil")
		}
	})
}

func TestConfig_CooldownSeconds(t *testing.T) {
	os.Setenv("COOLDOWN_SECONDS", "45")
	t.Cleanup(func() {
		os.Unsetenv("COOLDOWN_SECONDS")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.Cooldown != 45*time.Second {
		t.Errorf("expected Cooldown to be 45s, got %v", cfg.Cooldown)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:               "8080",
			EnabledPlatforms:       []string{"polymarket"},
			MinProfitMargin:        0.02,
			TradingFeePercent:      0.01,
			MaxSlippage:            0.005,
			CapitalPerTrade:        10,
			StopLoss:               0.05,
			TakeProfit:             0.10,
			MaxDailyLoss:           50,
			MaxConcurrentPositions: 10,
			MaxOrderBookDepth:      20,
			WSPoolSize:             2,
			ExecutionMode:          "paper",
			StorageMode:            "console",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid_config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "margin_zero_rejected",
			mutate:  func(c *Config) { c.MinProfitMargin = 0 },
			wantErr: true,
			errMsg:  "MIN_PROFIT_MARGIN must be between 0 and 1.0, got 0.000000",
		},
		{
			name:    "margin_one_rejected",
			mutate:  func(c *Config) { c.MinProfitMargin = 1.0 },
			wantErr: true,
		},
		{
			name:    "negative_slippage_rejected",
			mutate:  func(c *Config) { c.MaxSlippage = -0.001 },
			wantErr: true,
		},
		{
			name:    "zero_capital_rejected",
			mutate:  func(c *Config) { c.CapitalPerTrade = 0 },
			wantErr: true,
		},
		{
			name:    "zero_daily_loss_rejected",
			mutate:  func(c *Config) { c.MaxDailyLoss = 0 },
			wantErr: true,
		},
		{
			name:    "zero_positions_rejected",
			mutate:  func(c *Config) { c.MaxConcurrentPositions = 0 },
			wantErr: true,
			errMsg:  "MAX_CONCURRENT_POSITIONS must be at least 1, got 0",
		},
		{
			name:    "bad_execution_mode_rejected",
			mutate:  func(c *Config) { c.ExecutionMode = "yolo" },
			wantErr: true,
			errMsg:  `EXECUTION_MODE must be 'paper' or 'live', got "yolo"`,
		},
		{
			name:    "live_polymarket_requires_private_key",
			mutate:  func(c *Config) { c.ExecutionMode = "live" },
			wantErr: true,
			errMsg:  "POLYMARKET_PRIVATE_KEY is required for live execution on polymarket",
		},
		{
			name: "live_with_key_allowed",
			mutate: func(c *Config) {
				c.ExecutionMode = "live"
				c.PolymarketPrivateKey = "0xabc"
			},
			wantErr: false,
		},
		{
			name: "live_kalshi_requires_api_key",
			mutate: func(c *Config) {
				c.ExecutionMode = "live"
				c.EnabledPlatforms = []string{"kalshi"}
			},
			wantErr: true,
		},
		{
			name:    "bad_storage_mode_rejected",
			mutate:  func(c *Config) { c.StorageMode = "redis" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
