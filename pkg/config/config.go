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
	LogLevel string
	HTTPPort string

	// Venues
	EnabledPlatforms       []string
	CrossPlatformArbitrage bool

	// Polymarket API
	PolymarketWSURL      string
	PolymarketGammaURL   string
	PolymarketCLOBURL    string
	PolymarketAPIKey     string
	PolymarketSecret     string
	PolymarketPassphrase string
	PolymarketPrivateKey string
	// PolymarketProxyAddress funds orders from a proxy wallet instead of
	// the EOA derived from the private key.
	PolymarketProxyAddress  string
	PolymarketSignatureType int
	PolygonRPCURL           string

	// Kalshi API
	KalshiAPIURL    string
	KalshiWSURL     string
	KalshiAPIKey    string
	KalshiAPISecret string

	// Market discovery
	MarketRefreshInterval time.Duration
	MarketFetchLimit      int
	MinMarketVolume       float64
	MaxTokensMonitor      int

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int
	WSPoolSize              int

	// Detection
	DetectionInterval     time.Duration
	MinProfitMargin       float64
	MinProfitDollars      float64
	TradingFeePercent     float64
	MaxSlippage           float64
	MaxOrderBookDepth     int
	MinMarketQualityScore float64

	// Sizing
	CapitalPerTrade float64
	FallbackBalance float64
	BalanceCacheTTL time.Duration

	// Execution
	ExecutionMode   string // "paper" or "live"
	ExecutionWindow time.Duration
	Cooldown        time.Duration

	// Risk
	StopLoss               float64
	TakeProfit             float64
	MaxDailyLoss           float64
	MaxConcurrentPositions int

	// Position monitoring
	PositionPollInterval time.Duration
	ExitRetryWindow      time.Duration

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
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Venue defaults
		EnabledPlatforms:       getListOrDefault("ENABLED_PLATFORMS", []string{"polymarket"}),
		CrossPlatformArbitrage: getBoolOrDefault("CROSS_PLATFORM_ARBITRAGE", false),

		// Polymarket API defaults
		PolymarketWSURL:         getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolymarketGammaURL:      getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolymarketCLOBURL:       getEnvOrDefault("POLYMARKET_CLOB_API_URL", "https://clob.polymarket.com"),
		PolymarketAPIKey:        os.Getenv("POLYMARKET_API_KEY"),
		PolymarketSecret:        os.Getenv("POLYMARKET_SECRET"),
		PolymarketPassphrase:    os.Getenv("POLYMARKET_PASSPHRASE"),
		PolymarketPrivateKey:    os.Getenv("POLYMARKET_PRIVATE_KEY"),
		PolymarketProxyAddress:  os.Getenv("POLYMARKET_PROXY_ADDRESS"),
		PolymarketSignatureType: getIntOrDefault("POLYMARKET_SIGNATURE_TYPE", 0),
		PolygonRPCURL:           getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com"),

		// Kalshi API defaults
		KalshiAPIURL:    getEnvOrDefault("KALSHI_API_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiWSURL:     getEnvOrDefault("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		KalshiAPIKey:    os.Getenv("KALSHI_API_KEY"),
		KalshiAPISecret: os.Getenv("KALSHI_API_SECRET"),

		// Market discovery defaults
		MarketRefreshInterval: getDurationOrDefault("MARKET_REFRESH_INTERVAL", 5*time.Minute),
		MarketFetchLimit:      getIntOrDefault("MARKET_FETCH_LIMIT", 100),
		MinMarketVolume:       getFloat64OrDefault("MIN_MARKET_VOLUME", 5000),
		MaxTokensMonitor:      getIntOrDefault("MAX_TOKENS_MONITOR", 20),

		// WebSocket defaults; reconnect backs off 5s → 60s with full jitter
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 5*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 60*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),
		WSPoolSize:              getIntOrDefault("WS_POOL_SIZE", 2),

		// Detection defaults
		DetectionInterval:     getDurationOrDefault("DETECTION_INTERVAL", 250*time.Millisecond),
		MinProfitMargin:       getFloat64OrDefault("MIN_PROFIT_MARGIN", 0.02),
		MinProfitDollars:      getFloat64OrDefault("MIN_PROFIT_DOLLARS", 1.0),
		TradingFeePercent:     getFloat64OrDefault("TRADING_FEE_PERCENT", 0.01),
		MaxSlippage:           getFloat64OrDefault("MAX_SLIPPAGE", 0.005),
		MaxOrderBookDepth:     getIntOrDefault("MAX_ORDER_BOOK_DEPTH", 20),
		MinMarketQualityScore: getFloat64OrDefault("MIN_MARKET_QUALITY_SCORE", 50),

		// Sizing defaults
		CapitalPerTrade: getFloat64OrDefault("CAPITAL_PER_TRADE", 10),
		FallbackBalance: getFloat64OrDefault("FALLBACK_BALANCE", 1000),
		BalanceCacheTTL: getDurationOrDefault("BALANCE_CACHE_TTL", 30*time.Second),

		// Execution defaults
		ExecutionMode:   getEnvOrDefault("EXECUTION_MODE", "paper"),
		ExecutionWindow: getDurationOrDefault("EXECUTION_WINDOW", 20*time.Second),
		Cooldown:        time.Duration(getIntOrDefault("COOLDOWN_SECONDS", 30)) * time.Second,

		// Risk defaults
		StopLoss:               getFloat64OrDefault("STOP_LOSS", 0.05),
		TakeProfit:             getFloat64OrDefault("TAKE_PROFIT", 0.10),
		MaxDailyLoss:           getFloat64OrDefault("MAX_DAILY_LOSS", 50),
		MaxConcurrentPositions: getIntOrDefault("MAX_CONCURRENT_POSITIONS", 10),

		// Position monitoring defaults
		PositionPollInterval: getDurationOrDefault("POSITION_POLL_INTERVAL", 1*time.Second),
		ExitRetryWindow:      getDurationOrDefault("EXIT_RETRY_WINDOW", 30*time.Second),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "prediction"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "prediction123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "prediction_arb"),
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
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if len(c.EnabledPlatforms) == 0 {
		return fmt.Errorf("ENABLED_PLATFORMS cannot be empty")
	}

	for _, platform := range c.EnabledPlatforms {
		if platform != "polymarket" && platform != "kalshi" {
			return fmt.Errorf("ENABLED_PLATFORMS contains unknown platform %q", platform)
		}
	}

	if c.CrossPlatformArbitrage && len(c.EnabledPlatforms) < 2 {
		return fmt.Errorf("CROSS_PLATFORM_ARBITRAGE requires at least two platforms in ENABLED_PLATFORMS")
	}

	if c.MinProfitMargin <= 0 || c.MinProfitMargin >= 1.0 {
		return fmt.Errorf("MIN_PROFIT_MARGIN must be between 0 and 1.0, got %f", c.MinProfitMargin)
	}

	if c.TradingFeePercent < 0 || c.TradingFeePercent >= 1.0 {
		return fmt.Errorf("TRADING_FEE_PERCENT must be in [0, 1.0), got %f", c.TradingFeePercent)
	}

	if c.MaxSlippage < 0 {
		return fmt.Errorf("MAX_SLIPPAGE cannot be negative, got %f", c.MaxSlippage)
	}

	if c.CapitalPerTrade <= 0 {
		return fmt.Errorf("CAPITAL_PER_TRADE must be positive, got %f", c.CapitalPerTrade)
	}

	if c.StopLoss <= 0 || c.TakeProfit <= 0 {
		return fmt.Errorf("STOP_LOSS and TAKE_PROFIT must be positive, got %f and %f", c.StopLoss, c.TakeProfit)
	}

	if c.MaxDailyLoss <= 0 {
		return fmt.Errorf("MAX_DAILY_LOSS must be positive, got %f", c.MaxDailyLoss)
	}

	if c.MaxConcurrentPositions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_POSITIONS must be at least 1, got %d", c.MaxConcurrentPositions)
	}

	if c.MaxOrderBookDepth < 1 {
		return fmt.Errorf("MAX_ORDER_BOOK_DEPTH must be at least 1, got %d", c.MaxOrderBookDepth)
	}

	if c.WSPoolSize < 1 {
		return fmt.Errorf("WS_POOL_SIZE must be at least 1, got %d", c.WSPoolSize)
	}

	if c.WSPoolSize > 20 {
		return fmt.Errorf("WS_POOL_SIZE must not exceed 20, got %d", c.WSPoolSize)
	}

	if c.ExecutionMode != "paper" && c.ExecutionMode != "live" {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'live', got %q", c.ExecutionMode)
	}

	if c.ExecutionMode == "live" && c.platformEnabled("polymarket") && c.PolymarketPrivateKey == "" {
		return fmt.Errorf("POLYMARKET_PRIVATE_KEY is required for live execution on polymarket")
	}

	if c.ExecutionMode == "live" && c.platformEnabled("kalshi") && c.KalshiAPIKey == "" {
		return fmt.Errorf("KALSHI_API_KEY is required for live execution on kalshi")
	}

	if c.StorageMode != "postgres" && c.StorageMode != "console" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'console', got %q", c.StorageMode)
	}

	return nil
}

func (c *Config) platformEnabled(name string) bool {
	for _, platform := range c.EnabledPlatforms {
		if platform == name {
			return true
		}
	}
	return false
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

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
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

func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}

	if len(out) == 0 {
		return defaultValue
	}

	return out
}
