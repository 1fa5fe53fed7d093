package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/arbitrage"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/capital"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/exchange/kalshi"
	"github.com/mselser95/prediction-arb/internal/exchange/polymarket"
	"github.com/mselser95/prediction-arb/internal/execution"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/position"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/internal/risk"
	"github.com/mselser95/prediction-arb/internal/score"
	"github.com/mselser95/prediction-arb/internal/storage"
	"github.com/mselser95/prediction-arb/pkg/cache"
	"github.com/mselser95/prediction-arb/pkg/config"
	"github.com/mselser95/prediction-arb/pkg/healthprobe"
	"github.com/mselser95/prediction-arb/pkg/httpserver"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()
	hub := events.NewHub(logger)
	limiter := ratelimit.New(&ratelimit.Config{Logger: logger})

	marketCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	clients, err := setupClients(cfg, logger, limiter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup venue clients: %w", err)
	}

	books := setupBooks(clients, hub, logger)

	scorer := score.New(&score.Config{
		Books:     books,
		Threshold: cfg.MinMarketQualityScore,
		Logger:    logger,
	})

	oppCache := arbitrage.NewCache(logger)

	sink, err := setupSink(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	riskManager := risk.New(&risk.Config{
		StopLoss:     cfg.StopLoss,
		TakeProfit:   cfg.TakeProfit,
		MaxDailyLoss: cfg.MaxDailyLoss,
		Hub:          hub,
		Logger:       logger,
	})

	mode, err := execution.ParseMode(cfg.ExecutionMode)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parse execution mode: %w", err)
	}

	executor := execution.New(&execution.Config{
		Mode:     mode,
		Clients:  clients,
		Books:    books,
		Limiter:  limiter,
		Hub:      hub,
		FeeRate:  cfg.TradingFeePercent,
		MaxDepth: cfg.MaxOrderBookDepth,
		Logger:   logger,
	})

	monitor := position.NewMonitor(&position.Config{
		Books:           books,
		Risk:            riskManager,
		Seller:          executor,
		Sink:            sink,
		Hub:             hub,
		Logger:          logger,
		PollInterval:    cfg.PositionPollInterval,
		ExitRetryWindow: cfg.ExitRetryWindow,
		MaxDepth:        cfg.MaxOrderBookDepth,
	})

	engine := setupEngine(cfg, logger, &engineDeps{
		detector:  setupDetector(cfg, logger, books),
		oppCache:  oppCache,
		scorer:    scorer,
		books:     books,
		allocator: capital.New(&capital.Config{CapitalPerTrade: cfg.CapitalPerTrade, MaxDailyLoss: cfg.MaxDailyLoss, Logger: logger}),
		balances:  setupBalances(cfg, logger, clients),
		risk:      riskManager,
		executor:  executor,
		monitor:   monitor,
		sink:      sink,
		hub:       hub,
	})

	matcher := match.New(&match.Config{Logger: logger})

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Opportunities: oppCache,
		Positions:     monitor,
		Books:         books,
	})

	return &App{
		cfg:             cfg,
		opts:            opts,
		logger:          logger,
		healthChecker:   healthChecker,
		httpServer:      httpServer,
		hub:             hub,
		limiter:         limiter,
		clients:         clients,
		books:           books,
		scorer:          scorer,
		matcher:         matcher,
		marketCache:     marketCache,
		oppCache:        oppCache,
		riskManager:     riskManager,
		monitor:         monitor,
		executor:        executor,
		engine:          engine,
		sink:            sink,
		monitoredTokens: make(map[types.Venue]map[string]bool),
		ctx:             ctx,
		cancel:          cancel,
	}, nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max items (1000 markets)
		MaxCost:     1000,  // Maximum 1000 items in cache
		BufferItems: 64,    // Buffer size for Get operations
		Logger:      logger,
	})
}

// NewVenueClients builds one adapter per enabled platform. The inspection
// subcommands use it to talk to venues without assembling the full App.
func NewVenueClients(cfg *config.Config, logger *zap.Logger, limiter *ratelimit.Limiter) (*exchange.Registry, error) {
	return setupClients(cfg, logger, limiter)
}

func setupClients(cfg *config.Config, logger *zap.Logger, limiter *ratelimit.Limiter) (*exchange.Registry, error) {
	clients := make([]exchange.Client, 0, len(cfg.EnabledPlatforms))

	for _, platform := range cfg.EnabledPlatforms {
		switch platform {
		case "polymarket":
			client, err := polymarket.New(&polymarket.Config{
				GammaURL:                cfg.PolymarketGammaURL,
				CLOBURL:                 cfg.PolymarketCLOBURL,
				WSURL:                   cfg.PolymarketWSURL,
				APIKey:                  cfg.PolymarketAPIKey,
				Secret:                  cfg.PolymarketSecret,
				Passphrase:              cfg.PolymarketPassphrase,
				PrivateKey:              cfg.PolymarketPrivateKey,
				ProxyAddress:            cfg.PolymarketProxyAddress,
				SignatureType:           cfg.PolymarketSignatureType,
				PolygonRPCURL:           cfg.PolygonRPCURL,
				MarketFetchLimit:        cfg.MarketFetchLimit,
				WSPoolSize:              cfg.WSPoolSize,
				WSDialTimeout:           cfg.WSDialTimeout,
				WSPongTimeout:           cfg.WSPongTimeout,
				WSPingInterval:          cfg.WSPingInterval,
				WSReconnectInitialDelay: cfg.WSReconnectInitialDelay,
				WSReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
				WSReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
				WSMessageBufferSize:     cfg.WSMessageBufferSize,
				Limiter:                 limiter,
				Logger:                  logger,
			})
			if err != nil {
				return nil, fmt.Errorf("create polymarket client: %w", err)
			}
			clients = append(clients, client)

		case "kalshi":
			client, err := kalshi.New(&kalshi.Config{
				BaseURL:                 cfg.KalshiAPIURL,
				WSURL:                   cfg.KalshiWSURL,
				APIKeyID:                cfg.KalshiAPIKey,
				PrivateKeyPEM:           cfg.KalshiAPISecret,
				MarketFetchLimit:        cfg.MarketFetchLimit,
				WSPoolSize:              cfg.WSPoolSize,
				WSDialTimeout:           cfg.WSDialTimeout,
				WSPongTimeout:           cfg.WSPongTimeout,
				WSPingInterval:          cfg.WSPingInterval,
				WSReconnectInitialDelay: cfg.WSReconnectInitialDelay,
				WSReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
				WSReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
				WSMessageBufferSize:     cfg.WSMessageBufferSize,
				Limiter:                 limiter,
				Logger:                  logger,
			})
			if err != nil {
				return nil, fmt.Errorf("create kalshi client: %w", err)
			}
			clients = append(clients, client)

		default:
			return nil, fmt.Errorf("unknown platform %q", platform)
		}
	}

	return exchange.NewRegistry(clients...), nil
}

func setupBooks(clients *exchange.Registry, hub *events.Hub, logger *zap.Logger) *book.Manager {
	books := book.NewManager(&book.Config{
		Requester: func(ctx context.Context, venue types.Venue, tokenID string) {
			client, ok := clients.Client(venue)
			if !ok {
				return
			}
			if err := client.RequestSnapshot(ctx, tokenID); err != nil {
				logger.Warn("recovery-snapshot-failed",
					zap.String("venue", string(venue)),
					zap.String("token-id", tokenID),
					zap.Error(err))
			}
		},
		Hub:    hub,
		Logger: logger,
	})

	for _, client := range clients.All() {
		books.AddSource(client.Updates())
	}

	return books
}

func setupSink(cfg *config.Config, logger *zap.Logger) (storage.Sink, error) {
	if cfg.StorageMode == "postgres" {
		sink, err := storage.NewPostgresSink(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres sink: %w", err)
		}
		return sink, nil
	}

	return storage.NewConsoleSink(logger), nil
}

func setupDetector(cfg *config.Config, logger *zap.Logger, books *book.Manager) *arbitrage.Detector {
	return arbitrage.NewDetector(&arbitrage.DetectorConfig{
		Books:      books,
		FeeRate:    decimal.NewFromFloat(cfg.TradingFeePercent),
		MinMargin:  decimal.NewFromFloat(cfg.MinProfitMargin),
		MinDollars: decimal.NewFromFloat(cfg.MinProfitDollars),
		MaxDepth:   cfg.MaxOrderBookDepth,
		Logger:     logger,
	})
}

func setupBalances(cfg *config.Config, logger *zap.Logger, clients *exchange.Registry) map[types.Venue]*capital.BalanceManager {
	balances := make(map[types.Venue]*capital.BalanceManager, len(clients.Venues()))
	for _, client := range clients.All() {
		balances[client.Venue()] = capital.NewBalanceManager(&capital.BalanceConfig{
			Venue:    client.Venue(),
			Fetch:    client.Balance,
			TTL:      cfg.BalanceCacheTTL,
			Fallback: decimal.NewFromFloat(cfg.FallbackBalance),
			Logger:   logger,
		})
	}
	return balances
}

type engineDeps struct {
	detector  *arbitrage.Detector
	oppCache  *arbitrage.Cache
	scorer    *score.Scorer
	books     *book.Manager
	allocator *capital.Allocator
	balances  map[types.Venue]*capital.BalanceManager
	risk      *risk.Manager
	executor  *execution.Executor
	monitor   *position.Monitor
	sink      storage.Sink
	hub       *events.Hub
}

func setupEngine(cfg *config.Config, logger *zap.Logger, deps *engineDeps) *arbitrage.Engine {
	return arbitrage.New(&arbitrage.Config{
		Detector:               deps.detector,
		Cache:                  deps.oppCache,
		Scorer:                 deps.scorer,
		Books:                  deps.books,
		Allocator:              deps.allocator,
		Balances:               deps.balances,
		Risk:                   deps.risk,
		Cooldown:               execution.NewCooldown(cfg.Cooldown),
		Locks:                  execution.NewLockSet(),
		Executor:               deps.executor,
		Positions:              deps.monitor,
		Sink:                   deps.sink,
		Hub:                    deps.hub,
		Logger:                 logger,
		DetectionInterval:      cfg.DetectionInterval,
		ExecutionWindow:        cfg.ExecutionWindow,
		MaxSlippage:            cfg.MaxSlippage,
		MaxConcurrentPositions: cfg.MaxConcurrentPositions,
		MinProfitDollars:       decimal.NewFromFloat(cfg.MinProfitDollars),
	})
}
