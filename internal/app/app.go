// Package app wires the trading core together: venue clients feed the book
// manager, the engine sweeps for arbitrage, and the position monitor guards
// open inventory. The App owns component lifecycle and shutdown ordering.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/arbitrage"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/exchange"
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

// App is the main application orchestrator.
type App struct {
	cfg    *config.Config
	opts   *Options
	logger *zap.Logger

	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	hub           *events.Hub
	limiter       *ratelimit.Limiter
	clients       *exchange.Registry
	books         *book.Manager
	scorer        *score.Scorer
	matcher       *match.Matcher
	marketCache   cache.Cache
	oppCache      *arbitrage.Cache
	riskManager   *risk.Manager
	monitor       *position.Monitor
	executor      *execution.Executor
	engine        *arbitrage.Engine
	sink          storage.Sink

	// monitoredTokens is the live subscription set per venue. Only the
	// market refresh loop touches it.
	monitoredTokens map[types.Venue]map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// SingleMarket restricts monitoring to one market ID, for debugging.
	SingleMarket string
}
