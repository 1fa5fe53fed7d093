// Package arbitrage detects and trades binary-outcome arbitrage: whenever
// YES and NO for the same question can be bought for less than the dollar
// they jointly redeem, after fees and a safety margin, the engine sizes the
// pair against book depth and hands a ticket to the executor.
package arbitrage

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/capital"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/execution"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/risk"
	"github.com/mselser95/prediction-arb/internal/score"
	"github.com/mselser95/prediction-arb/internal/storage"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// Engine gate rejection reasons.
const (
	ReasonHalted       = "halted"
	ReasonCooldown     = "cooldown"
	ReasonScore        = "score"
	ReasonMaxPositions = "max-positions"
	ReasonBalance      = "balance"
	ReasonAllocation   = "allocation"
	ReasonSlippage     = "slippage"
)

// tickSize is the venue price grid for limit orders.
var tickSize = decimal.NewFromFloat(0.01) //nolint:gochecknoglobals // constant

// Executor places a sized ticket. *execution.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, ticket *execution.Ticket) (*execution.Result, error)
}

// PositionBook tracks open positions. *position.Monitor satisfies it.
type PositionBook interface {
	Count() int
	Track(pos *types.Position)
}

// Config holds engine configuration.
type Config struct {
	Detector  *Detector
	Cache     *Cache
	Scorer    *score.Scorer
	Books     *book.Manager
	Allocator *capital.Allocator
	Balances  map[types.Venue]*capital.BalanceManager
	Risk      *risk.Manager
	Cooldown  *execution.Cooldown
	Locks     *execution.LockSet
	Executor  Executor
	Positions PositionBook
	Sink      storage.Sink
	Hub       *events.Hub
	Logger    *zap.Logger

	// DetectionInterval is the sweep cadence. Defaults to 250ms.
	DetectionInterval time.Duration
	// ExecutionWindow bounds one evaluation end to end. Defaults to 20s.
	ExecutionWindow time.Duration
	// MaxSlippage is the tolerated per-leg move between detection and the
	// pre-trade recheck, as a fraction of the detected price.
	MaxSlippage float64
	// MaxConcurrentPositions gates new entries and sizes the worker pool.
	MaxConcurrentPositions int
	// MinProfitDollars is re-applied after allocation caps the size.
	MinProfitDollars decimal.Decimal
	// Workers overrides the worker pool size when positive.
	Workers int
}

// Engine runs the detection sweep and the trade pipeline: rank, detect,
// gate, allocate, recheck, execute.
type Engine struct {
	detector  *Detector
	cache     *Cache
	scorer    *score.Scorer
	books     *book.Manager
	allocator *capital.Allocator
	balances  map[types.Venue]*capital.BalanceManager
	risk      *risk.Manager
	cooldown  *execution.Cooldown
	locks     *execution.LockSet
	executor  Executor
	positions PositionBook
	sink      storage.Sink
	hub       *events.Hub
	logger    *zap.Logger

	interval     time.Duration
	window       time.Duration
	maxSlippage  float64
	maxPositions int
	minDollars   decimal.Decimal

	sem     *semaphore.Weighted
	nowFunc func() time.Time

	mu      sync.RWMutex
	markets []*types.UnifiedMarket
	pairs   []match.Pair

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new engine.
func New(cfg *Config) *Engine {
	interval := cfg.DetectionInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	window := cfg.ExecutionWindow
	if window <= 0 {
		window = 20 * time.Second
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = cfg.MaxConcurrentPositions
		if cpus := runtime.NumCPU(); cpus < workers {
			workers = cpus
		}
	}
	if workers < 1 {
		workers = 1
	}

	return &Engine{
		detector:     cfg.Detector,
		cache:        cfg.Cache,
		scorer:       cfg.Scorer,
		books:        cfg.Books,
		allocator:    cfg.Allocator,
		balances:     cfg.Balances,
		risk:         cfg.Risk,
		cooldown:     cfg.Cooldown,
		locks:        cfg.Locks,
		executor:     cfg.Executor,
		positions:    cfg.Positions,
		sink:         cfg.Sink,
		hub:          cfg.Hub,
		logger:       cfg.Logger,
		interval:     interval,
		window:       window,
		maxSlippage:  cfg.MaxSlippage,
		maxPositions: cfg.MaxConcurrentPositions,
		minDollars:   cfg.MinProfitDollars,
		sem:          semaphore.NewWeighted(int64(workers)),
		nowFunc:      time.Now,
	}
}

// SetUniverse replaces the monitored markets and cross-platform pairs.
// Called by the market refresher after each listing cycle.
func (e *Engine) SetUniverse(markets []*types.UnifiedMarket, pairs []match.Pair) {
	e.mu.Lock()
	e.markets = markets
	e.pairs = pairs
	e.mu.Unlock()

	e.logger.Info("universe-updated",
		zap.Int("markets", len(markets)),
		zap.Int("pairs", len(pairs)))
}

// Start launches the detection loop.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.run(runCtx)

	e.logger.Info("arbitrage-engine-started",
		zap.Duration("interval", e.interval),
		zap.Duration("window", e.window))
	return nil
}

// Close stops the loop and waits for in-flight evaluations.
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("arbitrage-engine-stopped")
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// sweep ranks the universe and dispatches one evaluation per target onto
// the worker pool. Saturated workers skip targets; the next tick retries.
func (e *Engine) sweep(ctx context.Context) {
	timer := prometheus.NewTimer(SweepDurationSeconds)
	defer timer.ObserveDuration()

	for _, target := range e.targets(e.now()) {
		if ctx.Err() != nil {
			return
		}
		if !e.sem.TryAcquire(1) {
			continue
		}

		target := target
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.sem.Release(1)
			e.evaluate(ctx, target)
		}()
	}
}

// targets builds the sweep's work list: every tradeable market plus every
// matched pair whose sides both rank. A pair carries the lower of its two
// scores.
func (e *Engine) targets(now time.Time) []*Target {
	e.mu.RLock()
	markets := e.markets
	pairs := e.pairs
	e.mu.RUnlock()

	ranked := e.scorer.Rank(markets, now)
	scores := make(map[string]float64, len(ranked))
	targets := make([]*Target, 0, len(ranked)+len(pairs))

	for i := range ranked {
		scores[ranked[i].Market.Key()] = ranked[i].Score.Total
		targets = append(targets, MarketTarget(ranked[i].Market, ranked[i].Score.Total))
	}

	for i := range pairs {
		pair := &pairs[i]
		scoreA, okA := scores[pair.A.Key()]
		scoreB, okB := scores[pair.B.Key()]
		if !okA || !okB {
			continue
		}
		targets = append(targets, PairTarget(pair.Key(), pair.A, pair.B, math.Min(scoreA, scoreB)))
	}

	return targets
}

// evaluate runs one target through detection and, when everything lines up,
// the trade pipeline. The market lock is held for the whole critical
// section so concurrent sweeps cannot double-trade a market.
func (e *Engine) evaluate(ctx context.Context, target *Target) {
	if !e.locks.TryAcquire(target.Key) {
		return
	}
	defer e.locks.Release(target.Key)

	ectx, cancel := context.WithTimeout(ctx, e.window)
	defer cancel()

	opp, _ := e.detector.Detect(target, e.now())
	if opp == nil {
		return
	}

	if e.cache.Insert(opp) {
		e.publish(events.TypeOpportunityDetected, opp.PairKey, opp)
	}

	EvaluationsTotal.Inc()

	if reason := e.gate(ectx, opp); reason != "" {
		OpportunitiesRejectedTotal.WithLabelValues(reason).Inc()
		e.logger.Debug("opportunity-gated",
			zap.String("pair", opp.PairKey),
			zap.String("reason", reason))
		return
	}

	e.trade(ectx, opp)
}

// gate applies the pre-trade checks that reject without dispatching orders.
// No cooldown is recorded on a gate rejection.
func (e *Engine) gate(ctx context.Context, opp *Opportunity) string {
	if e.risk.Halted() {
		return ReasonHalted
	}
	if !e.cooldown.CanTrade(opp.PairKey, e.now()) {
		return ReasonCooldown
	}
	if opp.Score < e.scorer.Threshold() {
		return ReasonScore
	}
	if e.positions.Count() >= e.maxPositions {
		return ReasonMaxPositions
	}
	if e.available(ctx, opp).LessThan(opp.PairCost()) {
		return ReasonBalance
	}
	return ""
}

// trade sizes, rechecks, and executes one opportunity.
func (e *Engine) trade(ctx context.Context, opp *Opportunity) {
	now := e.now()

	alloc := e.allocator.Allocate(&capital.Request{
		ROI:               opp.ROI,
		Score:             opp.Score,
		EffectiveCost:     opp.PairCost(),
		TopOfBookNotional: opp.TopOfBookNotional,
	}, e.available(ctx, opp), e.risk.DailyPnL(), now)

	shares := decimal.Min(opp.Shares, alloc.Shares)
	if !shares.IsPositive() {
		OpportunitiesRejectedTotal.WithLabelValues(ReasonAllocation).Inc()
		return
	}

	// Books may have moved since detection. Reprice at the capped size and
	// abort on any per-leg move beyond tolerance; a failed reprice is the
	// same signal.
	sizing, reason := e.detector.Resize(opp, shares)
	if sizing == nil ||
		exceedsSlippage(opp.YesPrice, sizing.YesPrice, e.maxSlippage) ||
		exceedsSlippage(opp.NoPrice, sizing.NoPrice, e.maxSlippage) {
		OpportunitiesRejectedTotal.WithLabelValues(ReasonSlippage).Inc()
		e.cooldown.Record(opp.PairKey, e.now())
		e.publish(events.TypeSlippageExceeded, opp.PairKey, opp)
		e.logger.Warn("slippage-abort",
			zap.String("pair", opp.PairKey),
			zap.String("reason", reason))
		return
	}

	// The capped size may no longer clear the dollar floor even though the
	// detected size did. Nothing was dispatched, so no cooldown.
	if sizing.NetProfit.LessThan(e.minDollars) {
		OpportunitiesRejectedTotal.WithLabelValues(ReasonBelowMinProfit).Inc()
		e.publish(events.TypeBelowMinProfit, opp.PairKey, opp)
		e.logger.Debug("below-min-profit",
			zap.String("pair", opp.PairKey),
			zap.String("net_profit", sizing.NetProfit.StringFixed(4)))
		return
	}

	ticket := buildTicket(opp, sizing)
	result, err := e.executor.Execute(ctx, ticket)
	if err != nil {
		// Nothing was dispatched (rate limiter or shutdown), so the market
		// stays immediately retryable.
		e.logger.Error("execution-error",
			zap.String("pair", opp.PairKey),
			zap.Error(err))
		return
	}

	e.cooldown.Record(opp.PairKey, e.now())
	e.settle(ctx, opp, ticket, result)
}

// settle persists trades and propagates the attempt's outcome.
func (e *Engine) settle(ctx context.Context, opp *Opportunity, ticket *execution.Ticket, result *execution.Result) {
	for _, trade := range result.Trades {
		if err := e.sink.Record(ctx, trade); err != nil {
			e.logger.Error("trade-record-failed",
				zap.String("venue_order_id", trade.VenueOrderID),
				zap.Error(err))
		}
	}

	if !result.Realized.IsZero() {
		e.risk.RecordRealized(opp.PairKey, result.Realized.InexactFloat64())
	}

	if result.Status == execution.StatusFilled {
		if pos := buildPosition(opp, ticket, result, e.now()); pos != nil {
			e.positions.Track(pos)
		}
	}

	// The depth this opportunity priced was just consumed or invalidated,
	// and the fills changed the venue balances.
	e.cache.Remove(opp.PairKey)
	if len(result.Trades) > 0 {
		if mgr, ok := e.balances[opp.Yes.Venue]; ok {
			mgr.Invalidate()
		}
		if opp.No.Venue != opp.Yes.Venue {
			if mgr, ok := e.balances[opp.No.Venue]; ok {
				mgr.Invalidate()
			}
		}
	}

	e.logger.Info("execution-settled",
		zap.String("pair", opp.PairKey),
		zap.String("status", string(result.Status)),
		zap.String("realized", result.Realized.StringFixed(4)))
}

// PurgeStale drops cached opportunities whose books went missing, paused,
// or quiet beyond the horizon. The app janitor calls this periodically.
func (e *Engine) PurgeStale(horizon time.Duration) int {
	return e.cache.Purge(func(o *Opportunity) bool {
		return !e.legReady(o.Yes, horizon) || !e.legReady(o.No, horizon)
	})
}

func (e *Engine) legReady(leg Leg, horizon time.Duration) bool {
	bk, ok := e.books.Book(leg.Venue, leg.TokenID)
	return ok && bk.Ready(horizon)
}

// available returns the spendable balance for an opportunity: the venue
// balance, or the smaller of the two for cross-platform legs.
func (e *Engine) available(ctx context.Context, opp *Opportunity) decimal.Decimal {
	yes := e.venueBalance(ctx, opp.Yes.Venue)
	if opp.No.Venue == opp.Yes.Venue {
		return yes
	}
	return decimal.Min(yes, e.venueBalance(ctx, opp.No.Venue))
}

func (e *Engine) venueBalance(ctx context.Context, venue types.Venue) decimal.Decimal {
	mgr, ok := e.balances[venue]
	if !ok {
		return decimal.Zero
	}
	return mgr.Balance(ctx)
}

func (e *Engine) publish(kind events.Type, pairKey string, opp *Opportunity) {
	e.hub.Publish(events.Event{
		Type:      kind,
		Venue:     opp.Yes.Venue,
		MarketKey: pairKey,
		Payload:   opp,
		At:        e.now(),
	})
}

func (e *Engine) now() time.Time {
	return e.nowFunc()
}

// buildTicket turns a repriced opportunity into an executable ticket.
// Limit prices sit one tick above the effective price so marginal book
// moves do not reject the FOK.
func buildTicket(opp *Opportunity, sizing *Sizing) *execution.Ticket {
	return &execution.Ticket{
		PairKey:  opp.PairKey,
		Question: opp.Question,
		Yes: execution.Leg{
			Venue:      opp.Yes.Venue,
			MarketID:   opp.Yes.MarketID,
			TokenID:    opp.Yes.TokenID,
			Outcome:    types.OutcomeYes,
			LimitPrice: limitPrice(sizing.YesPrice),
			Shares:     sizing.Shares,
		},
		No: execution.Leg{
			Venue:      opp.No.Venue,
			MarketID:   opp.No.MarketID,
			TokenID:    opp.No.TokenID,
			Outcome:    types.OutcomeNo,
			LimitPrice: limitPrice(sizing.NoPrice),
			Shares:     sizing.Shares,
		},
		ExpectedCost: sizing.GrossCost,
		NetProfit:    sizing.NetProfit,
	}
}

// limitPrice rounds an effective price up to the next tick; a price already
// on the grid still moves up one tick.
func limitPrice(effective decimal.Decimal) decimal.Decimal {
	limit := types.CeilToTick(effective, tickSize)
	if limit.Equal(effective) {
		limit = limit.Add(tickSize)
	}
	return limit
}

// exceedsSlippage reports whether the repriced leg moved beyond tolerance
// relative to the detected price.
func exceedsSlippage(detected, repriced decimal.Decimal, max float64) bool {
	if !detected.IsPositive() {
		return true
	}
	move := repriced.Sub(detected).Abs().Div(detected).InexactFloat64()
	return move > max
}

// buildPosition assembles the tracked position from a filled ticket.
func buildPosition(opp *Opportunity, ticket *execution.Ticket, result *execution.Result, now time.Time) *types.Position {
	var yes, no *types.Trade
	for _, trade := range result.Trades {
		if trade.Side != types.SideBuy {
			continue
		}
		switch trade.Outcome {
		case types.OutcomeYes:
			yes = trade
		case types.OutcomeNo:
			no = trade
		}
	}
	if yes == nil || no == nil {
		return nil
	}

	return &types.Position{
		ID:          uuid.New().String(),
		MarketKey:   opp.PairKey,
		Question:    opp.Question,
		YesVenue:    ticket.Yes.Venue,
		NoVenue:     ticket.No.Venue,
		YesMarketID: ticket.Yes.MarketID,
		NoMarketID:  ticket.No.MarketID,
		YesTokenID:  ticket.Yes.TokenID,
		NoTokenID:   ticket.No.TokenID,
		YesShares:   yes.Size,
		NoShares:    no.Size,
		YesAvgPrice: yes.Price,
		NoAvgPrice:  no.Price,
		EntryFees:   yes.Fee.Add(no.Fee),
		OpenedAt:    now,
	}
}
