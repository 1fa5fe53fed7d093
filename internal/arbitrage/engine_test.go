package arbitrage

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/capital"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/execution"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/internal/risk"
	"github.com/mselser95/prediction-arb/internal/score"
	"github.com/mselser95/prediction-arb/internal/testutil"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// noonUTC pins the allocator's time-of-day multiplier at 1.0.
var noonUTC = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type scriptedExecutor struct {
	mu      sync.Mutex
	tickets []*execution.Ticket
	result  *execution.Result
	err     error
}

func (s *scriptedExecutor) Execute(_ context.Context, ticket *execution.Ticket) (*execution.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets = append(s.tickets, ticket)
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &execution.Result{Status: execution.StatusRejected, Realized: decimal.Zero}, nil
}

func (s *scriptedExecutor) calls() []*execution.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*execution.Ticket, len(s.tickets))
	copy(out, s.tickets)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	trades []*types.Trade
}

func (r *recordingSink) Record(_ context.Context, trade *types.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, trade)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) recorded() []*types.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

type fakePositions struct {
	mu        sync.Mutex
	tracked   []*types.Position
	preopened int
}

func (f *fakePositions) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preopened + len(f.tracked)
}

func (f *fakePositions) Track(pos *types.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, pos)
}

func (f *fakePositions) all() []*types.Position {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*types.Position, len(f.tracked))
	copy(out, f.tracked)
	return out
}

type engineParams struct {
	feeRate         string
	minMargin       string
	minDollars      string
	capitalPerTrade float64
	maxSlippage     float64
	balance         string
	executor        Executor // nil wires a real paper executor
}

type engineFixture struct {
	engine    *Engine
	detector  *Detector
	cache     *Cache
	books     *book.Manager
	cooldown  *execution.Cooldown
	locks     *execution.LockSet
	risk      *risk.Manager
	hub       *events.Hub
	sink      *recordingSink
	positions *fakePositions
}

func newEngineFixture(t *testing.T, p engineParams) *engineFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := events.NewHub(logger)
	books := book.NewManager(&book.Config{Logger: logger})

	detector := NewDetector(&DetectorConfig{
		Books:      books,
		FeeRate:    d(p.feeRate),
		MinMargin:  d(p.minMargin),
		MinDollars: d(p.minDollars),
		Logger:     logger,
	})
	cache := NewCache(logger)
	scorer := score.New(&score.Config{Books: books, Threshold: 60, Logger: logger})
	allocator := capital.New(&capital.Config{
		CapitalPerTrade: p.capitalPerTrade,
		MaxDailyLoss:    300,
		Logger:          logger,
	})

	balanceFn := func(context.Context) (decimal.Decimal, error) { return d(p.balance), nil }
	balances := map[types.Venue]*capital.BalanceManager{
		types.VenuePolymarket: capital.NewBalanceManager(&capital.BalanceConfig{
			Venue: types.VenuePolymarket, Fetch: balanceFn, Logger: logger,
		}),
		types.VenueKalshi: capital.NewBalanceManager(&capital.BalanceConfig{
			Venue: types.VenueKalshi, Fetch: balanceFn, Logger: logger,
		}),
	}

	riskMgr := risk.New(&risk.Config{
		StopLoss:     0.05,
		TakeProfit:   0.10,
		MaxDailyLoss: 300,
		Hub:          hub,
		Logger:       logger,
	})
	require.NoError(t, riskMgr.Start(context.Background()))
	t.Cleanup(func() { _ = riskMgr.Close() })

	executor := p.executor
	if executor == nil {
		executor = execution.New(&execution.Config{
			Mode:    execution.ModePaper,
			Clients: exchange.NewRegistry(),
			Books:   books,
			Limiter: ratelimit.New(&ratelimit.Config{Logger: logger}),
			Hub:     hub,
			FeeRate: d(p.feeRate).InexactFloat64(),
			Logger:  logger,
		})
	}

	cooldown := execution.NewCooldown(30 * time.Second)
	locks := execution.NewLockSet()
	sink := &recordingSink{}
	positions := &fakePositions{}

	engine := New(&Config{
		Detector:               detector,
		Cache:                  cache,
		Scorer:                 scorer,
		Books:                  books,
		Allocator:              allocator,
		Balances:               balances,
		Risk:                   riskMgr,
		Cooldown:               cooldown,
		Locks:                  locks,
		Executor:               executor,
		Positions:              positions,
		Sink:                   sink,
		Hub:                    hub,
		Logger:                 logger,
		DetectionInterval:      50 * time.Millisecond,
		MaxSlippage:            p.maxSlippage,
		MaxConcurrentPositions: 5,
		MinProfitDollars:       d(p.minDollars),
		Workers:                2,
	})
	engine.nowFunc = func() time.Time { return noonUTC }

	return &engineFixture{
		engine:    engine,
		detector:  detector,
		cache:     cache,
		books:     books,
		cooldown:  cooldown,
		locks:     locks,
		risk:      riskMgr,
		hub:       hub,
		sink:      sink,
		positions: positions,
	}
}

func waitEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestEngineTradesDetectedOpportunity(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 10,
		maxSlippage:     0.05,
		balance:         "1000",
	})

	market := testutil.Market(types.VenuePolymarket, "m1", "Will it settle above the strike?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.38, 100), testutil.Levels(0.40, 50, 0.42, 100))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.43, 100), testutil.Levels(0.45, 50, 0.47, 100))

	detected := fx.hub.Subscribe(4, events.TypeOpportunityDetected)
	executed := fx.hub.Subscribe(4, events.TypeTradeExecuted)

	fx.engine.evaluate(context.Background(), MarketTarget(market, 75))

	evt := waitEvent(t, detected)
	assert.Equal(t, "polymarket:m1", evt.MarketKey)
	waitEvent(t, executed)

	// Allocation caps the 150-share detection at $30 of pair cost.
	trades := fx.sink.recorded()
	require.Len(t, trades, 2)
	for _, trade := range trades {
		assert.Equal(t, types.SideBuy, trade.Side)
		assert.True(t, trade.Size.Equal(d("34")), "size = %s", trade.Size)
	}

	positions := fx.positions.all()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, "polymarket:m1", pos.MarketKey)
	assert.True(t, pos.YesShares.Equal(d("34")), "yes shares = %s", pos.YesShares)
	assert.True(t, pos.NoShares.Equal(pos.YesShares), "legs hold %s vs %s", pos.YesShares, pos.NoShares)
	assert.True(t, pos.YesAvgPrice.Equal(d("0.40")), "yes price = %s", pos.YesAvgPrice)
	assert.True(t, pos.NoAvgPrice.Equal(d("0.45")), "no price = %s", pos.NoAvgPrice)
	assert.True(t, pos.EntryFees.Equal(d("0.1445")), "entry fees = %s", pos.EntryFees)

	assert.False(t, fx.cooldown.CanTrade("polymarket:m1", noonUTC),
		"market should be cooling down after the attempt")

	require.Eventually(t, func() bool {
		return math.Abs(fx.risk.DailyPnL()-4.9555) < 1e-9
	}, 2*time.Second, 10*time.Millisecond, "realized profit should reach the risk manager")

	assert.Equal(t, 0, fx.cache.Len(), "consumed opportunity should leave the cache")
}

func TestEngineBelowMinProfitAfterAllocationCap(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.01",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 5,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        executor,
	})

	// $2.03 at the full 100 shares, but a $5 base budget only affords 7
	// pairs: $0.14 of profit, under the floor.
	market := testutil.Market(types.VenuePolymarket, "m1", "Will the index close above 5000?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.46, 50), testutil.Levels(0.48, 100))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.47, 50), testutil.Levels(0.49, 100))

	belowMin := fx.hub.Subscribe(4, events.TypeBelowMinProfit)

	fx.engine.evaluate(context.Background(), MarketTarget(market, 75))

	evt := waitEvent(t, belowMin)
	assert.Equal(t, "polymarket:m1", evt.MarketKey)

	assert.Empty(t, executor.calls(), "no orders should be dispatched")
	assert.True(t, fx.cooldown.CanTrade("polymarket:m1", noonUTC),
		"no cooldown without dispatched orders")
	assert.Empty(t, fx.sink.recorded())
	assert.Empty(t, fx.positions.all())
	assert.Equal(t, 1, fx.cache.Len(), "detection should still be cached")
}

func TestEngineSlippageAbortRecordsCooldown(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        executor,
	})

	market := testutil.Market(types.VenuePolymarket, "m1", "Will it settle above the strike?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.45, 50))

	opp, reason := fx.detector.Detect(MarketTarget(market, 75), noonUTC)
	require.NotNil(t, opp, "reject reason: %s", reason)

	// YES moves 10% against the trade between detection and execution.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.44, 50))

	slipped := fx.hub.Subscribe(4, events.TypeSlippageExceeded)

	fx.engine.trade(context.Background(), opp)

	evt := waitEvent(t, slipped)
	assert.Equal(t, "polymarket:m1", evt.MarketKey)

	assert.Empty(t, executor.calls(), "aborted trade must not reach the executor")
	assert.False(t, fx.cooldown.CanTrade("polymarket:m1", noonUTC),
		"slippage abort should cool the market down")
}

func TestEngineHaltBlocksTrading(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        executor,
	})

	market := testutil.Market(types.VenuePolymarket, "m1", "Will it settle above the strike?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.45, 50))

	fx.risk.RecordRealized("polymarket:other", -400)
	require.Eventually(t, fx.risk.Halted, 2*time.Second, 10*time.Millisecond)

	fx.engine.evaluate(context.Background(), MarketTarget(market, 75))

	assert.Empty(t, executor.calls(), "halted engine must not trade")
	assert.True(t, fx.cooldown.CanTrade("polymarket:m1", noonUTC))
	assert.Equal(t, 1, fx.cache.Len(), "detection continues while halted")
}

func TestEngineLockedMarketSkipsEvaluation(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        executor,
	})

	market := testutil.Market(types.VenuePolymarket, "m1", "Will it settle above the strike?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.45, 50))

	require.True(t, fx.locks.TryAcquire("polymarket:m1"))
	defer fx.locks.Release("polymarket:m1")

	fx.engine.evaluate(context.Background(), MarketTarget(market, 75))

	assert.Empty(t, executor.calls())
	assert.Equal(t, 0, fx.cache.Len(), "locked market should not even be detected")
}

func TestEngineMaxPositionsGate(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        executor,
	})
	fx.positions.preopened = 5

	market := testutil.Market(types.VenuePolymarket, "m1", "Will it settle above the strike?")
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.45, 50))

	fx.engine.evaluate(context.Background(), MarketTarget(market, 75))

	assert.Empty(t, executor.calls())
	assert.True(t, fx.cooldown.CanTrade("polymarket:m1", noonUTC))
}

func TestEngineCrossVenueTicket(t *testing.T) {
	t.Parallel()

	executor := &scriptedExecutor{}
	fx := newEngineFixture(t, engineParams{
		feeRate:         "0",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 1000,
		maxSlippage:     0.05,
		balance:         "10000",
		executor:        executor,
	})

	poly := testutil.Market(types.VenuePolymarket, "m1", "Will the champion repeat?")
	kalshi := testutil.Market(types.VenueKalshi, "K1", "Will the champion repeat?")

	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.52, 100))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.50, 100))
	testutil.SeedBook(t, fx.books, types.VenueKalshi, "K1-yes",
		nil, testutil.Levels(0.45, 100))
	testutil.SeedBook(t, fx.books, types.VenueKalshi, "K1-no",
		nil, testutil.Levels(0.46, 100))

	target := PairTarget("kalshi:K1|polymarket:m1", poly, kalshi, 70)
	fx.engine.evaluate(context.Background(), target)

	calls := executor.calls()
	require.Len(t, calls, 1)
	ticket := calls[0]

	assert.Equal(t, "kalshi:K1|polymarket:m1", ticket.PairKey)
	assert.Equal(t, types.VenueKalshi, ticket.Yes.Venue)
	assert.Equal(t, "K1-yes", ticket.Yes.TokenID)
	assert.Equal(t, types.VenuePolymarket, ticket.No.Venue)
	assert.Equal(t, "m1-no", ticket.No.TokenID)
	assert.True(t, ticket.Yes.Shares.Equal(d("100")), "shares = %s", ticket.Yes.Shares)
	assert.True(t, ticket.Yes.LimitPrice.Equal(d("0.46")), "yes limit = %s", ticket.Yes.LimitPrice)
	assert.True(t, ticket.No.LimitPrice.Equal(d("0.51")), "no limit = %s", ticket.No.LimitPrice)

	assert.False(t, fx.cooldown.CanTrade("kalshi:K1|polymarket:m1", noonUTC),
		"attempt should cool the pair down")
}

func TestEngineTargets(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        &scriptedExecutor{},
	})

	poly := testutil.Market(types.VenuePolymarket, "m1", "Will the nominee win?")
	unscored := testutil.Market(types.VenuePolymarket, "m2", "Will the sequel outgross it?")
	kalshi := testutil.Market(types.VenueKalshi, "K1", "Will the nominee win?")

	// Deep fresh books on m1 and K1; m2 has none and ranks out.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.46, 3000), testutil.Levels(0.48, 3000))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.47, 3000), testutil.Levels(0.49, 3000))
	testutil.SeedBook(t, fx.books, types.VenueKalshi, "K1-yes",
		testutil.Levels(0.45, 500), testutil.Levels(0.47, 500))
	testutil.SeedBook(t, fx.books, types.VenueKalshi, "K1-no",
		testutil.Levels(0.48, 500), testutil.Levels(0.50, 500))

	fx.engine.SetUniverse(
		[]*types.UnifiedMarket{poly, unscored, kalshi},
		[]match.Pair{{A: poly, B: kalshi, Similarity: 0.92}},
	)

	// Fixture end dates sit 48h from the wall clock, so rank against it.
	targets := fx.engine.targets(time.Now())

	byKey := make(map[string]*Target, len(targets))
	for _, target := range targets {
		byKey[target.Key] = target
	}

	require.Contains(t, byKey, "polymarket:m1")
	require.Contains(t, byKey, "kalshi:K1")
	require.Contains(t, byKey, "kalshi:K1|polymarket:m1")
	assert.NotContains(t, byKey, "polymarket:m2", "bookless market should rank out")

	pairTarget := byKey["kalshi:K1|polymarket:m1"]
	require.Len(t, pairTarget.Pairs, 2, "cross-platform target should carry both orientations")

	expected := math.Min(byKey["polymarket:m1"].Score, byKey["kalshi:K1"].Score)
	assert.Equal(t, expected, pairTarget.Score, "pair score should be the weaker side")
}

func TestEnginePurgeStale(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        &scriptedExecutor{},
	})

	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		nil, testutil.Levels(0.45, 50))

	live := &Opportunity{
		ID:      "live",
		PairKey: "polymarket:m1",
		Yes:     Leg{Venue: types.VenuePolymarket, TokenID: "m1-yes"},
		No:      Leg{Venue: types.VenuePolymarket, TokenID: "m1-no"},
		ROI:     0.02, DetectedAt: time.Now(),
	}
	orphan := &Opportunity{
		ID:      "orphan",
		PairKey: "polymarket:gone",
		Yes:     Leg{Venue: types.VenuePolymarket, TokenID: "gone-yes"},
		No:      Leg{Venue: types.VenuePolymarket, TokenID: "gone-no"},
		ROI:     0.03, DetectedAt: time.Now(),
	}
	require.True(t, fx.cache.Insert(live))
	require.True(t, fx.cache.Insert(orphan))

	dropped := fx.engine.PurgeStale(10 * time.Second)
	assert.Equal(t, 1, dropped)
	_, ok := fx.cache.Get("polymarket:m1")
	assert.True(t, ok, "opportunity with live books should survive")
	_, ok = fx.cache.Get("polymarket:gone")
	assert.False(t, ok, "opportunity without books should be purged")
}

func TestEngineStartClose(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, engineParams{
		feeRate:         "0.005",
		minMargin:       "0.02",
		minDollars:      "1",
		capitalPerTrade: 100,
		maxSlippage:     0.05,
		balance:         "1000",
		executor:        &scriptedExecutor{},
	})

	require.NoError(t, fx.engine.Start(context.Background()))
	fx.engine.SetUniverse(nil, nil)
	time.Sleep(120 * time.Millisecond) // at least one sweep over the empty universe
	require.NoError(t, fx.engine.Close())
}
