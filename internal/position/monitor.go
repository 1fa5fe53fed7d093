// Package position tracks open arbitrage positions, marks them against
// live best bids, and executes risk-driven exits by selling both legs
// into available depth.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/risk"
	"github.com/mselser95/prediction-arb/internal/storage"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// exitTick is the price grid exits probe along when lowering the limit.
var exitTick = decimal.NewFromFloat(0.01) //nolint:gochecknoglobals // constant

// LegSeller places exit sells. *execution.Executor satisfies it.
type LegSeller interface {
	SellIOC(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error)
}

// Config holds monitor configuration.
type Config struct {
	Books  *book.Manager
	Risk   *risk.Manager
	Seller LegSeller
	Sink   storage.Sink
	Hub    *events.Hub
	Logger *zap.Logger

	// PollInterval is the P&L tick cadence and the delay between exit
	// retries. Defaults to 1s.
	PollInterval time.Duration
	// ExitRetryWindow bounds how long one exit chases liquidity before
	// reporting the residual. Defaults to 30s.
	ExitRetryWindow time.Duration
	// MaxDepth bounds bid walks during exits.
	MaxDepth int
}

// Monitor owns the open-position book. The engine hands it filled entries,
// the poll loop marks them to market and feeds the risk manager, and the
// exit consumer turns risk signals into liquidating sells.
type Monitor struct {
	books  *book.Manager
	risk   *risk.Manager
	seller LegSeller
	sink   storage.Sink
	hub    *events.Hub
	logger *zap.Logger

	poll     time.Duration
	window   time.Duration
	maxDepth int

	mu        sync.Mutex
	positions map[string]*types.Position // by position ID
	byMarket  map[string]string          // market key -> position ID
	exiting   map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a position monitor.
func NewMonitor(cfg *Config) *Monitor {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	window := cfg.ExitRetryWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}

	return &Monitor{
		books:     cfg.Books,
		risk:      cfg.Risk,
		seller:    cfg.Seller,
		sink:      cfg.Sink,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
		poll:      poll,
		window:    window,
		maxDepth:  maxDepth,
		positions: make(map[string]*types.Position),
		byMarket:  make(map[string]string),
		exiting:   make(map[string]bool),
	}
}

// Start launches the valuation loop and the exit consumer.
func (m *Monitor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.run(runCtx)
	go m.consumeExits(runCtx)

	m.logger.Info("position-monitor-started",
		zap.Duration("poll", m.poll),
		zap.Duration("exit-window", m.window))
	return nil
}

// Close stops the loops and waits for in-flight exits.
func (m *Monitor) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return nil
}

// Track registers a filled entry. A fill on an already-open market
// augments the existing position with share-weighted average prices.
func (m *Monitor) Track(pos *types.Position) {
	m.mu.Lock()

	if id, ok := m.byMarket[pos.MarketKey]; ok {
		existing := m.positions[id]
		mergeInto(existing, pos)
		m.mu.Unlock()

		m.logger.Info("position-augmented",
			zap.String("position-id", existing.ID),
			zap.String("market-key", existing.MarketKey),
			zap.String("yes-shares", existing.YesShares.String()),
			zap.String("yes-avg", existing.YesAvgPrice.String()),
			zap.String("no-avg", existing.NoAvgPrice.String()))
		return
	}

	m.positions[pos.ID] = pos
	m.byMarket[pos.MarketKey] = pos.ID
	count := len(m.positions)
	m.mu.Unlock()

	OpenPositions.Set(float64(count))
	PositionsOpenedTotal.Inc()

	m.hub.Publish(events.Event{
		Type:      events.TypePositionOpened,
		Venue:     pos.YesVenue,
		MarketKey: pos.MarketKey,
		Payload:   pos,
		At:        time.Now(),
	})
	m.logger.Info("position-opened",
		zap.String("position-id", pos.ID),
		zap.String("market-key", pos.MarketKey),
		zap.String("shares", pos.YesShares.String()),
		zap.String("cost-basis", pos.CostBasis().StringFixed(4)))
}

// mergeInto folds an additional fill into an open position. Caller holds
// the monitor lock.
func mergeInto(existing, add *types.Position) {
	yesTotal := existing.YesShares.Add(add.YesShares)
	if yesTotal.IsPositive() {
		existing.YesAvgPrice = existing.YesShares.Mul(existing.YesAvgPrice).
			Add(add.YesShares.Mul(add.YesAvgPrice)).
			Div(yesTotal).Round(types.PricePrecision)
	}
	noTotal := existing.NoShares.Add(add.NoShares)
	if noTotal.IsPositive() {
		existing.NoAvgPrice = existing.NoShares.Mul(existing.NoAvgPrice).
			Add(add.NoShares.Mul(add.NoAvgPrice)).
			Div(noTotal).Round(types.PricePrecision)
	}
	existing.YesShares = yesTotal
	existing.NoShares = noTotal
	existing.EntryFees = existing.EntryFees.Add(add.EntryFees)
}

// Count returns the number of open positions.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// List returns snapshot copies of the open positions.
func (m *Monitor) List() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// RequestExit injects a manual exit signal for the position open on a
// market key.
func (m *Monitor) RequestExit(marketKey string) error {
	m.mu.Lock()
	id, ok := m.byMarket[marketKey]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no open position for %s", marketKey)
	}
	m.risk.RequestExit(id, marketKey)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pulse(time.Now())
		}
	}
}

// pulse marks every open position to market and forwards the ticks.
func (m *Monitor) pulse(now time.Time) {
	m.mu.Lock()
	open := make([]*types.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		open = append(open, pos)
	}
	m.mu.Unlock()

	total := 0.0
	for _, pos := range open {
		tick := m.value(pos, now)
		total += tick.Unrealized
		m.risk.Tick(tick)
		PnLTicksTotal.Inc()
	}
	UnrealizedPnLDollars.Set(total)
}

// value computes one position's unrealized P&L at current best bids:
// each leg marks bid minus entry, times shares held.
func (m *Monitor) value(pos *types.Position, now time.Time) risk.PnLTick {
	m.mu.Lock()
	yesShares, noShares := pos.YesShares, pos.NoShares
	yesAvg, noAvg := pos.YesAvgPrice, pos.NoAvgPrice
	basis := pos.CostBasis()
	m.mu.Unlock()

	yesMark := m.tokenValue(pos.YesVenue, pos.YesTokenID, yesAvg)
	noMark := m.tokenValue(pos.NoVenue, pos.NoTokenID, noAvg)

	unrealized := yesShares.Mul(yesMark.Sub(yesAvg)).
		Add(noShares.Mul(noMark.Sub(noAvg)))

	ratio := 0.0
	if basis.IsPositive() {
		ratio = unrealized.Div(basis).InexactFloat64()
	}

	return risk.PnLTick{
		PositionID: pos.ID,
		MarketKey:  pos.MarketKey,
		Ratio:      ratio,
		Unrealized: unrealized.InexactFloat64(),
		At:         now,
	}
}

// tokenValue returns the marketable price for one token: best bid, falling
// back to the best ask on an empty bid side, then to the entry price.
func (m *Monitor) tokenValue(venue types.Venue, tokenID string, entry decimal.Decimal) decimal.Decimal {
	bk, ok := m.books.Book(venue, tokenID)
	if !ok {
		return entry
	}
	if bid, ok := bk.Best(types.SideBid); ok {
		return bid.Price
	}
	if ask, ok := bk.Best(types.SideAsk); ok {
		return ask.Price
	}
	return entry
}

func (m *Monitor) consumeExits(ctx context.Context) {
	defer m.wg.Done()

	signals := m.risk.ExitSignals()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			m.wg.Add(1)
			go func(sig types.ExitSignal) {
				defer m.wg.Done()
				m.exit(ctx, sig)
			}(sig)
		}
	}
}

// exitLeg is one side of a liquidation.
type exitLeg struct {
	venue    types.Venue
	marketID string
	tokenID  string
	outcome  types.Outcome
	shares   decimal.Decimal
	avgPrice decimal.Decimal
}

// legResult accumulates what a leg's sells achieved.
type legResult struct {
	sold      decimal.Decimal
	remaining decimal.Decimal
	proceeds  decimal.Decimal
	fees      decimal.Decimal
	trades    []*types.Trade
}

// exit liquidates both legs of a position, retrying residuals at lower
// limits until the window closes.
func (m *Monitor) exit(ctx context.Context, sig types.ExitSignal) {
	m.mu.Lock()
	pos, ok := m.positions[sig.PositionID]
	if !ok || m.exiting[sig.PositionID] {
		m.mu.Unlock()
		if !ok {
			m.risk.Forget(sig.PositionID)
		}
		return
	}
	m.exiting[sig.PositionID] = true
	yesLeg := exitLeg{pos.YesVenue, pos.YesMarketID, pos.YesTokenID, types.OutcomeYes, pos.YesShares, pos.YesAvgPrice}
	noLeg := exitLeg{pos.NoVenue, pos.NoMarketID, pos.NoTokenID, types.OutcomeNo, pos.NoShares, pos.NoAvgPrice}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.exiting, sig.PositionID)
		m.mu.Unlock()
	}()

	ExitsTotal.WithLabelValues(string(sig.Reason)).Inc()
	timer := prometheus.NewTimer(ExitDurationSeconds)
	defer timer.ObserveDuration()

	m.logger.Info("position-exit-started",
		zap.String("position-id", sig.PositionID),
		zap.String("market-key", sig.MarketKey),
		zap.String("reason", string(sig.Reason)))

	dctx, cancel := context.WithTimeout(ctx, m.window)
	defer cancel()

	var yesOut, noOut legResult
	g, _ := errgroup.WithContext(dctx)
	g.Go(func() error {
		yesOut = m.sellLeg(dctx, &yesLeg)
		return nil
	})
	g.Go(func() error {
		noOut = m.sellLeg(dctx, &noLeg)
		return nil
	})
	_ = g.Wait()

	m.settleExit(ctx, pos, &yesLeg, &noLeg, &yesOut, &noOut)
}

// sellLeg sells one leg into available bids. Each attempt offers the
// residual at the worst inspected bid, probing one tick lower per retry.
func (m *Monitor) sellLeg(ctx context.Context, leg *exitLeg) legResult {
	out := legResult{
		sold:      decimal.Zero,
		remaining: leg.shares,
		proceeds:  decimal.Zero,
		fees:      decimal.Zero,
	}

	for attempt := 0; out.remaining.IsPositive(); attempt++ {
		if ctx.Err() != nil {
			break
		}

		limit, ok := m.exitLimit(leg, attempt)
		if !ok {
			if !sleepCtx(ctx, m.poll) {
				break
			}
			continue
		}

		res, err := m.seller.SellIOC(ctx, &types.OrderRequest{
			Venue:       leg.venue,
			MarketID:    leg.marketID,
			TokenID:     leg.tokenID,
			Outcome:     leg.outcome,
			Side:        types.SideSell,
			Price:       limit,
			Size:        out.remaining,
			TimeInForce: types.TIFImmediateOrCancel,
		})
		if err != nil {
			break
		}

		if res.Status == types.OrderFilled && res.Size.IsPositive() {
			out.sold = out.sold.Add(res.Size)
			out.remaining = out.remaining.Sub(res.Size)
			out.proceeds = out.proceeds.Add(res.Price.Mul(res.Size))
			out.fees = out.fees.Add(res.Fee)
			out.trades = append(out.trades, &types.Trade{
				Timestamp:    time.Now(),
				Venue:        leg.venue,
				MarketID:     leg.marketID,
				TokenID:      leg.tokenID,
				Outcome:      leg.outcome,
				Side:         types.SideSell,
				Price:        res.Price,
				Size:         res.Size,
				Fee:          res.Fee,
				VenueOrderID: res.VenueOrderID,
			})
			continue
		}

		if !sleepCtx(ctx, m.poll) {
			break
		}
	}

	return out
}

// exitLimit picks this attempt's sell limit from the visible bids.
func (m *Monitor) exitLimit(leg *exitLeg, attempt int) (decimal.Decimal, bool) {
	bk, ok := m.books.Book(leg.venue, leg.tokenID)
	if !ok {
		return decimal.Zero, false
	}

	bids := bk.Walk(types.SideBid, m.maxDepth)
	if len(bids) == 0 {
		return decimal.Zero, false
	}

	limit := bids[len(bids)-1].Price.Sub(exitTick.Mul(decimal.NewFromInt(int64(attempt))))
	if limit.LessThan(exitTick) {
		limit = exitTick
	}
	return limit, true
}

// settleExit records exit trades, realizes the P&L, and either closes the
// position or reports the residual.
func (m *Monitor) settleExit(ctx context.Context, pos *types.Position, yesLeg, noLeg *exitLeg, yesOut, noOut *legResult) {
	for _, trade := range yesOut.trades {
		m.record(ctx, trade)
	}
	for _, trade := range noOut.trades {
		m.record(ctx, trade)
	}

	basisSold := yesOut.sold.Mul(yesLeg.avgPrice).Add(noOut.sold.Mul(noLeg.avgPrice))
	realized := yesOut.proceeds.Add(noOut.proceeds).
		Sub(basisSold).
		Sub(yesOut.fees).Sub(noOut.fees)

	m.mu.Lock()
	pos.YesShares = yesOut.remaining
	pos.NoShares = noOut.remaining
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	closed := !pos.YesShares.IsPositive() && !pos.NoShares.IsPositive()
	if closed {
		delete(m.positions, pos.ID)
		delete(m.byMarket, pos.MarketKey)
	}
	count := len(m.positions)
	m.mu.Unlock()

	if !realized.IsZero() {
		m.risk.RecordRealized(pos.MarketKey, realized.InexactFloat64())
	}

	if closed {
		OpenPositions.Set(float64(count))
		PositionsClosedTotal.Inc()
		m.risk.Forget(pos.ID)
		m.hub.Publish(events.Event{
			Type:      events.TypePositionClosed,
			Venue:     pos.YesVenue,
			MarketKey: pos.MarketKey,
			Payload:   pos,
			At:        time.Now(),
		})
		m.logger.Info("position-closed",
			zap.String("position-id", pos.ID),
			zap.String("market-key", pos.MarketKey),
			zap.String("realized", realized.StringFixed(4)))
		return
	}

	ExitsIncompleteTotal.Inc()
	m.hub.Publish(events.Event{
		Type:      events.TypeExitIncomplete,
		Venue:     pos.YesVenue,
		MarketKey: pos.MarketKey,
		Payload:   pos,
		At:        time.Now(),
	})
	m.logger.Warn("exit-incomplete",
		zap.String("position-id", pos.ID),
		zap.String("market-key", pos.MarketKey),
		zap.String("yes-residual", yesOut.remaining.String()),
		zap.String("no-residual", noOut.remaining.String()))
}

func (m *Monitor) record(ctx context.Context, trade *types.Trade) {
	if err := m.sink.Record(ctx, trade); err != nil {
		m.logger.Error("exit-trade-record-failed",
			zap.String("venue-order-id", trade.VenueOrderID),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
