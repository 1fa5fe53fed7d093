// Package execution places the two legs of an arbitrage trade and cleans
// up after partial fills. It also owns the per-market execution locks and
// the post-attempt cooldown used by the engine's critical section.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/impact"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects between simulated and real order placement.
type Mode string

const (
	// ModePaper fills orders from the local book at the effective price.
	ModePaper Mode = "paper"
	// ModeLive routes orders to the venue adapters.
	ModeLive Mode = "live"
)

// ParseMode validates an execution mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, ModeLive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// Leg is one side of the trade: a BUY of YES or NO on a specific venue.
type Leg struct {
	Venue      types.Venue
	MarketID   string
	TokenID    string
	Outcome    types.Outcome
	LimitPrice decimal.Decimal // effective price ceiled one tick
	Shares     decimal.Decimal
}

// Ticket is a fully sized trade handed over by the engine after all gates
// and the slippage recheck passed.
type Ticket struct {
	PairKey      string
	Question     string
	Yes          Leg
	No           Leg
	ExpectedCost decimal.Decimal // gross cost of both legs at detected prices
	NetProfit    decimal.Decimal // expected locked-in profit after fees
}

// Status is the terminal state of one execution attempt.
type Status string

const (
	// StatusFilled means both legs filled and a position was locked in.
	StatusFilled Status = "filled"
	// StatusUnwound means one leg filled and was sold back defensively.
	StatusUnwound Status = "unwound"
	// StatusRejected means neither leg filled.
	StatusRejected Status = "rejected"
)

// Result reports what an attempt did. Trades holds every executed leg in
// order (buys first, then the unwind sell if any). Realized is the P&L
// effect to feed the risk manager: the locked-in profit on a full fill,
// the round-trip loss on an unwind, zero on rejection.
type Result struct {
	Status   Status
	Trades   []*types.Trade
	Realized decimal.Decimal
	Reason   string
}

// Config holds executor configuration.
type Config struct {
	Mode    Mode
	Clients *exchange.Registry
	Books   *book.Manager
	Limiter *ratelimit.Limiter
	Hub     *events.Hub
	// FeeRate is the per-side taker fee applied to notional.
	FeeRate float64
	// MaxDepth bounds the bid walk when unwinding a partial fill.
	MaxDepth int
	// OrderTimeout bounds the parallel leg placement. Defaults to the
	// venue order timeout.
	OrderTimeout time.Duration
	Logger       *zap.Logger
}

// Executor dispatches both legs of a ticket and reconciles the outcome.
type Executor struct {
	mode         Mode
	clients      *exchange.Registry
	books        *book.Manager
	limiter      *ratelimit.Limiter
	hub          *events.Hub
	feeRate      decimal.Decimal
	maxDepth     int
	orderTimeout time.Duration
	logger       *zap.Logger
}

// New creates a new executor.
func New(cfg *Config) *Executor {
	timeout := cfg.OrderTimeout
	if timeout <= 0 {
		timeout = exchange.OrderTimeout
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}

	return &Executor{
		mode:         cfg.Mode,
		clients:      cfg.Clients,
		books:        cfg.Books,
		limiter:      cfg.Limiter,
		hub:          cfg.Hub,
		feeRate:      decimal.NewFromFloat(cfg.FeeRate),
		maxDepth:     maxDepth,
		orderTimeout: timeout,
		logger:       cfg.Logger,
	}
}

// Execute places both BUY legs as fill-or-kill orders in parallel and
// reconciles the fills. The caller holds the market's execution lock and
// records the cooldown; Execute never blocks past the order timeout except
// on the rate limiter, which treats order slots as critical priority.
func (e *Executor) Execute(ctx context.Context, ticket *Ticket) (*Result, error) {
	start := time.Now()
	defer func() {
		ExecutionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	// Two order slots up front. Critical priority blocks rather than
	// dropping, so a saturated window delays the attempt instead of
	// splitting the legs across windows.
	if err := e.limiter.Acquire(ctx, ticket.Yes.Venue, ratelimit.ClassOrders, ratelimit.PriorityCritical); err != nil {
		return nil, err
	}
	if err := e.limiter.Acquire(ctx, ticket.No.Venue, ratelimit.ClassOrders, ratelimit.PriorityCritical); err != nil {
		return nil, err
	}

	// In-flight FOK orders are awaited to completion even when the parent
	// context is canceled mid-flight; only the order timeout bounds them.
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.orderTimeout)
	defer cancel()

	var yesRes, noRes *types.OrderResult

	g, _ := errgroup.WithContext(octx)
	g.Go(func() error {
		yesRes = e.placeLeg(octx, &ticket.Yes)
		return nil
	})
	g.Go(func() error {
		noRes = e.placeLeg(octx, &ticket.No)
		return nil
	})
	_ = g.Wait()

	return e.reconcile(octx, ticket, yesRes, noRes), nil
}

// SellIOC places a single immediate-or-cancel sell through the same
// paper/live routing as entry legs. Position exits and manual closes use
// it; partial fills are expected and reported in the result size.
func (e *Executor) SellIOC(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	if err := e.limiter.Acquire(ctx, req.Venue, ratelimit.ClassOrders, ratelimit.PriorityCritical); err != nil {
		return nil, err
	}

	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.orderTimeout)
	defer cancel()

	req.Side = types.SideSell
	req.TimeInForce = types.TIFImmediateOrCancel
	if req.ClientID == "" {
		req.ClientID = uuid.New().String()
	}

	res := e.submit(octx, req)
	if res.Filled() {
		TradesTotal.WithLabelValues(string(e.mode), string(req.Outcome)).Inc()
	}
	return res, nil
}

// placeLeg submits one BUY leg and normalizes every failure into a
// terminal OrderResult so reconciliation only deals in statuses.
func (e *Executor) placeLeg(ctx context.Context, leg *Leg) *types.OrderResult {
	req := &types.OrderRequest{
		Venue:       leg.Venue,
		MarketID:    leg.MarketID,
		TokenID:     leg.TokenID,
		Outcome:     leg.Outcome,
		Side:        types.SideBuy,
		Price:       leg.LimitPrice,
		Size:        leg.Shares,
		TimeInForce: types.TIFFillOrKill,
		ClientID:    uuid.New().String(),
	}

	res := e.submit(ctx, req)
	if res.Filled() {
		TradesTotal.WithLabelValues(string(e.mode), string(leg.Outcome)).Inc()
	}
	return res
}

// submit routes a request to the paper simulator or the venue client.
func (e *Executor) submit(ctx context.Context, req *types.OrderRequest) *types.OrderResult {
	if e.mode == ModePaper {
		return e.paperFill(req)
	}

	client, ok := e.clients.Client(req.Venue)
	if !ok {
		return &types.OrderResult{Status: types.OrderRejected, Reason: "venue not configured"}
	}

	res, err := client.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Warn("order-placement-failed",
			zap.String("venue", string(req.Venue)),
			zap.String("token-id", req.TokenID),
			zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			return &types.OrderResult{Status: types.OrderTimeout, Reason: err.Error()}
		}
		return &types.OrderResult{Status: types.OrderRejected, Reason: err.Error()}
	}
	return res
}

// paperFill simulates venue fill semantics against the local book. FOK
// buys fill fully at the effective ask or not at all; IOC sells fill
// whatever bid depth exists at or above the limit.
func (e *Executor) paperFill(req *types.OrderRequest) *types.OrderResult {
	bk, ok := e.books.Book(req.Venue, req.TokenID)
	if !ok {
		return &types.OrderResult{Status: types.OrderRejected, Reason: "no book"}
	}

	side := types.SideAsk
	if req.Side == types.SideSell {
		side = types.SideBid
	}

	levels := crossable(bk.Walk(side, e.maxDepth), req.Price, req.Side)
	swept := impact.EffectivePrice(levels, req.Size)

	if req.TimeInForce == types.TIFFillOrKill && swept.DepthExhausted {
		return &types.OrderResult{Status: types.OrderRejected, Reason: "insufficient depth at limit"}
	}
	if !swept.Shares.IsPositive() {
		return &types.OrderResult{Status: types.OrderRejected, Reason: "no crossable depth"}
	}

	return &types.OrderResult{
		Status:       types.OrderFilled,
		VenueOrderID: "paper-" + uuid.New().String(),
		Price:        swept.EffectivePrice,
		Size:         swept.Shares,
		Fee:          e.feeRate.Mul(swept.Cost).Round(types.PricePrecision),
	}
}

// crossable keeps the levels an order with the given limit may trade
// against: asks at or under the limit for buys, bids at or over for sells.
func crossable(levels []types.PriceLevel, limit decimal.Decimal, side types.Side) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if side == types.SideBuy && level.Price.GreaterThan(limit) {
			break
		}
		if side == types.SideSell && level.Price.LessThan(limit) {
			break
		}
		out = append(out, level)
	}
	return out
}

// reconcile turns the two leg results into a terminal attempt outcome.
func (e *Executor) reconcile(ctx context.Context, ticket *Ticket, yesRes, noRes *types.OrderResult) *Result {
	now := time.Now()

	switch {
	case yesRes.Filled() && noRes.Filled():
		yesTrade := legTrade(&ticket.Yes, yesRes, now)
		noTrade := legTrade(&ticket.No, noRes, now)

		// Locked-in value at resolution is one dollar per pair; realize
		// it against the actual fill prices and fees.
		cost := yesRes.Price.Add(noRes.Price).Mul(ticket.Yes.Shares)
		realized := ticket.Yes.Shares.Sub(cost).Sub(yesRes.Fee).Sub(noRes.Fee)

		ExecutionsTotal.WithLabelValues(string(StatusFilled)).Inc()
		RealizedPnL.WithLabelValues(string(e.mode)).Add(realized.InexactFloat64())

		result := &Result{
			Status:   StatusFilled,
			Trades:   []*types.Trade{yesTrade, noTrade},
			Realized: realized,
		}
		e.publish(events.TypeTradeExecuted, ticket, result)
		e.logger.Info("trade-executed",
			zap.String("pair-key", ticket.PairKey),
			zap.String("mode", string(e.mode)),
			zap.String("shares", ticket.Yes.Shares.String()),
			zap.String("yes-price", yesRes.Price.String()),
			zap.String("no-price", noRes.Price.String()),
			zap.String("realized", realized.String()))
		return result

	case yesRes.Filled() != noRes.Filled():
		filledLeg, filledRes := &ticket.Yes, yesRes
		deadRes := noRes
		if noRes.Filled() {
			filledLeg, filledRes = &ticket.No, noRes
			deadRes = yesRes
		}

		result := e.unwind(ctx, ticket, filledLeg, filledRes)
		result.Reason = deadRes.Reason

		ExecutionsTotal.WithLabelValues(string(StatusUnwound)).Inc()
		RealizedPnL.WithLabelValues(string(e.mode)).Add(result.Realized.InexactFloat64())

		e.publish(events.TypePartialFillUnwound, ticket, result)
		e.logger.Warn("partial-fill-unwound",
			zap.String("pair-key", ticket.PairKey),
			zap.String("filled-outcome", string(filledLeg.Outcome)),
			zap.String("realized", result.Realized.String()),
			zap.String("dead-leg-reason", deadRes.Reason))
		return result

	default:
		ExecutionsTotal.WithLabelValues(string(StatusRejected)).Inc()

		result := &Result{
			Status: StatusRejected,
			Reason: firstReason(yesRes.Reason, noRes.Reason),
		}
		e.publish(events.TypeFillRejected, ticket, result)
		e.logger.Info("fill-rejected",
			zap.String("pair-key", ticket.PairKey),
			zap.String("yes-status", string(yesRes.Status)),
			zap.String("no-status", string(noRes.Status)),
			zap.String("reason", result.Reason))
		return result
	}
}

// unwind sells a filled leg back into the bids immediately. Partial exits
// are acceptable here, so the sell goes out immediate-or-cancel sized to
// the available depth.
func (e *Executor) unwind(ctx context.Context, ticket *Ticket, leg *Leg, fill *types.OrderResult) *Result {
	entryCost := fill.Price.Mul(fill.Size).Add(fill.Fee)
	buyTrade := legTrade(leg, fill, time.Now())

	bids := e.bidDepth(leg)
	if len(bids) == 0 {
		// Nothing to sell into. Mark the stranded leg a full loss so risk
		// accounting cannot understate the day.
		return &Result{
			Status:   StatusUnwound,
			Trades:   []*types.Trade{buyTrade},
			Realized: entryCost.Neg(),
		}
	}

	size := depthTotal(bids)
	if fill.Size.LessThan(size) {
		size = fill.Size
	}

	req := &types.OrderRequest{
		Venue:       leg.Venue,
		MarketID:    leg.MarketID,
		TokenID:     leg.TokenID,
		Outcome:     leg.Outcome,
		Side:        types.SideSell,
		Price:       bids[len(bids)-1].Price, // sweep every inspected level
		Size:        size,
		TimeInForce: types.TIFImmediateOrCancel,
		ClientID:    uuid.New().String(),
	}

	sellRes := e.submit(ctx, req)
	if !sellRes.Filled() {
		return &Result{
			Status:   StatusUnwound,
			Trades:   []*types.Trade{buyTrade},
			Realized: entryCost.Neg(),
			Reason:   sellRes.Reason,
		}
	}

	TradesTotal.WithLabelValues(string(e.mode), "unwind").Inc()

	sellTrade := legTrade(leg, sellRes, time.Now())
	sellTrade.Side = types.SideSell

	proceeds := sellRes.Price.Mul(sellRes.Size).Sub(sellRes.Fee)
	unsold := fill.Size.Sub(sellRes.Size)
	realized := proceeds.Sub(entryCost)
	if unsold.IsPositive() {
		// Residual shares that found no bids stay marked to zero.
		e.logger.Warn("unwind-residual-unsold",
			zap.String("token-id", leg.TokenID),
			zap.String("unsold", unsold.String()))
	}

	return &Result{
		Status:   StatusUnwound,
		Trades:   []*types.Trade{buyTrade, sellTrade},
		Realized: realized,
	}
}

// bidDepth returns the bid levels available for a defensive exit.
func (e *Executor) bidDepth(leg *Leg) []types.PriceLevel {
	bk, ok := e.books.Book(leg.Venue, leg.TokenID)
	if !ok {
		return nil
	}
	return bk.Walk(types.SideBid, e.maxDepth)
}

func depthTotal(levels []types.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, level := range levels {
		total = total.Add(level.Size)
	}
	return total
}

// legTrade builds the immutable trade record for one filled leg.
func legTrade(leg *Leg, res *types.OrderResult, at time.Time) *types.Trade {
	return &types.Trade{
		Timestamp:    at,
		Venue:        leg.Venue,
		MarketID:     leg.MarketID,
		TokenID:      leg.TokenID,
		Outcome:      leg.Outcome,
		Side:         types.SideBuy,
		Price:        res.Price,
		Size:         res.Size,
		Fee:          res.Fee,
		VenueOrderID: res.VenueOrderID,
	}
}

func (e *Executor) publish(kind events.Type, ticket *Ticket, result *Result) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(events.Event{
		Type:      kind,
		Venue:     ticket.Yes.Venue,
		MarketKey: ticket.PairKey,
		Payload:   result,
		At:        time.Now(),
	})
}

func firstReason(reasons ...string) string {
	for _, r := range reasons {
		if r != "" {
			return r
		}
	}
	return ""
}
