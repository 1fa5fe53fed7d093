package execution

import (
	"context"
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/ratelimit"
	"github.com/mselser95/prediction-arb/internal/testutil"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type executorFixture struct {
	executor *Executor
	books    *book.Manager
	hub      *events.Hub
}

func newExecutorFixture(t *testing.T, mode Mode, feeRate float64, clients ...exchange.Client) *executorFixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	hub := events.NewHub(logger)
	books := book.NewManager(&book.Config{Logger: logger})

	executor := New(&Config{
		Mode:    mode,
		Clients: exchange.NewRegistry(clients...),
		Books:   books,
		Limiter: ratelimit.New(&ratelimit.Config{Logger: logger}),
		Hub:     hub,
		FeeRate: feeRate,
		Logger:  logger,
	})

	return &executorFixture{executor: executor, books: books, hub: hub}
}

func ticket50() *Ticket {
	return &Ticket{
		PairKey:  "polymarket:m1",
		Question: "Will it settle above the strike?",
		Yes: Leg{
			Venue:      types.VenuePolymarket,
			MarketID:   "m1",
			TokenID:    "m1-yes",
			Outcome:    types.OutcomeYes,
			LimitPrice: d("0.41"),
			Shares:     d("50"),
		},
		No: Leg{
			Venue:      types.VenuePolymarket,
			MarketID:   "m1",
			TokenID:    "m1-no",
			Outcome:    types.OutcomeNo,
			LimitPrice: d("0.46"),
			Shares:     d("50"),
		},
		ExpectedCost: d("42.5"),
		NetProfit:    d("7.2875"),
	}
}

func TestExecute_PaperBothLegsFill(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, ModePaper, 0.005)
	executed := fx.hub.Subscribe(4, events.TypeTradeExecuted)

	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.38, 100), testutil.Levels(0.40, 50, 0.42, 100))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.43, 100), testutil.Levels(0.45, 50, 0.47, 100))

	result, err := fx.executor.Execute(context.Background(), ticket50())
	require.NoError(t, err)
	require.Equal(t, StatusFilled, result.Status)
	require.Len(t, result.Trades, 2)

	yesTrade, noTrade := result.Trades[0], result.Trades[1]
	assert.Equal(t, types.SideBuy, yesTrade.Side)
	assert.Equal(t, types.SideBuy, noTrade.Side)
	assert.True(t, yesTrade.Price.Equal(d("0.40")), "yes fill price %s", yesTrade.Price)
	assert.True(t, noTrade.Price.Equal(d("0.45")), "no fill price %s", noTrade.Price)
	assert.True(t, yesTrade.Size.Equal(d("50")))
	assert.True(t, noTrade.Size.Equal(yesTrade.Size), "legs filled %s vs %s", yesTrade.Size, noTrade.Size)

	// 50 − 42.50 gross − 0.10 − 0.1125 fees.
	assert.True(t, result.Realized.Equal(d("7.2875")), "realized %s", result.Realized)

	select {
	case evt := <-executed:
		assert.Equal(t, "polymarket:m1", evt.MarketKey)
	case <-time.After(time.Second):
		t.Fatal("no trade_executed event")
	}
}

func TestExecute_PaperPartialFillUnwinds(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, ModePaper, 0.005)
	unwound := fx.hub.Subscribe(4, events.TypePartialFillUnwound)

	// YES fills; NO has only 10 crossable shares so its FOK leg dies.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.38, 100), testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.43, 100), testutil.Levels(0.45, 10))

	result, err := fx.executor.Execute(context.Background(), ticket50())
	require.NoError(t, err)
	require.Equal(t, StatusUnwound, result.Status)
	require.Len(t, result.Trades, 2)

	buy, sell := result.Trades[0], result.Trades[1]
	assert.Equal(t, types.SideBuy, buy.Side)
	assert.Equal(t, types.SideSell, sell.Side)
	assert.Equal(t, "m1-yes", sell.TokenID)
	assert.True(t, sell.Price.Equal(d("0.38")), "unwind price %s", sell.Price)
	assert.True(t, sell.Size.Equal(d("50")))

	// Bought 50 @ 0.40 (+0.10 fee), sold 50 @ 0.38 (−0.095 fee).
	assert.True(t, result.Realized.Equal(d("-1.195")), "realized %s", result.Realized)
	assert.True(t, result.Realized.IsNegative())

	select {
	case evt := <-unwound:
		assert.Equal(t, events.TypePartialFillUnwound, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("no partial_fill_unwound event")
	}
}

func TestExecute_PaperBothLegsRejected(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, ModePaper, 0.005)
	rejected := fx.hub.Subscribe(4, events.TypeFillRejected)

	// Asks sit above both limit prices: nothing crossable on either side.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.38, 100), testutil.Levels(0.55, 100))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.43, 100), testutil.Levels(0.60, 100))

	result, err := fx.executor.Execute(context.Background(), ticket50())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Empty(t, result.Trades)
	assert.True(t, result.Realized.IsZero())
	assert.NotEmpty(t, result.Reason)

	select {
	case <-rejected:
	case <-time.After(time.Second):
		t.Fatal("no fill_rejected event")
	}
}

func TestExecute_LiveCrossVenueRoutesLegs(t *testing.T) {
	t.Parallel()

	poly := testutil.NewFakeExchange(types.VenuePolymarket)
	kalshi := testutil.NewFakeExchange(types.VenueKalshi)
	fx := newExecutorFixture(t, ModeLive, 0.01, poly, kalshi)

	ticket := ticket50()
	ticket.PairKey = "kalshi:k1|polymarket:m1"
	ticket.No.Venue = types.VenueKalshi
	ticket.No.MarketID = "k1"
	ticket.No.TokenID = "k1:no"

	result, err := fx.executor.Execute(context.Background(), ticket)
	require.NoError(t, err)
	require.Equal(t, StatusFilled, result.Status)

	polyOrders := poly.Orders()
	kalshiOrders := kalshi.Orders()
	require.Len(t, polyOrders, 1)
	require.Len(t, kalshiOrders, 1)

	assert.Equal(t, types.SideBuy, polyOrders[0].Side)
	assert.Equal(t, types.TIFFillOrKill, polyOrders[0].TimeInForce)
	assert.Equal(t, "m1-yes", polyOrders[0].TokenID)
	assert.Equal(t, "k1:no", kalshiOrders[0].TokenID)
	assert.NotEmpty(t, polyOrders[0].ClientID)

	assert.Equal(t, types.VenuePolymarket, result.Trades[0].Venue)
	assert.Equal(t, types.VenueKalshi, result.Trades[1].Venue)
}

func TestExecute_LiveDeadLegTriggersUnwindSell(t *testing.T) {
	t.Parallel()

	poly := testutil.NewFakeExchange(types.VenuePolymarket)
	fx := newExecutorFixture(t, ModeLive, 0.01, poly)

	// NO leg always rejects; YES fills at its limit.
	poly.PlaceFunc = func(_ context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
		if req.Side == types.SideBuy && req.Outcome == types.OutcomeNo {
			return &types.OrderResult{Status: types.OrderRejected, Reason: "insufficient depth"}, nil
		}
		return &types.OrderResult{
			Status:       types.OrderFilled,
			VenueOrderID: "ord-" + req.ClientID,
			Price:        req.Price,
			Size:         req.Size,
		}, nil
	}

	// Bids back the defensive exit.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		testutil.Levels(0.39, 30, 0.38, 40), testutil.Levels(0.41, 50))

	result, err := fx.executor.Execute(context.Background(), ticket50())
	require.NoError(t, err)
	require.Equal(t, StatusUnwound, result.Status)
	assert.Equal(t, "insufficient depth", result.Reason)

	orders := poly.Orders()
	require.Len(t, orders, 3)

	sell := orders[2]
	assert.Equal(t, types.SideSell, sell.Side)
	assert.Equal(t, types.TIFImmediateOrCancel, sell.TimeInForce)
	assert.Equal(t, "m1-yes", sell.TokenID)
	assert.True(t, sell.Size.Equal(d("50")), "sell size %s", sell.Size)
	assert.True(t, sell.Price.Equal(d("0.38")), "sell limit %s", sell.Price)
}

func TestExecute_UnwindWithNoBidsMarksFullLoss(t *testing.T) {
	t.Parallel()

	fx := newExecutorFixture(t, ModePaper, 0.005)

	// YES fills, NO dies, and the YES book has no bids to sell into.
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-yes",
		nil, testutil.Levels(0.40, 50))
	testutil.SeedBook(t, fx.books, types.VenuePolymarket, "m1-no",
		testutil.Levels(0.43, 100), testutil.Levels(0.60, 100))

	result, err := fx.executor.Execute(context.Background(), ticket50())
	require.NoError(t, err)
	require.Equal(t, StatusUnwound, result.Status)
	require.Len(t, result.Trades, 1)

	// 50 @ 0.40 + 0.10 fee, written off entirely.
	assert.True(t, result.Realized.Equal(d("-20.1")), "realized %s", result.Realized)
}

func TestCrossable(t *testing.T) {
	t.Parallel()

	asks := testutil.Levels(0.40, 10, 0.42, 10, 0.44, 10)
	got := crossable(asks, d("0.42"), types.SideBuy)
	require.Len(t, got, 2)
	assert.True(t, got[1].Price.Equal(d("0.42")))

	bids := testutil.Levels(0.39, 10, 0.37, 10, 0.35, 10)
	got = crossable(bids, d("0.37"), types.SideSell)
	require.Len(t, got, 2)
	assert.True(t, got[1].Price.Equal(d("0.37")))
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseMode("paper")
	require.NoError(t, err)
	assert.Equal(t, ModePaper, mode)

	mode, err = ParseMode("live")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, mode)

	_, err = ParseMode("dry-run")
	assert.Error(t, err)
}
