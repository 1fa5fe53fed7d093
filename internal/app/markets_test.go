package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/arbitrage"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/internal/score"
	"github.com/mselser95/prediction-arb/pkg/config"
	"github.com/mselser95/prediction-arb/pkg/healthprobe"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// fakeClient is a scriptable exchange.Client for refresh-loop tests.
type fakeClient struct {
	venue   types.Venue
	markets []*types.UnifiedMarket
	listErr error
	subErr  error

	mu           sync.Mutex
	subscribed   [][]string
	unsubscribed [][]string
	updates      chan types.BookUpdate
}

func newFakeClient(venue types.Venue, markets ...*types.UnifiedMarket) *fakeClient {
	return &fakeClient{
		venue:   venue,
		markets: markets,
		updates: make(chan types.BookUpdate),
	}
}

func (f *fakeClient) Venue() types.Venue                            { return f.venue }
func (f *fakeClient) Start(context.Context) error                   { return nil }
func (f *fakeClient) Updates() <-chan types.BookUpdate              { return f.updates }
func (f *fakeClient) Close() error                                  { return nil }
func (f *fakeClient) RequestSnapshot(context.Context, string) error { return nil }

func (f *fakeClient) ListMarkets(context.Context) ([]*types.UnifiedMarket, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.markets, nil
}

func (f *fakeClient) Subscribe(_ context.Context, tokenIDs []string) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]string(nil), tokenIDs...))
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, tokenIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, append([]string(nil), tokenIDs...))
	return nil
}

func (f *fakeClient) PlaceOrder(context.Context, *types.OrderRequest) (*types.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}

// mapCache is a synchronous cache.Cache for tests; ristretto's buffered
// writes would race the assertions here.
type mapCache struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]interface{})}
}

func (c *mapCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	val, ok := c.m[key]
	return val, ok
}

func (c *mapCache) Set(key string, value interface{}, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return true
}

func (c *mapCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *mapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]interface{})
}

func (c *mapCache) Close() {}

func testMarket(venue types.Venue, id string, volume float64) *types.UnifiedMarket {
	return &types.UnifiedMarket{
		Venue:      venue,
		ID:         id,
		Question:   "Will the market " + id + " resolve yes?",
		EndDate:    time.Now().Add(48 * time.Hour),
		Volume:     volume,
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
		Active:     true,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, clients ...exchange.Client) *App {
	t.Helper()

	logger := zap.NewNop()
	books := book.NewManager(&book.Config{Logger: logger})
	t.Cleanup(func() { _ = books.Close() })

	return &App{
		cfg:           cfg,
		opts:          &Options{},
		logger:        logger,
		healthChecker: healthprobe.New(),
		clients:       exchange.NewRegistry(clients...),
		books:         books,
		scorer: score.New(&score.Config{
			Books:     books,
			Threshold: cfg.MinMarketQualityScore,
			Logger:    logger,
		}),
		matcher:         match.New(&match.Config{Logger: logger}),
		marketCache:     newMapCache(),
		engine:          arbitrage.New(&arbitrage.Config{Logger: logger}),
		monitoredTokens: make(map[types.Venue]map[string]bool),
	}
}

func marketsTestConfig() *config.Config {
	return &config.Config{
		EnabledPlatforms:      []string{"polymarket"},
		MinMarketVolume:       1000,
		MaxTokensMonitor:      4,
		MinMarketQualityScore: 50,
	}
}

func TestSelectMarketsFiltersAndRanks(t *testing.T) {
	cfg := marketsTestConfig()
	app := newTestApp(t, cfg)

	thin := testMarket(types.VenuePolymarket, "thin", 100)
	small := testMarket(types.VenuePolymarket, "small", 2_000)
	medium := testMarket(types.VenuePolymarket, "medium", 20_000)
	large := testMarket(types.VenuePolymarket, "large", 90_000)

	selected := app.selectMarkets([]*types.UnifiedMarket{thin, small, medium, large})

	// Token budget of 4 keeps two markets; volume dominates the metadata
	// score, so the two largest win, best first.
	require.Len(t, selected, 2)
	assert.Equal(t, "large", selected[0].ID)
	assert.Equal(t, "medium", selected[1].ID)
}

func TestSelectMarketsSingleMarketOption(t *testing.T) {
	cfg := marketsTestConfig()
	app := newTestApp(t, cfg)
	app.opts = &Options{SingleMarket: "medium"}

	medium := testMarket(types.VenuePolymarket, "medium", 20_000)
	large := testMarket(types.VenuePolymarket, "large", 90_000)

	selected := app.selectMarkets([]*types.UnifiedMarket{medium, large})

	require.Len(t, selected, 1)
	assert.Equal(t, "medium", selected[0].ID)
}

func TestSelectMarketsDemotesLowQualityLiveBooks(t *testing.T) {
	cfg := marketsTestConfig()
	app := newTestApp(t, cfg)

	// Both books live but wide and thin: liquidity and spread components
	// score near zero, dragging the total under the threshold.
	demoted := testMarket(types.VenuePolymarket, "demoted", 5_000)
	seedThinBook(t, app.books, demoted.Venue, demoted.YesTokenID, "0.60")
	seedThinBook(t, app.books, demoted.Venue, demoted.NoTokenID, "0.55")

	// No books yet, so only metadata counts and the threshold is waived.
	fresh := testMarket(types.VenuePolymarket, "fresh", 50_000)

	selected := app.selectMarkets([]*types.UnifiedMarket{demoted, fresh})

	require.Len(t, selected, 1)
	assert.Equal(t, "fresh", selected[0].ID)
}

func seedThinBook(t *testing.T, books *book.Manager, venue types.Venue, tokenID, askPrice string) {
	t.Helper()
	bk := books.EnsureBook(venue, tokenID)
	err := bk.ApplySnapshot(
		[]types.PriceLevel{{Price: decimal.RequireFromString("0.01"), Size: decimal.NewFromInt(1)}},
		[]types.PriceLevel{{Price: decimal.RequireFromString(askPrice), Size: decimal.NewFromInt(1)}},
		1,
	)
	require.NoError(t, err)
}

func TestRetargetSubscriptionsDiffs(t *testing.T) {
	cfg := marketsTestConfig()
	alpha := testMarket(types.VenuePolymarket, "alpha", 20_000)
	beta := testMarket(types.VenuePolymarket, "beta", 30_000)
	gamma := testMarket(types.VenuePolymarket, "gamma", 40_000)

	client := newFakeClient(types.VenuePolymarket)
	app := newTestApp(t, cfg, client)

	err := app.retargetSubscriptions(context.Background(), client, []*types.UnifiedMarket{alpha, beta})
	require.NoError(t, err)

	require.Len(t, client.subscribed, 1)
	assert.ElementsMatch(t,
		[]string{"alpha-yes", "alpha-no", "beta-yes", "beta-no"},
		client.subscribed[0])
	assert.Empty(t, client.unsubscribed)

	_, ok := app.books.Book(types.VenuePolymarket, "alpha-yes")
	assert.True(t, ok, "book should exist for subscribed token")

	// Second cycle drops beta and picks up gamma.
	err = app.retargetSubscriptions(context.Background(), client, []*types.UnifiedMarket{alpha, gamma})
	require.NoError(t, err)

	require.Len(t, client.subscribed, 2)
	assert.ElementsMatch(t, []string{"gamma-yes", "gamma-no"}, client.subscribed[1])
	require.Len(t, client.unsubscribed, 1)
	assert.ElementsMatch(t, []string{"beta-yes", "beta-no"}, client.unsubscribed[0])

	_, ok = app.books.Book(types.VenuePolymarket, "beta-yes")
	assert.False(t, ok, "dropped token should lose its book")

	monitored := make([]string, 0, len(app.monitoredTokens[types.VenuePolymarket]))
	for tokenID := range app.monitoredTokens[types.VenuePolymarket] {
		monitored = append(monitored, tokenID)
	}
	sort.Strings(monitored)
	assert.Equal(t, []string{"alpha-no", "alpha-yes", "gamma-no", "gamma-yes"}, monitored)
}

func TestRetargetSubscriptionsNoChurnWhenStable(t *testing.T) {
	cfg := marketsTestConfig()
	alpha := testMarket(types.VenuePolymarket, "alpha", 20_000)

	client := newFakeClient(types.VenuePolymarket)
	app := newTestApp(t, cfg, client)

	require.NoError(t, app.retargetSubscriptions(context.Background(), client, []*types.UnifiedMarket{alpha}))
	require.NoError(t, app.retargetSubscriptions(context.Background(), client, []*types.UnifiedMarket{alpha}))

	assert.Len(t, client.subscribed, 1, "stable set should not resubscribe")
	assert.Empty(t, client.unsubscribed)
}

func TestRetargetSubscriptionsSubscribeError(t *testing.T) {
	cfg := marketsTestConfig()
	alpha := testMarket(types.VenuePolymarket, "alpha", 20_000)

	client := newFakeClient(types.VenuePolymarket)
	client.subErr = errors.New("socket saturated")
	app := newTestApp(t, cfg, client)

	err := app.retargetSubscriptions(context.Background(), client, []*types.UnifiedMarket{alpha})
	require.Error(t, err)

	assert.Empty(t, app.monitoredTokens[types.VenuePolymarket],
		"failed subscription must not be recorded as monitored")
}

func TestMatchCrossVenueGatedByFlag(t *testing.T) {
	cfg := marketsTestConfig()
	app := newTestApp(t, cfg)

	end := time.Now().Add(72 * time.Hour)
	poly := testMarket(types.VenuePolymarket, "poly-fed", 50_000)
	poly.Question = "Will the Fed cut rates in December?"
	poly.EndDate = end
	kalshi := testMarket(types.VenueKalshi, "FED-25DEC", 40_000)
	kalshi.Question = "Will the Fed cut rates in December?"
	kalshi.EndDate = end

	byVenue := map[types.Venue][]*types.UnifiedMarket{
		types.VenuePolymarket: {poly},
		types.VenueKalshi:     {kalshi},
	}

	assert.Nil(t, app.matchCrossVenue(byVenue), "disabled flag must yield no pairs")

	app.cfg.CrossPlatformArbitrage = true
	pairs := app.matchCrossVenue(byVenue)
	require.Len(t, pairs, 1)
	assert.Equal(t, "poly-fed", pairs[0].A.ID)
	assert.Equal(t, "FED-25DEC", pairs[0].B.ID)
}

func TestRefreshMarketsSubscribesTopMarkets(t *testing.T) {
	cfg := marketsTestConfig()

	large := testMarket(types.VenuePolymarket, "large", 90_000)
	thin := testMarket(types.VenuePolymarket, "thin", 10)

	client := newFakeClient(types.VenuePolymarket, large, thin)
	app := newTestApp(t, cfg, client)

	err := app.refreshMarkets(context.Background())
	require.NoError(t, err)

	require.Len(t, client.subscribed, 1)
	assert.ElementsMatch(t, []string{"large-yes", "large-no"}, client.subscribed[0])
}

func TestRefreshMarketsListError(t *testing.T) {
	cfg := marketsTestConfig()

	client := newFakeClient(types.VenuePolymarket)
	client.listErr = errors.New("gateway timeout")
	app := newTestApp(t, cfg, client)

	err := app.refreshMarkets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list polymarket markets")
	assert.Contains(t, app.healthChecker.DownComponents(), "polymarket-feed")

	// A recovered listing clears the feed's down state.
	client.listErr = nil
	require.NoError(t, app.refreshMarkets(context.Background()))
	assert.Empty(t, app.healthChecker.DownComponents())
}
