package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/exchange"
	"github.com/mselser95/prediction-arb/internal/match"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// liveBookHorizon decides whether a market's books count as flowing. The
// quality threshold only demotes markets with live books; everything else
// competes on metadata alone, so a fresh listing can bootstrap itself into
// the monitored set before any book exists.
const liveBookHorizon = 30 * time.Second

// discoveredMarketTTL bounds how long a market key stays in the discovery
// cache without being re-listed.
const discoveredMarketTTL = time.Hour

// refreshMarkets re-lists every venue, scores the results, and re-points
// the subscription set at the current top markets. Called once at startup
// and then on every refresh tick.
func (a *App) refreshMarkets(ctx context.Context) error {
	byVenue := make(map[types.Venue][]*types.UnifiedMarket, len(a.clients.Venues()))
	var monitored []*types.UnifiedMarket

	for _, client := range a.clients.All() {
		markets, err := client.ListMarkets(ctx)
		if err != nil {
			MarketRefreshesTotal.WithLabelValues("error").Inc()
			a.healthChecker.SetComponent(string(client.Venue())+"-feed", false)
			return fmt.Errorf("list %s markets: %w", client.Venue(), err)
		}
		a.healthChecker.SetComponent(string(client.Venue())+"-feed", true)

		selected := a.selectMarkets(markets)
		byVenue[client.Venue()] = selected
		monitored = append(monitored, selected...)

		err = a.retargetSubscriptions(ctx, client, selected)
		if err != nil {
			a.logger.Error("subscription-retarget-failed",
				zap.String("venue", string(client.Venue())),
				zap.Error(err))
		}
	}

	pairs := a.matchCrossVenue(byVenue)
	a.engine.SetUniverse(monitored, pairs)

	MarketRefreshesTotal.WithLabelValues("ok").Inc()
	a.logger.Info("market-universe-refreshed",
		zap.Int("markets", len(monitored)),
		zap.Int("cross-venue-pairs", len(pairs)))

	return nil
}

// selectMarkets filters one venue's listing down to the markets worth
// monitoring: volume-eligible, quality-ranked, capped by the token budget.
func (a *App) selectMarkets(markets []*types.UnifiedMarket) []*types.UnifiedMarket {
	now := time.Now()

	type candidate struct {
		market *types.UnifiedMarket
		score  float64
	}
	candidates := make([]candidate, 0, len(markets))

	for _, market := range markets {
		if a.opts.SingleMarket != "" && market.ID != a.opts.SingleMarket {
			continue
		}
		if market.Volume < a.cfg.MinMarketVolume {
			continue
		}

		sc := a.scorer.Score(market, now)
		if a.hasLiveBooks(market) && sc.Total < a.scorer.Threshold() {
			continue
		}

		a.noteDiscovered(market)
		candidates = append(candidates, candidate{market: market, score: sc.Total})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// Two tokens per market, so the token budget halves into markets.
	maxMarkets := a.cfg.MaxTokensMonitor / 2
	if maxMarkets < 1 {
		maxMarkets = 1
	}
	if len(candidates) > maxMarkets {
		candidates = candidates[:maxMarkets]
	}

	selected := make([]*types.UnifiedMarket, 0, len(candidates))
	for _, c := range candidates {
		selected = append(selected, c.market)
	}
	return selected
}

func (a *App) hasLiveBooks(market *types.UnifiedMarket) bool {
	yesBook, okYes := a.books.Book(market.Venue, market.YesTokenID)
	noBook, okNo := a.books.Book(market.Venue, market.NoTokenID)
	return okYes && okNo && yesBook.Ready(liveBookHorizon) && noBook.Ready(liveBookHorizon)
}

// noteDiscovered logs a market the first time it enters the eligible set.
// The cache entry suppresses repeat logging across refresh cycles.
func (a *App) noteDiscovered(market *types.UnifiedMarket) {
	key := market.Key()
	if _, seen := a.marketCache.Get(key); seen {
		a.marketCache.Set(key, market, discoveredMarketTTL)
		return
	}

	a.marketCache.Set(key, market, discoveredMarketTTL)
	MarketsDiscoveredTotal.WithLabelValues(string(market.Venue)).Inc()
	a.logger.Info("market-discovered",
		zap.String("venue", string(market.Venue)),
		zap.String("market-id", market.ID),
		zap.String("question", market.Question),
		zap.Float64("volume", market.Volume),
		zap.Time("end-date", market.EndDate))
}

// retargetSubscriptions diffs the venue's desired token set against the
// current one, subscribing additions and dropping removals.
func (a *App) retargetSubscriptions(ctx context.Context, client exchange.Client, selected []*types.UnifiedMarket) error {
	venue := client.Venue()

	desired := make(map[string]bool, len(selected)*2)
	for _, market := range selected {
		desired[market.YesTokenID] = true
		desired[market.NoTokenID] = true
	}

	current := a.monitoredTokens[venue]
	if current == nil {
		current = make(map[string]bool)
		a.monitoredTokens[venue] = current
	}

	var added, removed []string
	for tokenID := range desired {
		if !current[tokenID] {
			added = append(added, tokenID)
		}
	}
	for tokenID := range current {
		if !desired[tokenID] {
			removed = append(removed, tokenID)
		}
	}

	if len(removed) > 0 {
		err := client.Unsubscribe(ctx, removed)
		if err != nil {
			return fmt.Errorf("unsubscribe %d tokens: %w", len(removed), err)
		}
		a.books.Drop(venue, removed...)
		for _, tokenID := range removed {
			delete(current, tokenID)
		}
	}

	if len(added) > 0 {
		// Books exist before the first update so scoring and the API see
		// the token immediately.
		for _, tokenID := range added {
			a.books.EnsureBook(venue, tokenID)
		}
		err := client.Subscribe(ctx, added)
		if err != nil {
			return fmt.Errorf("subscribe %d tokens: %w", len(added), err)
		}
		for _, tokenID := range added {
			current[tokenID] = true
		}
	}

	TokensMonitored.WithLabelValues(string(venue)).Set(float64(len(current)))

	a.logger.Debug("subscriptions-retargeted",
		zap.String("venue", string(venue)),
		zap.Int("monitored", len(current)),
		zap.Int("added", len(added)),
		zap.Int("removed", len(removed)))

	return nil
}

// matchCrossVenue pairs up equivalent markets across venues when
// cross-platform arbitrage is enabled.
func (a *App) matchCrossVenue(byVenue map[types.Venue][]*types.UnifiedMarket) []match.Pair {
	if !a.cfg.CrossPlatformArbitrage {
		return nil
	}

	left := byVenue[types.VenuePolymarket]
	right := byVenue[types.VenueKalshi]
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	return a.matcher.Match(left, right)
}
