// Package score ranks markets by trading suitability. Each market receives
// a quality score in [0, 100] built from four weighted components: traded
// volume, order-book liquidity, combined YES+NO spread, and time to
// resolution. Markets under the configured threshold are not monitored.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// Component weights. Volume dominates because thin stale markets are the
// main source of unfillable opportunities.
const (
	weightVolume    = 0.35
	weightLiquidity = 0.30
	weightSpread    = 0.20
	weightTime      = 0.15
)

const (
	// volumeReference is the daily USD volume earning a full volume
	// component, on a log scale.
	volumeReference = 100_000.0

	// liquidityReference is the summed USD notional across the counted
	// book levels earning a full liquidity component.
	liquidityReference = 5_000.0

	// liquidityLevels is how many levels per side per token count toward
	// liquidity.
	liquidityLevels = 5

	// spreadOptimal and spreadWorst bound the combined-cost deviation from
	// $1.00: at or under optimal scores full, at or over worst scores zero.
	spreadOptimal = 0.02
	spreadWorst   = 0.10
)

const (
	// timeFloor penalizes markets resolving sooner than this: too little
	// time to exit before resolution risk dominates.
	timeFloor = time.Hour

	// timeCeiling is the far edge of the optimal resolution window.
	timeCeiling = 30 * 24 * time.Hour

	// timeHorizon is where the decay past the ceiling bottoms out.
	timeHorizon = 90 * 24 * time.Hour
)

// Score is the component breakdown for one market. Components are already
// weighted, so Total is their sum.
type Score struct {
	MarketKey string
	Volume    float64
	Liquidity float64
	Spread    float64
	Time      float64
	Total     float64
}

// Ranked pairs a market with its computed score.
type Ranked struct {
	Market *types.UnifiedMarket
	Score  Score
}

// Config holds scorer configuration.
type Config struct {
	Books *book.Manager
	// Threshold is the minimum total score for a market to be monitored.
	Threshold float64
	Logger    *zap.Logger
}

// Scorer computes market quality scores from live books and market metadata.
type Scorer struct {
	books     *book.Manager
	threshold float64
	logger    *zap.Logger
}

// New creates a new scorer.
func New(cfg *Config) *Scorer {
	return &Scorer{
		books:     cfg.Books,
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
	}
}

// Threshold returns the configured minimum quality score.
func (s *Scorer) Threshold() float64 {
	return s.threshold
}

// Score computes the quality score for one market as of now.
func (s *Scorer) Score(market *types.UnifiedMarket, now time.Time) Score {
	yesBook, _ := s.books.Book(market.Venue, market.YesTokenID)
	noBook, _ := s.books.Book(market.Venue, market.NoTokenID)

	result := Score{
		MarketKey: market.Key(),
		Volume:    weightVolume * volumeComponent(market.Volume) * 100,
		Liquidity: weightLiquidity * liquidityComponent(yesBook, noBook) * 100,
		Spread:    weightSpread * spreadComponent(yesBook, noBook) * 100,
		Time:      weightTime * timeComponent(market.EndDate, now) * 100,
	}
	result.Total = result.Volume + result.Liquidity + result.Spread + result.Time

	MarketsScoredTotal.WithLabelValues(string(market.Venue)).Inc()
	ScoreDistribution.Observe(result.Total)

	return result
}

// Rank scores all markets and returns those at or above the threshold,
// sorted by total score descending.
func (s *Scorer) Rank(markets []*types.UnifiedMarket, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(markets))

	for _, market := range markets {
		sc := s.Score(market, now)
		if sc.Total < s.threshold {
			MarketsBelowThresholdTotal.WithLabelValues(string(market.Venue)).Inc()
			s.logger.Debug("market-below-quality-threshold",
				zap.String("market-key", sc.MarketKey),
				zap.Float64("score", sc.Total),
				zap.Float64("threshold", s.threshold))
			continue
		}
		ranked = append(ranked, Ranked{Market: market, Score: sc})
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Score.Total > ranked[j].Score.Total
	})

	return ranked
}

// volumeComponent maps traded volume onto [0, 1] on a log scale so that a
// $1k market is not crushed by a $10M outlier.
func volumeComponent(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	component := math.Log1p(volume) / math.Log1p(volumeReference)
	return clamp01(component)
}

// liquidityComponent sums USD notional resting on the top levels of both
// sides of both tokens and maps it onto [0, 1].
func liquidityComponent(yesBook, noBook *book.Book) float64 {
	total := bookNotional(yesBook) + bookNotional(noBook)
	return clamp01(total / liquidityReference)
}

func bookNotional(b *book.Book) float64 {
	if b == nil {
		return 0
	}

	total := 0.0
	for _, level := range b.Walk(types.SideAsk, liquidityLevels) {
		total += level.Price.InexactFloat64() * level.Size.InexactFloat64()
	}
	for _, level := range b.Walk(types.SideBid, liquidityLevels) {
		total += level.Price.InexactFloat64() * level.Size.InexactFloat64()
	}
	return total
}

// spreadComponent scores the deviation of best_ask(YES)+best_ask(NO) from
// $1.00. Tighter combined cost scores higher; a missing side scores zero.
func spreadComponent(yesBook, noBook *book.Book) float64 {
	if yesBook == nil || noBook == nil {
		return 0
	}

	yesAsk, okYes := yesBook.Best(types.SideAsk)
	noAsk, okNo := noBook.Best(types.SideAsk)
	if !okYes || !okNo {
		return 0
	}

	combined := yesAsk.Price.InexactFloat64() + noAsk.Price.InexactFloat64()
	deviation := math.Abs(combined - 1.0)

	switch {
	case deviation >= spreadWorst:
		return 0
	case deviation <= spreadOptimal:
		return 1
	default:
		return (spreadWorst - deviation) / (spreadWorst - spreadOptimal)
	}
}

// timeComponent is bell-shaped over time-to-resolution: markets closing
// within the hour ramp up from zero, the window [1h, 30d] scores full,
// and past 30 days the score decays toward a floor at 90 days.
func timeComponent(endDate time.Time, now time.Time) float64 {
	if endDate.IsZero() {
		return 0.5
	}

	remaining := endDate.Sub(now)
	switch {
	case remaining <= 0:
		return 0
	case remaining < timeFloor:
		return 0.5 * float64(remaining) / float64(timeFloor)
	case remaining <= timeCeiling:
		return 1
	case remaining <= timeHorizon:
		decay := float64(timeHorizon-remaining) / float64(timeHorizon-timeCeiling)
		return 0.5 + 0.5*decay
	default:
		return 0.25
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
