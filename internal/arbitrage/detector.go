package arbitrage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/impact"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// Rejection reasons recorded on OpportunitiesRejectedTotal.
const (
	ReasonBookMissing    = "book-missing"
	ReasonBookNotReady   = "book-not-ready"
	ReasonNoDepth        = "no-depth"
	ReasonNoMargin       = "no-margin"
	ReasonBelowMinProfit = "below-min-profit"
)

// LegPair is one YES/NO orientation of a target. Single-market targets
// have one, cross-platform targets two (YES here and NO there, or the
// reverse).
type LegPair struct {
	Yes Leg
	No  Leg
}

// Target is one unit of detection work: a market or a matched market pair,
// its quality score, and the leg orientations to price.
type Target struct {
	Key      string
	Question string
	Score    float64
	Pairs    []LegPair
}

// Sizing prices a leg pair at a specific share count using depth-aware
// effective prices.
type Sizing struct {
	Shares    decimal.Decimal
	YesPrice  decimal.Decimal
	NoPrice   decimal.Decimal
	GrossCost decimal.Decimal
	Fees      decimal.Decimal
	NetProfit decimal.Decimal
}

// DetectorConfig holds detector configuration.
type DetectorConfig struct {
	Books *book.Manager
	// FeeRate is the taker fee applied to both legs' effective prices.
	FeeRate decimal.Decimal
	// MinMargin is the required gap below $1.00 after fees.
	MinMargin decimal.Decimal
	// MinDollars is the minimum net profit at the detected size.
	MinDollars decimal.Decimal
	// MaxDepth bounds how many levels a sweep inspects per side.
	MaxDepth int
	// FreshHorizon is how recent a book update must be for evaluation.
	FreshHorizon time.Duration
	Logger       *zap.Logger
}

// Detector prices arbitrage targets against live order books. It finds the
// largest share count whose all-in pair cost stays under the margin
// threshold, then requires that size to clear the dollar floor.
type Detector struct {
	books        *book.Manager
	feeRate      decimal.Decimal
	minMargin    decimal.Decimal
	minDollars   decimal.Decimal
	maxDepth     int
	freshHorizon time.Duration
	logger       *zap.Logger

	one       decimal.Decimal
	threshold decimal.Decimal // 1 − MinMargin
}

// NewDetector creates a detector.
func NewDetector(cfg *DetectorConfig) *Detector {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}
	freshHorizon := cfg.FreshHorizon
	if freshHorizon <= 0 {
		freshHorizon = 2 * time.Second
	}

	one := decimal.NewFromInt(1)
	return &Detector{
		books:        cfg.Books,
		feeRate:      cfg.FeeRate,
		minMargin:    cfg.MinMargin,
		minDollars:   cfg.MinDollars,
		maxDepth:     maxDepth,
		freshHorizon: freshHorizon,
		logger:       cfg.Logger,
		one:          one,
		threshold:    one.Sub(cfg.MinMargin),
	}
}

// Detect evaluates a target and returns the best-ROI opportunity across its
// leg orientations, or a rejection reason when none clears the gates.
func (d *Detector) Detect(target *Target, now time.Time) (*Opportunity, string) {
	timer := prometheus.NewTimer(DetectionDurationSeconds)
	defer timer.ObserveDuration()

	var best *Opportunity
	reason := ""

	for i := range target.Pairs {
		opp, r := d.evaluatePair(target, &target.Pairs[i], now)
		if opp == nil {
			if reason == "" {
				reason = r
			}
			continue
		}
		if best == nil || opp.ROI > best.ROI {
			best = opp
		}
	}

	if best == nil {
		if reason == "" {
			reason = ReasonNoDepth
		}
		OpportunitiesRejectedTotal.WithLabelValues(reason).Inc()
		return nil, reason
	}

	best.Score = target.Score
	OpportunitiesDetectedTotal.Inc()
	NetProfitBPS.Observe(best.ROI * 10000)
	OpportunitySizeUSD.Observe(best.GrossCost.Add(best.Fees).InexactFloat64())

	d.logger.Debug("opportunity-detected",
		zap.String("pair", best.PairKey),
		zap.String("shares", best.Shares.String()),
		zap.String("net_profit", best.NetProfit.StringFixed(4)),
		zap.Float64("roi", best.ROI))

	return best, ""
}

// evaluatePair prices one leg orientation.
func (d *Detector) evaluatePair(target *Target, pair *LegPair, now time.Time) (*Opportunity, string) {
	yesAsks, reason := d.asks(pair.Yes)
	if reason != "" {
		return nil, reason
	}
	noAsks, reason := d.asks(pair.No)
	if reason != "" {
		return nil, reason
	}

	hi := int(decimal.Min(sideDepth(yesAsks), sideDepth(noAsks)).IntPart())
	if hi < 1 {
		return nil, ReasonNoDepth
	}

	sizing, reason := d.size(yesAsks, noAsks, hi)
	if sizing == nil {
		return nil, reason
	}
	if sizing.NetProfit.LessThan(d.minDollars) {
		return nil, ReasonBelowMinProfit
	}

	topOfBook := yesAsks[0].Price.Mul(yesAsks[0].Size).
		Add(noAsks[0].Price.Mul(noAsks[0].Size))

	return newOpportunity(target.Key, target.Question, pair, sizing, topOfBook, now), ""
}

// asks returns the inspectable ask levels for a leg, or a rejection reason.
func (d *Detector) asks(leg Leg) ([]types.PriceLevel, string) {
	bk, ok := d.books.Book(leg.Venue, leg.TokenID)
	if !ok {
		return nil, ReasonBookMissing
	}
	if !bk.Ready(d.freshHorizon) {
		return nil, ReasonBookNotReady
	}

	levels := bk.Walk(types.SideAsk, d.maxDepth)
	if len(levels) == 0 {
		return nil, ReasonNoDepth
	}
	return levels, ""
}

// size finds the largest share count in [1, hi] whose all-in cost holds the
// margin. The effective pair price is non-decreasing in size, so the
// feasible set is a prefix and binary search applies.
func (d *Detector) size(yesAsks, noAsks []types.PriceLevel, hi int) (*Sizing, string) {
	if !d.profitable(yesAsks, noAsks, 1) {
		return nil, ReasonNoMargin
	}

	lo := 1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if d.profitable(yesAsks, noAsks, mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return d.sizingAt(yesAsks, noAsks, lo), ""
}

// profitable reports whether n share pairs clear the margin threshold:
// eff(YES) + eff(NO) + fee ≤ 1 − MinMargin.
func (d *Detector) profitable(yesAsks, noAsks []types.PriceLevel, n int) bool {
	shares := decimal.NewFromInt(int64(n))

	yes := impact.EffectivePrice(yesAsks, shares)
	if yes.DepthExhausted {
		return false
	}
	no := impact.EffectivePrice(noAsks, shares)
	if no.DepthExhausted {
		return false
	}

	sum := yes.EffectivePrice.Add(no.EffectivePrice)
	allIn := sum.Add(d.feeRate.Mul(sum))
	return allIn.LessThanOrEqual(d.threshold)
}

// sizingAt prices n share pairs. Callers guarantee n is within depth.
func (d *Detector) sizingAt(yesAsks, noAsks []types.PriceLevel, n int) *Sizing {
	shares := decimal.NewFromInt(int64(n))

	yes := impact.EffectivePrice(yesAsks, shares)
	no := impact.EffectivePrice(noAsks, shares)

	sum := yes.EffectivePrice.Add(no.EffectivePrice)
	gross := sum.Mul(shares)
	fees := d.feeRate.Mul(sum).Mul(shares)

	return &Sizing{
		Shares:    shares,
		YesPrice:  yes.EffectivePrice,
		NoPrice:   no.EffectivePrice,
		GrossCost: gross,
		Fees:      fees,
		NetProfit: shares.Sub(gross).Sub(fees),
	}
}

// Resize reprices an opportunity's legs from the current books at a capped
// share count. It returns a rejection reason when the books are unusable or
// the margin no longer holds at that size.
func (d *Detector) Resize(opp *Opportunity, shares decimal.Decimal) (*Sizing, string) {
	yesAsks, reason := d.asks(opp.Yes)
	if reason != "" {
		return nil, reason
	}
	noAsks, reason := d.asks(opp.No)
	if reason != "" {
		return nil, reason
	}

	n := int(shares.IntPart())
	if n < 1 {
		return nil, ReasonNoDepth
	}
	if !d.profitable(yesAsks, noAsks, n) {
		return nil, ReasonNoMargin
	}

	return d.sizingAt(yesAsks, noAsks, n), ""
}

// MarketTarget builds a single-venue target from one market.
func MarketTarget(m *types.UnifiedMarket, score float64) *Target {
	return &Target{
		Key:      m.Key(),
		Question: m.Question,
		Score:    score,
		Pairs: []LegPair{{
			Yes: Leg{Venue: m.Venue, MarketID: m.ID, TokenID: m.YesTokenID, Outcome: types.OutcomeYes},
			No:  Leg{Venue: m.Venue, MarketID: m.ID, TokenID: m.NoTokenID, Outcome: types.OutcomeNo},
		}},
	}
}

// PairTarget builds a cross-platform target covering both ways of splitting
// YES and NO across two matched markets. One target per pair keeps both
// orientations under a single execution lock.
func PairTarget(key string, a, b *types.UnifiedMarket, score float64) *Target {
	return &Target{
		Key:      key,
		Question: a.Question,
		Score:    score,
		Pairs: []LegPair{
			{
				Yes: Leg{Venue: a.Venue, MarketID: a.ID, TokenID: a.YesTokenID, Outcome: types.OutcomeYes},
				No:  Leg{Venue: b.Venue, MarketID: b.ID, TokenID: b.NoTokenID, Outcome: types.OutcomeNo},
			},
			{
				Yes: Leg{Venue: b.Venue, MarketID: b.ID, TokenID: b.YesTokenID, Outcome: types.OutcomeYes},
				No:  Leg{Venue: a.Venue, MarketID: a.ID, TokenID: a.NoTokenID, Outcome: types.OutcomeNo},
			},
		},
	}
}

// sideDepth sums the size across levels.
func sideDepth(levels []types.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, level := range levels {
		total = total.Add(level.Size)
	}
	return total
}
