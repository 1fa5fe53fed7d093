package arbitrage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Leg identifies one outcome token on one venue. For single-market
// opportunities both legs share a venue and market; cross-platform
// opportunities split them.
type Leg struct {
	Venue    types.Venue
	MarketID string
	TokenID  string
	Outcome  types.Outcome
}

// Opportunity is a sized arbitrage candidate: buy Shares of YES and NO at
// the quoted effective prices and the pair redeems for one dollar at
// resolution regardless of outcome.
type Opportunity struct {
	ID       string
	PairKey  string // lock, cooldown and cache key
	Question string
	Yes      Leg
	No       Leg

	Shares    decimal.Decimal // largest profitable share count in the books
	YesPrice  decimal.Decimal // depth-aware effective ask at Shares
	NoPrice   decimal.Decimal
	GrossCost decimal.Decimal // (YesPrice + NoPrice) · Shares
	Fees      decimal.Decimal // taker fees on both legs
	NetProfit decimal.Decimal // Shares − GrossCost − Fees

	// ROI is net profit over all-in cost at the detected size.
	ROI float64
	// Score is the quality score of the underlying market (pair minimum
	// for cross-platform opportunities).
	Score float64
	// TopOfBookNotional is the USD resting at the two best asks combined.
	TopOfBookNotional decimal.Decimal

	DetectedAt time.Time
}

// newOpportunity builds an opportunity from a sized leg pair.
func newOpportunity(pairKey, question string, pair *LegPair, sizing *Sizing, topOfBook decimal.Decimal, now time.Time) *Opportunity {
	allIn := sizing.GrossCost.Add(sizing.Fees)
	roi := 0.0
	if allIn.IsPositive() {
		roi = sizing.NetProfit.Div(allIn).InexactFloat64()
	}

	return &Opportunity{
		ID:                uuid.New().String(),
		PairKey:           pairKey,
		Question:          question,
		Yes:               pair.Yes,
		No:                pair.No,
		Shares:            sizing.Shares,
		YesPrice:          sizing.YesPrice,
		NoPrice:           sizing.NoPrice,
		GrossCost:         sizing.GrossCost,
		Fees:              sizing.Fees,
		NetProfit:         sizing.NetProfit,
		ROI:               roi,
		TopOfBookNotional: topOfBook,
		DetectedAt:        now,
	}
}

// PairCost returns the all-in cost of one YES+NO share pair.
func (o *Opportunity) PairCost() decimal.Decimal {
	if !o.Shares.IsPositive() {
		return decimal.Zero
	}
	return o.GrossCost.Add(o.Fees).Div(o.Shares).Round(types.PricePrecision)
}

// Age returns how long ago the opportunity was detected.
func (o *Opportunity) Age(now time.Time) time.Duration {
	return now.Sub(o.DetectedAt)
}

// String returns a human-readable representation of the opportunity.
func (o *Opportunity) String() string {
	return fmt.Sprintf(
		"Opportunity[%s] Pair=%s YES=%s NO=%s Shares=%s Net=$%s ROI=%.4f",
		o.ID[:8],
		o.PairKey,
		o.YesPrice.StringFixed(4),
		o.NoPrice.StringFixed(4),
		o.Shares.String(),
		o.NetProfit.StringFixed(2),
		o.ROI,
	)
}
