// Package impact computes depth-aware effective prices by sweeping an ask
// (or bid) side greedily from the best level outward. All arithmetic is
// fixed-point: 6-decimal prices, 4-decimal sizes.
package impact

import (
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Result is the outcome of a sweep. When the requested quantity exceeds
// available depth, Shares and EffectivePrice describe what the book could
// supply and DepthExhausted is set.
type Result struct {
	Shares         decimal.Decimal // shares acquired, 4dp
	EffectivePrice decimal.Decimal // size-weighted average price, 6dp
	Cost           decimal.Decimal // Σ price·fill before fees
	DepthExhausted bool
}

// EffectivePrice sweeps levels for the requested number of shares.
// Levels must be in directional order (asks ascending for buys).
// Equal-price levels are merged implicitly by consuming both.
func EffectivePrice(levels []types.PriceLevel, shares decimal.Decimal) Result {
	shares = shares.Round(types.SizePrecision)
	if shares.IsZero() || shares.IsNegative() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero}
	}

	remaining := shares
	cost := decimal.Zero
	filled := decimal.Zero

	for _, level := range levels {
		if remaining.IsZero() {
			break
		}

		fill := decimal.Min(remaining, level.Size)
		cost = cost.Add(level.Price.Mul(fill))
		filled = filled.Add(fill)
		remaining = remaining.Sub(fill)
	}

	if filled.IsZero() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero, DepthExhausted: true}
	}

	return Result{
		Shares:         filled.Round(types.SizePrecision),
		EffectivePrice: cost.Div(filled).Round(types.PricePrecision),
		Cost:           cost,
		DepthExhausted: remaining.IsPositive(),
	}
}

// SharesForSpend consumes levels greedily until the spend is exhausted or
// the book is. Partial fills of a level are allowed to land exactly on the
// spend, subject to 4dp size resolution.
func SharesForSpend(levels []types.PriceLevel, spend decimal.Decimal) Result {
	if spend.IsZero() || spend.IsNegative() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero}
	}

	remaining := spend
	cost := decimal.Zero
	filled := decimal.Zero
	spentOut := false

	for _, level := range levels {
		levelCost := level.Price.Mul(level.Size)
		if levelCost.LessThanOrEqual(remaining) {
			cost = cost.Add(levelCost)
			filled = filled.Add(level.Size)
			remaining = remaining.Sub(levelCost)
			if remaining.IsZero() {
				spentOut = true
				break
			}
			continue
		}

		// Partial fill of this level lands the spend exactly, subject to 4dp
		fill := remaining.Div(level.Price).RoundDown(types.SizePrecision)
		if fill.IsPositive() {
			cost = cost.Add(level.Price.Mul(fill))
			filled = filled.Add(fill)
			remaining = remaining.Sub(level.Price.Mul(fill))
		}
		spentOut = true
		break
	}

	if filled.IsZero() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero, DepthExhausted: !spentOut}
	}

	return Result{
		Shares:         filled.Round(types.SizePrecision),
		EffectivePrice: cost.Div(filled).Round(types.PricePrecision),
		Cost:           cost,
		DepthExhausted: !spentOut && remaining.IsPositive(),
	}
}

// MaxSharesUnder returns the largest N with effective_price(N) ≤ priceCap.
// Effective price is non-decreasing in N, so each level is either fully
// admitted, or the boundary fill inside it is solved directly from
// cost_before + price·x ≤ priceCap·(filled_before + x).
func MaxSharesUnder(levels []types.PriceLevel, priceCap decimal.Decimal) Result {
	if priceCap.IsZero() || priceCap.IsNegative() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero}
	}

	cost := decimal.Zero
	filled := decimal.Zero
	exhausted := true

	for _, level := range levels {
		if level.Price.LessThanOrEqual(priceCap) {
			// Whole level keeps the average at or under the cap
			cost = cost.Add(level.Price.Mul(level.Size))
			filled = filled.Add(level.Size)
			continue
		}

		// price > cap: admit x shares while the blended average holds.
		// cost + price·x ≤ cap·(filled + x)  ⇒  x ≤ (cap·filled − cost) / (price − cap)
		headroom := priceCap.Mul(filled).Sub(cost)
		if !headroom.IsPositive() {
			exhausted = false
			break
		}

		x := headroom.Div(level.Price.Sub(priceCap)).RoundDown(types.SizePrecision)
		if x.GreaterThan(level.Size) {
			x = level.Size
		}
		if x.IsPositive() {
			cost = cost.Add(level.Price.Mul(x))
			filled = filled.Add(x)
		}
		if x.LessThan(level.Size) {
			exhausted = false
		}
		break
	}

	if filled.IsZero() {
		return Result{Shares: decimal.Zero, EffectivePrice: decimal.Zero, Cost: decimal.Zero, DepthExhausted: len(levels) == 0}
	}

	return Result{
		Shares:         filled.Round(types.SizePrecision),
		EffectivePrice: cost.Div(filled).Round(types.PricePrecision),
		Cost:           cost,
		DepthExhausted: exhausted,
	}
}
