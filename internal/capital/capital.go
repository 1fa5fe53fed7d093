// Package capital sizes trades. The allocator scales a base per-trade
// budget by opportunity quality, running daily P&L, and time of day, then
// bounds the result by the spendable balance less a depth-dependent safety
// buffer. The balance manager caches venue balances so sizing never waits
// on the wire in the hot path.
package capital

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// roiReference is the ROI earning a neutral multiplier; richer
	// opportunities size up toward roiMultMax.
	roiReference = 0.02
	roiMultMin   = 0.5
	roiMultMax   = 2.0

	// qualityReference is the market score earning a neutral multiplier.
	qualityReference = 50.0
	qualityMultMin   = 0.5
	qualityMultMax   = 1.5

	// UTC trading-hours multipliers. Peak overlaps US afternoon volume.
	peakStartHour = 14
	peakEndHour   = 20
	lowEndHour    = 8
	peakMult      = 1.2
	lowMult       = 0.6

	// Balance buffer: 2% for trades consuming under a quarter of the top
	// of book, scaling linearly to 10% for trades that would eat it all.
	bufferMin             = 0.02
	bufferMax             = 0.10
	bufferKneeConsumption = 0.25
)

// Request carries what allocation needs to know about a candidate trade.
type Request struct {
	// ROI is net profit over gross cost at the detected size.
	ROI float64
	// Score is the market quality score in [0, 100].
	Score float64
	// EffectiveCost is the all-in per-pair cost: eff(YES) + eff(NO) plus
	// both fees.
	EffectiveCost decimal.Decimal
	// TopOfBookNotional is the USD resting at the two best asks combined,
	// used to judge how much of the visible depth the trade would consume.
	TopOfBookNotional decimal.Decimal
}

// Allocation is the allocator's decision for one trade.
type Allocation struct {
	// Dollars is the spend ceiling after multipliers and the buffer bound.
	Dollars decimal.Decimal
	// Shares is the whole number of share pairs affordable at the
	// effective cost.
	Shares decimal.Decimal
	// Buffer is the balance fraction held back.
	Buffer float64
}

// Config holds allocator configuration.
type Config struct {
	// CapitalPerTrade is the base budget in USD before multipliers.
	CapitalPerTrade float64
	// MaxDailyLoss anchors the P&L multiplier's lower knee.
	MaxDailyLoss float64
	Logger       *zap.Logger
}

// Allocator computes per-trade position sizes.
type Allocator struct {
	base         decimal.Decimal
	maxDailyLoss float64
	logger       *zap.Logger
}

// New creates a new allocator.
func New(cfg *Config) *Allocator {
	return &Allocator{
		base:         decimal.NewFromFloat(cfg.CapitalPerTrade),
		maxDailyLoss: cfg.MaxDailyLoss,
		logger:       cfg.Logger,
	}
}

// Allocate sizes one trade. available is the spendable balance (for
// cross-venue trades, the smaller of the two venues); dailyPnL is the
// risk manager's running day total.
func (a *Allocator) Allocate(req *Request, available decimal.Decimal, dailyPnL float64, now time.Time) *Allocation {
	multiplier := roiMult(req.ROI) * qualityMult(req.Score) * pnlMult(dailyPnL, a.maxDailyLoss) * timeMult(now)
	size := a.base.Mul(decimal.NewFromFloat(multiplier))

	buffer := dynamicBuffer(size, req.TopOfBookNotional)
	bound := available.Mul(decimal.NewFromFloat(1 - buffer))
	if size.GreaterThan(bound) {
		size = bound
	}
	if size.IsNegative() {
		size = decimal.Zero
	}

	shares := decimal.Zero
	if req.EffectiveCost.IsPositive() {
		shares = size.Div(req.EffectiveCost).Floor()
	}

	alloc := &Allocation{
		Dollars: size.Round(2),
		Shares:  shares,
		Buffer:  buffer,
	}

	AllocationsTotal.Inc()
	AllocationDollars.Observe(alloc.Dollars.InexactFloat64())

	a.logger.Debug("capital-allocated",
		zap.Float64("multiplier", multiplier),
		zap.Float64("buffer", buffer),
		zap.String("dollars", alloc.Dollars.String()),
		zap.String("shares", alloc.Shares.String()))

	return alloc
}

// roiMult rewards rich opportunities and trims thin ones.
func roiMult(roi float64) float64 {
	return clamp(roi/roiReference, roiMultMin, roiMultMax)
}

// qualityMult scales by market quality around the tradeable threshold.
func qualityMult(score float64) float64 {
	return clamp(score/qualityReference, qualityMultMin, qualityMultMax)
}

// pnlMult sizes down as the day's losses approach half the daily limit:
// full size at flat-or-better, half size at −0.5·MaxDailyLoss, linear
// in between.
func pnlMult(dailyPnL, maxDailyLoss float64) float64 {
	if dailyPnL >= 0 {
		return 1.0
	}
	if maxDailyLoss <= 0 {
		return 0.5
	}
	return clamp(1.0+dailyPnL/maxDailyLoss, 0.5, 1.0)
}

// timeMult follows intraday liquidity: peak UTC afternoon, thin overnight.
func timeMult(now time.Time) float64 {
	hour := now.UTC().Hour()
	switch {
	case hour >= peakStartHour && hour < peakEndHour:
		return peakMult
	case hour < lowEndHour:
		return lowMult
	default:
		return 1.0
	}
}

// dynamicBuffer widens the held-back balance fraction as the intended
// trade consumes more of the visible top-of-book depth.
func dynamicBuffer(size, topOfBookNotional decimal.Decimal) float64 {
	if !topOfBookNotional.IsPositive() {
		return bufferMax
	}

	consumption := size.Div(topOfBookNotional).InexactFloat64()
	if consumption < bufferKneeConsumption {
		return bufferMin
	}
	if consumption >= 1.0 {
		return bufferMax
	}

	scale := (consumption - bufferKneeConsumption) / (1.0 - bufferKneeConsumption)
	return bufferMin + scale*(bufferMax-bufferMin)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
