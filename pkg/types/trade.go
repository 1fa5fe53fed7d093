package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TimeInForce controls fill semantics at the venue.
type TimeInForce string

const (
	// TIFFillOrKill fills the full size immediately or cancels entirely.
	TIFFillOrKill TimeInForce = "FOK"
	// TIFImmediateOrCancel fills what it can immediately, cancels the rest.
	// Used for defensive exits where partial fills are acceptable.
	TIFImmediateOrCancel TimeInForce = "IOC"
)

// OrderRequest describes one order leg submitted to a venue.
type OrderRequest struct {
	Venue       Venue
	MarketID    string
	TokenID     string
	Outcome     Outcome
	Side        Side
	Price       decimal.Decimal // limit price
	Size        decimal.Decimal // shares
	TimeInForce TimeInForce
	ClientID    string // idempotency token, uuid
}

// OrderStatus is the terminal state of an order attempt.
type OrderStatus string

const (
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderTimeout  OrderStatus = "TIMEOUT"
)

// OrderResult is the outcome of one order leg. FOK orders report either the
// full size filled or zero; IOC orders may report a partial size.
type OrderResult struct {
	Status       OrderStatus
	VenueOrderID string
	Price        decimal.Decimal // average fill price
	Size         decimal.Decimal // filled shares
	Fee          decimal.Decimal
	Reason       string // populated on rejection
}

// Filled reports whether the order filled at all.
func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == OrderFilled && r.Size.IsPositive()
}

// Trade is the immutable record of one executed order leg.
type Trade struct {
	Timestamp    time.Time
	Venue        Venue
	MarketID     string
	TokenID      string
	Outcome      Outcome
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	Fee          decimal.Decimal
	VenueOrderID string
}

// Position is an open arbitrage position: equal YES and NO share counts
// whose combined entry price was below one unit. The two legs may sit on
// different venues for cross-platform positions.
type Position struct {
	ID          string
	MarketKey   string // lock/cooldown key of the originating market or pair
	Question    string
	YesVenue    Venue
	NoVenue     Venue
	YesMarketID string
	NoMarketID  string
	YesTokenID  string
	NoTokenID   string
	YesShares   decimal.Decimal
	NoShares    decimal.Decimal
	YesAvgPrice decimal.Decimal
	NoAvgPrice  decimal.Decimal
	EntryFees   decimal.Decimal
	OpenedAt    time.Time
	RealizedPnL decimal.Decimal
}

// CostBasis returns the total entry cost of both legs excluding fees.
func (p *Position) CostBasis() decimal.Decimal {
	return p.YesShares.Mul(p.YesAvgPrice).Add(p.NoShares.Mul(p.NoAvgPrice))
}

// ExitReason classifies why a position is being closed.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitManual     ExitReason = "manual"
)

// ExitSignal asks the position monitor to close a position.
type ExitSignal struct {
	PositionID string
	MarketKey  string
	Reason     ExitReason
	At         time.Time
}
