package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price and size are fixed-point: prices carry six decimal places, sizes four.
const (
	PricePrecision int32 = 6
	SizePrecision  int32 = 4
)

// BookSide selects one side of an order book.
type BookSide string

const (
	SideBid BookSide = "bid"
	SideAsk BookSide = "ask"
)

// PriceLevel is a single (price, size) entry on one side of a book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Level builds a quantized PriceLevel from float inputs.
func Level(price, size float64) PriceLevel {
	return PriceLevel{
		Price: decimal.NewFromFloat(price).Round(PricePrecision),
		Size:  decimal.NewFromFloat(size).Round(SizePrecision),
	}
}

// BookUpdate is one parsed order-book message from a venue feed.
// Snapshot updates replace both sides; delta updates carry only the
// changed levels (a zero size deletes the level).
type BookUpdate struct {
	Venue      Venue
	TokenID    string
	Seq        uint64
	IsSnapshot bool
	Bids       []PriceLevel
	Asks       []PriceLevel
	ReceivedAt time.Time
}

// CeilToTick rounds a price up to the next tick boundary. Prices already on
// the grid are returned unchanged.
func CeilToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	q := price.Div(tick)
	return q.Ceil().Mul(tick).Round(PricePrecision)
}

// FloorToTick rounds a price down to the previous tick boundary.
func FloorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	q := price.Div(tick)
	return q.Floor().Mul(tick).Round(PricePrecision)
}
