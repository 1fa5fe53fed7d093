package storage

import (
	"context"
	"fmt"

	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// ConsoleSink implements Sink by pretty-printing to console.
type ConsoleSink struct {
	logger *zap.Logger
}

// NewConsoleSink creates a new console sink.
func NewConsoleSink(logger *zap.Logger) *ConsoleSink {
	logger.Info("console-sink-initialized")
	return &ConsoleSink{
		logger: logger,
	}
}

// Record pretty-prints a trade to console.
func (c *ConsoleSink) Record(ctx context.Context, trade *types.Trade) error {
	notional := trade.Price.Mul(trade.Size)

	fmt.Println("\n" + "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("💸 TRADE EXECUTED\n")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Venue:    %s\n", trade.Venue)
	fmt.Printf("Market:   %s\n", trade.MarketID)
	fmt.Printf("Token:    %s (%s)\n", trade.TokenID, trade.Outcome)
	fmt.Printf("Order:    %s\n", trade.VenueOrderID)
	fmt.Printf("Time:     %s\n", trade.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  %s %s @ %s\n", trade.Side, trade.Size.StringFixed(4), trade.Price.StringFixed(6))
	fmt.Printf("  Notional: $%s\n", notional.StringFixed(2))
	fmt.Printf("  Fee:      $%s\n", trade.Fee.StringFixed(4))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	return nil
}

// Close is a no-op for console sink.
func (c *ConsoleSink) Close() error {
	c.logger.Info("closing-console-sink")
	return nil
}
