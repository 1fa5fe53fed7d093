// Package storage persists executed trades. Two sinks exist: Postgres for
// real runs and a console pretty-printer for local paper trading.
package storage

import (
	"context"

	"github.com/mselser95/prediction-arb/pkg/types"
)

// Sink records executed trades. Implementations must be idempotent on the
// (venue, venue_order_id) key: reconciliation may retry a record after a
// partial failure and duplicates would corrupt P&L accounting.
type Sink interface {
	// Record persists one trade.
	Record(ctx context.Context, trade *types.Trade) error

	// Close closes the sink.
	Close() error
}
