// Package exchange defines the capability set the core consumes from a
// venue. Concrete adapters live in the polymarket and kalshi subpackages;
// everything above this layer is venue-agnostic.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Per-operation deadlines. Adapters bound each network call with these so a
// slow venue cannot stall the critical section.
const (
	BalanceTimeout  = 5 * time.Second
	OrderTimeout    = 3 * time.Second
	SnapshotTimeout = 10 * time.Second
)

// Client is one venue adapter. Implementations own their transport
// (REST + WebSocket), authentication, and rate-limit accounting; callers
// see normalized markets, book updates, and order results.
type Client interface {
	// Venue identifies the platform this client trades on.
	Venue() types.Venue

	// Start connects the market-data feed. Must be called before Subscribe.
	Start(ctx context.Context) error

	// ListMarkets fetches all active binary markets, normalized.
	ListMarkets(ctx context.Context) ([]*types.UnifiedMarket, error)

	// Subscribe begins streaming book updates for the given token IDs.
	Subscribe(ctx context.Context, tokenIDs []string) error

	// Unsubscribe stops streaming book updates for the given token IDs.
	Unsubscribe(ctx context.Context, tokenIDs []string) error

	// Updates delivers parsed book updates (snapshots and deltas).
	Updates() <-chan types.BookUpdate

	// RequestSnapshot fetches a fresh book snapshot over REST and emits it
	// through Updates. Used to recover from invariant violations.
	RequestSnapshot(ctx context.Context, tokenID string) error

	// PlaceOrder submits one order leg and waits for its terminal state.
	PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error)

	// Balance returns the venue's available trading balance in USD.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// Close tears down connections and stops background goroutines.
	Close() error
}

// Registry holds the enabled venue clients keyed by venue.
type Registry struct {
	clients map[types.Venue]Client
	venues  []types.Venue // registration order
}

// NewRegistry builds a registry from the given clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{
		clients: make(map[types.Venue]Client, len(clients)),
	}
	for _, client := range clients {
		if _, ok := r.clients[client.Venue()]; ok {
			continue
		}
		r.clients[client.Venue()] = client
		r.venues = append(r.venues, client.Venue())
	}
	return r
}

// Client returns the adapter for a venue.
func (r *Registry) Client(venue types.Venue) (Client, bool) {
	client, ok := r.clients[venue]
	return client, ok
}

// Venues returns the registered venues in registration order.
func (r *Registry) Venues() []types.Venue {
	out := make([]types.Venue, len(r.venues))
	copy(out, r.venues)
	return out
}

// All returns the registered clients in registration order.
func (r *Registry) All() []Client {
	out := make([]Client, 0, len(r.venues))
	for _, venue := range r.venues {
		out = append(out, r.clients[venue])
	}
	return out
}

// Start starts every registered client, failing on the first error.
func (r *Registry) Start(ctx context.Context) error {
	for _, venue := range r.venues {
		if err := r.clients[venue].Start(ctx); err != nil {
			return fmt.Errorf("start %s client: %w", venue, err)
		}
	}
	return nil
}

// Close closes every registered client, collecting all errors.
func (r *Registry) Close() error {
	var errs []error
	for _, venue := range r.venues {
		if err := r.clients[venue].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s client: %w", venue, err))
		}
	}
	return errors.Join(errs...)
}
