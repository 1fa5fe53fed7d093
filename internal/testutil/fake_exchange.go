// Package testutil provides fakes and fixtures shared across package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// FakeExchange is an in-memory exchange.Client. Order behavior is scripted
// through PlaceFunc; everything else records calls for assertions.
type FakeExchange struct {
	venue   types.Venue
	updates chan types.BookUpdate

	mu         sync.Mutex
	markets    []*types.UnifiedMarket
	subscribed map[string]bool
	snapshots  []string
	orders     []*types.OrderRequest

	// PlaceFunc scripts PlaceOrder. Defaults to filling the full size at
	// the limit price with zero fee.
	PlaceFunc func(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error)
	// BalanceFunc scripts Balance. Defaults to $1000.
	BalanceFunc func(ctx context.Context) (decimal.Decimal, error)
}

// NewFakeExchange creates a fake client for the given venue.
func NewFakeExchange(venue types.Venue) *FakeExchange {
	return &FakeExchange{
		venue:      venue,
		updates:    make(chan types.BookUpdate, 256),
		subscribed: make(map[string]bool),
	}
}

// SetMarkets replaces the ListMarkets response.
func (f *FakeExchange) SetMarkets(markets ...*types.UnifiedMarket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = markets
}

// Push emits a book update as if it arrived from the venue feed.
func (f *FakeExchange) Push(update types.BookUpdate) {
	f.updates <- update
}

// Orders returns a copy of every order placed so far.
func (f *FakeExchange) Orders() []*types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

// Subscribed reports whether a token is currently subscribed.
func (f *FakeExchange) Subscribed(tokenID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[tokenID]
}

// SnapshotRequests returns the tokens snapshots were requested for.
func (f *FakeExchange) SnapshotRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.snapshots))
	copy(out, f.snapshots)
	return out
}

// Venue implements exchange.Client.
func (f *FakeExchange) Venue() types.Venue { return f.venue }

// Start implements exchange.Client.
func (f *FakeExchange) Start(_ context.Context) error { return nil }

// ListMarkets implements exchange.Client.
func (f *FakeExchange) ListMarkets(_ context.Context) ([]*types.UnifiedMarket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.UnifiedMarket, len(f.markets))
	copy(out, f.markets)
	return out, nil
}

// Subscribe implements exchange.Client.
func (f *FakeExchange) Subscribe(_ context.Context, tokenIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tokenIDs {
		f.subscribed[id] = true
	}
	return nil
}

// Unsubscribe implements exchange.Client.
func (f *FakeExchange) Unsubscribe(_ context.Context, tokenIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tokenIDs {
		delete(f.subscribed, id)
	}
	return nil
}

// Updates implements exchange.Client.
func (f *FakeExchange) Updates() <-chan types.BookUpdate { return f.updates }

// RequestSnapshot implements exchange.Client.
func (f *FakeExchange) RequestSnapshot(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, tokenID)
	return nil
}

// PlaceOrder implements exchange.Client.
func (f *FakeExchange) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*types.OrderResult, error) {
	f.mu.Lock()
	f.orders = append(f.orders, req)
	place := f.PlaceFunc
	n := len(f.orders)
	f.mu.Unlock()

	if place != nil {
		return place(ctx, req)
	}
	return &types.OrderResult{
		Status:       types.OrderFilled,
		VenueOrderID: fmt.Sprintf("%s-order-%d", f.venue, n),
		Price:        req.Price,
		Size:         req.Size,
	}, nil
}

// Balance implements exchange.Client.
func (f *FakeExchange) Balance(ctx context.Context) (decimal.Decimal, error) {
	if f.BalanceFunc != nil {
		return f.BalanceFunc(ctx)
	}
	return decimal.NewFromInt(1000), nil
}

// Close implements exchange.Client.
func (f *FakeExchange) Close() error {
	close(f.updates)
	return nil
}
