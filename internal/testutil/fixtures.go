package testutil

import (
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// Market builds a binary market fixture with <id>-yes / <id>-no token IDs.
func Market(venue types.Venue, id, question string) *types.UnifiedMarket {
	return &types.UnifiedMarket{
		Venue:      venue,
		ID:         id,
		Question:   question,
		EndDate:    time.Now().Add(48 * time.Hour),
		Volume:     100_000,
		YesTokenID: id + "-yes",
		NoTokenID:  id + "-no",
		Active:     true,
	}
}

// Levels builds price levels from alternating price, size pairs.
func Levels(pairs ...float64) []types.PriceLevel {
	if len(pairs)%2 != 0 {
		panic("testutil.Levels: odd number of values")
	}
	levels := make([]types.PriceLevel, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		levels = append(levels, types.Level(pairs[i], pairs[i+1]))
	}
	return levels
}

// SeedBook installs a snapshot into the manager's book for the token.
func SeedBook(t *testing.T, manager *book.Manager, venue types.Venue, tokenID string, bids, asks []types.PriceLevel) {
	t.Helper()
	bk := manager.EnsureBook(venue, tokenID)
	if err := bk.ApplySnapshot(bids, asks, 1); err != nil {
		t.Fatalf("seed book %s: %v", tokenID, err)
	}
}
