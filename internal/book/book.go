// Package book maintains depth-indexed order books per token, applying
// venue snapshots and deltas under per-token writer locks.
package book

import (
	"sort"
	"sync"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Book holds both sides of a single token's order book. Bids are sorted
// descending by price, asks ascending. All methods are safe for concurrent
// use; writers (the ingestion task) take the exclusive lock, readers
// (scorer, detector, monitor) share it.
type Book struct {
	mu       sync.RWMutex
	venue    types.Venue
	tokenID  string
	bids     []types.PriceLevel
	asks     []types.PriceLevel
	seq      uint64
	denseSeq bool // venue guarantees gap-free sequence numbers
	paused   bool // awaiting a fresh snapshot after an invariant violation
	updated  time.Time
}

// NewBook creates an empty book for a token. denseSeq enables gap detection
// for venues whose feeds number deltas contiguously.
func NewBook(venue types.Venue, tokenID string, denseSeq bool) *Book {
	return &Book{
		venue:    venue,
		tokenID:  tokenID,
		denseSeq: denseSeq,
	}
}

// Venue returns the venue this book belongs to.
func (b *Book) Venue() types.Venue { return b.venue }

// TokenID returns the token this book tracks.
func (b *Book) TokenID() string { return b.tokenID }

// ApplySnapshot resets both sides and the sequence number. A snapshot always
// clears the paused state: it is the recovery path after a violation.
// A crossed snapshot is itself a violation and leaves the book paused.
func (b *Book) ApplySnapshot(bids, asks []types.PriceLevel, seq uint64) error {
	newBids := sortLevels(bids, types.SideBid)
	newAsks := sortLevels(asks, types.SideAsk)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = newBids
	b.asks = newAsks
	b.seq = seq
	b.updated = time.Now()
	b.paused = false

	if b.crossedLocked() {
		b.paused = true
		return types.NewError(types.KindBookInvariant, types.TokenKey(b.venue, b.tokenID), types.ErrBookInvariantViolated)
	}

	return nil
}

// ApplyDelta applies a single price-level change. Deltas with
// seq ≤ current are dropped silently; observable state does not change.
func (b *Book) ApplyDelta(side types.BookSide, price, size decimal.Decimal, seq uint64) error {
	level := types.PriceLevel{Price: price, Size: size}
	if side == types.SideBid {
		return b.ApplyDeltas([]types.PriceLevel{level}, nil, seq)
	}
	return b.ApplyDeltas(nil, []types.PriceLevel{level}, seq)
}

// ApplyDeltas applies a batch of level changes sharing one sequence number.
// A level with size zero is removed. Returns an invariant error if the
// update crosses the book or (on dense-sequence venues) skips a number;
// the book pauses until the next snapshot in both cases.
func (b *Book) ApplyDeltas(bids, asks []types.PriceLevel, seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq <= b.seq {
		return nil
	}

	if b.paused {
		// Deltas are not trusted until the fresh snapshot lands.
		return nil
	}

	if b.denseSeq && b.seq > 0 && seq != b.seq+1 {
		b.paused = true
		return types.NewError(types.KindBookInvariant, types.TokenKey(b.venue, b.tokenID), types.ErrBookInvariantViolated)
	}

	for _, level := range bids {
		b.bids = applyLevel(b.bids, level, types.SideBid)
	}
	for _, level := range asks {
		b.asks = applyLevel(b.asks, level, types.SideAsk)
	}

	b.seq = seq
	b.updated = time.Now()

	if b.crossedLocked() {
		b.paused = true
		return types.NewError(types.KindBookInvariant, types.TokenKey(b.venue, b.tokenID), types.ErrBookInvariantViolated)
	}

	return nil
}

// Best returns the top level of the given side.
func (b *Book) Best(side types.BookSide) (types.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.sideLocked(side)
	if len(levels) == 0 {
		return types.PriceLevel{}, false
	}
	return levels[0], true
}

// Walk returns up to maxLevels levels of the given side in directional
// order (bids descending, asks ascending). The returned slice is a copy.
func (b *Book) Walk(side types.BookSide, maxLevels int) []types.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.sideLocked(side)
	if maxLevels > len(levels) {
		maxLevels = len(levels)
	}

	out := make([]types.PriceLevel, maxLevels)
	copy(out, levels[:maxLevels])
	return out
}

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Paused reports whether the book is awaiting a recovery snapshot.
func (b *Book) Paused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.paused
}

// LastUpdate returns the time of the last applied snapshot or delta.
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// Stale reports whether the book has seen no update within horizon.
func (b *Book) Stale(horizon time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated.IsZero() || time.Since(b.updated) > horizon
}

// Ready reports whether the book is usable for evaluation: not paused,
// fresh within horizon, and non-empty on the ask side.
func (b *Book) Ready(horizon time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.paused || b.updated.IsZero() || time.Since(b.updated) > horizon {
		return false
	}
	return len(b.asks) > 0
}

func (b *Book) sideLocked(side types.BookSide) []types.PriceLevel {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

// crossedLocked reports best_bid ≥ best_ask. Caller holds b.mu.
func (b *Book) crossedLocked() bool {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return false
	}
	return b.bids[0].Price.GreaterThanOrEqual(b.asks[0].Price)
}

// applyLevel inserts, replaces, or removes a level keeping the side sorted.
func applyLevel(levels []types.PriceLevel, level types.PriceLevel, side types.BookSide) []types.PriceLevel {
	idx := sort.Search(len(levels), func(i int) bool {
		if side == types.SideBid {
			return levels[i].Price.LessThanOrEqual(level.Price)
		}
		return levels[i].Price.GreaterThanOrEqual(level.Price)
	})

	exists := idx < len(levels) && levels[idx].Price.Equal(level.Price)

	if level.Size.IsZero() {
		if exists {
			return append(levels[:idx], levels[idx+1:]...)
		}
		return levels
	}

	if exists {
		levels[idx].Size = level.Size
		return levels
	}

	levels = append(levels, types.PriceLevel{})
	copy(levels[idx+1:], levels[idx:])
	levels[idx] = level
	return levels
}

// sortLevels copies and sorts snapshot levels into directional order,
// dropping zero-size entries.
func sortLevels(levels []types.PriceLevel, side types.BookSide) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, level := range levels {
		if level.Size.IsPositive() {
			out = append(out, level)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if side == types.SideBid {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})

	return out
}
