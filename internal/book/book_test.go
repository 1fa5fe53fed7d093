package book

import (
	"errors"
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, size string) types.PriceLevel {
	return types.PriceLevel{Price: d(price), Size: d(size)}
}

func newTestBook(t *testing.T) *Book {
	t.Helper()
	bk := NewBook(types.VenuePolymarket, "tok-1", false)
	err := bk.ApplySnapshot(
		[]types.PriceLevel{level("0.40", "100"), level("0.39", "50")},
		[]types.PriceLevel{level("0.42", "80"), level("0.44", "120")},
		10,
	)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return bk
}

func TestBook_SnapshotAndBest(t *testing.T) {
	bk := newTestBook(t)

	bid, ok := bk.Best(types.SideBid)
	if !ok || !bid.Price.Equal(d("0.40")) {
		t.Errorf("best bid = %v/%v, want 0.40", bid.Price, ok)
	}

	ask, ok := bk.Best(types.SideAsk)
	if !ok || !ask.Price.Equal(d("0.42")) {
		t.Errorf("best ask = %v/%v, want 0.42", ask.Price, ok)
	}

	if bk.Seq() != 10 {
		t.Errorf("seq = %d, want 10", bk.Seq())
	}
}

func TestBook_SnapshotSortsUnorderedLevels(t *testing.T) {
	bk := NewBook(types.VenueKalshi, "tok-2", true)
	err := bk.ApplySnapshot(
		[]types.PriceLevel{level("0.30", "10"), level("0.35", "10"), level("0.32", "10")},
		[]types.PriceLevel{level("0.50", "10"), level("0.45", "10"), level("0.48", "10")},
		1,
	)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	bids := bk.Walk(types.SideBid, 20)
	for i := 1; i < len(bids); i++ {
		if !bids[i].Price.LessThan(bids[i-1].Price) {
			t.Errorf("bids not descending at %d: %v then %v", i, bids[i-1].Price, bids[i].Price)
		}
	}

	asks := bk.Walk(types.SideAsk, 20)
	for i := 1; i < len(asks); i++ {
		if !asks[i].Price.GreaterThan(asks[i-1].Price) {
			t.Errorf("asks not ascending at %d: %v then %v", i, asks[i-1].Price, asks[i].Price)
		}
	}
}

func TestBook_DeltaInsertReplaceRemove(t *testing.T) {
	bk := newTestBook(t)

	// Insert a new ask level between existing ones
	err := bk.ApplyDelta(types.SideAsk, d("0.43"), d("60"), 11)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	asks := bk.Walk(types.SideAsk, 20)
	if len(asks) != 3 || !asks[1].Price.Equal(d("0.43")) {
		t.Fatalf("asks after insert = %v", asks)
	}

	// Replace the size of an existing level
	err = bk.ApplyDelta(types.SideAsk, d("0.42"), d("5"), 12)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	best, _ := bk.Best(types.SideAsk)
	if !best.Size.Equal(d("5")) {
		t.Errorf("best ask size = %v, want 5", best.Size)
	}

	// Remove via zero size
	err = bk.ApplyDelta(types.SideAsk, d("0.42"), decimal.Zero, 13)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}

	best, _ = bk.Best(types.SideAsk)
	if !best.Price.Equal(d("0.43")) {
		t.Errorf("best ask after remove = %v, want 0.43", best.Price)
	}
}

func TestBook_StaleSeqDroppedSilently(t *testing.T) {
	bk := newTestBook(t)

	before := bk.Walk(types.SideAsk, 20)

	// seq == current
	if err := bk.ApplyDelta(types.SideAsk, d("0.42"), d("999"), 10); err != nil {
		t.Fatalf("equal seq: %v", err)
	}
	// seq < current
	if err := bk.ApplyDelta(types.SideAsk, d("0.42"), d("999"), 3); err != nil {
		t.Fatalf("older seq: %v", err)
	}

	after := bk.Walk(types.SideAsk, 20)
	if len(before) != len(after) {
		t.Fatalf("stale delta changed book: %v → %v", before, after)
	}
	for i := range before {
		if !before[i].Price.Equal(after[i].Price) || !before[i].Size.Equal(after[i].Size) {
			t.Errorf("level %d changed: %v → %v", i, before[i], after[i])
		}
	}

	if bk.Seq() != 10 {
		t.Errorf("seq = %d, want unchanged 10", bk.Seq())
	}
}

func TestBook_CrossedDeltaPausesBook(t *testing.T) {
	bk := newTestBook(t)

	// A bid at 0.43 crosses the 0.42 ask
	err := bk.ApplyDelta(types.SideBid, d("0.43"), d("10"), 11)
	if err == nil {
		t.Fatal("expected invariant violation")
	}
	if !errors.Is(err, types.ErrBookInvariantViolated) {
		t.Errorf("error = %v, want ErrBookInvariantViolated", err)
	}
	if types.KindOf(err) != types.KindBookInvariant {
		t.Errorf("kind = %q, want %q", types.KindOf(err), types.KindBookInvariant)
	}

	if !bk.Paused() {
		t.Error("expected book to pause after violation")
	}

	// Further deltas are ignored while paused
	if err := bk.ApplyDelta(types.SideAsk, d("0.50"), d("10"), 12); err != nil {
		t.Fatalf("paused delta: %v", err)
	}
	if bk.Seq() != 11 {
		t.Errorf("seq advanced while paused: %d", bk.Seq())
	}

	// A snapshot recovers the book
	err = bk.ApplySnapshot(
		[]types.PriceLevel{level("0.40", "100")},
		[]types.PriceLevel{level("0.42", "80")},
		20,
	)
	if err != nil {
		t.Fatalf("recovery snapshot: %v", err)
	}
	if bk.Paused() {
		t.Error("expected book to resume after snapshot")
	}
	if bk.Seq() != 20 {
		t.Errorf("seq = %d, want 20", bk.Seq())
	}
}

func TestBook_DenseSeqGapPausesBook(t *testing.T) {
	bk := NewBook(types.VenueKalshi, "tok-3", true)
	err := bk.ApplySnapshot(
		[]types.PriceLevel{level("0.40", "100")},
		[]types.PriceLevel{level("0.45", "100")},
		5,
	)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// Contiguous delta applies
	if err := bk.ApplyDelta(types.SideAsk, d("0.46"), d("10"), 6); err != nil {
		t.Fatalf("contiguous delta: %v", err)
	}

	// Gap: 6 → 8
	err = bk.ApplyDelta(types.SideAsk, d("0.47"), d("10"), 8)
	if !errors.Is(err, types.ErrBookInvariantViolated) {
		t.Fatalf("expected violation on gap, got %v", err)
	}
	if !bk.Paused() {
		t.Error("expected pause on sequence gap")
	}
}

func TestBook_NeverCrossedAfterUpdates(t *testing.T) {
	bk := newTestBook(t)

	deltas := []struct {
		side  types.BookSide
		price string
		size  string
	}{
		{types.SideBid, "0.41", "30"},
		{types.SideAsk, "0.42", "0"},
		{types.SideAsk, "0.43", "70"},
		{types.SideBid, "0.38", "200"},
		{types.SideBid, "0.41", "0"},
	}

	seq := uint64(11)
	for _, dl := range deltas {
		err := bk.ApplyDelta(dl.side, d(dl.price), d(dl.size), seq)
		if err != nil {
			t.Fatalf("delta %v: %v", dl, err)
		}
		seq++

		bid, haveBid := bk.Best(types.SideBid)
		ask, haveAsk := bk.Best(types.SideAsk)
		if haveBid && haveAsk && !bid.Price.LessThan(ask.Price) {
			t.Fatalf("crossed book: bid %v, ask %v", bid.Price, ask.Price)
		}
	}
}

func TestBook_WalkRespectsMaxLevels(t *testing.T) {
	bk := NewBook(types.VenuePolymarket, "tok-4", false)
	bids := make([]types.PriceLevel, 0, 30)
	for i := 0; i < 30; i++ {
		price := decimal.NewFromFloat(0.01).Mul(decimal.NewFromInt(int64(i + 1)))
		bids = append(bids, types.PriceLevel{Price: price, Size: d("10")})
	}
	if err := bk.ApplySnapshot(bids, nil, 1); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	walked := bk.Walk(types.SideBid, 20)
	if len(walked) != 20 {
		t.Errorf("walk returned %d levels, want 20", len(walked))
	}
	if !walked[0].Price.Equal(d("0.3")) {
		t.Errorf("first bid = %v, want 0.3", walked[0].Price)
	}
}

func TestBook_StaleAndReady(t *testing.T) {
	bk := newTestBook(t)

	if bk.Stale(10 * time.Second) {
		t.Error("fresh book reported stale")
	}
	if !bk.Ready(10 * time.Second) {
		t.Error("fresh book reported not ready")
	}

	empty := NewBook(types.VenuePolymarket, "tok-5", false)
	if !empty.Stale(10 * time.Second) {
		t.Error("never-updated book must be stale")
	}
	if empty.Ready(10 * time.Second) {
		t.Error("never-updated book must not be ready")
	}
}
