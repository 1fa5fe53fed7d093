package book

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

func TestManager_IngestAndRead(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := events.NewHub(logger)
	defer hub.Close()

	mgr := NewManager(&Config{
		Hub:    hub,
		Logger: logger,
	})
	defer mgr.Close()

	updates := make(chan types.BookUpdate, 10)
	mgr.AddSource(updates)

	updates <- types.BookUpdate{
		Venue:      types.VenuePolymarket,
		TokenID:    "tok-1",
		Seq:        1,
		IsSnapshot: true,
		Bids:       []types.PriceLevel{level("0.40", "100")},
		Asks:       []types.PriceLevel{level("0.48", "100")},
	}
	updates <- types.BookUpdate{
		Venue:   types.VenuePolymarket,
		TokenID: "tok-1",
		Seq:     2,
		Asks:    []types.PriceLevel{level("0.47", "25")},
	}

	waitFor(t, func() bool {
		bk, ok := mgr.Book(types.VenuePolymarket, "tok-1")
		if !ok {
			return false
		}
		best, ok := bk.Best(types.SideAsk)
		return ok && best.Price.Equal(d("0.47"))
	})
}

func TestManager_ViolationRequestsSnapshotAndPublishes(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := events.NewHub(logger)
	defer hub.Close()

	var mu sync.Mutex
	var requested []string
	requester := func(ctx context.Context, venue types.Venue, tokenID string) {
		mu.Lock()
		requested = append(requested, types.TokenKey(venue, tokenID))
		mu.Unlock()
	}

	mgr := NewManager(&Config{
		Requester: requester,
		Hub:       hub,
		Logger:    logger,
	})
	defer mgr.Close()

	resets := hub.Subscribe(10, events.TypeBookReset)

	updates := make(chan types.BookUpdate, 10)
	mgr.AddSource(updates)

	updates <- types.BookUpdate{
		Venue:      types.VenuePolymarket,
		TokenID:    "tok-1",
		Seq:        1,
		IsSnapshot: true,
		Bids:       []types.PriceLevel{level("0.40", "100")},
		Asks:       []types.PriceLevel{level("0.48", "100")},
	}
	// Crossing bid
	updates <- types.BookUpdate{
		Venue:   types.VenuePolymarket,
		TokenID: "tok-1",
		Seq:     2,
		Bids:    []types.PriceLevel{level("0.49", "10")},
	}

	select {
	case evt := <-resets:
		if evt.Type != events.TypeBookReset {
			t.Errorf("event type = %q, want %q", evt.Type, events.TypeBookReset)
		}
		if evt.MarketKey != "polymarket:tok-1" {
			t.Errorf("event market key = %q, want polymarket:tok-1", evt.MarketKey)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for book reset event")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(requested) == 1 && requested[0] == "polymarket:tok-1"
	})

	bk, _ := mgr.Book(types.VenuePolymarket, "tok-1")
	if !bk.Paused() {
		t.Error("expected book paused until snapshot arrives")
	}

	// Recovery snapshot resumes the book
	updates <- types.BookUpdate{
		Venue:      types.VenuePolymarket,
		TokenID:    "tok-1",
		Seq:        5,
		IsSnapshot: true,
		Bids:       []types.PriceLevel{level("0.40", "100")},
		Asks:       []types.PriceLevel{level("0.48", "100")},
	}

	waitFor(t, func() bool { return !bk.Paused() })
}

func TestManager_DenseSeqConfiguredPerVenue(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := events.NewHub(logger)
	defer hub.Close()

	mgr := NewManager(&Config{
		DenseSeqVenues: []types.Venue{types.VenueKalshi},
		Hub:            hub,
		Logger:         logger,
	})
	defer mgr.Close()

	kalshi := mgr.EnsureBook(types.VenueKalshi, "TICKER:yes")
	if !kalshi.denseSeq {
		t.Error("expected kalshi book to enforce dense sequences")
	}

	poly := mgr.EnsureBook(types.VenuePolymarket, "tok-1")
	if poly.denseSeq {
		t.Error("expected polymarket book to allow sparse sequences")
	}
}

func TestManager_Drop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := events.NewHub(logger)
	defer hub.Close()

	mgr := NewManager(&Config{Hub: hub, Logger: logger})
	defer mgr.Close()

	mgr.EnsureBook(types.VenuePolymarket, "tok-1")
	mgr.EnsureBook(types.VenuePolymarket, "tok-2")

	mgr.Drop(types.VenuePolymarket, "tok-1")

	if _, ok := mgr.Book(types.VenuePolymarket, "tok-1"); ok {
		t.Error("expected tok-1 to be dropped")
	}
	if _, ok := mgr.Book(types.VenuePolymarket, "tok-2"); !ok {
		t.Error("expected tok-2 to remain")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
