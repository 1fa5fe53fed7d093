package book

import (
	"context"
	"sync"

	"github.com/mselser95/prediction-arb/internal/events"
	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SnapshotRequester asks the owning venue adapter for a fresh book snapshot.
// The snapshot arrives later through the adapter's update channel.
type SnapshotRequester func(ctx context.Context, venue types.Venue, tokenID string)

// Manager owns the books of all monitored tokens across venues. One
// ingestion goroutine per source channel applies updates; on an invariant
// violation it requests a recovery snapshot and the book stays paused
// until the snapshot arrives.
type Manager struct {
	mu        sync.RWMutex
	books     map[string]*Book // key: types.TokenKey(venue, tokenID)
	denseSeq  map[types.Venue]bool
	requester SnapshotRequester
	hub       *events.Hub
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds book manager configuration.
type Config struct {
	// DenseSeqVenues lists venues whose feeds number deltas contiguously,
	// enabling sequence-gap detection.
	DenseSeqVenues []types.Venue
	Requester      SnapshotRequester
	Hub            *events.Hub
	Logger         *zap.Logger
}

// NewManager creates a new book manager.
func NewManager(cfg *Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	dense := make(map[types.Venue]bool, len(cfg.DenseSeqVenues))
	for _, venue := range cfg.DenseSeqVenues {
		dense[venue] = true
	}

	return &Manager{
		books:     make(map[string]*Book),
		denseSeq:  dense,
		requester: cfg.Requester,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AddSource starts an ingestion goroutine draining the given update channel.
// Call once per venue adapter before updates start flowing.
func (m *Manager) AddSource(updates <-chan types.BookUpdate) {
	m.wg.Add(1)
	go m.ingest(updates)
}

func (m *Manager) ingest(updates <-chan types.BookUpdate) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				m.logger.Info("book-update-channel-closed")
				return
			}
			m.apply(update)
		}
	}
}

func (m *Manager) apply(update types.BookUpdate) {
	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	bk := m.EnsureBook(update.Venue, update.TokenID)

	var err error
	if update.IsSnapshot {
		err = bk.ApplySnapshot(update.Bids, update.Asks, update.Seq)
		SnapshotsAppliedTotal.WithLabelValues(string(update.Venue)).Inc()
	} else {
		prevSeq := bk.Seq()
		err = bk.ApplyDeltas(update.Bids, update.Asks, update.Seq)
		if err == nil && bk.Seq() == prevSeq {
			DeltasDroppedTotal.WithLabelValues(string(update.Venue), "stale_seq").Inc()
		}
	}
	UpdatesTotal.WithLabelValues(string(update.Venue)).Inc()

	if err == nil {
		return
	}

	InvariantViolationsTotal.WithLabelValues(string(update.Venue)).Inc()
	m.logger.Warn("book-invariant-violated",
		zap.String("venue", string(update.Venue)),
		zap.String("token-id", update.TokenID),
		zap.Uint64("seq", update.Seq),
		zap.Error(err))

	m.hub.Publish(events.Event{
		Type:      events.TypeBookReset,
		Venue:     update.Venue,
		MarketKey: types.TokenKey(update.Venue, update.TokenID),
	})

	if m.requester != nil {
		// Snapshot fetch is network I/O; never block ingestion on it.
		go m.requester(m.ctx, update.Venue, update.TokenID)
	}
}

// EnsureBook returns the book for a token, creating it if needed.
func (m *Manager) EnsureBook(venue types.Venue, tokenID string) *Book {
	key := types.TokenKey(venue, tokenID)

	m.mu.RLock()
	bk, ok := m.books[key]
	m.mu.RUnlock()
	if ok {
		return bk
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bk, ok = m.books[key]; ok {
		return bk
	}

	bk = NewBook(venue, tokenID, m.denseSeq[venue])
	m.books[key] = bk
	BooksTracked.Set(float64(len(m.books)))
	return bk
}

// Book returns the live book for a token, if one exists.
func (m *Manager) Book(venue types.Venue, tokenID string) (*Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bk, ok := m.books[types.TokenKey(venue, tokenID)]
	return bk, ok
}

// Drop removes books for tokens no longer monitored.
func (m *Manager) Drop(venue types.Venue, tokenIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tokenID := range tokenIDs {
		delete(m.books, types.TokenKey(venue, tokenID))
	}
	BooksTracked.Set(float64(len(m.books)))
}

// Close stops all ingestion goroutines.
func (m *Manager) Close() error {
	m.logger.Info("closing-book-manager")
	m.cancel()
	m.wg.Wait()
	m.logger.Info("book-manager-closed")
	return nil
}
