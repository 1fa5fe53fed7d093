package capital

import (
	"context"
	"sync"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// DefaultBalanceTTL is how long a fetched balance stays fresh.
	DefaultBalanceTTL = 30 * time.Second

	// defaultFetchTimeout bounds one balance query on the wire.
	defaultFetchTimeout = 5 * time.Second
)

// BalanceSource fetches the spendable balance from a venue.
type BalanceSource func(ctx context.Context) (decimal.Decimal, error)

// BalanceConfig holds balance manager configuration.
type BalanceConfig struct {
	Venue types.Venue
	Fetch BalanceSource
	// TTL is the cache freshness horizon; zero means DefaultBalanceTTL.
	TTL time.Duration
	// Timeout bounds one fetch; zero means 5s.
	Timeout time.Duration
	// Fallback is returned when no fetch has ever succeeded.
	Fallback decimal.Decimal
	Logger   *zap.Logger
}

// BalanceManager caches one venue's spendable balance. Reads inside the
// TTL are served from cache; a failed refresh falls back to the last known
// value, or to the configured fallback when nothing was ever fetched.
type BalanceManager struct {
	venue    types.Venue
	fetch    BalanceSource
	ttl      time.Duration
	timeout  time.Duration
	fallback decimal.Decimal
	logger   *zap.Logger

	mu       sync.Mutex
	cached   decimal.Decimal
	cachedAt time.Time
	seeded   bool
}

// NewBalanceManager creates a balance manager for one venue.
func NewBalanceManager(cfg *BalanceConfig) *BalanceManager {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultBalanceTTL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}

	return &BalanceManager{
		venue:    cfg.Venue,
		fetch:    cfg.Fetch,
		ttl:      ttl,
		timeout:  timeout,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
	}
}

// Balance returns the venue's spendable balance, refreshing the cache when
// stale. It never returns an error: sizing degrades to the last known or
// fallback value rather than stalling the engine.
func (b *BalanceManager) Balance(ctx context.Context) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.seeded && time.Since(b.cachedAt) < b.ttl {
		BalanceCacheHitsTotal.WithLabelValues(string(b.venue)).Inc()
		return b.cached
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	balance, err := b.fetch(fetchCtx)
	if err != nil {
		BalanceFetchesTotal.WithLabelValues(string(b.venue), "error").Inc()

		if b.seeded {
			b.logger.Warn("balance-refresh-failed-serving-stale",
				zap.String("venue", string(b.venue)),
				zap.String("stale-balance", b.cached.String()),
				zap.Error(err))
			return b.cached
		}

		b.logger.Warn("balance-fetch-failed-serving-fallback",
			zap.String("venue", string(b.venue)),
			zap.String("fallback", b.fallback.String()),
			zap.Error(err))
		return b.fallback
	}

	BalanceFetchesTotal.WithLabelValues(string(b.venue), "ok").Inc()
	b.cached = balance
	b.cachedAt = time.Now()
	b.seeded = true
	return balance
}

// Invalidate drops the cache so the next read refetches. Called after every
// execution since fills change the balance.
func (b *BalanceManager) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cachedAt = time.Time{}
}
