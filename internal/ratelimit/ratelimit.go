// Package ratelimit throttles outbound venue requests. Each (venue, class)
// pair gets a sliding window, and every venue also has a global window
// spanning all classes; a request is admitted only when both windows have
// room. Refusals are handled per the request's priority: order placement
// blocks until a slot frees, market fetches back off with jittered
// exponential delay, and metadata requests are dropped.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mselser95/prediction-arb/pkg/types"
	"go.uber.org/zap"
)

// Class buckets venue endpoints by how aggressively they may be called.
type Class string

const (
	ClassOrders  Class = "orders"
	ClassMarkets Class = "markets"
	ClassDefault Class = "default"
)

// Priority selects the refusal policy when a window is full.
type Priority string

const (
	// PriorityCritical never drops. The caller blocks until a slot frees
	// or its context expires. Used for order placement and unwinds.
	PriorityCritical Priority = "critical"

	// PriorityNormal retries with jittered exponential backoff.
	PriorityNormal Priority = "normal"

	// PriorityBackground fails fast with ErrRateLimited.
	PriorityBackground Priority = "background"
)

// Limit caps requests inside a rolling window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits returns the per-class limits used when none are configured.
// Order endpoints are throttled harder than read endpoints.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassOrders:  {Requests: 5, Window: time.Second},
		ClassMarkets: {Requests: 10, Window: time.Second},
		ClassDefault: {Requests: 10, Window: time.Second},
	}
}

// DefaultGlobalLimit caps all classes of one venue combined.
func DefaultGlobalLimit() Limit {
	return Limit{Requests: 20, Window: time.Second}
}

const (
	defaultInitialBackoff = 5 * time.Second
	defaultMaxBackoff     = 60 * time.Second
)

// window is one sliding window: timestamps of admitted requests, pruned
// as they age out.
type window struct {
	limit  Limit
	stamps []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.limit.Window)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}

func (w *window) hasRoom(now time.Time) bool {
	w.prune(now)
	return len(w.stamps) < w.limit.Requests
}

// nextFree returns how long until the oldest stamp ages out. Zero when the
// window already has room.
func (w *window) nextFree(now time.Time) time.Duration {
	w.prune(now)
	if len(w.stamps) < w.limit.Requests {
		return 0
	}
	return w.stamps[0].Add(w.limit.Window).Sub(now)
}

// Config holds rate limiter configuration.
type Config struct {
	// Limits overrides the per-class windows. Classes not present fall
	// back to DefaultLimits.
	Limits map[Class]Limit
	// Global overrides the per-venue window across all classes.
	Global Limit
	// InitialBackoff and MaxBackoff bound the normal-priority retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
}

// Limiter admits requests against sliding windows keyed by venue and class.
type Limiter struct {
	mu      sync.Mutex
	limits  map[Class]Limit
	global  Limit
	class   map[string]*window      // key: venue + "/" + class
	venue   map[types.Venue]*window // global window per venue
	initial time.Duration
	max     time.Duration
	logger  *zap.Logger
}

// New creates a new limiter.
func New(cfg *Config) *Limiter {
	limits := DefaultLimits()
	for class, limit := range cfg.Limits {
		limits[class] = limit
	}

	global := cfg.Global
	if global.Requests == 0 {
		global = DefaultGlobalLimit()
	}

	initial := cfg.InitialBackoff
	if initial == 0 {
		initial = defaultInitialBackoff
	}
	ceiling := cfg.MaxBackoff
	if ceiling == 0 {
		ceiling = defaultMaxBackoff
	}

	return &Limiter{
		limits:  limits,
		global:  global,
		class:   make(map[string]*window),
		venue:   make(map[types.Venue]*window),
		initial: initial,
		max:     ceiling,
		logger:  cfg.Logger,
	}
}

// Acquire admits one request for the venue and class, applying the
// priority's refusal policy. A nil error means the request may proceed.
func (l *Limiter) Acquire(ctx context.Context, venue types.Venue, class Class, priority Priority) error {
	start := time.Now()

	if l.tryReserve(venue, class, start) {
		RequestsAdmittedTotal.WithLabelValues(string(venue), string(class)).Inc()
		return nil
	}

	switch priority {
	case PriorityBackground:
		RequestsDroppedTotal.WithLabelValues(string(venue), string(class)).Inc()
		return types.NewError(types.KindRateLimit, "",
			fmt.Errorf("%s/%s: %w", venue, class, types.ErrRateLimited))
	case PriorityCritical:
		err := l.waitForSlot(ctx, venue, class)
		if err != nil {
			return err
		}
	default:
		err := l.backoffForSlot(ctx, venue, class)
		if err != nil {
			return err
		}
	}

	WaitDuration.WithLabelValues(string(class)).Observe(time.Since(start).Seconds())
	RequestsAdmittedTotal.WithLabelValues(string(venue), string(class)).Inc()
	return nil
}

// tryReserve stamps both the class window and the venue's global window,
// or neither.
func (l *Limiter) tryReserve(venue types.Venue, class Class, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	classWin := l.classWindowLocked(venue, class)
	globalWin := l.venueWindowLocked(venue)

	if !classWin.hasRoom(now) || !globalWin.hasRoom(now) {
		return false
	}

	classWin.stamps = append(classWin.stamps, now)
	globalWin.stamps = append(globalWin.stamps, now)
	return true
}

// waitForSlot sleeps exactly until the blocking window frees, then retries.
func (l *Limiter) waitForSlot(ctx context.Context, venue types.Venue, class Class) error {
	for {
		wait := l.nextFree(venue, class)
		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if l.tryReserve(venue, class, time.Now()) {
			return nil
		}
	}
}

// backoffForSlot retries with full-jitter exponential delay: each attempt
// sleeps uniformly in [0, backoff] while backoff doubles up to the cap.
func (l *Limiter) backoffForSlot(ctx context.Context, venue types.Venue, class Class) error {
	backoff := l.initial

	for {
		delay := time.Duration(rand.Float64() * float64(backoff))

		l.logger.Debug("rate-limit-backoff",
			zap.String("venue", string(venue)),
			zap.String("class", string(class)),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if l.tryReserve(venue, class, time.Now()) {
			return nil
		}

		backoff *= 2
		if backoff > l.max {
			backoff = l.max
		}
	}
}

func (l *Limiter) nextFree(venue types.Venue, class Class) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	classWait := l.classWindowLocked(venue, class).nextFree(now)
	globalWait := l.venueWindowLocked(venue).nextFree(now)

	if globalWait > classWait {
		return globalWait
	}
	return classWait
}

func (l *Limiter) classWindowLocked(venue types.Venue, class Class) *window {
	key := string(venue) + "/" + string(class)
	win, ok := l.class[key]
	if !ok {
		limit, known := l.limits[class]
		if !known {
			limit = l.limits[ClassDefault]
		}
		win = &window{limit: limit}
		l.class[key] = win
	}
	return win
}

func (l *Limiter) venueWindowLocked(venue types.Venue) *window {
	win, ok := l.venue[venue]
	if !ok {
		win = &window{limit: l.global}
		l.venue[venue] = win
	}
	return win
}
