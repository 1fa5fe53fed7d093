package execution

import (
	"sync"
	"time"
)

// Cooldown throttles repeat executions per market. A market that was just
// traded (or just had orders dispatched, whatever the fills did) stays
// untradeable until the window elapses.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewCooldown creates a cooldown tracker with the given window.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// CanTrade reports whether the market's last execution attempt is at least
// one full window in the past. Markets never attempted are tradeable.
func (c *Cooldown) CanTrade(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.last[key]
	if !ok {
		return true
	}
	return now.Sub(at) >= c.window
}

// Record marks an execution attempt for the market at now. Callers record
// immediately after dispatching orders regardless of the fill outcome, and
// after a slippage abort, so a churning market cannot be hammered.
func (c *Cooldown) Record(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last[key] = now
	CooldownsRecordedTotal.Inc()
}

// Remaining returns how long until the market is tradeable again. Zero
// means tradeable now.
func (c *Cooldown) Remaining(key string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.last[key]
	if !ok {
		return 0
	}
	left := c.window - now.Sub(at)
	if left < 0 {
		return 0
	}
	return left
}
