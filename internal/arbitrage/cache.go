package arbitrage

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// replaceHysteresis is the ROI improvement a new opportunity needs to
	// displace a live cache entry for the same market.
	replaceHysteresis = 1.05
	// replaceAge is how old an entry may grow before any fresh detection
	// replaces it regardless of ROI.
	replaceAge = 2 * time.Second
)

// Cache holds the current best opportunity per market. Inserts apply ROI
// hysteresis so the published view does not flap on noise; the janitor
// purges entries whose books went quiet.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Opportunity
	logger  *zap.Logger
}

// NewCache creates an empty opportunity cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*Opportunity),
		logger:  logger,
	}
}

// Insert offers an opportunity to the cache and reports whether it was
// accepted. An existing entry for the same market survives unless the
// newcomer's ROI beats it by the hysteresis factor or the entry has aged
// out.
func (c *Cache) Insert(opp *Opportunity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[opp.PairKey]
	if ok {
		aged := opp.DetectedAt.Sub(existing.DetectedAt) > replaceAge
		improved := opp.ROI > existing.ROI*replaceHysteresis
		if !aged && !improved {
			return false
		}
	}

	c.entries[opp.PairKey] = opp
	CacheSize.Set(float64(len(c.entries)))
	return true
}

// Get returns the cached opportunity for a market key.
func (c *Cache) Get(pairKey string) (*Opportunity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opp, ok := c.entries[pairKey]
	return opp, ok
}

// TopK returns the k highest-ROI opportunities, descending.
func (c *Cache) TopK(k int) []*Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Opportunity, 0, len(c.entries))
	for _, opp := range c.entries {
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ROI > out[j].ROI
	})

	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Remove drops the entry for a market key.
func (c *Cache) Remove(pairKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, pairKey)
	CacheSize.Set(float64(len(c.entries)))
}

// Len returns the number of cached opportunities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge removes every entry the predicate marks stale and returns how many
// were dropped. The janitor calls this with a book-staleness check.
func (c *Cache) Purge(stale func(*Opportunity) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, opp := range c.entries {
		if stale(opp) {
			delete(c.entries, key)
			dropped++
		}
	}

	if dropped > 0 {
		CacheSize.Set(float64(len(c.entries)))
		CachePurgedTotal.Add(float64(dropped))
		c.logger.Debug("opportunities-purged", zap.Int("count", dropped))
	}
	return dropped
}
