// Package cache provides the TTL cache backing market discovery state.
package cache

import "time"

// Cache is a TTL key-value store. The app keeps per-market discovery
// state in one so refresh cycles can tell new listings apart from
// markets they have already seen.
type Cache interface {
	// Get retrieves a value. Returns (nil, false) on a miss.
	Get(key string) (interface{}, bool)

	// Set stores a value with a TTL. Admission is best-effort; a false
	// return means the entry was not kept.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a key.
	Delete(key string)

	// Clear drops every entry.
	Clear()

	// Close releases the cache's resources.
	Close()
}
