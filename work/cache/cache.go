package cache

import (
	"sync"
	"time"

	"radio-relay/work/metrics"
	"radio-relay/work/types"
)

// QueryCache memoizes directory search results per query key.
// It has one global lifetime: once the whole cache is older than the TTL the
// next read drops every entry and restarts the clock. Entries carry no age of
// their own.
type QueryCache struct {
	entries   map[string][]types.Station // cached search results keyed by query
	mu        sync.RWMutex               // guards entries and lastClear
	ttl       time.Duration              // global lifetime of the cache
	lastClear time.Time                  // when the cache was last emptied
	now       func() time.Time           // clock, replaced in tests
}

// NewQueryCache creates an empty cache with the given global TTL.
//
// Parameters:
//   - ttl: how long the cache may live before it is cleared as a whole
//
// Returns:
//   - *QueryCache: ready to use cache
func NewQueryCache(ttl time.Duration) *QueryCache {
	return newQueryCacheWithClock(ttl, time.Now)
}

func newQueryCacheWithClock(ttl time.Duration, now func() time.Time) *QueryCache {
	return &QueryCache{
		entries:   make(map[string][]types.Station),
		ttl:       ttl,
		lastClear: now(),
		now:       now,
	}
}

// GetStations returns the cached stations for key.
//
// Behavior:
//   - if the cache has outlived its TTL, every entry is dropped, the clock is
//     reset and the lookup misses
//   - otherwise the stored value, if any, is returned
//
// Parameters:
//   - key: normalized query key
//
// Returns:
//   - []types.Station: cached result when present
//   - bool: true on a hit
func (c *QueryCache) GetStations(key string) ([]types.Station, bool) {
	c.clearIfNeeded()

	// acquire read lock for the lookup itself
	c.mu.RLock()
	defer c.mu.RUnlock()

	stations, ok := c.entries[key]
	if !ok {
		metrics.QueryCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}

	metrics.QueryCacheLookups.WithLabelValues("hit").Inc()
	return stations, true
}

// SetStations stores stations under key. It never fails.
func (c *QueryCache) SetStations(key string, stations []types.Station) {

	// acquire write lock for mutation
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = stations
}

// Len reports the number of cached queries
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry and restarts the TTL clock
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]types.Station)
	c.lastClear = c.now()
}

// clearIfNeeded empties the cache once its global age exceeds the TTL
func (c *QueryCache) clearIfNeeded() {

	// cheap check under the read lock first
	c.mu.RLock()
	expired := c.now().Sub(c.lastClear) > c.ttl
	c.mu.RUnlock()
	if !expired {
		return
	}

	// re-check under the write lock, another reader may have cleared already
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastClear) > c.ttl {
		c.entries = make(map[string][]types.Station)
		c.lastClear = c.now()
	}
}
