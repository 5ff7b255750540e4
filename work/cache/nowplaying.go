package cache

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// NowPlayingCache keeps recently harvested ICY titles per stream URL so a
// page of listeners polling the same station does not open one upstream
// connection each. Entries expire individually, counted from the write.
type NowPlayingCache struct {
	cache *otter.Cache[string, string]
	ttl   time.Duration
}

// NewNowPlayingCache creates a cache holding at most maxSize titles for ttl each.
func NewNowPlayingCache(maxSize int, ttl time.Duration) *NowPlayingCache {
	c := otter.Must(&otter.Options[string, string]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, string](ttl),
	})

	return &NowPlayingCache{
		cache: c,
		ttl:   ttl,
	}
}

// Get returns the cached title for streamURL
func (nc *NowPlayingCache) Get(streamURL string) (string, bool) {
	return nc.cache.GetIfPresent(streamURL)
}

// Set stores title for streamURL
func (nc *NowPlayingCache) Set(streamURL, title string) {
	nc.cache.Set(streamURL, title)
}

// Invalidate drops the entry for streamURL
func (nc *NowPlayingCache) Invalidate(streamURL string) {
	nc.cache.Invalidate(streamURL)
}

// TTL reports the per-entry lifetime
func (nc *NowPlayingCache) TTL() time.Duration {
	return nc.ttl
}
