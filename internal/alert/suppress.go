package alert

import (
	"sync"
	"time"
)

// suppressionCache remembers dedup keys that already produced or matched an
// alert inside the suppression window, so a burst of repeated anomalies from
// one source does not hit the alert store once per event.
type suppressionCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

func newSuppressionCache(ttl time.Duration, maxSize int) *suppressionCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &suppressionCache{
		seen:    make(map[string]time.Time, maxSize/2),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Suppressed returns true if the key was marked within the TTL window.
func (c *suppressionCache) Suppressed(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	markedAt, ok := c.seen[key]
	return ok && now.Sub(markedAt) < c.ttl
}

// Mark records the key, evicting expired entries when over capacity.
func (c *suppressionCache) Mark(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen[key] = now
	if len(c.seen) > c.maxSize {
		c.evictLocked(now)
	}
}

// evictLocked removes expired entries; if still over capacity, drops half.
func (c *suppressionCache) evictLocked(now time.Time) {
	for k, t := range c.seen {
		if now.Sub(t) >= c.ttl {
			delete(c.seen, k)
		}
	}
	if len(c.seen) > c.maxSize {
		count := 0
		target := len(c.seen) / 2
		for k := range c.seen {
			delete(c.seen, k)
			count++
			if count >= target {
				break
			}
		}
	}
}

// Size returns the current number of entries.
func (c *suppressionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
