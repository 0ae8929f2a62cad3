package access

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// lruEntry is one cached verdict with its expiry.
type lruEntry struct {
	allowed   bool
	expiresAt time.Time
}

// LRUCache is the in-process decision cache: a bounded LRU with per-entry
// TTL. Invalidation swaps the whole LRU, which keeps the hot path free of
// any per-key bookkeeping.
type LRUCache struct {
	mu   sync.RWMutex
	lru  *lru.Cache[string, lruEntry]
	size int
	ttl  time.Duration
}

// NewLRUCache creates a decision cache holding up to size verdicts for at
// most ttl each.
func NewLRUCache(size int, ttl time.Duration) (*LRUCache, error) {
	c, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: c, size: size, ttl: ttl}, nil
}

// Get implements DecisionCache.Get.
func (c *LRUCache) Get(ctx context.Context, key string) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.lru.Get(key)
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

// Set implements DecisionCache.Set.
func (c *LRUCache) Set(ctx context.Context, key string, allowed bool) {
	c.mu.RLock()
	c.lru.Add(key, lruEntry{allowed: allowed, expiresAt: time.Now().Add(c.ttl)})
	c.mu.RUnlock()
}

// Invalidate implements DecisionCache.Invalidate.
func (c *LRUCache) Invalidate(ctx context.Context) {
	fresh, err := lru.New[string, lruEntry](c.size)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.lru = fresh
	c.mu.Unlock()
}

// SweepExpired drops entries past their TTL and reports how many went.
// The janitor calls this periodically; correctness never depends on it
// because Get checks expiry itself.
func (c *LRUCache) SweepExpired(ctx context.Context) int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, key := range c.lru.Keys() {
		if entry, ok := c.lru.Peek(key); ok && now.After(entry.expiresAt) {
			c.lru.Remove(key)
			removed++
		}
	}
	return removed
}

// Len reports the number of cached verdicts, expired or not.
func (c *LRUCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
