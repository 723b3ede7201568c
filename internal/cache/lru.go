// Package cache provides bounded, recency-ordered caches with lazy expiry.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Default sizes and lifetime.
const (
	DefaultResultCapacity  = 2000
	DefaultPatternCapacity = 5000
	DefaultTTL             = 30 * time.Minute
)

type entry[V any] struct {
	storedAt time.Time
	value    V
}

// Stats reports cache activity counters.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// Option configures an LRU.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// LRU is a fixed-capacity least-recently-used cache with a time-to-live.
// Every operation, including promote-on-hit, runs under one mutex.
type LRU[V any] struct {
	lru      *simplelru.LRU[string, entry[V]]
	now      func() time.Time
	ttl      time.Duration
	capacity int
	stats    Stats
	mu       sync.Mutex
}

// New creates an LRU holding at most capacity entries. A ttl of zero disables expiry.
func New[V any](capacity int, ttl time.Duration, opts ...Option) (*LRU[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %s", ttl)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	inner, err := simplelru.NewLRU[string, entry[V]](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}

	return &LRU[V]{
		lru:      inner,
		now:      o.now,
		ttl:      ttl,
		capacity: capacity,
	}, nil
}

// Get returns the value for key and marks it most recently used. Entries
// older than the TTL are removed and reported as a miss.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}

	c.stats.Hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Add(key, entry[V]{value: value, storedAt: c.now()}) {
		c.stats.Evictions++
	}
}

// Invalidate removes key. It reports whether the key was present.
func (c *LRU[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear removes every entry.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Size returns the number of stored entries, expired ones included.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep drops every expired entry and returns how many were removed.
// Reads already ignore expired entries; Sweep only reclaims memory.
func (c *LRU[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && c.expired(e) {
			c.lru.Remove(key)
			removed++
		}
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Stats returns a snapshot of the activity counters.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.lru.Len()
	s.Capacity = c.capacity
	return s
}

func (c *LRU[V]) expired(e entry[V]) bool {
	return c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl
}
