// SPDX-License-Identifier: MIT

// Package cache is the TTL object cache backing series-details lookups:
// one extended-details fetch per series per TTL, surviving across runs.
// Backends: in-process memory (default) or Redis for shared deployments.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Cache is a thread-safe key-value store with per-entry expiry.
type Cache interface {
	// Get returns the stored value, or false when absent or expired.
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
	Stats() Stats
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	CurrentSize int
}

// Stopper is implemented by backends holding background goroutines.
type Stopper interface {
	Stop()
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool { return now.After(e.expiresAt) }

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64

	janitorStop chan struct{}
}

// NewMemoryCache builds the in-process backend. A positive
// cleanupInterval starts a janitor goroutine that evicts expired entries;
// Stop ends it.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{entries: make(map[string]*entry)}
	if cleanupInterval > 0 {
		c.janitorStop = make(chan struct{})
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *memoryCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || e.expired(time.Now()) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	c.sets.Add(1)
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func (c *memoryCache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

func (c *memoryCache) deleteExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.evictions.Add(int64(count))
	return count
}

// Stop ends the janitor goroutine. Safe when none was started.
func (c *memoryCache) Stop() {
	if c.janitorStop != nil {
		close(c.janitorStop)
	}
}

func (c *memoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.janitorStop:
			return
		}
	}
}

type noOpCache struct{}

// NewNoOpCache returns a backend that stores nothing, for deployments
// with details caching disabled.
func NewNoOpCache() Cache {
	return &noOpCache{}
}

func (noOpCache) Get(string) (any, bool)         { return nil, false }
func (noOpCache) Set(string, any, time.Duration) {}
func (noOpCache) Delete(string)                  {}
func (noOpCache) Clear()                         {}
func (noOpCache) Stats() Stats                   { return Stats{} }
