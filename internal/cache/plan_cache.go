// Package cache provides a short-lived in-process cache for planner queue
// documents so the read path does not hit the rankings store on every request.
package cache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Snapshot is a cached copy of a persisted priority queue document.
type Snapshot struct {
	Queue     json.RawMessage
	CachedAt  time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type PlanCache struct {
	mu         sync.RWMutex
	entries    map[string]Snapshot
	ttl        time.Duration
	maxEntries int
}

func NewPlanCache(config Config) *PlanCache {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 64
	}
	return &PlanCache{
		entries:    make(map[string]Snapshot),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *PlanCache) Get(key string) (Snapshot, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return Snapshot{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Snapshot{}, false
	}
	return cloneSnapshot(entry), true
}

func (c *PlanCache) Set(key string, queue json.RawMessage) {
	now := time.Now().UTC()
	entry := Snapshot{
		Queue:     append([]byte(nil), queue...),
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = entry
}

// Invalidate drops a cached document, typically after a planning run
// persisted a fresh snapshot.
func (c *PlanCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *PlanCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value Snapshot
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.CachedAt.Before(pairs[j].value.CachedAt)
	})
	delete(c.entries, pairs[0].key)
}

func cloneSnapshot(entry Snapshot) Snapshot {
	clone := entry
	clone.Queue = append([]byte(nil), entry.Queue...)
	return clone
}
