package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPlanCacheReturnsStoredDocument(t *testing.T) {
	c := NewPlanCache(Config{TTL: time.Minute})
	queue := json.RawMessage(`[{"id":"fb-1","rank":1}]`)

	c.Set("latest", queue)

	entry, ok := c.Get("latest")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(entry.Queue) != string(queue) {
		t.Fatalf("unexpected cached document: %s", entry.Queue)
	}
}

func TestPlanCacheMissOnUnknownKey(t *testing.T) {
	c := NewPlanCache(Config{})
	if _, ok := c.Get("latest"); ok {
		t.Fatal("expected cache miss")
	}
}

func TestPlanCacheExpiresEntries(t *testing.T) {
	c := NewPlanCache(Config{TTL: time.Nanosecond})
	c.Set("latest", json.RawMessage(`[]`))

	time.Sleep(time.Millisecond)
	if _, ok := c.Get("latest"); ok {
		t.Fatal("expected expired entry to be evicted")
	}
}

func TestPlanCacheInvalidateDropsEntry(t *testing.T) {
	c := NewPlanCache(Config{TTL: time.Minute})
	c.Set("latest", json.RawMessage(`[]`))

	c.Invalidate("latest")
	if _, ok := c.Get("latest"); ok {
		t.Fatal("expected entry to be gone after invalidation")
	}
}

func TestPlanCacheEvictsOldestAtCapacity(t *testing.T) {
	c := NewPlanCache(Config{TTL: time.Minute, MaxEntries: 2})
	c.Set("first", json.RawMessage(`1`))
	time.Sleep(time.Millisecond)
	c.Set("second", json.RawMessage(`2`))
	time.Sleep(time.Millisecond)
	c.Set("third", json.RawMessage(`3`))

	if _, ok := c.Get("first"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, ok := c.Get("third"); !ok {
		t.Fatal("expected newest entry to survive")
	}
}

func TestPlanCacheCopiesOnWriteAndRead(t *testing.T) {
	c := NewPlanCache(Config{TTL: time.Minute})
	queue := json.RawMessage(`[1]`)
	c.Set("latest", queue)
	queue[1] = '9'

	entry, _ := c.Get("latest")
	if string(entry.Queue) != "[1]" {
		t.Fatalf("cache entry aliased caller buffer: %s", entry.Queue)
	}
	entry.Queue[1] = '9'

	again, _ := c.Get("latest")
	if string(again.Queue) != "[1]" {
		t.Fatalf("cache entry mutated by reader: %s", again.Queue)
	}
}
