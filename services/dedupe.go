package services

import (
	"container/list"
	"sync"
	"time"
)

// Dedupe defaults for webhook redeliveries
const (
	DefaultDedupeWindow    = 5 * time.Minute
	DefaultDedupeHighWater = 5000
	DefaultDedupeHardLimit = 10000
)

// Deduper suppresses repeated processing of the same platform event.
// The in-memory implementation is process local; running several instances
// needs a shared implementation behind this interface.
type Deduper interface {
	CheckAndMark(key string) bool
}

type dedupeEntry struct {
	seenAt  time.Time
	element *list.Element
}

// DedupeCache is a bounded, time windowed set of seen keys
type DedupeCache struct {
	mu        sync.Mutex
	seen      map[string]*dedupeEntry
	order     *list.List // keys in insertion order, oldest at front
	window    time.Duration
	highWater int
	hardLimit int
	now       func() time.Time
}

// NewDedupeCache creates a cache. Eviction starts once the cache holds more
// than highWater keys: expired keys are purged first and, if the size is still
// above hardLimit, the oldest keys are dropped until highWater is reached again.
func NewDedupeCache(window time.Duration, highWater, hardLimit int) *DedupeCache {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if highWater <= 0 {
		highWater = DefaultDedupeHighWater
	}
	if hardLimit < highWater {
		hardLimit = highWater
	}
	return &DedupeCache{
		seen:      make(map[string]*dedupeEntry),
		order:     list.New(),
		window:    window,
		highWater: highWater,
		hardLimit: hardLimit,
		now:       time.Now,
	}
}

// CheckAndMark returns true if key was already seen inside the window, in
// which case the caller must skip processing. Otherwise the key is recorded
// and false is returned. The empty key is never a duplicate.
func (c *DedupeCache) CheckAndMark(key string) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok {
		if now.Sub(entry.seenAt) < c.window {
			return true
		}
		// Expired: record again as a fresh sighting
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return false
	}

	c.seen[key] = &dedupeEntry{
		seenAt:  now,
		element: c.order.PushBack(key),
	}

	if len(c.seen) > c.highWater {
		c.evictLocked(now)
	}
	return false
}

// Len returns the number of tracked keys
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictLocked must be called with mu held
func (c *DedupeCache) evictLocked(now time.Time) {
	c.evictExpiredLocked(now)

	if len(c.seen) <= c.hardLimit {
		return
	}
	for len(c.seen) > c.highWater {
		front := c.order.Front()
		if front == nil {
			return
		}
		key, _ := front.Value.(string)
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictExpiredLocked must be called with mu held. Entries are ordered by last
// sighting, so expired ones sit at the front.
func (c *DedupeCache) evictExpiredLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.window {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}
