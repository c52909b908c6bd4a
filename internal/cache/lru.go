// Geoscope - Live Geospatial Viewport Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geoscope

// Package cache provides the last-known-good feature cache: an in-memory LRU
// in front of an optional badger-backed store. The engine uses it to seed the
// primary layer on startup and to retain prior render state across transient
// fetch failures.
package cache

import (
	"sync"
	"time"

	"github.com/tomtom215/geoscope/internal/models"
)

// lruEntry is a node in the doubly-linked recency list.
type lruEntry struct {
	key       string
	value     models.FeatureSet
	prev      *lruEntry
	next      *lruEntry
	expiresAt time.Time
}

// FeatureLRU is a thread-safe LRU of decoded feature sets keyed by quantized
// viewport (see Key). O(1) Get, Add, and eviction; TTL with lazy expiration.
type FeatureLRU struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration

	items map[string]*lruEntry

	// head.next is most recently used, tail.prev least recently used.
	head *lruEntry
	tail *lruEntry

	hits   int64
	misses int64
}

// NewFeatureLRU creates an LRU with the given capacity and entry TTL.
func NewFeatureLRU(capacity int, ttl time.Duration) *FeatureLRU {
	if capacity <= 0 {
		capacity = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c := &FeatureLRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry, capacity),
		head:     &lruEntry{},
		tail:     &lruEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get retrieves a cached feature set. Found entries move to the front.
func (c *FeatureLRU) Get(key string) (models.FeatureSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.items[key]
	if !exists {
		c.misses++
		return models.FeatureSet{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		return models.FeatureSet{}, false
	}

	c.moveToFront(entry)
	c.hits++
	return entry.value, true
}

// Add inserts or refreshes an entry, evicting the least recently used entry
// when over capacity.
func (c *FeatureLRU) Add(key string, fs models.FeatureSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if entry, exists := c.items[key]; exists {
		entry.value = fs
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &lruEntry{key: key, value: fs, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[key] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove deletes an entry. Returns true if it existed.
func (c *FeatureLRU) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.items[key]; exists {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the current number of entries.
func (c *FeatureLRU) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns hit/miss counters and current size.
func (c *FeatureLRU) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.items)
}

// Internal methods (must be called with lock held)

func (c *FeatureLRU) addToFront(entry *lruEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *FeatureLRU) moveToFront(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *FeatureLRU) removeEntry(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *FeatureLRU) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}
