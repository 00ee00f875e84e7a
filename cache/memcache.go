// cache/memcache.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package cache provides the two tile stores: a byte-bounded in-memory LRU
// shared between the render thread and the retrieval workers, and a file
// store that mirrors tile addresses onto a local directory tree.
package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memEntry[V any] struct {
	value V
	size  int64
}

// MemoryCache is a least-recently-used cache bounded by the total byte size
// of its entries rather than by entry count. Get and Put are safe for
// concurrent use; the render thread reads while retrieval workers publish.
type MemoryCache[K comparable, V any] struct {
	lru      *lru.Cache[K, memEntry[V]]
	capacity int64
	used     atomic.Int64
}

// NewMemoryCache returns a cache that holds at most capacity bytes across at
// most maxEntries entries, whichever bound is hit first.
func NewMemoryCache[K comparable, V any](capacity int64, maxEntries int) (*MemoryCache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity %d: must be positive", capacity)
	}

	c := &MemoryCache[K, V]{capacity: capacity}
	var err error
	c.lru, err = lru.NewWithEvict(maxEntries, func(key K, e memEntry[V]) {
		c.used.Add(-e.size)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Put stores value under key, accounting size bytes against the cache's
// capacity and evicting least-recently-used entries as needed to stay under
// it. An entry larger than the whole cache is still admitted; everything
// else is evicted to make room.
func (c *MemoryCache[K, V]) Put(key K, value V, size int64) {
	// Replacing an entry doesn't trigger the eviction callback, so settle
	// its accounting here.
	if prev, ok := c.lru.Peek(key); ok {
		c.used.Add(-prev.size)
	}

	c.lru.Add(key, memEntry[V]{value: value, size: size})
	c.used.Add(size)

	for c.used.Load() > c.capacity && c.lru.Len() > 1 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Get returns the value stored under key and marks it recently used.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	e, ok := c.lru.Get(key)
	return e.value, ok
}

// Peek returns the value stored under key without updating recency.
func (c *MemoryCache[K, V]) Peek(key K) (V, bool) {
	e, ok := c.lru.Peek(key)
	return e.value, ok
}

func (c *MemoryCache[K, V]) Contains(key K) bool {
	return c.lru.Contains(key)
}

func (c *MemoryCache[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

func (c *MemoryCache[K, V]) Clear() {
	c.lru.Purge()
}

func (c *MemoryCache[K, V]) Len() int { return c.lru.Len() }

// UsedBytes returns the total accounted size of the resident entries.
func (c *MemoryCache[K, V]) UsedBytes() int64 { return c.used.Load() }

func (c *MemoryCache[K, V]) CapacityBytes() int64 { return c.capacity }
