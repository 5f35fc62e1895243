// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "sync"

// LruCache is a fixed-capacity map evicting its least recently used entry
// when full. It is safe for concurrent use.
type LruCache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*lruEntry[K, V]
	capacity int
	head     *lruEntry[K, V] // most recently used
	tail     *lruEntry[K, V] // least recently used
}

type lruEntry[K comparable, V any] struct {
	key  K
	val  V
	prev *lruEntry[K, V]
	next *lruEntry[K, V]
}

// NewLruCache creates a cache holding up to capacity entries. The capacity
// must be positive.
func NewLruCache[K comparable, V any](capacity int) *LruCache[K, V] {
	if capacity <= 0 {
		panic("cache capacity must be positive")
	}
	return &LruCache[K, V]{
		entries:  make(map[K]*lruEntry[K, V], capacity),
		capacity: capacity,
	}
}

// Get looks up the given key and marks it as recently used.
func (c *LruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, found := c.entries[key]
	if !found {
		var empty V
		return empty, false
	}
	c.moveToFront(item)
	return item.val, true
}

// Set adds or updates the entry of the given key, evicting the least
// recently used entry if the cache is full. The evicted key is returned.
func (c *LruCache[K, V]) Set(key K, val V) (evicted K, wasEvicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, found := c.entries[key]; found {
		item.val = val
		c.moveToFront(item)
		return evicted, false
	}
	var item *lruEntry[K, V]
	if len(c.entries) >= c.capacity {
		item = c.tail
		c.unlink(item)
		delete(c.entries, item.key)
		evicted, wasEvicted = item.key, true
	} else {
		item = new(lruEntry[K, V])
	}
	item.key, item.val = key, val
	c.entries[key] = item
	c.pushFront(item)
	return evicted, wasEvicted
}

// Remove drops the entry of the given key, if present.
func (c *LruCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item, found := c.entries[key]; found {
		c.unlink(item)
		delete(c.entries, key)
	}
}

// Len returns the number of cached entries.
func (c *LruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LruCache[K, V]) moveToFront(item *lruEntry[K, V]) {
	if item == c.head {
		return
	}
	c.unlink(item)
	c.pushFront(item)
}

func (c *LruCache[K, V]) pushFront(item *lruEntry[K, V]) {
	item.prev = nil
	item.next = c.head
	if c.head != nil {
		c.head.prev = item
	}
	c.head = item
	if c.tail == nil {
		c.tail = item
	}
}

func (c *LruCache[K, V]) unlink(item *lruEntry[K, V]) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		c.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		c.tail = item.prev
	}
	item.prev, item.next = nil, nil
}
