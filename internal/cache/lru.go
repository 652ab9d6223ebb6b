// Package cache provides the bounded in-process caches used in front of
// durable memory and strategy storage. Eviction discards the
// least-recently-used entry once capacity is exceeded; it never deletes the
// durable record behind it.
package cache

import (
	"container/list"
	"sync"
)

// LRU is a bounded map with access-order eviction. Safe for concurrent use.
// The zero value is not usable; construct with NewLRU.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[K]*list.Element

	// onEvict runs under the cache lock and must not call back into the cache.
	onEvict func(K, V)
}

type lruEntry[K comparable, V any] struct {
	key K
	val V
}

// NewLRU creates a cache holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[K]*list.Element, capacity),
		onEvict:  onEvict,
	}
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry[K, V]).val, true
}

// Put inserts or replaces a value, evicting the least-recently-used entry
// if the cache is over capacity.
func (c *LRU[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry[K, V]).val = val
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry[K, V]{key: key, val: val})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// Remove drops a key without treating it as an eviction.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Each calls fn for every cached entry in most-recently-used order.
// fn must not call back into the cache.
func (c *LRU[K, V]) Each(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*lruEntry[K, V])
		if !fn(e.key, e.val) {
			return
		}
	}
}

func (c *LRU[K, V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*lruEntry[K, V])
	c.order.Remove(el)
	delete(c.entries, e.key)
	if c.onEvict != nil {
		c.onEvict(e.key, e.val)
	}
}
