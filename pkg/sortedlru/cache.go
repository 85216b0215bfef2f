// Package sortedlru provides a fixed-capacity map that keeps its keys ordered
// and evicts the least recently used key when full.
package sortedlru

import (
	"cmp"
	"container/list"
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

type item[K cmp.Ordered, V any] struct {
	key   K
	value V
	elem  *list.Element
	live  bool
}

// Handle refers to an entry returned by Find. It stays usable until the
// entry is evicted or removed; Acquire reports whether that happened.
type Handle[K cmp.Ordered, V any] struct {
	it    *item[K, V]
	key   K
	value V
}

// Key returns the key the handle was found under.
func (h Handle[K, V]) Key() K { return h.key }

// Value returns the value stored under the handle's key at lookup time.
func (h Handle[K, V]) Value() V { return h.value }

// Cache is an ordered key/value store with a bounded number of entries.
// Recency is only changed by Insert and Acquire; Find is a pure lookup.
// Cache is safe for concurrent use.
type Cache[K cmp.Ordered, V any] struct {
	mu       sync.Mutex
	capacity int
	tree     *btree.BTreeG[*item[K, V]]
	recency  *list.List // front is most recently used
}

// New creates a cache holding at most capacity entries. A capacity below one
// is treated as one.
func New[K cmp.Ordered, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{
		capacity: capacity,
		tree: btree.NewG[*item[K, V]](btreeDegree, func(a, b *item[K, V]) bool {
			return a.key < b.key
		}),
		recency: list.New(),
	}
}

// Capacity returns the maximum number of entries.
func (c *Cache[K, V]) Capacity() int { return c.capacity }

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}

// Insert stores value under key and makes it the most recently used entry.
// When the key is new and the cache is full, the least recently used entry
// is evicted first.
func (c *Cache[K, V]) Insert(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.tree.Get(&item[K, V]{key: key}); ok {
		existing.value = value
		c.recency.MoveToFront(existing.elem)
		return
	}
	if c.tree.Len() >= c.capacity {
		c.evictLocked()
	}
	it := &item[K, V]{key: key, value: value, live: true}
	it.elem = c.recency.PushFront(it)
	c.tree.ReplaceOrInsert(it)
}

// Find looks up key without touching its recency.
func (c *Cache[K, V]) Find(key K) (Handle[K, V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.tree.Get(&item[K, V]{key: key})
	if !ok {
		return Handle[K, V]{}, false
	}
	return Handle[K, V]{it: it, key: it.key, value: it.value}, true
}

// Acquire marks the entry behind h as most recently used. It returns false if
// the entry has been evicted or removed since h was obtained.
func (c *Cache[K, V]) Acquire(h Handle[K, V]) bool {
	if h.it == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !h.it.live {
		return false
	}
	c.recency.MoveToFront(h.it.elem)
	return true
}

// Get is Find followed by Acquire.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.tree.Get(&item[K, V]{key: key})
	if !ok {
		var zero V
		return zero, false
	}
	c.recency.MoveToFront(it.elem)
	return it.value, true
}

// Remove deletes key and reports whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.tree.Delete(&item[K, V]{key: key})
	if !ok {
		return false
	}
	c.recency.Remove(it.elem)
	it.live = false
	return true
}

// Purge removes every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tree.Ascend(func(it *item[K, V]) bool {
		it.live = false
		return true
	})
	c.tree.Clear(false)
	c.recency.Init()
}

// Keys returns the keys in ascending order.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.tree.Len())
	c.tree.Ascend(func(it *item[K, V]) bool {
		keys = append(keys, it.key)
		return true
	})
	return keys
}

// Oldest returns the key that would be evicted next.
func (c *Cache[K, V]) Oldest() (K, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	back := c.recency.Back()
	if back == nil {
		var zero K
		return zero, false
	}
	return back.Value.(*item[K, V]).key, true
}

func (c *Cache[K, V]) evictLocked() {
	back := c.recency.Back()
	if back == nil {
		return
	}
	it := back.Value.(*item[K, V])
	c.recency.Remove(back)
	c.tree.Delete(it)
	it.live = false
}
