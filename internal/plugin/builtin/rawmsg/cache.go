package rawmsg

import (
	"slices"
	"sync"
)

// boundedCache keeps at most cap items. Inserting a new key over capacity
// evicts the oldest half by insertion order. Updating an existing key does
// not change its position.
type boundedCache[K comparable, V any] struct {
	mu    sync.Mutex
	cap   int
	items map[K]V
	order []K
}

func newBoundedCache[K comparable, V any](capacity int) *boundedCache[K, V] {
	return &boundedCache[K, V]{cap: max(capacity, 1), items: map[K]V{}}
}

func (c *boundedCache[K, V]) Put(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[k]; ok {
		c.items[k] = v
		return
	}
	c.items[k] = v
	c.order = append(c.order, k)
	if len(c.order) > c.cap {
		c.evict(max(c.cap/2, 1))
	}
}

// evict drops the n oldest keys. Caller holds mu.
func (c *boundedCache[K, V]) evict(n int) {
	n = min(n, len(c.order))
	for _, k := range c.order[:n] {
		delete(c.items, k)
	}
	c.order = slices.Clone(c.order[n:])
}

func (c *boundedCache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	return v, ok
}

// Take returns and removes k.
func (c *boundedCache[K, V]) Take(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[k]
	if !ok {
		return v, false
	}
	delete(c.items, k)
	if i := slices.Index(c.order, k); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return v, true
}

// Resize changes the capacity, dropping the oldest items that no longer fit.
func (c *boundedCache[K, V]) Resize(capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cap = max(capacity, 1)
	if over := len(c.order) - c.cap; over > 0 {
		c.evict(over)
	}
}

func (c *boundedCache[K, V]) Clear() {
	c.mu.Lock()
	c.items = map[K]V{}
	c.order = nil
	c.mu.Unlock()
}

func (c *boundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
