package engine

import (
	"container/list"
	"sync"
	"time"
)

// stateCache keeps recently used aggregate states, bounded by capacity and
// age. A zero capacity disables caching.
type stateCache[S any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
}

type cacheEntry[S any] struct {
	id       string
	state    S
	version  int64
	storedAt time.Time
}

func newStateCache[S any](capacity int, ttl time.Duration) *stateCache[S] {
	return &stateCache[S]{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *stateCache[S]) get(id string, now time.Time) (S, int64, bool) {
	var zero S
	if c.capacity <= 0 {
		return zero, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[id]
	if !ok {
		return zero, 0, false
	}
	entry := elem.Value.(*cacheEntry[S])
	if c.ttl > 0 && now.Sub(entry.storedAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, id)
		return zero, 0, false
	}
	c.order.MoveToFront(elem)
	return entry.state, entry.version, true
}

func (c *stateCache[S]) put(id string, state S, version int64, now time.Time) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		entry := elem.Value.(*cacheEntry[S])
		entry.state = state
		entry.version = version
		entry.storedAt = now
		c.order.MoveToFront(elem)
		return
	}
	c.items[id] = c.order.PushFront(&cacheEntry[S]{id: id, state: state, version: version, storedAt: now})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry[S]).id)
	}
}

func (c *stateCache[S]) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[id]; ok {
		c.order.Remove(elem)
		delete(c.items, id)
	}
}

func (c *stateCache[S]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
