package cache

import (
	"container/list"
	"slices"
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// lru is the fast tier: a capacity-bounded LRU whose entries also expire.
// A single mutex covers both the recency list and expiry.
type lru struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int
	now      func() time.Time
}

func newLRU(capacity int, now func() time.Time) *lru {
	if capacity <= 0 {
		capacity = 1
	}
	return &lru{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      now,
	}
}

func (c *lru) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	e := elem.Value.(*lruEntry)
	if !c.now().Before(e.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return slices.Clone(e.value), true
}

func (c *lru) set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*lruEntry)
		e.value = slices.Clone(value)
		e.expiresAt = expires
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: slices.Clone(value), expiresAt: expires})
}

func (c *lru) remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if ok {
		c.removeElement(elem)
	}
	return ok
}

// prune drops expired entries and returns how many were removed.
func (c *lru) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var n int
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*lruEntry).expiresAt) {
			c.removeElement(elem)
			n++
		}
		elem = prev
	}
	return n
}

func (c *lru) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lru) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}
