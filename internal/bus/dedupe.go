package bus

import (
	"container/list"
	"sync"
	"time"
)

// DedupeCache is a TTL + max-size cache of recently seen message keys.
// It is the watcher-level guard against transport re-delivery; the
// router additionally upserts every message into the durable message
// table, so a process restart cannot resurrect an already-handled id.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = oldest
}

type dedupeEntry struct {
	key  string
	seen time.Time
}

// NewDedupeCache creates a dedupe cache with the given TTL and capacity.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// IsDuplicate records the key and reports whether it was already seen
// within the TTL window.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.evictExpired(now)

	if el, ok := c.entries[key]; ok {
		if now.Sub(el.Value.(*dedupeEntry).seen) < c.ttl {
			return true
		}
		c.order.Remove(el)
		delete(c.entries, key)
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*dedupeEntry).key)
	}

	c.entries[key] = c.order.PushBack(&dedupeEntry{key: key, seen: now})
	return false
}

func (c *DedupeCache) evictExpired(now time.Time) {
	for {
		oldest := c.order.Front()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*dedupeEntry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		c.order.Remove(oldest)
		delete(c.entries, e.key)
	}
}

// Len returns the number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
