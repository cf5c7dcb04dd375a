package contacts

import (
	"container/list"
	"sync"
	"time"

	"github.com/ligolabs/ligo/internal/store"
)

// resolveCache is a TTL + capacity bounded LRU over resolution results.
// Writes to the directory invalidate the whole cache; resolution is
// cheap enough that partial invalidation is not worth the bookkeeping.
type resolveCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key     string
	contact *store.ContactData
	at      time.Time
}

func newResolveCache(ttl time.Duration, maxSize int) *resolveCache {
	return &resolveCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *resolveCache) get(key string) (*store.ContactData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.at) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.contact, true
}

func (c *resolveCache) put(key string, contact *store.ContactData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).contact = contact
		el.Value.(*cacheEntry).at = time.Now()
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, contact: contact, at: time.Now()})
	for len(c.entries) > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *resolveCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
