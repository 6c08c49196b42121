package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// Cache is an in-process result cache with per-entry TTL and an LRU size
// bound. Expiry is checked at read time, not only on eviction, so a stale
// entry is never returned. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	now        func() time.Time
}

type entry struct {
	key       string
	value     ports.CachedResult
	expiresAt time.Time
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *Cache) Get(_ context.Context, key string) (*ports.CachedResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	ent := elem.Value.(*entry)
	if !c.now().Before(ent.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	value := ent.value
	return &value, nil
}

func (c *Cache) Set(_ context.Context, key string, value ports.CachedResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	elem := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
	c.entries[key] = elem

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
	return nil
}

// Len reports the number of live entries, expired ones included until their
// next read or eviction.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
