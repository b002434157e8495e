package llm

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	// cacheTTL is how long a cached response stays valid.
	cacheTTL = 24 * time.Hour

	// cacheMaxEntries caps the in-memory cache.
	cacheMaxEntries = 1000

	// cacheEvictBatch is how many of the oldest entries are dropped when
	// the cap is hit.
	cacheEvictBatch = 200
)

// ResponseCache stores completion contents keyed by prompt hash.
// Implementations must be safe for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

// memoryEntry is one cached response with its position in the LRU list.
type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
	elem      *list.Element
}

// MemoryCache is an in-process LRU response cache with a 24-hour TTL.
// When full it evicts the 200 least recently used entries in one batch.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	order   *list.List // front = most recently used
	now     func() time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached response, refreshing its LRU position. Expired
// entries are removed on access.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		c.order.Remove(e.elem)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set stores a response, evicting a batch of the oldest entries when the
// cache is full.
func (c *MemoryCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = c.now().Add(cacheTTL)
		c.order.MoveToFront(e.elem)
		return
	}

	if len(c.entries) >= cacheMaxEntries {
		for i := 0; i < cacheEvictBatch && c.order.Len() > 0; i++ {
			oldest := c.order.Back()
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(string))
		}
	}

	e := &memoryEntry{key: key, value: value, expiresAt: c.now().Add(cacheTTL)}
	e.elem = c.order.PushFront(key)
	c.entries[key] = e
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
