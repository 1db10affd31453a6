package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache is an in-memory LRU cache for synthesized audio with a
// byte-size limit and an optional entry TTL. Nothing is written to disk.
type MemoryCache struct {
	capacity int64
	size     int64
	ttl      time.Duration

	items    map[string]*list.Element
	eviction *list.List

	mu sync.Mutex

	stats CacheStats

	// now is replaced in tests
	now func() time.Time
}

type memoryCacheEntry struct {
	key     string
	value   []byte
	size    int64
	created time.Time
}

// NewMemoryCache creates a new memory cache from config.
func NewMemoryCache(config CacheConfig) *MemoryCache {
	return &MemoryCache{
		capacity: config.Capacity,
		ttl:      config.TTL,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats: CacheStats{
			Capacity: config.Capacity,
		},
		now: time.Now,
	}
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*memoryCacheEntry)
	if c.expired(entry) {
		c.removeElement(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	c.eviction.MoveToFront(elem)
	c.stats.Hits++
	return entry.value, true
}

// Put stores a value in the cache, evicting least recently used entries as needed.
func (c *MemoryCache) Put(key string, value []byte) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(value))
	if valueSize > c.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	for c.size+valueSize > c.capacity && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	entry := &memoryCacheEntry{
		key:     key,
		value:   value,
		size:    valueSize,
		created: c.now(),
	}
	c.items[key] = c.eviction.PushFront(entry)
	c.size += valueSize
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	return nil
}

// Size returns the current cache size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

func (c *MemoryCache) expired(entry *memoryCacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.created) > c.ttl
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
}
