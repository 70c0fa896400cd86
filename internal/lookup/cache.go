package lookup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/erbview/internal/template"
)

// TemplateCache caches resolved templates with LRU eviction and TTL.
// Every template that leaves the cache is passed to the eviction callback
// once, outside the cache lock.
type TemplateCache struct {
	entries map[string]*CacheEntry
	mutex   sync.Mutex
	maxSize int
	ttl     time.Duration
	onEvict func(*template.Template)
	// LRU implementation
	head *CacheEntry
	tail *CacheEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	evictions int64
}

// CacheEntry is one resolved template.
type CacheEntry struct {
	Key        string
	Template   *template.Template
	CreatedAt  time.Time
	AccessedAt time.Time
	// LRU doubly-linked list pointers
	prev *CacheEntry
	next *CacheEntry
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Entries   int     `json:"entries" yaml:"entries"`
	MaxSize   int     `json:"max_size" yaml:"max_size"`
	Hits      int64   `json:"hits" yaml:"hits"`
	Misses    int64   `json:"misses" yaml:"misses"`
	Evictions int64   `json:"evictions" yaml:"evictions"`
	HitRate   float64 `json:"hit_rate" yaml:"hit_rate"`
}

// NewTemplateCache creates a cache holding at most maxSize templates for at
// most ttl each. A ttl of zero disables expiry.
func NewTemplateCache(maxSize int, ttl time.Duration, onEvict func(*template.Template)) *TemplateCache {
	cache := &TemplateCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		onEvict: onEvict,
	}

	// Initialize LRU doubly-linked list with dummy head and tail
	cache.head = &CacheEntry{}
	cache.tail = &CacheEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get retrieves a template from the cache.
func (c *TemplateCache) Get(key string) (*template.Template, bool) {
	var expired *template.Template
	defer func() { c.evicted(expired) }()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if c.expired(entry) {
		c.unlink(entry)
		expired = entry.Template
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	entry.AccessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return entry.Template, true
}

// Set stores t under key unless a live template is already cached there, and
// returns the cached template. An expired template under key is replaced and
// evicted.
func (c *TemplateCache) Set(key string, t *template.Template) *template.Template {
	var out []*template.Template
	defer func() { c.evicted(out...) }()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if existing, exists := c.entries[key]; exists {
		if !c.expired(existing) {
			existing.AccessedAt = time.Now()
			c.moveToFront(existing)
			return existing.Template
		}
		c.unlink(existing)
		out = append(out, existing.Template)
	}

	out = append(out, c.evictIfNeeded()...)

	now := time.Now()
	entry := &CacheEntry{Key: key, Template: t, CreatedAt: now, AccessedAt: now}
	c.entries[key] = entry
	c.addToFront(entry)
	return t
}

// evictIfNeeded makes room for one entry. A non-positive maxSize means
// unbounded.
func (c *TemplateCache) evictIfNeeded() []*template.Template {
	if c.maxSize <= 0 {
		return nil
	}
	var out []*template.Template
	for len(c.entries) >= c.maxSize && c.tail.prev != c.head {
		lru := c.tail.prev
		c.unlink(lru)
		out = append(out, lru.Template)
	}
	return out
}

// RemoveFunc evicts every entry whose template matches fn and returns how
// many were removed.
func (c *TemplateCache) RemoveFunc(fn func(*template.Template) bool) int {
	var out []*template.Template
	defer func() { c.evicted(out...) }()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, entry := range c.entries {
		if fn(entry.Template) {
			c.unlink(entry)
			out = append(out, entry.Template)
		}
	}
	return len(out)
}

// Prune evicts expired entries.
func (c *TemplateCache) Prune() int {
	var out []*template.Template
	defer func() { c.evicted(out...) }()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, entry := range c.entries {
		if c.expired(entry) {
			c.unlink(entry)
			out = append(out, entry.Template)
		}
	}
	return len(out)
}

// Clear evicts all entries and resets statistics.
func (c *TemplateCache) Clear() {
	var out []*template.Template
	defer func() { c.evicted(out...) }()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, entry := range c.entries {
		out = append(out, entry.Template)
	}
	c.entries = make(map[string]*CacheEntry)
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)
}

// Len returns the number of cached templates.
func (c *TemplateCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *TemplateCache) Stats() CacheStats {
	c.mutex.Lock()
	entries := len(c.entries)
	c.mutex.Unlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	stats := CacheStats{
		Entries:   entries,
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&c.evictions),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (c *TemplateCache) expired(entry *CacheEntry) bool {
	return c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl
}

// unlink removes entry from the map and the list.
func (c *TemplateCache) unlink(entry *CacheEntry) {
	c.removeFromList(entry)
	delete(c.entries, entry.Key)
	atomic.AddInt64(&c.evictions, 1)
}

func (c *TemplateCache) evicted(ts ...*template.Template) {
	if c.onEvict == nil {
		return
	}
	for _, t := range ts {
		if t != nil {
			c.onEvict(t)
		}
	}
}

// LRU doubly-linked list operations
func (c *TemplateCache) addToFront(entry *CacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *TemplateCache) removeFromList(entry *CacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *TemplateCache) moveToFront(entry *CacheEntry) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
