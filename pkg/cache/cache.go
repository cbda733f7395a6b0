// Package cache provides the memoization layer for expensive graph-store
// queries: a thread-safe LRU with TTL expiration, entry-count and byte
// budgets, and optional disk spill backed by BadgerDB.
//
// Values are opaque byte slices; callers serialize their results (the graph
// store uses JSON) so that spilled entries can be rehydrated transparently.
// When a persistent spill path is configured, spilled entries survive
// process restart; in-memory entries never do.
//
// Usage:
//
//	c, err := cache.New(cache.Options{MaxEntries: 1000, MaxBytes: 1 << 20, DefaultTTL: 5 * time.Minute})
//	if err != nil { ... }
//	defer c.Close()
//
//	if v, ok := c.Get("query-key"); ok {
//		return v // hit
//	}
//	result := compute()
//	c.Set("query-key", result, 0) // 0 = default TTL
package cache

import (
	"container/list"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of resident entries (default 1024).
	MaxEntries int

	// MaxBytes bounds the total size of resident values (0 = unbounded).
	MaxBytes int64

	// DefaultTTL applies to Set calls with ttl == 0 (0 = no expiration).
	DefaultTTL time.Duration

	// SpillDir enables disk spill-over into a BadgerDB at this path.
	// Evicted entries move to disk instead of being dropped and are
	// rehydrated on Get. Empty disables spill.
	SpillDir string

	// Logger receives spill-failure warnings. Defaults to zap.NewNop.
	Logger *zap.Logger
}

// Cache is a thread-safe LRU cache with TTL and optional disk spill.
//
// Eviction is strict LRU once either budget is exceeded. Expired entries
// are logically absent: Get never returns one even if eviction has not run
// yet. Concurrent Get/Set on the same key are safe; the last writer wins
// and readers never observe a torn value.
type Cache struct {
	mu sync.Mutex

	maxEntries int
	maxBytes   int64
	defaultTTL time.Duration
	log        *zap.Logger

	ll    *list.List
	items map[string]*list.Element
	bytes int64

	spill *spillStore

	hits      uint64
	misses    uint64
	evictions uint64
	spills    uint64
}

type entry struct {
	key       string
	value     []byte
	size      int64
	expiresAt time.Time // zero = never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// New creates a cache. If Options.SpillDir is set and the backing store
// cannot be opened, the cache degrades to memory-only behavior and logs a
// warning instead of failing.
func New(opts Options) (*Cache, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Cache{
		maxEntries: opts.MaxEntries,
		maxBytes:   opts.MaxBytes,
		defaultTTL: opts.DefaultTTL,
		log:        log,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}

	if opts.SpillDir != "" {
		spill, err := openSpill(opts.SpillDir)
		if err != nil {
			log.Warn("cache spill unavailable, running memory-only",
				zap.String("dir", opts.SpillDir), zap.Error(err))
		} else {
			c.spill = spill
		}
	}

	return c, nil
}

// Key builds a cache key from arbitrary byte fragments using FNV-1a.
// Identical fragments always produce the same key.
func Key(parts ...[]byte) string {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write(p)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Get returns the cached value for key, or (nil, false) when the key is
// absent or expired. Hits refresh LRU recency. Spilled entries are loaded
// back from disk and re-inserted as resident entries.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		if ent.expired(now) {
			c.removeElement(elem)
			c.dropSpilled(key)
			c.mu.Unlock()
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}
		c.ll.MoveToFront(elem)
		value := ent.value
		c.mu.Unlock()
		atomic.AddUint64(&c.hits, 1)
		return value, true
	}
	c.mu.Unlock()

	if c.spill != nil {
		if value, expiresAt, ok := c.loadSpilled(key, now); ok {
			c.insert(key, value, expiresAt)
			atomic.AddUint64(&c.hits, 1)
			return value, true
		}
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set stores value under key. A ttl of 0 applies the cache's default TTL;
// a negative ttl stores without expiration regardless of the default.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.insert(key, value, expiresAt)
}

func (c *Cache) insert(key string, value []byte, expiresAt time.Time) {
	size := int64(len(key) + len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	// A spilled copy must not outlive the value it held, or it would
	// resurface once the resident entry expires or is evicted.
	c.dropSpilled(key)

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.bytes += size - ent.size
		ent.value = value
		ent.size = size
		ent.expiresAt = expiresAt
		c.ll.MoveToFront(elem)
	} else {
		elem := c.ll.PushFront(&entry{key: key, value: value, size: size, expiresAt: expiresAt})
		c.items[key] = elem
		c.bytes += size
	}

	for c.overBudget() {
		c.evictOldest()
	}
}

// Delete removes a key from memory and, if configured, from the spill
// store.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	c.mu.Unlock()

	if c.spill != nil {
		if err := c.spill.delete(key); err != nil {
			c.log.Warn("cache spill delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// Clear drops every resident entry. Spilled entries are also dropped when a
// spill store is configured.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.bytes = 0
	c.mu.Unlock()

	if c.spill != nil {
		if err := c.spill.clear(); err != nil {
			c.log.Warn("cache spill clear failed", zap.Error(err))
		}
	}
}

// Len returns the number of resident (in-memory) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close releases the spill store, if any.
func (c *Cache) Close() error {
	if c.spill != nil {
		return c.spill.close()
	}
	return nil
}

// Stats reports cache performance counters.
type Stats struct {
	Hits      uint64  // lookups served from memory or spill
	Misses    uint64  // lookups that found nothing
	HitRate   float64 // Hits / (Hits + Misses), 0 when no lookups yet
	Evictions uint64  // entries pushed out by LRU budgets
	Spills    uint64  // evictions that were written to disk
	Size      int     // resident entry count
	Bytes     int64   // resident value bytes
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	c.mu.Lock()
	size := c.ll.Len()
	bytes := c.bytes
	c.mu.Unlock()

	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadUint64(&c.evictions),
		Spills:    atomic.LoadUint64(&c.spills),
		Size:      size,
		Bytes:     bytes,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *Cache) overBudget() bool {
	if c.ll.Len() > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

// evictOldest removes the LRU entry, spilling it to disk when configured.
// Caller must hold the lock.
func (c *Cache) evictOldest() {
	elem := c.ll.Back()
	if elem == nil {
		return
	}
	ent := elem.Value.(*entry)
	c.removeElement(elem)
	atomic.AddUint64(&c.evictions, 1)

	if ent.expired(time.Now()) {
		c.dropSpilled(ent.key)
		return
	}
	if c.spill == nil {
		return
	}
	if err := c.spill.put(ent.key, ent.value, ent.expiresAt); err != nil {
		c.log.Warn("cache spill write failed", zap.String("key", ent.key), zap.Error(err))
		return
	}
	atomic.AddUint64(&c.spills, 1)
}

// dropSpilled removes the disk copy of key, if any, so it cannot shadow a
// newer or expired value. Caller must hold the lock.
func (c *Cache) dropSpilled(key string) {
	if c.spill == nil {
		return
	}
	if err := c.spill.delete(key); err != nil {
		c.log.Warn("cache spill delete failed", zap.String("key", key), zap.Error(err))
	}
}

// removeElement drops an element from the LRU structures. Caller must hold
// the lock.
func (c *Cache) removeElement(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.ll.Remove(elem)
	delete(c.items, ent.key)
	c.bytes -= ent.size
}

// loadSpilled fetches a spilled entry, dropping it if expired.
func (c *Cache) loadSpilled(key string, now time.Time) ([]byte, time.Time, bool) {
	value, expiresAt, err := c.spill.get(key)
	if err != nil {
		return nil, time.Time{}, false
	}
	if !expiresAt.IsZero() && now.After(expiresAt) {
		if err := c.spill.delete(key); err != nil {
			c.log.Warn("cache spill delete failed", zap.String("key", key), zap.Error(err))
		}
		return nil, time.Time{}, false
	}
	// The caller re-inserts the value, which removes the disk copy; a
	// later eviction writes it back out.
	return value, expiresAt, true
}
