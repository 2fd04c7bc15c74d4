package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"mmrag/internal/port"
)

// QueryCache is an LRU cache with TTL for query embeddings.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	gen     uint64
	hits    uint64
	misses  uint64
}

type cacheEntry struct {
	vector    []float32
	timestamp time.Time
	gen       uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func cacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(model, text string) ([]float32, bool) {
	key := cacheKey(model, text)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if time.Since(entry.timestamp) > c.ttl || entry.gen != c.gen {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses++
		return nil, false
	}

	c.moveToEnd(key)
	c.hits++
	return entry.vector, true
}

func (c *QueryCache) Put(model, text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(model, text)
	entry := &cacheEntry{
		vector:    vector,
		timestamp: time.Now(),
		gen:       c.gen,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Invalidate drops every entry.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.gen++
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts since creation.
func (c *QueryCache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// CachedTextEmbedder memoises a TextEmbedder. Cached vectors are shared;
// callers must not modify them.
type CachedTextEmbedder struct {
	embedder port.TextEmbedder
	cache    *QueryCache
}

var _ port.TextEmbedder = (*CachedTextEmbedder)(nil)

func NewCachedTextEmbedder(embedder port.TextEmbedder, cache *QueryCache) *CachedTextEmbedder {
	return &CachedTextEmbedder{
		embedder: embedder,
		cache:    cache,
	}
}

func (e *CachedTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	model := e.embedder.ModelName()
	if v, hit := e.cache.Get(model, text); hit {
		return v, nil
	}

	v, err := e.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Put(model, text, v)
	return v, nil
}

func (e *CachedTextEmbedder) Dimension() int {
	return e.embedder.Dimension()
}

func (e *CachedTextEmbedder) ModelName() string {
	return e.embedder.ModelName()
}
