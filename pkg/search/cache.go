// Package search caches k-NN query results.
package search

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

// CacheKey represents a unique key for caching search results
type CacheKey string

// LRUCache implements a thread-safe LRU (Least Recently Used) cache
type LRUCache[V any] struct {
	capacity int
	ttl      time.Duration // Time-to-live for cache entries
	now      func() time.Time

	mu    sync.Mutex
	cache map[CacheKey]*list.Element
	lru   *list.List

	// Statistics
	hits      int64
	misses    int64
	evictions int64
}

// cacheEntry represents a single entry in the cache
type cacheEntry[V any] struct {
	key       CacheKey
	value     V
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache holding at most capacity entries.
// A zero ttl disables expiry.
func NewLRUCache[V any](capacity int, ttl time.Duration) *LRUCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache[V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[CacheKey]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get returns the value stored under key. Expired entries count as misses
// and are dropped.
func (c *LRUCache[V]) Get(key CacheKey) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, exists := c.cache[key]
	if !exists {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[V])
	if c.ttl > 0 && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Put adds or updates a value in the cache
func (c *LRUCache[V]) Put(key CacheKey, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if elem, exists := c.cache[key]; exists {
		entry := elem.Value.(*cacheEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
			c.evictions++
		}
	}
}

// Invalidate removes a specific key from the cache
func (c *LRUCache[V]) Invalidate(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.cache[key]; exists {
		c.removeElement(elem)
	}
}

// Clear removes every entry. Statistics are kept.
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[CacheKey]*list.Element, c.capacity)
	c.lru.Init()
}

// Size returns the current number of items in the cache
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cache statistics
func (c *LRUCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		HitRate:   hitRate,
	}
}

func (c *LRUCache[V]) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.cache, elem.Value.(*cacheEntry[V]).key)
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// QueryCache caches the results of KNNQuery calls. Cached results are shared
// between callers and must not be modified.
type QueryCache struct {
	cache   *LRUCache[[]ann.QueryResult]
	metrics *observability.Metrics
}

// NewQueryCache creates a new query result cache. metrics may be nil.
func NewQueryCache(capacity int, ttl time.Duration, metrics *observability.Metrics) *QueryCache {
	return &QueryCache{
		cache:   NewLRUCache[[]ann.QueryResult](capacity, ttl),
		metrics: metrics,
	}
}

// QueryKey hashes a query batch together with the parameters that change
// its results
func QueryKey(queries [][]float32, k, efSearch int) CacheKey {
	h := sha256.New()
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], uint32(k))
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], uint32(efSearch))
	h.Write(buf[:])
	binary.LittleEndian.PutUint32(buf[:], uint32(len(queries)))
	h.Write(buf[:])

	for _, q := range queries {
		binary.LittleEndian.PutUint32(buf[:], uint32(len(q)))
		h.Write(buf[:])
		for _, v := range q {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			h.Write(buf[:])
		}
	}

	return CacheKey("knn:" + hex.EncodeToString(h.Sum(nil)[:16]))
}

// Get returns a copy of the cached results for key
func (qc *QueryCache) Get(key CacheKey) ([]ann.QueryResult, bool) {
	results, found := qc.cache.Get(key)
	if qc.metrics != nil {
		if found {
			qc.metrics.RecordCacheHit()
		} else {
			qc.metrics.RecordCacheMiss()
		}
	}
	if !found {
		return nil, false
	}
	return copyResults(results), true
}

// Put stores a copy of results under key
func (qc *QueryCache) Put(key CacheKey, results []ann.QueryResult) {
	qc.cache.Put(key, copyResults(results))
	if qc.metrics != nil {
		qc.metrics.UpdateCacheSize(qc.cache.Size())
	}
}

// InvalidateAll removes every cached result
func (qc *QueryCache) InvalidateAll() {
	qc.cache.Clear()
	if qc.metrics != nil {
		qc.metrics.UpdateCacheSize(0)
	}
}

// Stats returns cache statistics
func (qc *QueryCache) Stats() CacheStats {
	return qc.cache.Stats()
}

// Size returns the number of cached entries
func (qc *QueryCache) Size() int {
	return qc.cache.Size()
}

func copyResults(results []ann.QueryResult) []ann.QueryResult {
	if results == nil {
		return nil
	}
	out := make([]ann.QueryResult, len(results))
	for i, r := range results {
		out[i] = r
		out[i].Neighbors = append([]ann.Neighbor(nil), r.Neighbors...)
	}
	return out
}
