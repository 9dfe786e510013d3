package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

func TestLRUCache_Basic(t *testing.T) {
	cache := NewLRUCache[string](2, 0) // Capacity 2, no TTL

	cache.Put("key1", "value1")
	if cache.Size() != 1 {
		t.Errorf("Size() = %d, want 1", cache.Size())
	}

	val, found := cache.Get("key1")
	if !found {
		t.Error("Get() didn't find existing key")
	}
	if val != "value1" {
		t.Errorf("Get() = %v, want value1", val)
	}

	if _, found = cache.Get("key2"); found {
		t.Error("Get() found non-existent key")
	}
}

func TestLRUCache_LRUOrdering(t *testing.T) {
	cache := NewLRUCache[int](2, 0)

	cache.Put("key1", 1)
	cache.Put("key2", 2)

	// Access key1 to make it more recently used
	cache.Get("key1")

	// Add key3 - should evict key2 (least recently used)
	cache.Put("key3", 3)

	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should still exist")
	}
	if _, found := cache.Get("key2"); found {
		t.Error("key2 should have been evicted")
	}
	if _, found := cache.Get("key3"); !found {
		t.Error("key3 should exist")
	}
	if got := cache.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestLRUCache_Update(t *testing.T) {
	cache := NewLRUCache[string](2, 0)

	cache.Put("key1", "value1")
	cache.Put("key1", "value2")

	if cache.Size() != 1 {
		t.Errorf("Size() = %d, want 1", cache.Size())
	}
	if val, _ := cache.Get("key1"); val != "value2" {
		t.Errorf("Get() = %v, want value2", val)
	}
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache[string](10, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	cache.Put("key1", "value1")
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should exist immediately after put")
	}

	now = now.Add(59 * time.Second)
	if _, found := cache.Get("key1"); !found {
		t.Error("key1 should exist before the ttl elapses")
	}

	now = now.Add(2 * time.Second)
	if _, found := cache.Get("key1"); found {
		t.Error("key1 should be expired")
	}
	if cache.Size() != 0 {
		t.Errorf("expired entry should be dropped, size = %d", cache.Size())
	}
}

func TestLRUCache_InvalidateAndClear(t *testing.T) {
	cache := NewLRUCache[string](10, 0)

	cache.Put("key1", "value1")
	cache.Put("key2", "value2")
	cache.Invalidate("key1")
	cache.Invalidate("missing")

	if cache.Size() != 1 {
		t.Errorf("Size() after invalidate = %d, want 1", cache.Size())
	}
	if _, found := cache.Get("key2"); !found {
		t.Error("key2 should still exist")
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Size() after clear = %d, want 0", cache.Size())
	}
	if stats := cache.Stats(); stats.Hits != 1 {
		t.Errorf("Clear should keep statistics, hits = %d", stats.Hits)
	}
}

func TestLRUCache_Stats(t *testing.T) {
	cache := NewLRUCache[string](10, 0)

	cache.Put("key1", "value1")
	cache.Put("key2", "value2")

	cache.Get("key1")
	cache.Get("key1")
	cache.Get("key2")
	cache.Get("key3")
	cache.Get("key4")

	stats := cache.Stats()
	if stats.Hits != 3 || stats.Misses != 2 {
		t.Errorf("Stats = %+v, want 3 hits and 2 misses", stats)
	}
	if stats.HitRate != 3.0/5.0 {
		t.Errorf("Stats.HitRate = %f, want 0.6", stats.HitRate)
	}
	if stats.Capacity != 10 {
		t.Errorf("Stats.Capacity = %d, want 10", stats.Capacity)
	}
}

func TestQueryKey(t *testing.T) {
	q1 := [][]float32{{1, 2, 3}}
	q2 := [][]float32{{1, 2, 3}}
	q3 := [][]float32{{1, 2, 3.1}}

	if QueryKey(q1, 10, 50) != QueryKey(q2, 10, 50) {
		t.Error("Same queries should generate same cache key")
	}
	if QueryKey(q1, 10, 50) == QueryKey(q3, 10, 50) {
		t.Error("Different queries should generate different cache keys")
	}
	if QueryKey(q1, 10, 50) == QueryKey(q1, 20, 50) {
		t.Error("Different k should generate different cache keys")
	}
	if QueryKey(q1, 10, 50) == QueryKey(q1, 10, 60) {
		t.Error("Different ef should generate different cache keys")
	}
	// batch boundaries are part of the key
	if QueryKey([][]float32{{1, 2}, {3}}, 1, 1) == QueryKey([][]float32{{1}, {2, 3}}, 1, 1) {
		t.Error("Different batch layouts should generate different cache keys")
	}
}

func TestQueryCache(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cache := NewQueryCache(10, 0, metrics)

	results := []ann.QueryResult{{K: 1, Neighbors: []ann.Neighbor{{Label: 4, Distance: 0.5}}}}
	key := QueryKey([][]float32{{1, 0}}, 1, 50)

	if _, found := cache.Get(key); found {
		t.Fatal("empty cache should miss")
	}
	cache.Put(key, results)

	cached, found := cache.Get(key)
	if !found {
		t.Fatal("Results should be in cache")
	}
	if cached[0].Neighbors[0].Label != 4 {
		t.Errorf("Cached results don't match original: %v", cached)
	}

	if got := testutil.ToFloat64(metrics.CacheHits); got != 1 {
		t.Errorf("cache hits metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMisses); got != 1 {
		t.Errorf("cache misses metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.CacheSize); got != 1 {
		t.Errorf("cache size metric = %v, want 1", got)
	}

	cache.InvalidateAll()
	if cache.Size() != 0 {
		t.Errorf("Size after InvalidateAll = %d, want 0", cache.Size())
	}
	if got := testutil.ToFloat64(metrics.CacheSize); got != 0 {
		t.Errorf("cache size metric = %v, want 0", got)
	}
}

func TestQueryCache_ResultsAreCopied(t *testing.T) {
	cache := NewQueryCache(10, 0, nil)
	key := QueryKey([][]float32{{1, 0}}, 1, 50)

	results := []ann.QueryResult{{K: 1, Neighbors: []ann.Neighbor{{Label: 4, Distance: 0.5}}}}
	cache.Put(key, results)
	results[0].Neighbors[0].Label = 7

	first, _ := cache.Get(key)
	if first[0].Neighbors[0].Label != 4 {
		t.Fatalf("Put should store a copy, got label %d", first[0].Neighbors[0].Label)
	}
	first[0].Neighbors[0].Distance = 9
	first[0].Neighbors = append(first[0].Neighbors, ann.Neighbor{Label: 8})

	second, _ := cache.Get(key)
	if len(second[0].Neighbors) != 1 || second[0].Neighbors[0].Distance != 0.5 {
		t.Errorf("Get should return a copy, got %+v", second[0].Neighbors)
	}
}

func TestQueryCache_NilMetrics(t *testing.T) {
	cache := NewQueryCache(1, 0, nil)
	cache.Put("a", nil)
	cache.Put("b", nil)

	if _, found := cache.Get("a"); found {
		t.Error("a should have been evicted")
	}
	if stats := cache.Stats(); stats.Size != 1 || stats.Evictions != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func BenchmarkLRUCache_Put(b *testing.B) {
	cache := NewLRUCache[int](1000, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Put(CacheKey(fmt.Sprint(i%2000)), i)
	}
}
