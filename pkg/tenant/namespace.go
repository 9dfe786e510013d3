package tenant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/search"
)

// Usage tracks request counters of a namespace
type Usage struct {
	Inserts       int64     `json:"inserts"`
	Queries       int64     `json:"queries"`
	CacheHits     int64     `json:"cache_hits"`
	LastInsertAt  time.Time `json:"last_insert_at"`
	LastQueryAt   time.Time `json:"last_query_at"`
	RateLimitHits int64     `json:"rate_limit_hits"`
}

// Namespace owns one index manager.
//
// Insert, Load, SetEfSearch and Close take the write lock; Query, Save and
// Stats share the read lock, so an index is never modified while it is
// searched or written to disk.
type Namespace struct {
	id        string
	name      string
	spec      Spec
	createdAt time.Time

	mu  sync.RWMutex
	mgr *ann.Manager

	cache   *search.QueryCache // nil when caching is disabled
	metrics *observability.Metrics

	stateMu sync.Mutex
	quota   Quota
	limiter *rate.Limiter
	usage   Usage
}

func newNamespace(name string, spec Spec, quota Quota, mgr *ann.Manager, opts Options) *Namespace {
	ns := &Namespace{
		id:        uuid.NewString(),
		name:      name,
		spec:      spec,
		createdAt: time.Now(),
		mgr:       mgr,
		metrics:   opts.Metrics,
	}
	if opts.CacheCapacity > 0 {
		ns.cache = search.NewQueryCache(opts.CacheCapacity, opts.CacheTTL, opts.Metrics)
	}
	ns.setQuota(quota)
	return ns
}

// ID returns the unique id assigned at registration
func (ns *Namespace) ID() string { return ns.id }

// Name returns the namespace name
func (ns *Namespace) Name() string { return ns.name }

// Spec returns the index spec the namespace was registered with
func (ns *Namespace) Spec() Spec { return ns.spec }

// Quota returns the current quota
func (ns *Namespace) Quota() Quota {
	ns.stateMu.Lock()
	defer ns.stateMu.Unlock()
	return ns.quota
}

func (ns *Namespace) setQuota(q Quota) {
	ns.stateMu.Lock()
	defer ns.stateMu.Unlock()

	ns.quota = q
	if q.RateLimitQPS > 0 {
		ns.limiter = rate.NewLimiter(rate.Limit(q.RateLimitQPS), q.RateLimitQPS)
	} else {
		ns.limiter = nil
	}
}

// Initialized reports whether the namespace holds an index
func (ns *Namespace) Initialized() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.mgr.Initialized()
}

// Insert adds a batch of vectors and returns the label assigned to the first
// auto-labelled vector. labels may be nil.
func (ns *Namespace) Insert(vectors [][]float32, labels []uint64) (uint64, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	quota := ns.Quota()
	size := int64(ns.mgr.Len())
	if quota.MaxVectors > 0 && size+int64(len(vectors)) > quota.MaxVectors {
		return 0, fmt.Errorf("%w: %d vectors stored, %d requested, limit %d",
			ErrQuotaExceeded, size, len(vectors), quota.MaxVectors)
	}

	first := ns.mgr.NextLabel()
	err := ns.mgr.InsertBatch(vectors, labels)
	// a failed batch may still have inserted points
	ns.invalidate()

	ns.stateMu.Lock()
	ns.usage.Inserts++
	ns.usage.LastInsertAt = time.Now()
	ns.stateMu.Unlock()
	ns.updateQuotaUsage(quota)

	if err != nil {
		return 0, err
	}
	return first, nil
}

// Query runs a k-NN query batch, serving repeated queries from the cache.
// cached reports whether the results came from the cache.
func (ns *Namespace) Query(queries [][]float32, k int) (results []ann.QueryResult, cached bool, err error) {
	if !ns.allow() {
		return nil, false, fmt.Errorf("%w: namespace %s", ErrRateLimited, ns.name)
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	var key search.CacheKey
	if ns.cache != nil && ns.mgr.Initialized() {
		key = search.QueryKey(queries, k, ns.mgr.EfSearch())
		if results, ok := ns.cache.Get(key); ok {
			ns.recordQuery(true)
			return results, true, nil
		}
	}

	results, err = ns.mgr.KNNQuery(queries, k)
	if err != nil {
		return nil, false, err
	}
	if key != "" {
		ns.cache.Put(key, results)
	}
	ns.recordQuery(false)
	return results, false, nil
}

func (ns *Namespace) allow() bool {
	ns.stateMu.Lock()
	defer ns.stateMu.Unlock()
	if ns.limiter == nil || ns.limiter.Allow() {
		return true
	}
	ns.usage.RateLimitHits++
	return false
}

func (ns *Namespace) recordQuery(cacheHit bool) {
	ns.stateMu.Lock()
	defer ns.stateMu.Unlock()
	ns.usage.Queries++
	ns.usage.LastQueryAt = time.Now()
	if cacheHit {
		ns.usage.CacheHits++
	}
}

// Save writes the index to path
func (ns *Namespace) Save(path string) error {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.mgr.Save(path)
}

// Load replaces the index with the one saved at path. On failure the
// namespace keeps serving its current index.
func (ns *Namespace) Load(path string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if err := ns.mgr.Reload(path, ns.spec.MaxNodes); err != nil {
		return err
	}
	ns.invalidate()
	ns.updateQuotaUsage(ns.Quota())
	return nil
}

// SetEfSearch changes the query search width
func (ns *Namespace) SetEfSearch(ef int) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.mgr.SetEfSearch(ef)
}

// Close releases the index
func (ns *Namespace) Close() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.invalidate()
	return ns.mgr.Close()
}

func (ns *Namespace) invalidate() {
	if ns.cache != nil {
		ns.cache.InvalidateAll()
	}
}

func (ns *Namespace) updateQuotaUsage(q Quota) {
	if ns.metrics == nil || q.MaxVectors <= 0 {
		return
	}
	ns.metrics.UpdateQuotaUsage(ns.name, float64(ns.mgr.Len())/float64(q.MaxVectors))
}

// Stats describes a namespace
type Stats struct {
	ID        string             `json:"id"`
	Namespace string             `json:"namespace"`
	CreatedAt time.Time          `json:"created_at"`
	Index     ann.Stats          `json:"index"`
	Engine    string             `json:"engine"`
	Quota     Quota              `json:"quota"`
	Usage     Usage              `json:"usage"`
	Cache     *search.CacheStats `json:"cache,omitempty"`
}

// Stats returns a snapshot of the namespace
func (ns *Namespace) Stats() Stats {
	ns.mu.RLock()
	index := ns.mgr.Stats()
	ns.mu.RUnlock()

	engine := ns.spec.Engine
	if engine == "" {
		engine = "native"
	}

	ns.stateMu.Lock()
	st := Stats{
		ID:        ns.id,
		Namespace: ns.name,
		CreatedAt: ns.createdAt,
		Index:     index,
		Engine:    engine,
		Quota:     ns.quota,
		Usage:     ns.usage,
	}
	ns.stateMu.Unlock()

	if ns.cache != nil {
		cs := ns.cache.Stats()
		st.Cache = &cs
	}
	return st
}
