// Package tenant keeps one index per namespace and enforces per-namespace
// quotas, query caching and operation exclusion.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/coderhnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

var (
	// ErrNamespaceExists is returned when creating a namespace twice
	ErrNamespaceExists = errors.New("tenant: namespace already exists")
	// ErrNamespaceNotFound is returned for unknown namespaces
	ErrNamespaceNotFound = errors.New("tenant: namespace not found")
	// ErrInvalidNamespace is returned for names that are not safe file names
	ErrInvalidNamespace = errors.New("tenant: invalid namespace name")
	// ErrTooManyNamespaces is returned when the namespace limit is reached
	ErrTooManyNamespaces = errors.New("tenant: too many namespaces")
	// ErrQuotaExceeded is returned when an insert would exceed the vector quota
	ErrQuotaExceeded = errors.New("tenant: quota exceeded")
	// ErrRateLimited is returned when a namespace exceeds its query rate
	ErrRateLimited = errors.New("tenant: rate limit exceeded")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidName reports whether name can be used as a namespace. Valid names are
// also safe file names.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && name != "." && name != ".."
}

// Spec describes the index of a namespace
type Spec struct {
	Metric         string `json:"metric"`
	Dimension      int    `json:"dimension"`
	Threads        int    `json:"threads"`
	EfSearch       int    `json:"ef_search"`
	MaxNodes       int    `json:"max_nodes"`
	M              int    `json:"m"`
	EfConstruction int    `json:"ef_construction"`
	RandomSeed     int64  `json:"random_seed"`
	Engine         string `json:"engine"` // native (default) or coder
}

func (s Spec) builder() (ann.Builder, error) {
	switch s.Engine {
	case "", "native":
		return ann.NativeBuilder{}, nil
	case "coder":
		return coderhnsw.Builder{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ann.ErrInvalidConfig, s.Engine)
	}
}

// Quota represents resource limits for a namespace
type Quota struct {
	MaxVectors   int64 `json:"max_vectors"`    // 0 or less is unlimited
	RateLimitQPS int   `json:"rate_limit_qps"` // 0 or less is unlimited
}

// DefaultQuota returns a default quota configuration
func DefaultQuota() Quota {
	return Quota{
		MaxVectors:   1000000,
		RateLimitQPS: 1000,
	}
}

// UnlimitedQuota returns an unlimited quota configuration
func UnlimitedQuota() Quota {
	return Quota{MaxVectors: -1, RateLimitQPS: -1}
}

// Options configures a Manager
type Options struct {
	MaxNamespaces int           // 0 is unlimited
	CacheCapacity int           // 0 disables the query cache
	CacheTTL      time.Duration // 0 disables expiry
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Manager handles namespace lifecycle
type Manager struct {
	opts       Options
	logger     *observability.Logger
	namespaces map[string]*Namespace
	mu         sync.RWMutex
}

// NewManager creates a new namespace manager
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Manager{
		opts:       opts,
		logger:     logger.WithField("component", "tenant"),
		namespaces: make(map[string]*Namespace),
	}
}

// CreateNamespace registers a namespace with an empty index
func (m *Manager) CreateNamespace(name string, spec Spec, quota Quota) (*Namespace, error) {
	return m.register(name, spec, quota, func(mgr *ann.Manager) error {
		return mgr.Create(ann.CreateParams{
			MaxNodes:       spec.MaxNodes,
			M:              spec.M,
			EfConstruction: spec.EfConstruction,
			RandomSeed:     spec.RandomSeed,
		})
	})
}

// OpenNamespace registers a namespace whose index is loaded from path
func (m *Manager) OpenNamespace(name string, spec Spec, quota Quota, path string) (*Namespace, error) {
	return m.register(name, spec, quota, func(mgr *ann.Manager) error {
		return mgr.Load(path, spec.MaxNodes)
	})
}

func (m *Manager) register(name string, spec Spec, quota Quota, init func(*ann.Manager) error) (*Namespace, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}
	builder, err := spec.builder()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.namespaces[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceExists, name)
	}
	if m.opts.MaxNamespaces > 0 && len(m.namespaces) >= m.opts.MaxNamespaces {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyNamespaces, m.opts.MaxNamespaces)
	}

	mgr, err := ann.New(ann.Config{
		Metric:    spec.Metric,
		Dimension: spec.Dimension,
		Threads:   spec.Threads,
		EfSearch:  spec.EfSearch,
	},
		ann.WithName(name),
		ann.WithBuilder(builder),
		ann.WithLogger(m.logger),
		ann.WithMetrics(m.opts.Metrics),
	)
	if err != nil {
		return nil, err
	}
	if err := init(mgr); err != nil {
		return nil, err
	}

	ns := newNamespace(name, spec, quota, mgr, m.opts)
	m.namespaces[name] = ns
	m.updateCount()

	m.logger.Info("namespace registered", map[string]interface{}{
		"namespace": name,
		"id":        ns.ID(),
		"size":      mgr.Len(),
	})
	return ns, nil
}

// GetNamespace retrieves a namespace by name
func (m *Manager) GetNamespace(name string) (*Namespace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, exists := m.namespaces[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}
	return ns, nil
}

// DeleteNamespace removes a namespace and releases its index
func (m *Manager) DeleteNamespace(name string) error {
	m.mu.Lock()
	ns, exists := m.namespaces[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNamespaceNotFound, name)
	}
	delete(m.namespaces, name)
	m.updateCount()
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.DeleteIndex(name)
	}
	m.logger.Info("namespace deleted", map[string]interface{}{"namespace": name})
	return ns.Close()
}

// ListNamespaces returns all namespaces sorted by name
func (m *Manager) ListNamespaces() []*Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// UpdateQuota replaces the quota of a namespace
func (m *Manager) UpdateQuota(name string, quota Quota) error {
	ns, err := m.GetNamespace(name)
	if err != nil {
		return err
	}
	ns.setQuota(quota)
	return nil
}

// SaveAll saves every initialized namespace to the path returned by pathFor
// and returns every failure joined
func (m *Manager) SaveAll(pathFor func(name string) string) error {
	var errs []error
	for _, ns := range m.ListNamespaces() {
		if !ns.Initialized() {
			continue
		}
		path := pathFor(ns.name)
		err := m.logger.LogOperationWithFields("save namespace", map[string]interface{}{
			"namespace": ns.name,
			"path":      path,
		}, func() error { return ns.Save(path) })
		if err != nil {
			errs = append(errs, fmt.Errorf("namespace %s: %w", ns.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every namespace
func (m *Manager) Close() error {
	m.mu.Lock()
	namespaces := m.namespaces
	m.namespaces = make(map[string]*Namespace)
	m.updateCount()
	m.mu.Unlock()

	var errs []error
	for _, ns := range namespaces {
		if err := ns.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updateCount must be called with m.mu held
func (m *Manager) updateCount() {
	if m.opts.Metrics != nil {
		m.opts.Metrics.UpdateIndexCount(len(m.namespaces))
	}
}
