// Package ann manages the lifecycle of an HNSW index: configuration,
// creation, parallel batch insertion with stable labels, persistence and
// k-NN queries.
//
// A Manager does not serialize its own operations. InsertBatch, Create, Load,
// Reload and Close must not overlap with any other call on the same Manager;
// KNNQuery, Save and the accessors may run concurrently with each other.
package ann

import (
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/parallel"
)

// DefaultEfSearch is the search width used when Config.EfSearch is unset
const DefaultEfSearch = 50

// Config holds the settings fixed for the lifetime of a Manager
type Config struct {
	Metric    string // l2, inner-product or cosine
	Dimension int
	Threads   int // <= 0 uses every CPU
	EfSearch  int // <= 0 uses DefaultEfSearch
}

// CreateParams holds the graph construction parameters of Create
type CreateParams struct {
	MaxNodes       int
	M              int   // 0 means 16
	EfConstruction int   // 0 means 200
	RandomSeed     int64 // 0 means 100
}

func (p CreateParams) withDefaults() CreateParams {
	if p.M == 0 {
		p.M = 16
	}
	if p.EfConstruction == 0 {
		p.EfConstruction = 200
	}
	if p.RandomSeed == 0 {
		p.RandomSeed = 100
	}
	return p
}

// Manager owns at most one index at a time
type Manager struct {
	name     string
	metric   Metric
	dim      int
	threads  int
	efSearch int

	builder Builder
	runner  parallel.Runner
	logger  *observability.Logger
	metrics *observability.Metrics

	// scratch[w] is the normalization buffer of insert worker w
	scratch [][]float32

	engine        Engine
	maxNodes      int
	nextLabel     uint64
	entryPointSet bool
}

// New validates cfg and returns a Manager without an index
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, cfg.Dimension)
	}
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		name:     "default",
		metric:   metric,
		dim:      cfg.Dimension,
		threads:  parallel.Resolve(cfg.Threads),
		efSearch: cfg.EfSearch,
		builder:  NativeBuilder{},
		runner:   parallel.Pool{},
		logger:   observability.NewNopLogger(),
	}
	if m.efSearch <= 0 {
		m.efSearch = DefaultEfSearch
	}
	for _, opt := range opts {
		opt(m)
	}

	m.scratch = make([][]float32, m.threads)
	for w := range m.scratch {
		m.scratch[w] = make([]float32, m.dim)
	}
	m.logger = m.logger.WithFields(map[string]interface{}{
		"index":  m.name,
		"metric": m.metric.String(),
	})
	return m, nil
}

// Create builds an empty index. It fails with ErrAlreadyInitialized when the
// manager already owns one.
func (m *Manager) Create(p CreateParams) error {
	if m.engine != nil {
		return ErrAlreadyInitialized
	}
	if p.MaxNodes <= 0 {
		return fmt.Errorf("%w: max nodes must be positive, got %d", ErrInvalidConfig, p.MaxNodes)
	}
	p = p.withDefaults()

	engine, err := m.builder.Create(m.metric.Space(), m.dim, hnsw.Params{
		MaxElements:    p.MaxNodes,
		M:              p.M,
		EfConstruction: p.EfConstruction,
		Seed:           p.RandomSeed,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	engine.SetEf(m.efSearch)

	m.engine = engine
	m.maxNodes = p.MaxNodes
	m.nextLabel = 0
	m.entryPointSet = false
	m.updateSize()

	m.logger.Info("index created", map[string]interface{}{
		"max_nodes":       p.MaxNodes,
		"m":               p.M,
		"ef_construction": p.EfConstruction,
		"seed":            p.RandomSeed,
		"dimension":       m.dim,
	})
	return nil
}

// InsertBatch adds vectors to the index.
//
// With labels == nil the vectors get consecutive labels starting at
// NextLabel. Otherwise labels[i] is used for vectors[i]. Every vector is
// checked before any is inserted. The first vector of the first batch after
// Create is inserted alone to seed the graph entry point; the rest run in
// parallel. Batches shorter than four times the thread count run on one
// thread. When a worker fails the points already inserted stay in the index,
// NextLabel still advances by len(vectors), and the first failure is returned
// wrapped in ErrWorkerFailure.
func (m *Manager) InsertBatch(vectors [][]float32, labels []uint64) error {
	if m.engine == nil {
		return ErrNotInitialized
	}
	if labels != nil && len(labels) != len(vectors) {
		return fmt.Errorf("%w: %d vectors, %d labels", ErrLabelCountMismatch, len(vectors), len(labels))
	}
	for i, v := range vectors {
		if len(v) != m.dim {
			return fmt.Errorf("%w: vector %d has %d components, expected %d", ErrDimensionMismatch, i, len(v), m.dim)
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	start := time.Now()
	threads := m.effectiveThreads(len(vectors))
	base := m.nextLabel
	labelOf := func(i int) uint64 {
		if labels != nil {
			return labels[i]
		}
		return base + uint64(i)
	}
	insert := func(i, w int) error {
		v := vectors[i]
		if m.metric.Normalizes() {
			Normalize(m.scratch[w], v)
			v = m.scratch[w]
		}
		return m.engine.AddPoint(v, labelOf(i))
	}

	err := m.insertAll(len(vectors), threads, insert)
	m.nextLabel = base + uint64(len(vectors))
	m.updateSize()

	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordInsertFailure(m.name)
		}
		m.logger.Error("insert batch failed", map[string]interface{}{
			"batch":   len(vectors),
			"threads": threads,
			"error":   err,
		})
		return fmt.Errorf("%w: %w", ErrWorkerFailure, err)
	}

	if m.metrics != nil {
		m.metrics.RecordBatchInsert(m.name, time.Since(start), len(vectors))
	}
	m.logger.Debug("insert batch completed", map[string]interface{}{
		"batch":      len(vectors),
		"threads":    threads,
		"next_label": m.nextLabel,
		"duration":   time.Since(start),
	})
	return nil
}

// insertAll seeds the entry point when needed and hands the remaining items
// to the runner
func (m *Manager) insertAll(n, threads int, insert parallel.Func) error {
	first := 0
	if !m.entryPointSet {
		if err := insert(0, 0); err != nil {
			return &parallel.WorkerError{Item: 0, Worker: 0, Err: err}
		}
		m.entryPointSet = true
		first = 1
	}
	return m.runner.Run(first, n, threads, insert)
}

func (m *Manager) effectiveThreads(n int) int {
	if n < 4*m.threads {
		return 1
	}
	return m.threads
}

// Save writes the index to path
func (m *Manager) Save(path string) error {
	if m.engine == nil {
		return ErrNotInitialized
	}

	start := time.Now()
	err := m.engine.SaveIndex(path)
	if m.metrics != nil {
		m.metrics.RecordPersist("save", time.Since(start), err)
	}
	if err != nil {
		m.logger.Error("save failed", map[string]interface{}{"path": path, "error": err})
		return fmt.Errorf("%w: save %s: %w", ErrSerialization, path, err)
	}

	m.logger.Info("index saved", map[string]interface{}{
		"path":     path,
		"size":     m.engine.Len(),
		"duration": time.Since(start),
	})
	return nil
}

// Load restores an index saved with Save. maxNodes is the capacity of the
// restored index and must hold every saved point. Load fails with
// ErrAlreadyInitialized when the manager already owns an index; use Reload to
// replace it.
func (m *Manager) Load(path string, maxNodes int) error {
	if m.engine != nil {
		return ErrAlreadyInitialized
	}
	engine, err := m.loadEngine(path, maxNodes)
	if err != nil {
		return err
	}
	m.install(engine, maxNodes)
	return nil
}

// Reload loads path and swaps it in for the current index, if any. The
// current index is released only after the new one has been read, so on
// failure the manager keeps serving the old index.
func (m *Manager) Reload(path string, maxNodes int) error {
	engine, err := m.loadEngine(path, maxNodes)
	if err != nil {
		return err
	}
	if m.engine != nil {
		if cerr := m.engine.Close(); cerr != nil {
			m.logger.Warn("closing replaced index failed", map[string]interface{}{"error": cerr})
		}
	}
	m.install(engine, maxNodes)
	return nil
}

func (m *Manager) loadEngine(path string, maxNodes int) (Engine, error) {
	if maxNodes <= 0 {
		return nil, fmt.Errorf("%w: max nodes must be positive, got %d", ErrInvalidConfig, maxNodes)
	}

	start := time.Now()
	engine, err := m.builder.LoadIndex(path, m.metric.Space(), m.dim, maxNodes)
	if m.metrics != nil {
		m.metrics.RecordPersist("load", time.Since(start), err)
	}
	if err != nil {
		m.logger.Error("load failed", map[string]interface{}{"path": path, "error": err})
		return nil, fmt.Errorf("%w: load %s: %w", ErrSerialization, path, err)
	}

	m.logger.Info("index loaded", map[string]interface{}{
		"path":      path,
		"size":      engine.Len(),
		"max_nodes": maxNodes,
		"duration":  time.Since(start),
	})
	return engine, nil
}

// install makes engine the owned index, with the label counter at its size
func (m *Manager) install(engine Engine, maxNodes int) {
	engine.SetEf(m.efSearch)
	m.engine = engine
	m.maxNodes = maxNodes
	m.nextLabel = uint64(engine.Len())
	m.entryPointSet = true
	m.updateSize()
}

// Close releases the index. The manager can be reused with Create or Load.
func (m *Manager) Close() error {
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	m.maxNodes = 0
	m.nextLabel = 0
	m.entryPointSet = false
	if m.metrics != nil {
		m.metrics.UpdateIndexSize(m.name, 0)
	}
	if err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// SetEfSearch changes the search width of KNNQuery. ef <= 0 restores the default.
func (m *Manager) SetEfSearch(ef int) {
	if ef <= 0 {
		ef = DefaultEfSearch
	}
	m.efSearch = ef
	if m.engine != nil {
		m.engine.SetEf(ef)
	}
}

func (m *Manager) updateSize() {
	if m.metrics != nil && m.engine != nil {
		m.metrics.UpdateIndexSize(m.name, m.engine.Len())
	}
}

// Name returns the name used in logs and metrics
func (m *Manager) Name() string { return m.name }

// Metric returns the configured metric
func (m *Manager) Metric() Metric { return m.metric }

// Dimension returns the vector length
func (m *Manager) Dimension() int { return m.dim }

// Threads returns the resolved worker count
func (m *Manager) Threads() int { return m.threads }

// EfSearch returns the current search width
func (m *Manager) EfSearch() int { return m.efSearch }

// NextLabel returns the label the next auto-labelled vector will get
func (m *Manager) NextLabel() uint64 { return m.nextLabel }

// Initialized reports whether the manager owns an index
func (m *Manager) Initialized() bool { return m.engine != nil }

// Len returns the number of points in the index, 0 without one
func (m *Manager) Len() int {
	if m.engine == nil {
		return 0
	}
	return m.engine.Len()
}

// Stats is a snapshot of the manager state
type Stats struct {
	Name        string `json:"name"`
	Metric      string `json:"metric"`
	Dimension   int    `json:"dimension"`
	Threads     int    `json:"threads"`
	EfSearch    int    `json:"ef_search"`
	Initialized bool   `json:"initialized"`
	Size        int    `json:"size"`
	MaxNodes    int    `json:"max_nodes"`
	NextLabel   uint64 `json:"next_label"`
}

// Stats returns a snapshot of the manager state
func (m *Manager) Stats() Stats {
	return Stats{
		Name:        m.name,
		Metric:      m.metric.String(),
		Dimension:   m.dim,
		Threads:     m.threads,
		EfSearch:    m.efSearch,
		Initialized: m.engine != nil,
		Size:        m.Len(),
		MaxNodes:    m.maxNodes,
		NextLabel:   m.nextLabel,
	}
}
