// Package hnsw implements a label-addressed HNSW (Hierarchical Navigable
// Small World) graph with a fixed node capacity.
//
// Points may be added concurrently from many goroutines. Callers that need a
// deterministic graph add the first point alone: it becomes the entry point
// every later insertion starts from.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
)

var (
	// ErrCapacityExceeded is returned when the index already holds MaxElements points
	ErrCapacityExceeded = errors.New("hnsw: capacity exceeded")
	// ErrLabelExists is returned when a label is added twice
	ErrLabelExists = errors.New("hnsw: label already exists")
	// ErrDimensionMismatch is returned for vectors of the wrong length
	ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("hnsw: index closed")
)

// Params holds construction parameters
type Params struct {
	MaxElements    int   // Node capacity
	M              int   // Bi-directional links per node (typical: 16-32)
	EfConstruction int   // Size of candidate list during insertion (typical: 200)
	Seed           int64 // Seed of the level generator
}

// DefaultParams returns the recommended parameters for the given capacity
func DefaultParams(maxElements int) Params {
	return Params{
		MaxElements:    maxElements,
		M:              16,
		EfConstruction: 200,
		Seed:           100,
	}
}

// DefaultEf is the search width used until SetEf is called
const DefaultEf = 10

// Index represents an HNSW index
type Index struct {
	// Configuration parameters
	space          Space
	dim            int
	maxElements    int
	M              int          // Maximum number of connections per layer (except layer 0)
	M0             int          // Maximum number of connections for layer 0
	efConstruction int          // Size of dynamic candidate list during construction
	ml             float64      // Normalization factor for level generation
	seed           int64        // Seed of the level generator
	distanceFunc   DistanceFunc // Distance metric function
	ef             atomic.Int64 // Search width for SearchKNN

	// Index state
	mu         sync.RWMutex
	nodes      []*Node           // Indexed by internal id
	labels     map[uint64]uint32 // label -> internal id
	entryPoint *Node
	maxLayer   int
	closed     bool

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates an empty index for vectors of length dim
func New(space Space, dim int, p Params) (*Index, error) {
	if !space.Valid() {
		return nil, fmt.Errorf("hnsw: unknown space %d", int(space))
	}
	if dim <= 0 {
		return nil, fmt.Errorf("hnsw: invalid dimension %d", dim)
	}
	if p.MaxElements <= 0 {
		return nil, fmt.Errorf("hnsw: invalid max elements %d", p.MaxElements)
	}
	if p.M == 0 {
		p.M = 16
	}
	if p.M < 2 {
		return nil, fmt.Errorf("hnsw: invalid M %d", p.M)
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = 200
	}
	// efConstruction below M would starve neighbor selection
	if p.EfConstruction < p.M {
		p.EfConstruction = p.M
	}

	idx := &Index{
		space:          space,
		dim:            dim,
		maxElements:    p.MaxElements,
		M:              p.M,
		M0:             p.M * 2,
		efConstruction: p.EfConstruction,
		// ml = 1/ln(M) ensures exponential decay of layer probabilities
		ml:           1.0 / math.Log(float64(p.M)),
		seed:         p.Seed,
		distanceFunc: space.Distance(),
		nodes:        make([]*Node, 0, initialCapacity(p.MaxElements)),
		labels:       make(map[uint64]uint32),
		maxLayer:     -1,
		rand:         rand.New(rand.NewSource(p.Seed)),
	}
	idx.ef.Store(DefaultEf)
	return idx, nil
}

func initialCapacity(maxElements int) int {
	const limit = 1 << 16
	if maxElements < limit {
		return maxElements
	}
	return limit
}

// randomLevel generates a random layer for a new node
// Uses exponential decay: P(level=l) = e^(-l/ml)
func (idx *Index) randomLevel() int {
	idx.randMu.Lock()
	r := idx.rand.Float64()
	idx.randMu.Unlock()

	// rand.Float64 may return exactly 0
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(r) * idx.ml))
}

// SetEf sets the candidate list size used by SearchKNN
func (idx *Index) SetEf(ef int) {
	if ef <= 0 {
		ef = DefaultEf
	}
	idx.ef.Store(int64(ef))
}

// Ef returns the current search width
func (idx *Index) Ef() int {
	return int(idx.ef.Load())
}

// Len returns the number of points in the index
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Dimension returns the vector dimension of the index
func (idx *Index) Dimension() int {
	return idx.dim
}

// Space returns the distance space of the index
func (idx *Index) Space() Space {
	return idx.space
}

// MaxElements returns the node capacity
func (idx *Index) MaxElements() int {
	return idx.maxElements
}

// MaxLayer returns the highest layer in the index
func (idx *Index) MaxLayer() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.maxLayer
}

// Contains reports whether label has been added
func (idx *Index) Contains(label uint64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.labels[label]
	return ok
}

// GetVector returns a copy of the vector stored under label
func (idx *Index) GetVector(label uint64) ([]float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	id, ok := idx.labels[label]
	if !ok {
		return nil, fmt.Errorf("hnsw: label %d not found", label)
	}
	vector := make([]float32, idx.dim)
	copy(vector, idx.nodes[id].vector)
	return vector, nil
}

// EntryPoint returns the current entry point node
func (idx *Index) EntryPoint() *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.entryPoint
}

// getNode retrieves a node by internal id (thread-safe)
func (idx *Index) getNode(id uint32) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if int(id) >= len(idx.nodes) {
		return nil
	}
	return idx.nodes[id]
}

// IndexStats holds statistics about the index
type IndexStats struct {
	Size           int
	Capacity       int
	Dimension      int
	Space          string
	MaxLayer       int
	M              int
	M0             int
	EfConstruction int
	Ef             int
	NodesPerLayer  map[int]int // Number of nodes at each layer
}

// GetStats returns current index statistics
func (idx *Index) GetStats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	nodesPerLayer := make(map[int]int)
	for _, node := range idx.nodes {
		for layer := 0; layer <= node.level; layer++ {
			nodesPerLayer[layer]++
		}
	}

	return IndexStats{
		Size:           len(idx.nodes),
		Capacity:       idx.maxElements,
		Dimension:      idx.dim,
		Space:          idx.space.String(),
		MaxLayer:       idx.maxLayer,
		M:              idx.M,
		M0:             idx.M0,
		EfConstruction: idx.efConstruction,
		Ef:             idx.Ef(),
		NodesPerLayer:  nodesPerLayer,
	}
}

// Close releases the graph. Later calls fail with ErrClosed.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nodes = nil
	idx.labels = nil
	idx.entryPoint = nil
	idx.maxLayer = -1
	idx.closed = true
	return nil
}

// distance calculates the distance from a vector to a node
func (idx *Index) distanceToNode(vector []float32, node *Node) float32 {
	return idx.distanceFunc(vector, node.vector)
}
