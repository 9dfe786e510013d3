// Package coderhnsw adapts github.com/coder/hnsw to the ann.Engine interface.
//
// The graph has no node capacity of its own, so capacity is enforced here.
// EfConstruction has no counterpart in the library and is ignored.
package coderhnsw

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	coder "github.com/coder/hnsw"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
)

const fileMagic = "CODERHNS"

// distance names recorded by Graph.Export
const (
	distL2 = "ann-l2-squared"
	distIP = "ann-inner-product"
)

func init() {
	coder.RegisterDistanceFunc(distL2, hnsw.SquaredL2)
	coder.RegisterDistanceFunc(distIP, hnsw.InnerProductDistance)
}

// Builder creates engines backed by coder/hnsw
type Builder struct{}

// Create implements ann.Builder
func (Builder) Create(space hnsw.Space, dim int, p hnsw.Params) (ann.Engine, error) {
	return newEngine(space, dim, p)
}

// LoadIndex implements ann.Builder
func (Builder) LoadIndex(path string, space hnsw.Space, dim, maxElements int) (ann.Engine, error) {
	return Load(path, space, dim, maxElements)
}

// Engine is a coder/hnsw graph keyed by label
type Engine struct {
	mu          sync.RWMutex
	graph       *coder.Graph[uint64]
	space       hnsw.Space
	dim         int
	maxElements int
	closed      bool
}

func newEngine(space hnsw.Space, dim int, p hnsw.Params) (*Engine, error) {
	if !space.Valid() {
		return nil, fmt.Errorf("coderhnsw: unknown space %d", int(space))
	}
	if dim <= 0 {
		return nil, fmt.Errorf("coderhnsw: invalid dimension %d", dim)
	}
	if p.MaxElements <= 0 {
		return nil, fmt.Errorf("coderhnsw: invalid max elements %d", p.MaxElements)
	}

	g := coder.NewGraph[uint64]()
	g.Distance = coder.DistanceFunc(space.Distance())
	if p.M > 0 {
		g.M = p.M
	}
	g.Rng = rand.New(rand.NewSource(p.Seed))
	g.EfSearch = hnsw.DefaultEf

	return &Engine{
		graph:       g,
		space:       space,
		dim:         dim,
		maxElements: p.MaxElements,
	}, nil
}

// AddPoint adds a copy of vector under label
func (e *Engine) AddPoint(vector []float32, label uint64) error {
	if len(vector) != e.dim {
		return fmt.Errorf("%w: expected %d, got %d", hnsw.ErrDimensionMismatch, e.dim, len(vector))
	}
	owned := make([]float32, len(vector))
	copy(owned, vector)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return hnsw.ErrClosed
	}
	if _, exists := e.graph.Lookup(label); exists {
		return fmt.Errorf("%w: %d", hnsw.ErrLabelExists, label)
	}
	if e.graph.Len() >= e.maxElements {
		return fmt.Errorf("%w: %d elements", hnsw.ErrCapacityExceeded, e.maxElements)
	}
	e.graph.Add(coder.MakeNode(label, owned))
	return nil
}

// SearchKNN returns up to k neighbors of query as a max-heap
func (e *Engine) SearchKNN(query []float32, k int) (*hnsw.ResultHeap, error) {
	if len(query) != e.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", hnsw.ErrDimensionMismatch, e.dim, len(query))
	}
	if k <= 0 {
		return nil, fmt.Errorf("coderhnsw: invalid k %d", k)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, hnsw.ErrClosed
	}

	results := &hnsw.ResultHeap{}
	if e.graph.Len() == 0 {
		return results, nil
	}
	// the layer 0 search stops after k candidates, so widen it to ef
	for _, node := range e.graph.Search(query, max(k, e.graph.EfSearch)) {
		heap.Push(results, hnsw.Neighbor{
			Label:    node.Key,
			Distance: e.graph.Distance(query, node.Value),
		})
		if results.Len() > k {
			heap.Pop(results)
		}
	}
	return results, nil
}

// SetEf sets the search width
func (e *Engine) SetEf(ef int) {
	if ef <= 0 {
		ef = hnsw.DefaultEf
	}
	e.mu.Lock()
	e.graph.EfSearch = ef
	e.mu.Unlock()
}

// Len returns the number of points
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0
	}
	return e.graph.Len()
}

// Close releases the graph
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph = coder.NewGraph[uint64]()
	e.closed = true
	return nil
}

type fileHeader struct {
	Magic [8]byte
	Space uint32
	Dim   uint32
}

// SaveIndex writes the graph to path through a temporary file
func (e *Engine) SaveIndex(path string) (err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return hnsw.ErrClosed
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	hdr := fileHeader{Space: uint32(e.space), Dim: uint32(e.dim)}
	copy(hdr.Magic[:], fileMagic)
	if err = binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err = e.graph.Export(bw); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a graph written by SaveIndex
func Load(path string, space hnsw.Space, dim, maxElements int) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return load(bufio.NewReader(f), space, dim, maxElements)
}

func load(r io.Reader, space hnsw.Space, dim, maxElements int) (*Engine, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", hnsw.ErrBadSnapshot, err)
	}
	if string(hdr.Magic[:]) != fileMagic {
		return nil, fmt.Errorf("%w: bad magic", hnsw.ErrBadSnapshot)
	}
	if hnsw.Space(hdr.Space) != space {
		return nil, fmt.Errorf("%w: space %s, expected %s", hnsw.ErrBadSnapshot, hnsw.Space(hdr.Space), space)
	}
	if int(hdr.Dim) != dim {
		return nil, fmt.Errorf("%w: expected %d, saved %d", hnsw.ErrDimensionMismatch, dim, hdr.Dim)
	}

	e, err := newEngine(space, dim, hnsw.Params{MaxElements: maxElements})
	if err != nil {
		return nil, err
	}
	if err := e.graph.Import(r); err != nil {
		return nil, fmt.Errorf("%w: %v", hnsw.ErrBadSnapshot, err)
	}
	if e.graph.Len() > maxElements {
		return nil, fmt.Errorf("%w: snapshot holds %d points, capacity %d",
			hnsw.ErrCapacityExceeded, e.graph.Len(), maxElements)
	}
	return e, nil
}

// Inspect reports the shape of a file written by SaveIndex
func Inspect(path string) (hnsw.SnapshotInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return hnsw.SnapshotInfo{}, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hnsw.SnapshotInfo{}, fmt.Errorf("%w: %v", hnsw.ErrBadSnapshot, err)
	}
	if string(hdr.Magic[:]) != fileMagic {
		return hnsw.SnapshotInfo{}, fmt.Errorf("%w: bad magic", hnsw.ErrBadSnapshot)
	}
	g := coder.NewGraph[uint64]()
	if err := g.Import(r); err != nil {
		return hnsw.SnapshotInfo{}, fmt.Errorf("%w: %v", hnsw.ErrBadSnapshot, err)
	}
	return hnsw.SnapshotInfo{
		Space:     hnsw.Space(hdr.Space),
		Dimension: int(hdr.Dim),
		Count:     g.Len(),
		M:         g.M,
	}, nil
}
