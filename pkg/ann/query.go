package ann

import (
	"container/heap"
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
)

// Neighbor is a single k-NN hit
type Neighbor struct {
	Label    uint64  `json:"label"`
	Distance float32 `json:"distance"`
}

// QueryResult holds the neighbors of one query vector, closest first
type QueryResult struct {
	K         int        `json:"k"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Labels returns the neighbor labels in result order
func (r QueryResult) Labels() []uint64 {
	out := make([]uint64, len(r.Neighbors))
	for i, n := range r.Neighbors {
		out[i] = n.Label
	}
	return out
}

// Distances returns the neighbor distances in result order
func (r QueryResult) Distances() []float32 {
	out := make([]float32, len(r.Neighbors))
	for i, n := range r.Neighbors {
		out[i] = n.Distance
	}
	return out
}

func (r QueryResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "k=%d", r.K)
	for _, n := range r.Neighbors {
		fmt.Fprintf(&b, " %d:%.6g", n.Label, n.Distance)
	}
	return b.String()
}

// KNNQuery returns the k nearest neighbors of every query, in query order.
// A result holds fewer than k neighbors when the index is smaller than k.
// Queries are read-only and may run concurrently with other queries.
func (m *Manager) KNNQuery(queries [][]float32, k int) ([]QueryResult, error) {
	engine := m.engine
	if engine == nil {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	for i, q := range queries {
		if len(q) != m.dim {
			return nil, fmt.Errorf("%w: query %d has %d components, expected %d", ErrDimensionMismatch, i, len(q), m.dim)
		}
	}

	results := make([]QueryResult, len(queries))
	if len(queries) == 0 {
		return results, nil
	}

	start := time.Now()
	threads := m.effectiveThreads(len(queries))

	// Insert scratch belongs to InsertBatch; queries get their own buffers
	var bufs [][]float32
	if m.metric.Normalizes() {
		bufs = make([][]float32, threads)
		for w := range bufs {
			bufs[w] = make([]float32, m.dim)
		}
	}

	err := m.runner.Run(0, len(queries), threads, func(i, w int) error {
		q := queries[i]
		if bufs != nil {
			Normalize(bufs[w], q)
			q = bufs[w]
		}
		h, err := engine.SearchKNN(q, k)
		if err != nil {
			return err
		}
		n := h.Len()
		neighbors := make([]Neighbor, n)
		// the heap pops the farthest neighbor first
		for j := n - 1; j >= 0; j-- {
			top := heap.Pop(h).(hnsw.Neighbor)
			neighbors[j] = Neighbor{Label: top.Label, Distance: top.Distance}
		}
		results[i] = QueryResult{K: n, Neighbors: neighbors}
		return nil
	})
	if err != nil {
		m.logger.Error("query failed", map[string]interface{}{
			"queries": len(queries),
			"k":       k,
			"error":   err,
		})
		return nil, fmt.Errorf("%w: %w", ErrWorkerFailure, err)
	}

	if m.metrics != nil {
		m.metrics.RecordQuery(time.Since(start), len(queries), k)
	}
	return results, nil
}
