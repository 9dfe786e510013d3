package ann

import "github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"

// Engine is a graph index owned by a Manager.
//
// AddPoint must copy the vector and must be safe for concurrent use once the
// index holds one point. SearchKNN returns at most k neighbors in a max-heap
// keyed by distance.
type Engine interface {
	AddPoint(vector []float32, label uint64) error
	SearchKNN(query []float32, k int) (*hnsw.ResultHeap, error)
	SetEf(ef int)
	SaveIndex(path string) error
	Len() int
	Close() error
}

// Builder creates and restores engines
type Builder interface {
	Create(space hnsw.Space, dim int, p hnsw.Params) (Engine, error)
	LoadIndex(path string, space hnsw.Space, dim, maxElements int) (Engine, error)
}

// NativeBuilder builds engines from pkg/hnsw. It is the default Builder.
type NativeBuilder struct{}

// Create implements Builder
func (NativeBuilder) Create(space hnsw.Space, dim int, p hnsw.Params) (Engine, error) {
	idx, err := hnsw.New(space, dim, p)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// LoadIndex implements Builder
func (NativeBuilder) LoadIndex(path string, space hnsw.Space, dim, maxElements int) (Engine, error) {
	idx, err := hnsw.LoadIndex(path, space, dim, maxElements)
	if err != nil {
		return nil, err
	}
	return idx, nil
}
