package ann

import (
	"errors"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/parallel"
)

type addCall struct {
	label  uint64
	vector []float32
}

// recordingEngine remembers every AddPoint call in arrival order
type recordingEngine struct {
	mu      sync.Mutex
	calls   []addCall
	fail    map[uint64]error
	ef      int
	saveErr error
	saved   []string
	closed  bool
}

func (e *recordingEngine) AddPoint(vector []float32, label uint64) error {
	cp := append([]float32(nil), vector...)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, addCall{label: label, vector: cp})
	if err, ok := e.fail[label]; ok {
		return err
	}
	return nil
}

func (e *recordingEngine) SearchKNN(query []float32, k int) (*hnsw.ResultHeap, error) {
	return &hnsw.ResultHeap{}, nil
}

func (e *recordingEngine) SetEf(ef int) {
	e.mu.Lock()
	e.ef = ef
	e.mu.Unlock()
}

func (e *recordingEngine) SaveIndex(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = append(e.saved, path)
	return e.saveErr
}

func (e *recordingEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *recordingEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *recordingEngine) labels() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint64, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.label
	}
	return out
}

func (e *recordingEngine) sortedLabels() []uint64 {
	out := e.labels()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *recordingEngine) vectorOf(label uint64) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.calls {
		if c.label == label {
			return c.vector
		}
	}
	return nil
}

type recordingBuilder struct {
	engine  *recordingEngine
	loadErr error
	params  hnsw.Params
	space   hnsw.Space
}

func (b *recordingBuilder) Create(space hnsw.Space, dim int, p hnsw.Params) (Engine, error) {
	b.space = space
	b.params = p
	return b.engine, nil
}

func (b *recordingBuilder) LoadIndex(path string, space hnsw.Space, dim, maxElements int) (Engine, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.engine, nil
}

// recordingRunner records the thread count of every Run call
type recordingRunner struct {
	mu      sync.Mutex
	threads []int
	ranges  [][2]int
}

func (r *recordingRunner) Run(start, end, threads int, fn parallel.Func) error {
	r.mu.Lock()
	r.threads = append(r.threads, threads)
	r.ranges = append(r.ranges, [2]int{start, end})
	r.mu.Unlock()
	return parallel.For(start, end, threads, fn)
}

var errInjected = errors.New("injected failure")

func newRecordingManager(metric string, dim, threads int) (*Manager, *recordingEngine, *recordingRunner) {
	engine := &recordingEngine{}
	runner := &recordingRunner{}
	m, err := New(Config{Metric: metric, Dimension: dim, Threads: threads},
		WithBuilder(&recordingBuilder{engine: engine}),
		WithRunner(runner),
	)
	if err != nil {
		panic(err)
	}
	if err := m.Create(CreateParams{MaxNodes: 100000}); err != nil {
		panic(err)
	}
	return m, engine, runner
}

// indexedVectors returns n vectors whose first component is their position
func indexedVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		v[0] = float32(i)
		for j := 1; j < dim; j++ {
			v[j] = float32((i*7+j*13)%17) + 1
		}
		out[i] = v
	}
	return out
}
