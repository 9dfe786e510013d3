package hnsw

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const (
	snapshotMagic   = "HNSWIDX\x00"
	snapshotVersion = 1
)

// ErrBadSnapshot is returned when a file is not a snapshot written by SaveIndex
var ErrBadSnapshot = errors.New("hnsw: invalid snapshot")

type snapshot struct {
	Version        int
	Space          Space
	Dimension      int
	M              int
	EfConstruction int
	Seed           int64
	MaxLayer       int
	EntryPoint     int64 // internal id, -1 when empty
	Nodes          []nodeSnapshot
}

type nodeSnapshot struct {
	Label     uint64
	Level     int
	Vector    []float32
	Neighbors [][]uint32
}

// SaveIndex writes the graph to path. The file is written next to path and
// renamed into place, so a failed save leaves any previous file intact.
func (idx *Index) SaveIndex(path string) (err error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		return ErrClosed
	}

	snap := snapshot{
		Version:        snapshotVersion,
		Space:          idx.space,
		Dimension:      idx.dim,
		M:              idx.M,
		EfConstruction: idx.efConstruction,
		Seed:           idx.seed,
		MaxLayer:       idx.maxLayer,
		EntryPoint:     -1,
		Nodes:          make([]nodeSnapshot, len(idx.nodes)),
	}
	if idx.entryPoint != nil {
		snap.EntryPoint = int64(idx.entryPoint.id)
	}
	for i, node := range idx.nodes {
		neighbors := make([][]uint32, node.level+1)
		for layer := range neighbors {
			neighbors[layer] = node.GetNeighbors(layer)
		}
		snap.Nodes[i] = nodeSnapshot{
			Label:     node.label,
			Level:     node.level,
			Vector:    node.vector,
			Neighbors: neighbors,
		}
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

	if err = writeSnapshot(tmp, &snap); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func writeSnapshot(w io.Writer, snap *snapshot) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	zw, err := zstd.NewWriter(bw)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush zstd: %w", err)
	}
	return bw.Flush()
}

// LoadIndex reads a graph written by SaveIndex. space and dim must match the
// saved index and maxElements must be able to hold every saved point.
func LoadIndex(path string, space Space, dim, maxElements int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	snap, err := readSnapshot(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}

	if snap.Space != space {
		return nil, fmt.Errorf("%w: space %s, expected %s", ErrBadSnapshot, snap.Space, space)
	}
	if snap.Dimension != dim {
		return nil, fmt.Errorf("%w: expected %d, saved %d", ErrDimensionMismatch, dim, snap.Dimension)
	}
	if len(snap.Nodes) > maxElements {
		return nil, fmt.Errorf("%w: snapshot holds %d points, capacity %d",
			ErrCapacityExceeded, len(snap.Nodes), maxElements)
	}

	idx, err := New(space, dim, Params{
		MaxElements:    maxElements,
		M:              snap.M,
		EfConstruction: snap.EfConstruction,
		Seed:           snap.Seed,
	})
	if err != nil {
		return nil, err
	}

	idx.nodes = make([]*Node, len(snap.Nodes), max(len(snap.Nodes), initialCapacity(maxElements)))
	for i, ns := range snap.Nodes {
		if len(ns.Vector) != dim || len(ns.Neighbors) != ns.Level+1 {
			return nil, fmt.Errorf("%w: node %d is malformed", ErrBadSnapshot, i)
		}
		if _, dup := idx.labels[ns.Label]; dup {
			return nil, fmt.Errorf("%w: duplicate label %d", ErrBadSnapshot, ns.Label)
		}
		node := newNode(uint32(i), ns.Label, ns.Vector, ns.Level)
		for layer, neighbors := range ns.Neighbors {
			for _, n := range neighbors {
				if int(n) >= len(snap.Nodes) {
					return nil, fmt.Errorf("%w: node %d links to %d", ErrBadSnapshot, i, n)
				}
			}
			node.neighbors[layer] = neighbors
		}
		idx.nodes[i] = node
		idx.labels[ns.Label] = uint32(i)
	}

	if snap.EntryPoint >= 0 {
		if int(snap.EntryPoint) >= len(idx.nodes) {
			return nil, fmt.Errorf("%w: entry point %d out of range", ErrBadSnapshot, snap.EntryPoint)
		}
		idx.entryPoint = idx.nodes[snap.EntryPoint]
		idx.maxLayer = snap.MaxLayer
	}
	return idx, nil
}

func readSnapshot(r io.Reader) (*snapshot, error) {
	header := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if string(header) != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadSnapshot)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	var snap snapshot
	if err := gob.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadSnapshot, snap.Version)
	}
	return &snap, nil
}

// SnapshotInfo describes a snapshot file without building its graph
type SnapshotInfo struct {
	Space          Space `json:"space"`
	Dimension      int   `json:"dimension"`
	Count          int   `json:"count"`
	M              int   `json:"m"`
	EfConstruction int   `json:"ef_construction"`
	MaxLayer       int   `json:"max_layer"`
}

// Inspect decodes a snapshot written by SaveIndex and reports its shape
func Inspect(path string) (SnapshotInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return SnapshotInfo{}, err
	}
	defer f.Close()

	snap, err := readSnapshot(bufio.NewReader(f))
	if err != nil {
		return SnapshotInfo{}, err
	}
	return SnapshotInfo{
		Space:          snap.Space,
		Dimension:      snap.Dimension,
		Count:          len(snap.Nodes),
		M:              snap.M,
		EfConstruction: snap.EfConstruction,
		MaxLayer:       snap.MaxLayer,
	}, nil
}
