package hnsw

import (
	"sync"
)

// Node represents a vector in the HNSW graph with multi-layer connections
type Node struct {
	id     uint32    // Internal slot, dense in [0, Len())
	label  uint64    // Caller supplied label
	vector []float32 // Owned copy of the vector
	level  int       // Maximum layer this node appears in

	// neighbors[layer] contains the internal ids of the neighbors at each layer
	neighbors [][]uint32

	mu sync.RWMutex
}

// newNode creates a node with empty neighbor lists for every layer up to level
func newNode(id uint32, label uint64, vector []float32, level int) *Node {
	neighbors := make([][]uint32, level+1)
	for i := range neighbors {
		neighbors[i] = make([]uint32, 0)
	}

	return &Node{
		id:        id,
		label:     label,
		vector:    vector,
		level:     level,
		neighbors: neighbors,
	}
}

// ID returns the node's internal identifier
func (n *Node) ID() uint32 {
	return n.id
}

// Label returns the caller supplied label
func (n *Node) Label() uint64 {
	return n.label
}

// Vector returns the node's vector
func (n *Node) Vector() []float32 {
	return n.vector
}

// Level returns the maximum layer this node appears in
func (n *Node) Level() int {
	return n.level
}

// AddNeighbor adds a neighbor at the specified layer (thread-safe)
func (n *Node) AddNeighbor(layer int, neighborID uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if layer < 0 || layer > n.level {
		return
	}

	for _, id := range n.neighbors[layer] {
		if id == neighborID {
			return
		}
	}

	n.neighbors[layer] = append(n.neighbors[layer], neighborID)
}

// GetNeighbors returns a copy of neighbors at the specified layer (thread-safe)
func (n *Node) GetNeighbors(layer int) []uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if layer < 0 || layer > n.level {
		return nil
	}

	neighbors := make([]uint32, len(n.neighbors[layer]))
	copy(neighbors, n.neighbors[layer])
	return neighbors
}

// SetNeighbors replaces all neighbors at the specified layer (thread-safe)
func (n *Node) SetNeighbors(layer int, neighbors []uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if layer < 0 || layer > n.level {
		return
	}

	n.neighbors[layer] = make([]uint32, len(neighbors))
	copy(n.neighbors[layer], neighbors)
}

// NeighborCount returns the number of neighbors at the specified layer
func (n *Node) NeighborCount(layer int) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if layer < 0 || layer > n.level {
		return 0
	}
	return len(n.neighbors[layer])
}
