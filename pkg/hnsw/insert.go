package hnsw

import (
	"fmt"
	"sort"
)

// AddPoint adds a copy of vector to the graph under label.
//
// AddPoint is safe for concurrent use. The vector is copied before the call
// returns, so callers may reuse the buffer.
func (idx *Index) AddPoint(vector []float32, label uint64) error {
	if len(vector) != idx.dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, idx.dim, len(vector))
	}

	owned := make([]float32, len(vector))
	copy(owned, vector)
	level := idx.randomLevel()

	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return ErrClosed
	}
	if _, exists := idx.labels[label]; exists {
		idx.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrLabelExists, label)
	}
	if len(idx.nodes) >= idx.maxElements {
		idx.mu.Unlock()
		return fmt.Errorf("%w: %d elements", ErrCapacityExceeded, idx.maxElements)
	}

	nodeID := uint32(len(idx.nodes))
	newNode := newNode(nodeID, label, owned, level)
	idx.nodes = append(idx.nodes, newNode)
	idx.labels[label] = nodeID

	// Handle first insertion (entry point initialization)
	if idx.entryPoint == nil {
		idx.entryPoint = newNode
		idx.maxLayer = level
		idx.mu.Unlock()
		return nil
	}

	entryPoint := idx.entryPoint
	currentMaxLayer := idx.maxLayer
	idx.mu.Unlock()

	// Phase 1: greedy descent from the top layer to level+1
	ep := entryPoint
	currentDist := idx.distanceToNode(owned, ep)
	for lc := currentMaxLayer; lc > level; lc-- {
		ep, currentDist = idx.greedyClosest(owned, ep, currentDist, lc)
	}

	// Phase 2: for each layer from level down to 0, link to the closest candidates
	for lc := min(level, currentMaxLayer); lc >= 0; lc-- {
		candidates := idx.searchLayer(owned, ep, idx.efConstruction, lc)

		M := idx.M
		if lc == 0 {
			M = idx.M0
		}

		for _, neighbor := range selectNeighbors(candidates, M, nodeID) {
			neighborNode := idx.getNode(neighbor)
			if neighborNode == nil {
				continue
			}
			newNode.AddNeighbor(lc, neighbor)
			neighborNode.AddNeighbor(lc, nodeID)
			idx.pruneNeighbors(neighborNode, lc)
		}

		if len(candidates) > 0 {
			if next := idx.getNode(candidates[0].id); next != nil {
				ep = next
			}
		}
	}

	idx.mu.Lock()
	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entryPoint = newNode
	}
	idx.mu.Unlock()

	return nil
}

// greedyClosest walks layer lc from ep towards vector until no neighbor is closer
func (idx *Index) greedyClosest(vector []float32, ep *Node, dist float32, lc int) (*Node, float32) {
	changed := true
	for changed {
		changed = false
		for _, neighborID := range ep.GetNeighbors(lc) {
			neighborNode := idx.getNode(neighborID)
			if neighborNode == nil {
				continue
			}
			if d := idx.distanceToNode(vector, neighborNode); d < dist {
				dist = d
				ep = neighborNode
				changed = true
			}
		}
	}
	return ep, dist
}

// selectNeighbors keeps the M closest candidates, skipping the node itself
func selectNeighbors(candidates []heapItem, M int, self uint32) []uint32 {
	result := make([]uint32, 0, M)
	for _, c := range candidates {
		if c.id == self {
			continue
		}
		result = append(result, c.id)
		if len(result) == M {
			break
		}
	}
	return result
}

// pruneNeighbors ensures a node doesn't have more than M connections at a layer
func (idx *Index) pruneNeighbors(node *Node, layer int) {
	M := idx.M
	if layer == 0 {
		M = idx.M0
	}

	neighbors := node.GetNeighbors(layer)
	if len(neighbors) <= M {
		return
	}

	distances := make([]heapItem, 0, len(neighbors))
	for _, neighborID := range neighbors {
		neighborNode := idx.getNode(neighborID)
		if neighborNode == nil {
			continue
		}
		distances = append(distances, heapItem{
			id:       neighborID,
			distance: idx.distanceFunc(node.vector, neighborNode.vector),
		})
	}

	sort.Slice(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})
	if len(distances) > M {
		distances = distances[:M]
	}

	selected := make([]uint32, len(distances))
	for i, d := range distances {
		selected[i] = d.id
	}
	node.SetNeighbors(layer, selected)
}
