package hnsw

import (
	"container/heap"
	"fmt"
)

// Neighbor is a labelled search hit
type Neighbor struct {
	Label    uint64
	Distance float32
}

// ResultHeap is a max-heap of neighbors keyed by distance: the farthest
// neighbor is on top. Use container/heap to pop it.
type ResultHeap []Neighbor

func (h ResultHeap) Len() int           { return len(h) }
func (h ResultHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h ResultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *ResultHeap) Push(x interface{}) {
	*h = append(*h, x.(Neighbor))
}

func (h *ResultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Top returns the farthest neighbor without removing it
func (h ResultHeap) Top() (Neighbor, bool) {
	if len(h) == 0 {
		return Neighbor{}, false
	}
	return h[0], true
}

// SearchKNN returns up to k approximate nearest neighbors of query.
// An empty index yields an empty heap.
func (idx *Index) SearchKNN(query []float32, k int) (*ResultHeap, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, idx.dim, len(query))
	}
	if k <= 0 {
		return nil, fmt.Errorf("hnsw: invalid k %d", k)
	}

	idx.mu.RLock()
	if idx.closed {
		idx.mu.RUnlock()
		return nil, ErrClosed
	}
	entryPoint := idx.entryPoint
	maxLayer := idx.maxLayer
	idx.mu.RUnlock()

	results := &ResultHeap{}
	if entryPoint == nil {
		return results, nil
	}

	ef := idx.Ef()
	if ef < k {
		ef = k
	}

	// Phase 1: greedy search from the top layer down to layer 1
	ep := entryPoint
	currentDist := idx.distanceToNode(query, ep)
	for lc := maxLayer; lc > 0; lc-- {
		ep, currentDist = idx.greedyClosest(query, ep, currentDist, lc)
	}

	// Phase 2: search layer 0 with ef candidates, keep the k closest
	candidates := idx.searchLayer(query, ep, ef, 0)
	for i := 0; i < len(candidates) && i < k; i++ {
		node := idx.getNode(candidates[i].id)
		if node == nil {
			continue
		}
		heap.Push(results, Neighbor{Label: node.label, Distance: candidates[i].distance})
	}
	return results, nil
}

// searchLayer performs a greedy search for the ef nearest neighbors at a specific layer
// Returns candidates sorted by distance (closest first)
func (idx *Index) searchLayer(query []float32, entryPoint *Node, ef int, layer int) []heapItem {
	visited := map[uint32]struct{}{entryPoint.id: {}}
	candidates := &minHeap{}
	results := &maxHeap{}

	dist := idx.distanceToNode(query, entryPoint)
	heap.Push(candidates, heapItem{id: entryPoint.id, distance: dist})
	heap.Push(results, heapItem{id: entryPoint.id, distance: dist})

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(heapItem)

		// If current is farther than the worst result, we're done
		if current.distance > results.Peek().distance {
			break
		}

		currentNode := idx.getNode(current.id)
		if currentNode == nil {
			continue
		}

		for _, neighborID := range currentNode.GetNeighbors(layer) {
			if _, seen := visited[neighborID]; seen {
				continue
			}
			visited[neighborID] = struct{}{}

			neighborNode := idx.getNode(neighborID)
			if neighborNode == nil {
				continue
			}

			neighborDist := idx.distanceToNode(query, neighborNode)
			if results.Len() < ef || neighborDist < results.Peek().distance {
				heap.Push(candidates, heapItem{id: neighborID, distance: neighborDist})
				heap.Push(results, heapItem{id: neighborID, distance: neighborDist})

				// Keep only ef closest results
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	// Convert max heap to sorted slice (closest first)
	resultSlice := make([]heapItem, results.Len())
	for i := len(resultSlice) - 1; i >= 0; i-- {
		resultSlice[i] = heap.Pop(results).(heapItem)
	}
	return resultSlice
}

// heapItem represents an item in the priority queue
type heapItem struct {
	id       uint32
	distance float32
}

// minHeap is a min-heap of heapItem (smallest distance at top)
type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// maxHeap is a max-heap of heapItem (largest distance at top)
type maxHeap []heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxHeap) Peek() heapItem {
	if len(h) == 0 {
		return heapItem{distance: 1e9}
	}
	return h[0]
}
