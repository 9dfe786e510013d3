package hnsw

import "fmt"

// DistanceFunc is a function type for calculating distance between two vectors
type DistanceFunc func(a, b []float32) float32

// Space selects the distance function of an index. Cosine similarity is not a
// separate space: callers normalize vectors and use SpaceInnerProduct.
type Space int

const (
	// SpaceL2 uses the squared Euclidean distance
	SpaceL2 Space = iota
	// SpaceInnerProduct uses 1 - a·b
	SpaceInnerProduct
)

// String returns the name stored in snapshots and logs
func (s Space) String() string {
	switch s {
	case SpaceL2:
		return "l2"
	case SpaceInnerProduct:
		return "ip"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// Valid reports whether s is a known space
func (s Space) Valid() bool {
	return s == SpaceL2 || s == SpaceInnerProduct
}

// Distance returns the distance function for the space
func (s Space) Distance() DistanceFunc {
	if s == SpaceInnerProduct {
		return InnerProductDistance
	}
	return SquaredL2
}

// SquaredL2 calculates the squared Euclidean distance
// Formula: Σ(a[i] - b[i])²
func SquaredL2(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// InnerProductDistance returns 1 - a·b, so that for unit vectors identical
// vectors are at distance 0 and opposite vectors at distance 2
func InnerProductDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vectors must have the same dimension")
	}

	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}
