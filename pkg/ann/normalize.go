package ann

import "math"

const normEpsilon = 1e-30

// Normalize writes src scaled to unit length into dst. dst must be at least
// as long as src and may alias it. A zero vector stays zero.
func Normalize(dst, src []float32) {
	var sum float64
	for _, x := range src {
		sum += float64(x) * float64(x)
	}
	inv := 1 / (math.Sqrt(sum) + normEpsilon)
	for i, x := range src {
		dst[i] = float32(float64(x) * inv)
	}
}
