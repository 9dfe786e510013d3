package ann

import (
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
)

// Metric is the similarity measure of an index
type Metric int

const (
	// L2 ranks by squared Euclidean distance
	L2 Metric = iota
	// InnerProduct ranks by 1 - a·b on the raw vectors
	InnerProduct
	// Cosine ranks by 1 - a·b on unit-normalized vectors
	Cosine
)

// ParseMetric maps a metric name to its Metric
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "l2":
		return L2, nil
	case "inner-product", "ip":
		return InnerProduct, nil
	case "cosine":
		return Cosine, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case InnerProduct:
		return "inner-product"
	case Cosine:
		return "cosine"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Space returns the engine space the metric runs on
func (m Metric) Space() hnsw.Space {
	if m == L2 {
		return hnsw.SpaceL2
	}
	return hnsw.SpaceInnerProduct
}

// Normalizes reports whether vectors are scaled to unit length before they
// reach the engine
func (m Metric) Normalizes() bool {
	return m == Cosine
}
