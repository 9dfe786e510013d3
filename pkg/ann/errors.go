package ann

import "errors"

var (
	// ErrAlreadyInitialized is returned by Create and Load when the manager already owns an index
	ErrAlreadyInitialized = errors.New("ann: index already initialized")
	// ErrNotInitialized is returned by operations that need an index before Create or Load
	ErrNotInitialized = errors.New("ann: index not initialized")
	// ErrLabelCountMismatch is returned when explicit labels do not match the batch length
	ErrLabelCountMismatch = errors.New("ann: label count mismatch")
	// ErrDimensionMismatch is returned for vectors whose length differs from the configured dimension
	ErrDimensionMismatch = errors.New("ann: dimension mismatch")
	// ErrUnknownMetric is returned for metric names other than l2, inner-product and cosine
	ErrUnknownMetric = errors.New("ann: unknown metric")
	// ErrInvalidK is returned for queries with k <= 0
	ErrInvalidK = errors.New("ann: k must be positive")
	// ErrInvalidConfig is returned for invalid construction or load parameters
	ErrInvalidConfig = errors.New("ann: invalid config")
	// ErrSerialization wraps engine failures while saving or loading
	ErrSerialization = errors.New("ann: serialization failed")
	// ErrWorkerFailure wraps the first error raised by an insert or query worker
	ErrWorkerFailure = errors.New("ann: worker failed")
)
