package ann

import (
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
	"github.com/therealutkarshpriyadarshi/ann/pkg/parallel"
)

// Option customizes a Manager
type Option func(*Manager)

// WithBuilder replaces the native engine builder
func WithBuilder(b Builder) Option {
	return func(m *Manager) {
		if b != nil {
			m.builder = b
		}
	}
}

// WithRunner replaces the parallel runner used by InsertBatch and KNNQuery
func WithRunner(r parallel.Runner) Option {
	return func(m *Manager) {
		if r != nil {
			m.runner = r
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(mt *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithName sets the name used in logs and metric labels
func WithName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.name = name
		}
	}
}
