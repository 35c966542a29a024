package buffer

import (
	"github.com/tatolab/streamlib-sub000/metric"
)

// Option configures ring buffer behavior.
type Option[T any] func(*ringOptions[T])

// ringOptions holds internal configuration for ring buffer instances.
// Statistics are always collected and are not an option.
type ringOptions[T any] struct {
	overwriteCallback OverwriteCallback[T]

	// metricsReg is optional; when set the statistics are also exported to Prometheus
	metricsReg *metric.MetricsRegistry

	// metricsPrefix labels the exported series, usually "<handler>.<port>"
	metricsPrefix string
}

// WithMetrics enables Prometheus export of the buffer counters.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *ringOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithOverwriteCallback sets a callback receiving every item a write displaced,
// typically used to recycle pooled frames.
func WithOverwriteCallback[T any](callback OverwriteCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.overwriteCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
