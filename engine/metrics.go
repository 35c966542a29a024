package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tatolab/streamlib-sub000/metric"
)

// engineMetrics holds Prometheus metrics for one runtime instance.
type engineMetrics struct {
	// Lifecycle
	starts       prometheus.Counter
	running      prometheus.Gauge
	stopDuration prometheus.Histogram
	abandoned    prometheus.Counter // handlers that overran the grace period

	// Graph
	handlers prometheus.Gauge

	// Error log rate limiting
	errorsLogged     prometheus.Counter
	errorsSuppressed prometheus.Counter
}

// newEngineMetrics creates and registers runtime metrics labelled with the
// runtime ID.
func newEngineMetrics(registry *metric.MetricsRegistry, runtimeID string) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"runtime": runtimeID}
	m := &engineMetrics{
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "starts_total",
			Help:        "Total number of runtime starts",
			ConstLabels: labels,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "running",
			Help:        "1 while the runtime clock loop is active",
			ConstLabels: labels,
		}),
		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "stop_duration_seconds",
			Help:        "Runtime stop duration in seconds",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			ConstLabels: labels,
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "handlers_abandoned_total",
			Help:        "Handlers whose stop hook overran the grace period",
			ConstLabels: labels,
		}),
		handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "handlers",
			Help:        "Number of handlers added to the runtime, bridges included",
			ConstLabels: labels,
		}),
		errorsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "errors_logged_total",
			Help:        "Handler errors written to the log",
			ConstLabels: labels,
		}),
		errorsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "runtime",
			Name:        "errors_suppressed_total",
			Help:        "Handler errors dropped by the log rate limiter",
			ConstLabels: labels,
		}),
	}

	owner := "runtime-" + runtimeID
	if err := registry.RegisterCounter(owner, "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "running", m.running); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(owner, "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "handlers_abandoned", m.abandoned); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "handlers", m.handlers); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "errors_logged", m.errorsLogged); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "errors_suppressed", m.errorsSuppressed); err != nil {
		return nil, err
	}

	return m, nil
}
