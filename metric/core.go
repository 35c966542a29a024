package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the runtime
const Namespace = "streamlib"

// Metrics contains the runtime-level metrics shared by the clock loop,
// the event bus and every handler run-loop.
type Metrics struct {
	TicksPublished  *prometheus.CounterVec
	ProcessDuration *prometheus.HistogramVec
	ProcessErrors   *prometheus.CounterVec
	TicksSkipped    *prometheus.CounterVec
	HandlerState    *prometheus.GaugeVec
	BusDelivered    *prometheus.CounterVec
	BusDropped      *prometheus.CounterVec
	BusSubscribers  *prometheus.GaugeVec
	BridgesInserted *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TicksPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "clock",
				Name:      "ticks_published_total",
				Help:      "Total number of ticks published by the clock loop",
			},
			[]string{"clock"},
		),

		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "handler",
				Name:      "process_duration_seconds",
				Help:      "Time spent in a single Process call",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.05, 0.1, 0.25},
			},
			[]string{"handler"},
		),

		ProcessErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "handler",
				Name:      "process_errors_total",
				Help:      "Total number of Process calls that returned an error or panicked",
			},
			[]string{"handler"},
		),

		TicksSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "handler",
				Name:      "ticks_skipped_total",
				Help:      "Ticks a pooled handler skipped because the worker queue was full",
			},
			[]string{"handler"},
		),

		HandlerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "handler",
				Name:      "state",
				Help:      "Handler state (0=inert, 1=activated, 2=running, 3=deactivating, 4=stopped)",
			},
			[]string{"handler"},
		),

		BusDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "delivered_total",
				Help:      "Events enqueued on a subscriber queue",
			},
			[]string{"kind"},
		),

		BusDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "dropped_total",
				Help:      "Events dropped because a subscriber queue was full",
			},
			[]string{"kind"},
		),

		BusSubscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "bus",
				Name:      "subscribers",
				Help:      "Current number of subscribers per event kind",
			},
			[]string{"kind"},
		),

		BridgesInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "bridges_inserted_total",
				Help:      "Bridge handlers inserted by capability negotiation",
			},
			[]string{"from", "to"},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.TicksPublished,
		c.ProcessDuration,
		c.ProcessErrors,
		c.TicksSkipped,
		c.HandlerState,
		c.BusDelivered,
		c.BusDropped,
		c.BusSubscribers,
		c.BridgesInserted,
	)
}

// RecordTick increments the published tick counter for a clock
func (c *Metrics) RecordTick(clockID string) {
	c.TicksPublished.WithLabelValues(clockID).Inc()
}

// RecordProcess records the duration of one Process call and whether it failed
func (c *Metrics) RecordProcess(handlerID string, duration time.Duration, failed bool) {
	c.ProcessDuration.WithLabelValues(handlerID).Observe(duration.Seconds())
	if failed {
		c.ProcessErrors.WithLabelValues(handlerID).Inc()
	}
}

// RecordTickSkipped counts a tick a handler could not schedule
func (c *Metrics) RecordTickSkipped(handlerID string) {
	c.TicksSkipped.WithLabelValues(handlerID).Inc()
}

// RecordHandlerState updates the handler state gauge
func (c *Metrics) RecordHandlerState(handlerID string, state int) {
	c.HandlerState.WithLabelValues(handlerID).Set(float64(state))
}

// RecordDelivered counts an event placed on a subscriber queue
func (c *Metrics) RecordDelivered(kind string) {
	c.BusDelivered.WithLabelValues(kind).Inc()
}

// RecordDropped counts an event dropped for a full subscriber queue
func (c *Metrics) RecordDropped(kind string) {
	c.BusDropped.WithLabelValues(kind).Inc()
}

// RecordSubscribers sets the subscriber count for an event kind
func (c *Metrics) RecordSubscribers(kind string, n int) {
	c.BusSubscribers.WithLabelValues(kind).Set(float64(n))
}

// RecordBridge counts a bridge inserted between two capabilities
func (c *Metrics) RecordBridge(from, to string) {
	c.BridgesInserted.WithLabelValues(from, to).Inc()
}
