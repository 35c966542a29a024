package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tatolab/streamlib-sub000/metric"
)

// ringMetrics mirrors Statistics as Prometheus counters.
type ringMetrics struct {
	writes     prometheus.Counter
	reads      prometheus.Counter
	misses     prometheus.Counter
	overwrites prometheus.Counter
}

func newRingMetrics(registry *metric.MetricsRegistry, prefix string) (*ringMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "ring",
			Name:        name,
			ConstLabels: prometheus.Labels{"port": prefix},
			Help:        help,
		})
	}

	m := &ringMetrics{
		writes:     counter("writes_total", "Total number of ring buffer writes"),
		reads:      counter("reads_total", "Total number of successful latest reads"),
		misses:     counter("misses_total", "Latest reads that found the ring empty"),
		overwrites: counter("overwrites_total", "Writes that displaced the oldest slot"),
	}

	for name, c := range map[string]prometheus.Counter{
		"ring_writes":     m.writes,
		"ring_reads":      m.reads,
		"ring_misses":     m.misses,
		"ring_overwrites": m.overwrites,
	} {
		if err := registry.RegisterCounter(prefix, name, c); err != nil {
			return nil, err
		}
	}

	return m, nil
}
