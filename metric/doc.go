// Package metric wraps a private Prometheus registry for one streamlib runtime.
//
// MetricsRegistry carries the core runtime metrics (ticks published, per-handler
// process duration and errors, handler state, bus delivery and drops, bridges
// inserted) and lets buffers, worker pools and handlers register their own
// collectors under an owner name:
//
//	reg := metric.NewMetricsRegistry()
//	rt, _ := engine.New(cfg, engine.WithMetrics(reg))
//
//	srv := metric.NewServer(9090, "/metrics", reg)
//	go srv.Start()
//	defer srv.Stop()
//
// Registering the same owner/metric pair twice returns an invalid error instead
// of panicking, so callers can wire optional metrics without guarding.
package metric
