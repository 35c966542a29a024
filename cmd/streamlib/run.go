package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatolab/streamlib-sub000/engine"
	"github.com/tatolab/streamlib-sub000/health"
	"github.com/tatolab/streamlib-sub000/journal"
	"github.com/tatolab/streamlib-sub000/metric"
	"github.com/tatolab/streamlib-sub000/stream"
)

// runOptions holds flags for the run command.
type runOptions struct {
	*rootOptions
	Duration    time.Duration
	Journal     string
	Metrics     bool
	MetricsPort int
	demo        demoOptions
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the demo pipeline",
		Long: `Run a pattern -> grayscale -> preview pipeline on the runtime.

The preview accepts gpu data only, so a cpu->gpu bridge is inserted between
the filter and the preview. The pipeline runs until interrupted or until
--duration elapses, then prints a report.

Example:
  streamlib run --duration 10s
  streamlib run -c streamlib.yaml --journal run.db --metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "SQLite journal path, overrides journal.path")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "serve Prometheus metrics, overrides metrics.enabled")
	cmd.Flags().IntVar(&opts.MetricsPort, "metrics-port", 0, "metrics port, overrides metrics.port")
	cmd.Flags().IntVar(&opts.demo.Width, "width", 320, "frame width")
	cmd.Flags().IntVar(&opts.demo.Height, "height", 180, "frame height")
	cmd.Flags().IntVar(&opts.demo.PinCPU, "pin-cpu", stream.NoCPU, "pin the preview to a CPU (-1 leaves it unpinned)")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *runOptions) error {
	logger := opts.logger

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled = opts.Metrics
	}
	if opts.MetricsPort != 0 {
		cfg.Metrics.Port = opts.MetricsPort
	}
	if opts.demo.Width <= 0 || opts.demo.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", opts.demo.Width, opts.demo.Height)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	watcher := health.NewWatcher(health.NewMonitor(), health.WithWatcherLogger(logger))
	engineOpts := []engine.Option{engine.WithLogger(logger), engine.WithSinks(watcher)}

	if cfg.Metrics.Enabled {
		registry := metric.NewMetricsRegistry()
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() { _ = server.Stop() }()
		engineOpts = append(engineOpts, engine.WithMetrics(registry))
		logger.Info("serving metrics", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithSinks(j))
		logger.Info("journaling run", "path", cfg.Journal.Path, "run_id", j.RunID())
	}

	rt, err := engine.New(cfg, engineOpts...)
	if err != nil {
		closeJournal(j, logger)
		return err
	}

	p, err := buildPipeline(rt, opts.demo, logger)
	if err != nil {
		_ = rt.Stop()
		closeJournal(j, logger)
		return fmt.Errorf("build pipeline: %w", err)
	}

	if err := rt.Start(ctx); err != nil {
		_ = rt.Stop()
		closeJournal(j, logger)
		return err
	}

	<-ctx.Done()
	logger.Info("stopping", "reason", context.Cause(ctx))

	if err := rt.Stop(); err != nil {
		logger.Warn("runtime stopped with abandoned handlers", "error", err)
	}
	watcher.Wait()

	rep := newRunReport(rt, watcher.Monitor(), p)
	if j != nil {
		summary, err := j.Summary(context.Background())
		if err != nil {
			logger.Warn("journal summary failed", "error", err)
		}
		rep.RunID = j.RunID()
		rep.Journal = summary
		closeJournal(j, logger)
	}
	return writeReport(cmd.OutOrStdout(), opts.Format, rep)
}

func closeJournal(j *journal.Journal, logger *slog.Logger) {
	if j == nil {
		return
	}
	if err := j.Close(); err != nil {
		logger.Warn("closing journal failed", "error", err)
	}
}
