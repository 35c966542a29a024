package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/tatolab/streamlib-sub000/config"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Format     string // output format of reports: "text" | "json"

	logger *slog.Logger
}

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"text", "json"}
)

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "streamlib - real-time media dataflow runtime",
		Long: `streamlib drives a graph of media handlers from a single clock.

Handlers exchange frames through latest-read ports; capability mismatches
between ports are bridged automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !slices.Contains(validLogLevels, opts.LogLevel) {
				return fmt.Errorf("invalid log level %q: must be one of %v", opts.LogLevel, validLogLevels)
			}
			if !slices.Contains(validFormats, opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, validFormats)
			}
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			opts.logger = setupLogger(cmd.ErrOrStderr(), opts.LogLevel, opts.LogFormat)
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c",
		os.Getenv("STREAMLIB_CONFIG"), "path to YAML or JSON configuration (env: STREAMLIB_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level",
		getEnv("STREAMLIB_LOG_LEVEL", "info"), "log level: debug, info, warn, error (env: STREAMLIB_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format",
		getEnv("STREAMLIB_LOG_FORMAT", "text"), "log format: json, text (env: STREAMLIB_LOG_FORMAT)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "report format (json|text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig loads the configured file over the defaults.
func (o *rootOptions) loadConfig() (config.Runtime, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Runtime{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
