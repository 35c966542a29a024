// Package config loads and validates runtime configuration.
//
// A Runtime starts from Default, is overlaid by zero or more YAML or JSON
// files, then by environment variables:
//
//	STREAMLIB_FPS           tick rate
//	STREAMLIB_CLOCK_KIND    free, ptp or genlock
//	STREAMLIB_JOURNAL_PATH  SQLite event journal file
//
// Layering:
//
//	loader := config.NewLoader()
//	loader.AddLayer("streamlib.yaml")
//	loader.AddLayer("streamlib.local.yaml")
//	cfg, err := loader.Load()
//
// Validate reports every problem at once rather than stopping at the first.
package config
