package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tatolab/streamlib-sub000/errors"
)

// Clock kinds accepted in ClockConfig.Kind.
const (
	ClockFree    = "free"
	ClockPTP     = "ptp"
	ClockGenlock = "genlock"
)

// Runtime is the configuration of one runtime instance.
type Runtime struct {
	FPS         float64         `yaml:"fps" json:"fps"`
	Clock       ClockConfig     `yaml:"clock" json:"clock"`
	BusCapacity int             `yaml:"bus_capacity" json:"bus_capacity"`
	GracePeriod time.Duration   `yaml:"grace_period" json:"grace_period"`
	AutoBridge  bool            `yaml:"auto_bridge" json:"auto_bridge"`
	RingSlots   int             `yaml:"ring_slots" json:"ring_slots"`
	Pool        PoolConfig      `yaml:"pool" json:"pool"`
	LogErrors   LogErrorsConfig `yaml:"log_errors" json:"log_errors"`
	Metrics     MetricsConfig   `yaml:"metrics" json:"metrics"`
	Journal     JournalConfig   `yaml:"journal" json:"journal"`
}

// ClockConfig selects the clock driving the runtime.
type ClockConfig struct {
	Kind string `yaml:"kind" json:"kind"`
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
}

// PoolConfig sizes the worker pool behind the pooled lane.
type PoolConfig struct {
	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// LogErrorsConfig controls the error-log sink. Error events beyond the
// rate are counted but not logged.
type LogErrorsConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// JournalConfig enables the SQLite event journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Default returns the configuration used when nothing is specified.
func Default() Runtime {
	return Runtime{
		FPS:         30,
		Clock:       ClockConfig{Kind: ClockFree, ID: "main"},
		BusCapacity: 100,
		GracePeriod: 2 * time.Second,
		AutoBridge:  true,
		RingSlots:   3,
		Pool:        PoolConfig{Workers: 4, QueueSize: 64},
		LogErrors:   LogErrorsConfig{Enabled: true, PerSecond: 5, Burst: 10},
		Metrics:     MetricsConfig{Enabled: false, Port: 9090, Path: "/metrics"},
	}
}

// Validate reports every problem found, joined into one invalid error.
func (c Runtime) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.FPS <= 0 {
		add("fps must be positive, got %v", c.FPS)
	}
	switch c.Clock.Kind {
	case ClockFree, ClockPTP, ClockGenlock:
	default:
		add("clock.kind %q is not one of free, ptp, genlock", c.Clock.Kind)
	}
	if c.BusCapacity < 1 {
		add("bus_capacity must be at least 1, got %d", c.BusCapacity)
	}
	if c.GracePeriod <= 0 {
		add("grace_period must be positive, got %v", c.GracePeriod)
	}
	if c.RingSlots < 1 {
		add("ring_slots must be at least 1, got %d", c.RingSlots)
	}
	if c.Pool.Workers < 1 {
		add("pool.workers must be at least 1, got %d", c.Pool.Workers)
	}
	if c.Pool.QueueSize < 1 {
		add("pool.queue_size must be at least 1, got %d", c.Pool.QueueSize)
	}
	if c.LogErrors.Enabled {
		if c.LogErrors.PerSecond <= 0 {
			add("log_errors.per_second must be positive, got %v", c.LogErrors.PerSecond)
		}
		if c.LogErrors.Burst < 1 {
			add("log_errors.burst must be at least 1, got %d", c.LogErrors.Burst)
		}
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			add("metrics.port %d out of range", c.Metrics.Port)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			add("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(problems...)),
		"config", "Validate", "runtime configuration")
}

// Period returns the tick period implied by FPS.
func (c Runtime) Period() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FPS)
}

// String renders the configuration as YAML.
func (c Runtime) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", c)
	}
	return string(data)
}

// SaveToFile writes the configuration as YAML.
func (c Runtime) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config", "SaveToFile", "marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "config", "SaveToFile", "write")
	}
	return nil
}

// Loader builds a Runtime from defaults, file layers and environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a loader with validation enabled and the STREAMLIB
// environment prefix.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "STREAMLIB",
		getenv:     os.Getenv,
	}
}

// AddLayer adds a file; later layers override earlier ones field by field.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation of the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges defaults, every layer and the environment overrides.
func (l *Loader) Load() (Runtime, error) {
	cfg := Default()

	for _, path := range l.layers {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Runtime{}, errors.WrapInvalid(
					fmt.Errorf("%w: %s", errors.ErrConfigNotFound, path), "Loader", "Load", "read layer")
			}
			return Runtime{}, errors.Wrap(err, "Loader", "Load", "read layer "+path)
		}
		// YAML is a superset of JSON, so both formats decode here. Fields
		// absent from the layer keep their current values.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Runtime{}, errors.WrapInvalid(
				fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err), "Loader", "Load", "parse layer")
		}
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return Runtime{}, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return Runtime{}, err
		}
	}
	return cfg, nil
}

func (l *Loader) applyEnvOverrides(cfg *Runtime) error {
	if val := l.getenv(l.envPrefix + "_FPS"); val != "" {
		fps, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s_FPS=%q", errors.ErrInvalidConfig, l.envPrefix, val), "Loader", "Load", "env override")
		}
		cfg.FPS = fps
	}
	if val := l.getenv(l.envPrefix + "_CLOCK_KIND"); val != "" {
		cfg.Clock.Kind = val
	}
	if val := l.getenv(l.envPrefix + "_JOURNAL_PATH"); val != "" {
		cfg.Journal.Path = val
	}
	return nil
}

// Load reads a single YAML or JSON file over the defaults. An empty path
// yields the defaults with environment overrides applied.
func Load(path string) (Runtime, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}
