package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatolab/streamlib-sub000/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.BusCapacity)
	assert.True(t, cfg.AutoBridge)
	assert.Equal(t, time.Second/30, cfg.Period())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.FPS = 0
	cfg.BusCapacity = 0
	cfg.Clock.Kind = "atomic"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "metrics"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	for _, want := range []string{"fps", "bus_capacity", "clock.kind", "metrics.path"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "rt.yaml", `
fps: 60
clock:
  kind: ptp
  id: studio
grace_period: 500ms
auto_bridge: false
pool:
  workers: 8
`)
	l := newTestLoader(nil)
	l.AddLayer(path)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 60.0, cfg.FPS)
	assert.Equal(t, ClockPTP, cfg.Clock.Kind)
	assert.Equal(t, "studio", cfg.Clock.ID)
	assert.Equal(t, 500*time.Millisecond, cfg.GracePeriod)
	assert.False(t, cfg.AutoBridge)
	assert.Equal(t, 8, cfg.Pool.Workers)
	assert.Equal(t, 64, cfg.Pool.QueueSize, "unset fields keep defaults")
}

func TestLoader_JSONAndLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{"fps": 25, "bus_capacity": 10, "grace_period": "1s"}`)
	override := writeFile(t, "override.yaml", "bus_capacity: 20\n")

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.FPS)
	assert.Equal(t, 20, cfg.BusCapacity)
	assert.Equal(t, time.Second, cfg.GracePeriod)
}

func TestLoader_EnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"STREAMLIB_FPS":          "12.5",
		"STREAMLIB_CLOCK_KIND":   "genlock",
		"STREAMLIB_JOURNAL_PATH": "/tmp/j.db",
	})
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 12.5, cfg.FPS)
	assert.Equal(t, ClockGenlock, cfg.Clock.Kind)
	assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)

	_, err = newTestLoader(map[string]string{"STREAMLIB_FPS": "fast"}).Load()
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	l := newTestLoader(nil)
	l.AddLayer(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := l.Load()
	assert.ErrorIs(t, err, errors.ErrConfigNotFound)

	l = newTestLoader(nil)
	l.AddLayer(writeFile(t, "bad.yaml", "fps: [1, 2"))
	_, err = l.Load()
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	l = newTestLoader(nil)
	l.AddLayer(writeFile(t, "neg.yaml", "fps: -1\n"))
	_, err = l.Load()
	assert.True(t, errors.IsInvalid(err))

	l.EnableValidation(false)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, -1.0, cfg.FPS)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.FPS = 50
	cfg.Journal.Path = "events.db"
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
