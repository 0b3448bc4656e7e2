package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAccessors verifies typed extraction with defaults.
func TestAccessors(t *testing.T) {
	cfg := config.New(map[string]any{
		"listen":  "0.0.0.0:9000",
		"workers": 4,
		"ratio":   1.5,
		"show":    true,
		"roots":   []any{"a", "b"},
		"mixed":   []any{"a", 1},
		"ttl":     "2m",
		"secs":    3,
	})

	assert.Equal(t, "0.0.0.0:9000", cfg.String("listen", "x"))
	assert.Equal(t, "x", cfg.String("workers", "x"))
	assert.Equal(t, 4, cfg.Int("workers", 0))
	assert.Equal(t, 7, cfg.Int("ratio", 7), "fractional float must not truncate")
	assert.True(t, cfg.Bool("show", false))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("roots", nil))
	assert.Equal(t, []string{"d"}, cfg.StringSlice("mixed", []string{"d"}))
	assert.Equal(t, 2*time.Minute, cfg.Duration("ttl", 0))
	assert.Equal(t, 3*time.Second, cfg.Duration("secs", 0))
	assert.Equal(t, time.Second, cfg.Duration("missing", time.Second))
	assert.True(t, cfg.Has("ttl"))
	assert.False(t, cfg.Has("nope"))
	assert.Nil(t, cfg.Any("nope", nil))
}

// TestNilMap verifies New(nil) yields a usable empty Config.
func TestNilMap(t *testing.T) {
	cfg := config.New(nil)
	assert.NotNil(t, cfg.Raw())
	assert.Empty(t, cfg.Keys())
	assert.Equal(t, "d", cfg.String("k", "d"))
}

// TestDottedKeys verifies nested lookup and the literal-key precedence.
func TestDottedKeys(t *testing.T) {
	cfg := config.New(map[string]any{
		"queue": map[string]any{
			"poll_interval": "250ms",
			"path":          "/var/q.db",
		},
		"bus.show": true,
		"bus": map[string]any{
			"show": false,
		},
	})

	assert.Equal(t, 250*time.Millisecond, cfg.Duration("queue.poll_interval", 0))
	assert.Equal(t, "/var/q.db", cfg.Sub("queue").String("path", ""))
	assert.True(t, cfg.Bool("bus.show", false), "literal key wins over nested path")
	assert.Empty(t, cfg.Sub("queue.path").Keys())
	assert.Equal(t, "d", cfg.String("queue.missing.deeper", "d"))
}

// TestFromYAML verifies YAML parsing including nested maps.
func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
workers: 3
packages:
  roots: [/srv/addons, ./addons]
queue:
  record_ttl: 30s
`))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Int("workers", 0))
	assert.Equal(t, []string{"/srv/addons", "./addons"}, cfg.StringSlice("packages.roots", nil))
	assert.Equal(t, 30*time.Second, cfg.Duration("queue.record_ttl", 0))

	empty, err := config.FromYAML(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Keys())

	_, err = config.FromYAML([]byte("workers: [unterminated"))
	assert.Error(t, err)
}

// TestFromJSON verifies JSON parsing; numbers arrive as float64.
func TestFromJSON(t *testing.T) {
	cfg, err := config.FromJSON([]byte(`{"workers": 2, "listen": ":80"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Int("workers", 0))
	assert.Equal(t, ":80", cfg.String("listen", ""))

	_, err = config.FromJSON([]byte(`{`))
	assert.Error(t, err)
}

// TestFromFile verifies extension detection.
func TestFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "hydrokit.YML")
	require.NoError(t, os.WriteFile(yamlPath, []byte("listen: ':1'\n"), 0o644))
	cfg, err := config.FromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, ":1", cfg.String("listen", ""))

	jsonPath := filepath.Join(dir, "hydrokit.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"listen": ":2"}`), 0o644))
	cfg, err = config.FromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, ":2", cfg.String("listen", ""))

	txtPath := filepath.Join(dir, "hydrokit.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o644))
	_, err = config.FromFile(txtPath)
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = config.FromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

// TestLoadOptional verifies a missing file yields an empty Config.
func TestLoadOptional(t *testing.T) {
	cfg, err := config.LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Keys())

	cfg, err = config.LoadOptional("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Keys())
}

// TestSettingsFrom verifies defaults and environment overrides.
func TestSettingsFrom(t *testing.T) {
	s := config.SettingsFrom(config.New(nil), config.Env{})
	assert.Equal(t, config.DefaultListen, s.Listen)
	assert.Equal(t, config.DefaultPollInterval, s.PollInterval)
	assert.Equal(t, config.DefaultMaxListeners, s.MaxListeners)
	assert.Equal(t, filepath.Join(".hydro", "queue.db"), s.QueuePath)
	assert.Equal(t, []string{filepath.Join(".hydro", "addons"), "addons"}, s.PackageRoots)

	cfg := config.New(map[string]any{
		"home":    "/srv/hydro",
		"workers": 8,
		"bus":     map[string]any{"max_listeners": 10},
	})
	s = config.SettingsFrom(cfg, config.Env{QueuePath: "/tmp/q.db", ShowBus: true})
	assert.Equal(t, 8, s.Workers)
	assert.Equal(t, 10, s.MaxListeners)
	assert.Equal(t, "/tmp/q.db", s.QueuePath)
	assert.Equal(t, "/srv/hydro/tmp/addons", s.ScratchDir)
	assert.True(t, s.ShowBus)
}
