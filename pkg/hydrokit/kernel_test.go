package hydrokit

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/host"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	home := t.TempDir()
	return config.New(map[string]any{
		"home":  home,
		"queue": map[string]any{"poll_interval": "10ms"},
	})
}

func newTestKernel(t *testing.T, workerID int, q taskqueue.Queue, opts ...Option) *Kernel {
	t.Helper()
	base := []Option{
		WithConfig(testConfig(t)),
		WithEnv(config.Env{Instance: "0", WorkerID: workerID, PoolSize: 2, Environment: config.EnvDevelopment}),
		WithLogger(NewLogger(&bytes.Buffer{}, config.Env{})),
		WithManifest(&addon.Manifest{}),
		WithoutPrometheus(),
	}
	if q != nil {
		base = append(base, WithQueue(q))
	}
	k, err := NewKernel(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close(context.Background()) })
	return k
}

func TestKernelLoadsScriptAddon(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "counter")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry := addon.Entry{Descriptor: addon.Descriptor{ID: "counter"}, Dir: dir, Sections: []string{addon.SectionHandler}}
	require.NoError(t, os.WriteFile(entry.SectionPath(addon.SectionHandler), []byte(`
local exports = ...
local count = 0
function exports.apply(app)
  app.on("counter/add", function(n)
    count = count + n
    return count
  end)
end
`), 0o644))

	var ready atomic.Bool
	plugin := host.PluginFunc("ready-probe", host.PhaseScript, func(_ context.Context, app *host.App) error {
		_, err := app.Hooks().On(host.EventReady, "ready-probe", func(context.Context, ...any) (any, error) {
			ready.Store(true)
			return nil, nil
		})
		return err
	})

	k := newTestKernel(t, 0, nil, WithManifest(&addon.Manifest{Addons: []addon.Entry{entry}}), WithPlugins(plugin))
	report, err := k.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	require.NoError(t, k.Start(context.Background()))
	assert.True(t, ready.Load())

	got, err := k.Hooks.Bail(context.Background(), "counter/add", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	assert.Nil(t, k.MetricsHandler())
	assert.Nil(t, k.Queue())
	require.NoError(t, k.Close(context.Background()))
	require.NoError(t, k.Close(context.Background()))
}

func TestKernelsReplicateThroughSharedQueue(t *testing.T) {
	q := taskqueue.NewMemoryQueue()
	k0 := newTestKernel(t, 0, q)
	k1 := newTestKernel(t, 1, q)

	var local, remote atomic.Int32
	_, err := k0.Hooks.On("problem/add", "local", func(context.Context, ...any) (any, error) {
		local.Add(1)
		return nil, nil
	})
	require.NoError(t, err)
	_, err = k1.Hooks.On("problem/add", "remote", func(_ context.Context, args ...any) (any, error) {
		remote.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, k := range []*Kernel{k0, k1} {
		_, err := k.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, k.Start(ctx))
	}

	require.NoError(t, k0.App.Publish(ctx, "problem/add", map[string]any{"pid": 7}))
	assert.Eventually(t, func() bool { return remote.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), local.Load(), "sender's own record is not re-delivered")
	assert.Equal(t, int32(1), remote.Load())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, config.Env{WorkerID: 3, Instance: "7"}).Info("hello")
	assert.Contains(t, buf.String(), `"worker_id":3`)
	assert.Contains(t, buf.String(), `"instance":"7"`)

	buf.Reset()
	logger := NewLogger(&buf, config.Env{Environment: config.EnvDevelopment})
	logger.Debug("verbose")
	assert.Contains(t, buf.String(), "verbose")
}
