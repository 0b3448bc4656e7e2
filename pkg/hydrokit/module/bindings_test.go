package module

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
)

type published struct {
	event   string
	payload any
}

type fakeHost struct {
	hooks    *hook.Registry
	settings map[string]any

	mu        sync.Mutex
	published []published
}

func newFakeHost() *fakeHost {
	return &fakeHost{hooks: hook.New(), settings: map[string]any{}}
}

func (f *fakeHost) Hooks() *hook.Registry { return f.hooks }
func (f *fakeHost) Logger() *slog.Logger  { return slog.Default() }

func (f *fakeHost) Publish(ctx context.Context, event string, payload any) error {
	f.mu.Lock()
	f.published = append(f.published, published{event, payload})
	f.mu.Unlock()
	return f.hooks.Parallel(ctx, event, payload)
}

func (f *fakeHost) Setting(key string) (any, bool) {
	v, ok := f.settings[key]
	return v, ok
}

func (f *fakeHost) Translate(lang, key string) string {
	return lang + ":" + key
}

func loadAddon(t *testing.T, ld *Loader, code string) *Module {
	t.Helper()
	path := writeFile(t, t.TempDir(), "handler.lua", code)
	m, err := ld.Require(context.Background(), path)
	require.NoError(t, err)
	return m
}

func TestApplyBindings(t *testing.T) {
	host := newFakeHost()
	host.settings["demo.limit"] = 5
	host.settings["site"] = "hydro"

	ld := New()
	m := loadAddon(t, ld, strings.Join([]string{
		TransformMarker,
		`local summary`,
		`export function apply(ctx)`,
		`  ctx.on("problem/add", function(p) return p.pid * 2 end)`,
		`  local off = ctx.on("gone", function() end)`,
		`  off()`,
		`  ctx.publish("ping", { n = 1 })`,
		`  ctx.log("info", "applied", "addon_version", 1)`,
		`  summary = ctx.setting("limit") .. "/" .. ctx.setting("site") .. "/" .. ctx.t("en", "hello")`,
		`end`,
		`export function getSummary()`,
		`  return summary`,
		`end`,
		``,
	}, "\n"))

	found, err := ld.Apply(context.Background(), m, "demo", host)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := host.hooks.Bail(context.Background(), "problem/add", map[string]any{"pid": 7})
	require.NoError(t, err)
	assert.Equal(t, int64(14), got)

	assert.Equal(t, 0, host.hooks.Count("gone"))
	require.Len(t, host.published, 1)
	assert.Equal(t, "ping", host.published[0].event)
	assert.Equal(t, map[string]any{"n": int64(1)}, host.published[0].payload)

	summary, _, err := ld.Call(context.Background(), m, "getSummary")
	require.NoError(t, err)
	assert.Equal(t, "5/hydro/en:hello", summary)
}

func TestApplyWithoutApplyExport(t *testing.T) {
	ld := New()
	m := loadAddon(t, ld, "return { nothing = true }\n")

	found, err := ld.Apply(context.Background(), m, "demo", newFakeHost())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestScriptListenersReenterState(t *testing.T) {
	host := newFakeHost()
	ld := New()
	m := loadAddon(t, ld, strings.Join([]string{
		TransformMarker,
		`local seen`,
		`export function apply(ctx)`,
		`  ctx.on("a", function(v) ctx.emit("b", v + 1) end)`,
		`  ctx.on("b", function(v) seen = v end)`,
		`  ctx.once("c", function() seen = "once" end)`,
		`end`,
		`export function lastSeen()`,
		`  return seen`,
		`end`,
		``,
	}, "\n"))

	_, err := ld.Apply(context.Background(), m, "demo", host)
	require.NoError(t, err)

	require.NoError(t, host.hooks.Parallel(context.Background(), "a", 5))
	seen, _, err := ld.Call(context.Background(), m, "lastSeen")
	require.NoError(t, err)
	assert.Equal(t, int64(6), seen)

	require.NoError(t, host.hooks.Serial(context.Background(), "c"))
	require.NoError(t, host.hooks.Serial(context.Background(), "c"))
	assert.Equal(t, 0, host.hooks.Count("c"))
}

func TestScriptListenerErrorsPropagate(t *testing.T) {
	host := newFakeHost()
	ld := New()
	m := loadAddon(t, ld, strings.Join([]string{
		TransformMarker,
		`export function apply(ctx)`,
		`  ctx.on("fail", function() error("listener broke") end)`,
		`  ctx.on("off", function() end)`,
		`end`,
		``,
	}, "\n"))

	_, err := ld.Apply(context.Background(), m, "demo", host)
	require.NoError(t, err)

	err = host.hooks.Serial(context.Background(), "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener broke")
}

func TestConcurrentListenersResumeInOrder(t *testing.T) {
	host := newFakeHost()

	// The first listener to pause gets the short wait, so it finishes its
	// dispatch while the second is still paused above it.
	var calls atomic.Int32
	_, err := host.hooks.On("slow", "slow", func(ctx context.Context, args ...any) (any, error) {
		if calls.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
		} else {
			time.Sleep(300 * time.Millisecond)
		}
		return nil, nil
	})
	require.NoError(t, err)

	ld := New()
	m := loadAddon(t, ld, strings.Join([]string{
		TransformMarker,
		`local results = {}`,
		`export function apply(ctx)`,
		`  ctx.on("x", function()`,
		`    local a, x1, x2 = "A", 1, 2`,
		`    ctx.emit("slow")`,
		`    results[#results + 1] = a .. ":" .. (x1 + x2)`,
		`  end)`,
		`  ctx.on("x", function()`,
		`    local b, y1, y2 = "B", 10, 50`,
		`    ctx.emit("slow")`,
		`    results[#results + 1] = b .. ":" .. (y1 + y2)`,
		`  end)`,
		`end`,
		`export function getResults()`,
		`  return results`,
		`end`,
		``,
	}, "\n"))

	_, err = ld.Apply(context.Background(), m, "demo", host)
	require.NoError(t, err)

	require.NoError(t, host.hooks.Parallel(context.Background(), "x"))
	assert.Equal(t, int32(2), calls.Load())

	got, _, err := ld.Call(context.Background(), m, "getResults")
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"A:3", "B:60"}, got)
}
