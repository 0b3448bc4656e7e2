package host

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
)

// newEntry writes an expanded add-on directory and returns its manifest entry.
func newEntry(t *testing.T, id string, sections map[string]string) addon.Entry {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	e := addon.Entry{Descriptor: addon.Descriptor{ID: id, Name: id}, Dir: dir}
	for _, name := range addon.Sections {
		code, ok := sections[name]
		if !ok {
			continue
		}
		require.NoError(t, os.WriteFile(e.SectionPath(name), []byte(code), 0o644))
		e.Sections = append(e.Sections, name)
	}
	return e
}

func writeJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestHostLoadPhases(t *testing.T) {
	greeter := newEntry(t, "greeter", map[string]string{
		addon.SectionService: `
local exports = ...
function exports.apply(app)
  app.on("greet", function(name)
    return app.t("fr", "hello") .. " " .. name .. " (" .. tostring(app.setting("suffix")) .. ")"
  end)
end
`,
	})
	greeter.Locale, greeter.Setting, greeter.Template = true, true, true
	writeJSONFile(t, filepath.Join(greeter.Dir, addon.LocaleFile), map[string]map[string]string{
		"en": {"hello": "Hello"},
		"fr": {"hello": "Bonjour"},
	})
	writeJSONFile(t, filepath.Join(greeter.Dir, addon.TemplateFile), map[string]string{"greet.txt": "${who}"})
	require.NoError(t, os.WriteFile(filepath.Join(greeter.Dir, addon.SettingFile), []byte("suffix:\n  default: hi\n"), 0o644))

	app := NewApp()
	rec := &recorder{}
	for _, phase := range Phases {
		phase := phase
		_, err := app.Hooks().On(EventLoadPrefix+phase, "test", func(context.Context, ...any) (any, error) {
			rec.add(phase)
			return nil, nil
		})
		require.NoError(t, err)
	}

	var pluginSawGreet bool
	plugin := PluginFunc("checker", PhaseHandler, func(_ context.Context, a *App) error {
		pluginSawGreet = a.Hooks().Count("greet") == 1
		return nil
	})

	h := New(app, WithManifest(&addon.Manifest{Addons: []addon.Entry{greeter}}), WithPlugins(plugin))
	report, err := h.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Contains(t, report.Loaded, "greeter")
	assert.Contains(t, report.Loaded, "checker")
	assert.True(t, pluginSawGreet, "handler phase runs after service phase")
	assert.Equal(t, Phases, rec.list())

	got, err := app.Hooks().Bail(context.Background(), "greet", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour Ada (hi)", got)

	_, owner, ok := app.Templates().Get("greet.txt")
	assert.True(t, ok)
	assert.Equal(t, "greeter", owner)

	_, err = h.Load(context.Background())
	assert.Error(t, err, "load runs once")
	require.NoError(t, h.Stop(context.Background()))
}

func TestHostSkipsFailedAddon(t *testing.T) {
	broken := newEntry(t, "broken", map[string]string{
		addon.SectionLib:    `local exports = ...; function exports.apply() error("boom") end`,
		addon.SectionScript: `local exports = ...; function exports.apply(app) app.on("late", function() end) end`,
	})
	healthy := newEntry(t, "healthy", map[string]string{
		addon.SectionScript: `local exports = ...; function exports.apply(app) app.on("late", function() end) end`,
	})
	failing := PluginFunc("failing", PhaseLocale, func(context.Context, *App) error {
		return errors.New("no locale")
	})

	app := NewApp()
	h := New(app,
		WithManifest(&addon.Manifest{Addons: []addon.Entry{broken, healthy}}),
		WithPlugins(failing),
	)
	report, err := h.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"broken", "failing"}, report.FailedNames())
	assert.Contains(t, report.Failed["broken"].Error(), "boom")
	assert.Equal(t, []string{"healthy"}, report.Loaded)
	assert.Equal(t, 1, app.Hooks().Count("late"), "later phases of a failed add-on are skipped")
}

func TestHostStartStop(t *testing.T) {
	site := newEntry(t, "site", nil)
	require.NoError(t, os.MkdirAll(filepath.Join(site.Dir, addon.PublicDir, "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(site.Dir, addon.PublicDir, "css", "site.css"), []byte("body{}"), 0o644))

	app := NewApp()
	rec := &recorder{}
	for _, event := range []string{EventStarted, EventListen, EventReady, EventExit} {
		event := event
		_, err := app.Hooks().On(event, "test", func(context.Context, ...any) (any, error) {
			rec.add(event)
			return nil, nil
		})
		require.NoError(t, err)
	}

	static := t.TempDir()
	h := New(app, WithManifest(&addon.Manifest{Addons: []addon.Entry{site}}), WithStaticDir(static))
	_, err := h.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))

	data, err := os.ReadFile(filepath.Join(static, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, []string{EventStarted, EventListen, EventReady, EventExit}, rec.list())
}

func TestAppServices(t *testing.T) {
	app := NewApp(WithLocale("fr"))
	for _, name := range []string{ServiceHooks, ServiceBus, ServiceModules, ServiceSettings, ServiceI18n, ServiceTemplates, ServiceLogger} {
		assert.True(t, app.Container().Has(name), name)
	}

	require.NoError(t, app.I18n().Load("fr", map[string]string{"yes": "oui"}))
	assert.Equal(t, "oui", app.Translate("de", "yes"))

	received := make(chan any, 1)
	_, err := app.Hooks().On("ping", "test", func(_ context.Context, args ...any) (any, error) {
		received <- args[0]
		return nil, nil
	})
	require.NoError(t, err)
	require.NoError(t, app.Publish(context.Background(), "ping", "payload"))
	assert.Equal(t, "payload", <-received)
}
