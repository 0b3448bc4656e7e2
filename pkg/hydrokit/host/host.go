package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
)

// Load phases, in order.
const (
	PhaseLocale   = "locale"
	PhaseTemplate = "template"
	PhaseLib      = addon.SectionLib
	PhaseSetting  = "setting"
	PhaseService  = addon.SectionService
	PhaseModel    = addon.SectionModel
	PhaseHandler  = addon.SectionHandler
	PhaseScript   = addon.SectionScript
)

// Phases is the load order.
var Phases = []string{
	PhaseLocale, PhaseTemplate, PhaseLib, PhaseSetting,
	PhaseService, PhaseModel, PhaseHandler, PhaseScript,
}

// Lifecycle events.
const (
	EventLoadPrefix = "app/load/"
	EventStarted    = "app/started"
	EventListen     = "app/listen"
	EventReady      = "app/ready"
	EventExit       = "app/exit"
)

// Report summarizes a Load.
type Report struct {
	Loaded []string         `json:"loaded"`
	Failed map[string]error `json:"-"`
}

// FailedNames lists the failed add-ons and plugins by name.
func (r *Report) FailedNames() []string {
	out := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Host loads add-ons into an App and drives its lifecycle.
type Host struct {
	app       *App
	manifest  *addon.Manifest
	plugins   []Plugin
	staticDir string

	spans observability.SpanManager

	mu      sync.Mutex
	failed  map[string]error
	loaded  bool
	stopped bool
}

// Option configures a Host.
type Option func(*Host)

// WithManifest sets the expanded script add-ons to load.
func WithManifest(m *addon.Manifest) Option {
	return func(h *Host) { h.manifest = m }
}

// WithPlugins adds plugins on top of the registered ones.
func WithPlugins(ps ...Plugin) Option {
	return func(h *Host) { h.plugins = append(h.plugins, ps...) }
}

// WithStaticDir sets where add-on public files are copied on Start.
func WithStaticDir(dir string) Option {
	return func(h *Host) { h.staticDir = dir }
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) Option {
	return func(h *Host) {
		if s != nil {
			h.spans = s
		}
	}
}

// New creates a Host for app. Registered plugins are included.
func New(app *App, opts ...Option) *Host {
	h := &Host{
		app:     app,
		plugins: Registered(),
		spans:   observability.NoopSpanManager{},
		failed:  make(map[string]error),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// App returns the host's App.
func (h *Host) App() *App {
	return h.app
}

func (h *Host) addons() []addon.Entry {
	if h.manifest == nil {
		return nil
	}
	return h.manifest.Addons
}

// Load runs every phase in order. A plugin or add-on that fails is logged,
// recorded and skipped in later phases; loading continues. After each phase
// app/load/<phase> is dispatched in parallel.
func (h *Host) Load(ctx context.Context) (*Report, error) {
	h.mu.Lock()
	if h.loaded {
		h.mu.Unlock()
		return nil, fmt.Errorf("host: already loaded")
	}
	h.loaded = true
	h.mu.Unlock()

	logger := h.app.Logger()
	for _, phase := range Phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pctx, span := h.spans.StartPhaseSpan(ctx, phase)
		elapsed := observability.TimedOperation()
		loaded, failed := 0, 0

		for _, p := range h.plugins {
			if phaseOf(p) != phase || h.isFailed(p.Name()) {
				continue
			}
			if err := p.Apply(pctx, h.app); err != nil {
				h.fail(p.Name(), phase, err)
				failed++
				continue
			}
			loaded++
		}

		for _, entry := range h.addons() {
			if h.isFailed(entry.ID) {
				continue
			}
			ran, err := h.runPhase(pctx, phase, entry)
			if err != nil {
				h.fail(entry.ID, phase, err)
				failed++
				continue
			}
			if ran {
				loaded++
			}
		}

		if err := h.app.Hooks().Parallel(pctx, EventLoadPrefix+phase); err != nil {
			observability.LogAddonFailed(logger, EventLoadPrefix+phase, phase, err)
		}
		h.spans.EndSpanWithError(span, nil)
		observability.LogPhase(logger, phase, loaded, failed, elapsed())
	}

	return h.report(), nil
}

func (h *Host) report() *Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := &Report{Failed: make(map[string]error, len(h.failed))}
	for name, err := range h.failed {
		r.Failed[name] = err
	}
	for _, p := range h.plugins {
		if _, bad := h.failed[p.Name()]; !bad {
			r.Loaded = append(r.Loaded, p.Name())
		}
	}
	for _, e := range h.addons() {
		if _, bad := h.failed[e.ID]; !bad {
			r.Loaded = append(r.Loaded, e.ID)
		}
	}
	return r
}

func (h *Host) isFailed(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, bad := h.failed[name]
	return bad
}

func (h *Host) fail(name, phase string, err error) {
	observability.LogAddonFailed(h.app.Logger(), name, phase, err)
	h.mu.Lock()
	h.failed[name] = hkerrors.Skipped(err, phase)
	h.mu.Unlock()
}

// runPhase applies one phase to one add-on and reports whether the add-on
// had anything for it.
func (h *Host) runPhase(ctx context.Context, phase string, e addon.Entry) (bool, error) {
	switch phase {
	case PhaseLocale:
		if !e.Locale {
			return false, nil
		}
		var locales map[string]map[string]string
		if err := readJSON(filepath.Join(e.Dir, addon.LocaleFile), &locales); err != nil {
			return true, err
		}
		for lang, dict := range locales {
			if err := h.app.I18n().Load(lang, dict); err != nil {
				return true, err
			}
		}
		return true, nil

	case PhaseTemplate:
		if !e.Template {
			return false, nil
		}
		var files map[string]string
		if err := readJSON(filepath.Join(e.Dir, addon.TemplateFile), &files); err != nil {
			return true, err
		}
		h.app.Templates().Add(e.ID, files)
		return true, nil

	case PhaseSetting:
		if !e.Setting {
			return false, nil
		}
		data, err := os.ReadFile(filepath.Join(e.Dir, addon.SettingFile))
		if err != nil {
			return true, fmt.Errorf("host: read settings: %w", err)
		}
		_, err = h.app.Settings().LoadYAML(e.ID, data)
		return true, err
	}

	if !e.HasSection(phase) {
		return false, nil
	}
	m, err := h.app.Modules().Require(ctx, e.SectionPath(phase))
	if err != nil {
		return true, err
	}
	if _, err := h.app.Modules().Apply(ctx, m, e.ID, h.app); err != nil {
		return true, err
	}
	return true, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("host: read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("host: decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Start begins consuming bus records, then dispatches app/started,
// publishes add-on public files, and dispatches app/listen and app/ready.
// A bus that cannot start degrades to local-only delivery.
func (h *Host) Start(ctx context.Context) error {
	logger := h.app.Logger()
	if err := h.app.Bus().PostInit(ctx); err != nil {
		if hkerrors.Categorize(err) != hkerrors.CategoryDegraded {
			return err
		}
		logger.Warn("bus replication unavailable", "error", err)
	}

	if err := h.app.Hooks().Parallel(ctx, EventStarted); err != nil {
		return fmt.Errorf("host: %s: %w", EventStarted, err)
	}
	if err := h.copyPublic(); err != nil {
		logger.Warn("copy public files", "error", err)
	}
	if err := h.app.Hooks().Parallel(ctx, EventListen); err != nil {
		return fmt.Errorf("host: %s: %w", EventListen, err)
	}
	if err := h.app.Hooks().Parallel(ctx, EventReady); err != nil {
		return fmt.Errorf("host: %s: %w", EventReady, err)
	}
	return nil
}

// copyPublic merges every loaded add-on's public directory into the static
// directory.
func (h *Host) copyPublic() error {
	if h.staticDir == "" {
		return nil
	}
	for _, e := range h.addons() {
		if h.isFailed(e.ID) {
			continue
		}
		src := filepath.Join(e.Dir, addon.PublicDir)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyTree(src, h.staticDir); err != nil {
			return fmt.Errorf("%s: %w", e.ID, err)
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// Stop dispatches app/exit serially, then stops the bus consumer and the
// module loader. It is safe to call more than once.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	err := h.app.Hooks().Serial(ctx, EventExit)
	h.app.Bus().Close()
	h.app.Modules().Close()
	return err
}
