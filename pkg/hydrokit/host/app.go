package host

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/bus"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/container"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/module"
)

// Service names under which App registers itself in its container.
const (
	ServiceHooks     = "hooks"
	ServiceBus       = "bus"
	ServiceModules   = "modules"
	ServiceSettings  = "settings"
	ServiceI18n      = "i18n"
	ServiceTemplates = "templates"
	ServiceLogger    = "logger"
)

// App is what add-ons see: the hook registry, the bus, the shared
// services and a container for anything add-ons provide to each other.
type App struct {
	hooks     *hook.Registry
	bus       *bus.Replicator
	modules   *module.Loader
	container *container.Container
	settings  *Settings
	i18n      *I18n
	templates *Templates
	logger    *slog.Logger
	locale    string
}

// AppOption configures an App.
type AppOption func(*App)

// WithHooks sets the hook registry.
func WithHooks(h *hook.Registry) AppOption {
	return func(a *App) { a.hooks = h }
}

// WithBus sets the replicator used by Publish.
func WithBus(b *bus.Replicator) AppOption {
	return func(a *App) { a.bus = b }
}

// WithModules sets the script module loader.
func WithModules(l *module.Loader) AppOption {
	return func(a *App) { a.modules = l }
}

// WithContainer sets the service container.
func WithContainer(c *container.Container) AppOption {
	return func(a *App) { a.container = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AppOption {
	return func(a *App) { a.logger = l }
}

// WithLocale sets the fallback language of the i18n catalog.
func WithLocale(lang string) AppOption {
	return func(a *App) { a.locale = lang }
}

// NewApp creates an App and registers its services in the container.
func NewApp(opts ...AppOption) *App {
	a := &App{locale: "en"}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.hooks == nil {
		a.hooks = hook.New(hook.WithLogger(a.logger))
	}
	if a.bus == nil {
		a.bus = bus.New(a.hooks, bus.WithLogger(a.logger))
	}
	if a.modules == nil {
		a.modules = module.New(module.WithLogger(a.logger))
	}
	if a.container == nil {
		a.container = container.New()
	}
	a.settings = NewSettings(a.logger)
	a.i18n = NewI18n(a.locale)
	a.templates = NewTemplates()

	for name, v := range map[string]any{
		ServiceHooks:     a.hooks,
		ServiceBus:       a.bus,
		ServiceModules:   a.modules,
		ServiceSettings:  a.settings,
		ServiceI18n:      a.i18n,
		ServiceTemplates: a.templates,
		ServiceLogger:    a.logger,
	} {
		a.container.Replace(name, v)
	}
	return a
}

func (a *App) Hooks() *hook.Registry           { return a.hooks }
func (a *App) Bus() *bus.Replicator            { return a.bus }
func (a *App) Modules() *module.Loader         { return a.modules }
func (a *App) Container() *container.Container { return a.container }
func (a *App) Settings() *Settings             { return a.settings }
func (a *App) I18n() *I18n                     { return a.i18n }
func (a *App) Templates() *Templates           { return a.templates }
func (a *App) Logger() *slog.Logger            { return a.logger }

// Publish delivers payload to this worker's listeners and the rest of the pool.
func (a *App) Publish(ctx context.Context, event string, payload any) error {
	return a.bus.Publish(ctx, event, payload)
}

// Setting returns the value of a declared setting.
func (a *App) Setting(key string) (any, bool) {
	return a.settings.Get(key)
}

// Translate looks key up in the language closest to lang.
func (a *App) Translate(lang, key string) string {
	return a.i18n.Translate(lang, key)
}

var _ module.Bindings = (*App)(nil)
