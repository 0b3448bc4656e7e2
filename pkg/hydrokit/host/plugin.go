package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Plugin is an add-on compiled into the binary.
type Plugin interface {
	Name() string
	Apply(ctx context.Context, app *App) error
}

// Phased is implemented by plugins that load in a phase other than
// PhaseService.
type Phased interface {
	Phase() string
}

type funcPlugin struct {
	name  string
	phase string
	fn    func(ctx context.Context, app *App) error
}

func (p funcPlugin) Name() string  { return p.name }
func (p funcPlugin) Phase() string { return p.phase }

func (p funcPlugin) Apply(ctx context.Context, app *App) error {
	return p.fn(ctx, app)
}

// PluginFunc returns fn as a Plugin loading in phase ("" for PhaseService).
func PluginFunc(name, phase string, fn func(ctx context.Context, app *App) error) Plugin {
	return funcPlugin{name: name, phase: phase, fn: fn}
}

func phaseOf(p Plugin) string {
	if ph, ok := p.(Phased); ok && ph.Phase() != "" {
		return ph.Phase()
	}
	return PhaseService
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Plugin{}
)

// Register makes p available to every Host created afterwards. It panics
// when the name is taken, like database/sql.Register.
func Register(p Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if p == nil {
		panic("host: Register plugin is nil")
	}
	if _, dup := registry[p.Name()]; dup {
		panic(fmt.Sprintf("host: Register called twice for plugin %s", p.Name()))
	}
	registry[p.Name()] = p
}

// Registered returns the registered plugins by name.
func Registered() []Plugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Plugin, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
