package host

import (
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/expand"
)

// Templates holds the template files contributed by add-ons, keyed by their
// path inside the package. A later add-on replaces an earlier file.
type Templates struct {
	mu       sync.RWMutex
	files    map[string]string
	owners   map[string]string
	expander *expand.Expander
}

// NewTemplates creates an empty set.
func NewTemplates() *Templates {
	return &Templates{
		files:    make(map[string]string),
		owners:   make(map[string]string),
		expander: expand.New(expand.WithDollar(false)),
	}
}

// Add registers files from addon.
func (t *Templates) Add(addon string, files map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, content := range files {
		t.files[name] = content
		t.owners[name] = addon
	}
}

// Get returns the file called name and the add-on that provided it.
func (t *Templates) Get(name string) (content, addon string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	content, ok = t.files[name]
	return content, t.owners[name], ok
}

// Names lists the registered files.
func (t *Templates) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.files))
	for name := range t.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Render substitutes ${field} placeholders in the named file.
func (t *Templates) Render(name string, data map[string]any) (string, error) {
	content, _, ok := t.Get(name)
	if !ok {
		return "", fmt.Errorf("host: template %q not found", name)
	}
	return t.expander.String(content, data)
}
