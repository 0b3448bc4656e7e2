package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/expand"
)

// Setting categories. Keys in the system category are namespaced by the
// add-on that declares them.
const (
	CategorySystem     = "system"
	CategoryAccount    = "account"
	CategoryPreference = "preference"
	CategoryDomain     = "domain"
)

// ErrUnknownSetting is returned by Set for undeclared keys.
var ErrUnknownSetting = errors.New("host: unknown setting")

// Setting is one declared setting and its current value.
type Setting struct {
	Key      string `json:"key"`
	Family   string `json:"family"`
	Category string `json:"category"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	Range    any    `json:"range,omitempty"`
	Value    any    `json:"value"`
}

// settingSpec is one entry of setting.yaml.
type settingSpec struct {
	Category string `yaml:"category"`
	Type     string `yaml:"type"`
	Default  any    `yaml:"default"`
	Value    any    `yaml:"value"`
	Name     string `yaml:"name"`
	Desc     string `yaml:"desc"`
	Family   string `yaml:"family"`
	Range    any    `yaml:"range"`
}

// Settings holds every setting declared by add-ons.
type Settings struct {
	mu     sync.RWMutex
	byKey  map[string]*Setting
	logger *slog.Logger
}

// NewSettings creates an empty store.
func NewSettings(logger *slog.Logger) *Settings {
	return &Settings{byKey: make(map[string]*Setting), logger: logger}
}

// LoadYAML declares the settings in a setting.yaml document for addon and
// returns how many were declared. Declaring a key twice replaces it.
func (s *Settings) LoadYAML(addon string, data []byte) (int, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("host: parse settings of %s: %w", addon, err)
	}
	if len(doc.Content) == 0 {
		return 0, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return 0, fmt.Errorf("host: settings of %s: expected a mapping", addon)
	}

	declared := make([]*Setting, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var spec settingSpec
		if err := root.Content[i+1].Decode(&spec); err != nil {
			return 0, fmt.Errorf("host: settings of %s: %s: %w", addon, key, err)
		}
		declared = append(declared, spec.setting(addon, key))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range declared {
		if _, dup := s.byKey[st.Key]; dup && s.logger != nil {
			s.logger.Warn("duplicate setting key", "key", st.Key, "addon", addon)
		}
		s.byKey[st.Key] = st
	}
	return len(declared), nil
}

func (spec settingSpec) setting(addon, key string) *Setting {
	st := &Setting{
		Family:   spec.Family,
		Category: spec.Category,
		Type:     spec.Type,
		Name:     spec.Name,
		Desc:     spec.Desc,
		Range:    spec.Range,
		Value:    spec.Default,
	}
	if st.Value == nil {
		st.Value = spec.Value
	}
	st.Value = expand.SettingDefault(st.Value)
	if st.Family == "" {
		st.Family = addon
	}
	if st.Category == "" {
		st.Category = CategorySystem
	}
	if st.Type == "" {
		st.Type = "text"
	}
	if st.Name == "" {
		st.Name = key
	}
	st.Key = key
	if st.Category == CategorySystem {
		st.Key = addon + "." + key
	}
	return st
}

// Get returns the value of key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return st.Value, true
}

// Set changes the value of a declared key.
func (s *Settings) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byKey[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, key)
	}
	st.Value = v
	return nil
}

// List returns copies of the settings in category ("" for all), by key.
func (s *Settings) List(category string) []Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Setting, 0, len(s.byKey))
	for _, st := range s.byKey {
		if category == "" || st.Category == category {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
