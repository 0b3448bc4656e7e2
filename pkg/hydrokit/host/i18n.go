package host

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/language"
)

// I18n holds translated strings per language. Lookups pick the closest
// loaded language, then the fallback, then return the key itself.
type I18n struct {
	mu       sync.RWMutex
	dicts    map[language.Tag]map[string]string
	tags     []language.Tag
	matcher  language.Matcher
	fallback language.Tag
}

// NewI18n creates an empty catalog with the given fallback language.
func NewI18n(fallback string) *I18n {
	tag, err := language.Parse(fallback)
	if err != nil {
		tag = language.English
	}
	i := &I18n{dicts: make(map[language.Tag]map[string]string), fallback: tag}
	i.rebuild()
	return i
}

// Load merges dict into lang. Later loads override earlier keys.
func (i *I18n) Load(lang string, dict map[string]string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("host: locale %q: %w", lang, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.dicts[tag]
	if !ok {
		d = make(map[string]string, len(dict))
		i.dicts[tag] = d
	}
	for k, v := range dict {
		d[k] = v
	}
	if !ok {
		i.rebuild()
	}
	return nil
}

// rebuild refreshes the matcher. The fallback comes first so it wins ties.
func (i *I18n) rebuild() {
	tags := []language.Tag{i.fallback}
	for tag := range i.dicts {
		if tag != i.fallback {
			tags = append(tags, tag)
		}
	}
	rest := tags[1:]
	sort.Slice(rest, func(a, b int) bool { return rest[a].String() < rest[b].String() })
	i.tags = tags
	i.matcher = language.NewMatcher(tags)
}

// Translate returns key in the language closest to lang.
func (i *I18n) Translate(lang, key string) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if tag, err := language.Parse(lang); err == nil {
		_, idx, conf := i.matcher.Match(tag)
		if conf != language.No {
			if v, ok := i.dicts[i.tags[idx]][key]; ok {
				return v
			}
		}
	}
	if v, ok := i.dicts[i.fallback][key]; ok {
		return v
	}
	return key
}

// Languages lists the loaded languages.
func (i *I18n) Languages() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.dicts))
	for tag := range i.dicts {
		out = append(out, tag.String())
	}
	sort.Strings(out)
	return out
}
