// Package expand substitutes ${name} and $name placeholders in strings.
//
// Add-on settings use it for $TEMP and $HOME in default values; add-on
// templates use it to render ${field} placeholders.
package expand

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	bracePattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}`)
	dollarPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)\b`)
)

// Missing selects what happens to a placeholder with no value.
type Missing int

const (
	// Keep leaves the placeholder in place.
	Keep Missing = iota
	// Empty removes it.
	Empty
	// Fail makes Expand return an UndefinedError.
	Fail
)

// Expander substitutes placeholders. It is safe for concurrent use.
type Expander struct {
	missing Missing
	brace   bool
	dollar  bool
}

// Option configures an Expander.
type Option func(*Expander)

// WithMissing sets the handling of unknown names. Default Keep.
func WithMissing(m Missing) Option {
	return func(e *Expander) {
		e.missing = m
	}
}

// WithBrace toggles ${name}. Default on.
func WithBrace(on bool) Option {
	return func(e *Expander) {
		e.brace = on
	}
}

// WithDollar toggles $name. Default on.
func WithDollar(on bool) Option {
	return func(e *Expander) {
		e.dollar = on
	}
}

// New creates an Expander.
func New(opts ...Option) *Expander {
	e := &Expander{brace: true, dollar: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UndefinedError lists placeholders that had no value.
type UndefinedError struct {
	Names []string
}

func (e *UndefinedError) Error() string {
	return "expand: undefined " + strings.Join(e.Names, ", ")
}

// String substitutes placeholders in s. Brace placeholders may use dotted
// names to reach into nested maps ("${user.name}").
func (e *Expander) String(s string, vars map[string]any) (string, error) {
	if s == "" || !strings.Contains(s, "$") {
		return s, nil
	}

	var undefined []string
	replace := func(match, name string) string {
		if v, ok := lookup(vars, name); ok {
			return fmt.Sprint(v)
		}
		switch e.missing {
		case Empty:
			return ""
		case Fail:
			undefined = append(undefined, name)
		}
		return match
	}

	out := s
	if e.brace {
		out = bracePattern.ReplaceAllStringFunc(out, func(m string) string {
			return replace(m, m[2:len(m)-1])
		})
	}
	if e.dollar {
		out = dollarPattern.ReplaceAllStringFunc(out, func(m string) string {
			return replace(m, m[1:])
		})
	}

	if len(undefined) > 0 {
		return out, &UndefinedError{Names: undefined}
	}
	return out, nil
}

// Value substitutes inside strings, recursing into maps and slices. Other
// values are returned unchanged.
func (e *Expander) Value(v any, vars map[string]any) (any, error) {
	switch x := v.(type) {
	case string:
		return e.String(x, vars)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			expanded, err := e.Value(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			expanded, err := e.Value(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	}
	return v, nil
}

func lookup(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = vars
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Paths returns the variables available to setting defaults: TEMP is the
// system temp directory and HOME the user's home directory.
func Paths() map[string]any {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return map[string]any{"TEMP": os.TempDir(), "HOME": home}
}

var paths = New(WithBrace(false))

// SettingDefault replaces $TEMP and $HOME in a setting default. Other
// placeholders are left alone.
func SettingDefault(v any) any {
	out, _ := paths.Value(v, Paths())
	return out
}
