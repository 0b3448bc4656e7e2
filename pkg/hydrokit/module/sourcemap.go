package module

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// InlineMapPrefix starts the last line of a module that carries its own
// source map.
const InlineMapPrefix = "--# sourceMappingURL=data:application/json;base64,"

// Position is a location in original source.
type Position struct {
	Source string
	Line   int
}

// SourceMap maps generated lines (1-based) to original positions.
type SourceMap struct {
	File  string
	lines map[int]Position
}

// Identity maps each of n lines of file to itself.
func Identity(file string, n int) *SourceMap {
	m := &SourceMap{File: file, lines: make(map[int]Position, n)}
	for i := 1; i <= n; i++ {
		m.lines[i] = Position{Source: file, Line: i}
	}
	return m
}

// Lookup returns the original position of generated line.
func (m *SourceMap) Lookup(line int) (Position, bool) {
	if m == nil {
		return Position{}, false
	}
	p, ok := m.lines[line]
	return p, ok
}

// Len returns the number of mapped lines.
func (m *SourceMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.lines)
}

type rawMap struct {
	Version  int      `json:"version"`
	File     string   `json:"file"`
	Sources  []string `json:"sources"`
	Mappings string   `json:"mappings"`
}

// ParseMap decodes a version 3 source map. Only line information is kept:
// each generated line maps to the original line of its first segment.
func ParseMap(file string, data []byte) (*SourceMap, error) {
	var raw rawMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse source map: %w", err)
	}
	if raw.Version != 3 {
		return nil, fmt.Errorf("parse source map: unsupported version %d", raw.Version)
	}

	m := &SourceMap{File: file, lines: make(map[int]Position)}
	var source, origLine int
	for i, group := range strings.Split(raw.Mappings, ";") {
		mapped := false
		for _, seg := range strings.Split(group, ",") {
			if seg == "" {
				continue
			}
			fields, err := decodeVLQ(seg)
			if err != nil {
				return nil, fmt.Errorf("parse source map: line %d: %w", i+1, err)
			}
			if len(fields) < 4 {
				continue
			}
			source += fields[1]
			origLine += fields[2]
			if mapped {
				continue
			}
			mapped = true
			name := file
			if source >= 0 && source < len(raw.Sources) {
				name = raw.Sources[source]
			}
			m.lines[i+1] = Position{Source: name, Line: origLine + 1}
		}
	}
	return m, nil
}

const vlqAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func decodeVLQ(s string) ([]int, error) {
	var (
		out   []int
		value int
		shift uint
	)
	for i := 0; i < len(s); i++ {
		d := strings.IndexByte(vlqAlphabet, s[i])
		if d < 0 {
			return nil, fmt.Errorf("invalid vlq digit %q", s[i])
		}
		value += (d & 31) << shift
		if d&32 != 0 {
			shift += 5
			continue
		}
		if value&1 == 1 {
			out = append(out, -(value >> 1))
		} else {
			out = append(out, value>>1)
		}
		value, shift = 0, 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("truncated vlq segment")
	}
	return out, nil
}

// InlineMap extracts the source map from the last non-blank line of code.
// It returns nil without error when there is none.
func InlineMap(file, code string) (*SourceMap, error) {
	trimmed := strings.TrimRight(code, " \t\r\n")
	last := trimmed[strings.LastIndexByte(trimmed, '\n')+1:]
	if !strings.HasPrefix(last, InlineMapPrefix) {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(last, InlineMapPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode inline source map: %w", err)
	}
	return ParseMap(file, data)
}

// SourceMaps holds the maps of loaded modules keyed by file path.
type SourceMaps struct {
	mu   sync.RWMutex
	maps map[string]*SourceMap
}

// NewSourceMaps creates an empty store.
func NewSourceMaps() *SourceMaps {
	return &SourceMaps{maps: make(map[string]*SourceMap)}
}

// Set records m under file.
func (s *SourceMaps) Set(file string, m *SourceMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[file] = m
}

// Get returns the map recorded for file.
func (s *SourceMaps) Get(file string) (*SourceMap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.maps[file]
	return m, ok
}

// Delete forgets file.
func (s *SourceMaps) Delete(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.maps, file)
}

var positionPattern = regexp.MustCompile(`([^\s:"'\[\]]+\.(?:lua|hbc)):(\d+):`)

// Rewrite replaces every "file:line:" in msg whose file has a recorded
// map with the original position.
func (s *SourceMaps) Rewrite(msg string) string {
	return positionPattern.ReplaceAllStringFunc(msg, func(match string) string {
		parts := positionPattern.FindStringSubmatch(match)
		m, ok := s.Get(parts[1])
		if !ok {
			return match
		}
		line, _ := strconv.Atoi(parts[2])
		pos, ok := m.Lookup(line)
		if !ok {
			return match
		}
		return fmt.Sprintf("%s:%d:", pos.Source, pos.Line)
	})
}
