package module

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TransformMarker on the first line forces a module through Transform.
const TransformMarker = "--!hydro"

// Prologue binds the chunk arguments inside transformed code. It is placed
// on the first line so line numbers are unchanged.
const Prologue = "local exports, require, module, __filename, __dirname, process = ...; "

var (
	// ErrTopLevelAwait is returned when await appears outside any function.
	ErrTopLevelAwait = errors.New("module: top-level await is not supported")

	// ErrTransform reports syntax the transform cannot rewrite.
	ErrTransform = errors.New("module: transform failed")
)

var awaitImport = regexp.MustCompile(`await import *\(`)

// RewriteAwaitImport turns every "await import(" into "require(".
func RewriteAwaitImport(src string) string {
	return awaitImport.ReplaceAllString(src, "require(")
}

// HasMarker reports whether the first non-blank line of src is the
// transform marker.
func HasMarker(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return line == TransformMarker
	}
	return false
}

// Transformed is the result of Transform.
type Transformed struct {
	Code    string
	Exports []string
	Map     *SourceMap
}

type edit struct {
	start, end int
	text       string
}

type transformer struct {
	src     string
	toks    []token // without comments
	last    int     // end offset of the last code token
	edits   []edit
	stack   []byte
	exports []string
	seen    map[string]bool
	ret     int
	imports int
}

// Transform rewrites module syntax into plain Lua:
//
//	import x from "m"          local x = require("m")
//	import * as x from "m"     local x = require("m")
//	import { a, b as c } from  local __import1 = require("m"); local a, c = __import1.a, __import1.b
//	import "m"                 require("m")
//	import("m")                require("m")
//	export function f(...)     local function f(...)
//	export local a, b = ...    local a, b = ...
//	export a = ...             local a = ...
//	export default e           exports.default = e
//	const a = ...              local a = ...
//	await e                    __await(e)
//
// Exported names are copied onto exports when the chunk finishes, before a
// trailing top-level return if there is one. Every line of the output
// corresponds to the same line of the input.
func Transform(filename, src string) (*Transformed, error) {
	all, err := scan(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransform, filename, err)
	}

	t := &transformer{src: src, seen: map[string]bool{}, ret: -1}
	for _, tok := range all {
		if tok.kind != tokComment {
			t.toks = append(t.toks, tok)
			t.last = tok.end
		}
	}

	for i := 0; i < len(t.toks); i++ {
		next, err := t.step(i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		i = next
	}

	t.finishExports()
	t.edits = append(t.edits, edit{start: 0, end: 0, text: Prologue})

	code := apply(src, t.edits)
	return &Transformed{
		Code:    code,
		Exports: t.exports,
		Map:     Identity(filename, strings.Count(src, "\n")+1),
	}, nil
}

// step handles the token at i and returns the index of the last token it
// consumed.
func (t *transformer) step(i int) (int, error) {
	tok := t.toks[i]
	if tok.kind != tokIdent || t.member(i) {
		return i, nil
	}

	switch tok.text {
	case "function":
		t.stack = append(t.stack, 'f')
	case "if", "do":
		t.stack = append(t.stack, 'b')
	case "repeat":
		t.stack = append(t.stack, 'r')
	case "end", "until":
		if len(t.stack) > 0 {
			t.stack = t.stack[:len(t.stack)-1]
		}
	case "return":
		if len(t.stack) == 0 {
			t.ret = tok.start
		}
	case "import":
		return t.importStmt(i)
	case "export":
		if len(t.stack) == 0 {
			return t.exportStmt(i)
		}
	case "const":
		if n, ok := t.peek(i + 1); ok && n.kind == tokIdent && !keywords[n.text] {
			t.replace(tok, "local")
		}
	case "await":
		return t.await(i)
	}
	return i, nil
}

func (t *transformer) peek(i int) (token, bool) {
	if i < 0 || i >= len(t.toks) {
		return token{}, false
	}
	return t.toks[i], true
}

// member reports whether the identifier at i is a field name (a.b, a:b).
func (t *transformer) member(i int) bool {
	prev, ok := t.peek(i - 1)
	return ok && (prev.is(tokSymbol, ".") || prev.is(tokSymbol, ":"))
}

func (t *transformer) functionDepth() int {
	n := 0
	for _, b := range t.stack {
		if b == 'f' {
			n++
		}
	}
	return n
}

func (t *transformer) replace(tok token, text string) {
	t.edits = append(t.edits, edit{start: tok.start, end: tok.end, text: text})
}

func (t *transformer) export(name string) {
	if !t.seen[name] {
		t.seen[name] = true
		t.exports = append(t.exports, name)
	}
}

func (t *transformer) fail(tok token, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrTransform, tok.line, fmt.Sprintf(format, args...))
}

func (t *transformer) importStmt(i int) (int, error) {
	tok := t.toks[i]
	next, ok := t.peek(i + 1)
	if !ok {
		return i, nil
	}
	if next.is(tokSymbol, "(") {
		t.replace(tok, "require")
		return i, nil
	}
	if len(t.stack) != 0 {
		return i, nil
	}

	var (
		j        = i + 1
		binding  string
		names    [][2]string
		hasNames bool
	)

	switch {
	case next.kind == tokString:
		t.edits = append(t.edits, edit{start: tok.start, end: next.end, text: "require(" + next.text + ")"})
		return j, nil

	case next.is(tokSymbol, "*"):
		as, _ := t.peek(j + 1)
		name, _ := t.peek(j + 2)
		if !as.is(tokIdent, "as") || name.kind != tokIdent {
			return i, t.fail(tok, "expected: import * as name")
		}
		binding = name.text
		j += 3

	case next.kind == tokIdent && !keywords[next.text]:
		binding = next.text
		j++
		if comma, _ := t.peek(j); comma.is(tokSymbol, ",") {
			j++
		}

	case next.is(tokSymbol, "{"):
	default:
		return i, nil
	}

	if open, _ := t.peek(j); open.is(tokSymbol, "{") {
		hasNames = true
		j++
		for {
			cur, ok := t.peek(j)
			if !ok {
				return i, t.fail(tok, "unterminated import list")
			}
			if cur.is(tokSymbol, "}") {
				j++
				break
			}
			if cur.is(tokSymbol, ",") {
				j++
				continue
			}
			if cur.kind != tokIdent {
				return i, t.fail(cur, "unexpected %q in import list", cur.text)
			}
			local := cur.text
			if as, _ := t.peek(j + 1); as.is(tokIdent, "as") {
				alias, _ := t.peek(j + 2)
				if alias.kind != tokIdent {
					return i, t.fail(cur, "expected a name after as")
				}
				local = alias.text
				j += 2
			}
			names = append(names, [2]string{local, cur.text})
			j++
		}
	}

	from, _ := t.peek(j)
	modName, _ := t.peek(j + 1)
	if !from.is(tokIdent, "from") || modName.kind != tokString {
		return i, t.fail(tok, "expected from \"module\"")
	}

	var b strings.Builder
	source := binding
	if source == "" {
		t.imports++
		source = fmt.Sprintf("__import%d", t.imports)
	}
	fmt.Fprintf(&b, "local %s = require(%s)", source, modName.text)
	if hasNames && len(names) > 0 {
		locals := make([]string, len(names))
		fields := make([]string, len(names))
		for k, n := range names {
			locals[k] = n[0]
			fields[k] = source + "." + n[1]
		}
		fmt.Fprintf(&b, "; local %s = %s", strings.Join(locals, ", "), strings.Join(fields, ", "))
	}

	t.edits = append(t.edits, edit{start: tok.start, end: modName.end, text: b.String()})
	return j + 1, nil
}

func (t *transformer) exportStmt(i int) (int, error) {
	tok := t.toks[i]
	next, ok := t.peek(i + 1)
	if !ok {
		return i, t.fail(tok, "dangling export")
	}

	switch {
	case next.is(tokIdent, "function"):
		name, _ := t.peek(i + 2)
		open, _ := t.peek(i + 3)
		if name.kind != tokIdent || !open.is(tokSymbol, "(") {
			return i, t.fail(tok, "only plain function names can be exported")
		}
		t.replace(tok, "local")
		t.export(name.text)
		t.stack = append(t.stack, 'f')
		return i + 1, nil

	case next.is(tokIdent, "local"), next.is(tokIdent, "const"):
		t.edits = append(t.edits, edit{start: tok.start, end: next.end, text: "local"})
		if fn, _ := t.peek(i + 2); fn.is(tokIdent, "function") {
			name, _ := t.peek(i + 3)
			if name.kind != tokIdent {
				return i, t.fail(tok, "expected a function name")
			}
			t.export(name.text)
			t.stack = append(t.stack, 'f')
			return i + 2, nil
		}
		return t.exportNames(i, i+2)

	case next.is(tokIdent, "default"):
		t.edits = append(t.edits, edit{start: tok.start, end: next.end, text: "exports.default ="})
		return i + 1, nil

	case next.kind == tokIdent && !keywords[next.text]:
		t.replace(tok, "local")
		return t.exportNames(i, i+1)
	}
	return i, t.fail(tok, "unsupported export form")
}

// exportNames records the comma-separated names starting at j.
func (t *transformer) exportNames(i, j int) (int, error) {
	for {
		name, ok := t.peek(j)
		if !ok || name.kind != tokIdent || keywords[name.text] {
			return i, t.fail(t.toks[i], "expected a name to export")
		}
		t.export(name.text)
		sep, _ := t.peek(j + 1)
		if !sep.is(tokSymbol, ",") {
			return j, nil
		}
		j += 2
	}
}

func (t *transformer) await(i int) (int, error) {
	tok := t.toks[i]
	if t.functionDepth() == 0 {
		return i, fmt.Errorf("%w (line %d)", ErrTopLevelAwait, tok.line)
	}

	end, err := t.prefixExpr(i + 1)
	if err != nil {
		return i, err
	}
	t.replace(tok, "__await(")
	t.edits = append(t.edits, edit{start: t.toks[end].end, end: t.toks[end].end, text: ")"})
	return i, nil
}

// prefixExpr returns the index of the last token of the prefix expression
// (name, field access, index or call chain) starting at j.
func (t *transformer) prefixExpr(j int) (int, error) {
	first, ok := t.peek(j)
	if !ok {
		return 0, t.fail(t.toks[j-1], "await needs an expression")
	}

	k := j
	switch {
	case first.kind == tokIdent && !keywords[first.text]:
	case first.is(tokSymbol, "("):
		m, err := t.matching(j)
		if err != nil {
			return 0, err
		}
		k = m
	default:
		return 0, t.fail(first, "await needs a call or a name, got %q", first.text)
	}

	for {
		next, ok := t.peek(k + 1)
		if !ok {
			return k, nil
		}
		switch {
		case next.is(tokSymbol, "."), next.is(tokSymbol, ":"):
			name, _ := t.peek(k + 2)
			if name.kind != tokIdent {
				return 0, t.fail(next, "expected a name after %q", next.text)
			}
			k += 2
		case next.is(tokSymbol, "("), next.is(tokSymbol, "["), next.is(tokSymbol, "{"):
			m, err := t.matching(k + 1)
			if err != nil {
				return 0, err
			}
			k = m
		case next.kind == tokString:
			k++
		default:
			return k, nil
		}
	}
}

var closers = map[string]string{"(": ")", "[": "]", "{": "}"}

// matching returns the index of the bracket closing the one at j.
func (t *transformer) matching(j int) (int, error) {
	open := t.toks[j]
	want := []string{closers[open.text]}
	for k := j + 1; k < len(t.toks); k++ {
		tok := t.toks[k]
		if tok.kind != tokSymbol {
			continue
		}
		if c, ok := closers[tok.text]; ok {
			want = append(want, c)
			continue
		}
		if tok.text == want[len(want)-1] {
			want = want[:len(want)-1]
			if len(want) == 0 {
				return k, nil
			}
		}
	}
	return 0, t.fail(open, "unbalanced %q", open.text)
}

func (t *transformer) finishExports() {
	if len(t.exports) == 0 {
		return
	}
	var b strings.Builder
	for _, name := range t.exports {
		fmt.Fprintf(&b, "exports.%s = %s; ", name, name)
	}
	if t.ret >= 0 {
		t.edits = append(t.edits, edit{start: t.ret, end: t.ret, text: b.String()})
		return
	}
	t.edits = append(t.edits, edit{start: t.last, end: t.last, text: "; " + strings.TrimSpace(b.String())})
}

// apply performs non-overlapping edits on src. A replaced span keeps its
// newlines so the line structure of src survives.
func apply(src string, edits []edit) string {
	sort.SliceStable(edits, func(a, b int) bool {
		if edits[a].start != edits[b].start {
			return edits[a].start < edits[b].start
		}
		// Insertions go before a replacement starting at the same offset.
		return edits[a].start == edits[a].end && edits[b].start != edits[b].end
	})

	var b strings.Builder
	b.Grow(len(src) + 256)
	cursor := 0
	for _, e := range edits {
		if e.start < cursor {
			continue
		}
		b.WriteString(src[cursor:e.start])
		b.WriteString(e.text)
		if lost := strings.Count(src[e.start:e.end], "\n") - strings.Count(e.text, "\n"); lost > 0 {
			b.WriteString(strings.Repeat("\n", lost))
		}
		cursor = e.end
	}
	b.WriteString(src[cursor:])
	return b.String()
}
