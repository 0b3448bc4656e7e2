package module

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
	tokComment
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
	line  int
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "goto": true,
	"if": true, "in": true, "local": true, "nil": true, "not": true,
	"or": true, "repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// scan splits Lua source into tokens. Comments are kept so callers can
// avoid placing code inside them.
func scan(src string) ([]token, error) {
	var (
		toks []token
		line = 1
		i    = 0
	)

	emit := func(kind tokenKind, start, end, startLine int) {
		toks = append(toks, token{kind: kind, text: src[start:end], start: start, end: end, line: startLine})
	}

	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++

		case c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v':
			i++

		case c == '-' && strings.HasPrefix(src[i:], "--"):
			start, startLine := i, line
			i += 2
			if level, ok := longBracket(src, i); ok {
				end, lines, err := closeLongBracket(src, i, level)
				if err != nil {
					return nil, fmt.Errorf("line %d: unfinished long comment", startLine)
				}
				i, line = end, line+lines
			} else {
				for i < len(src) && src[i] != '\n' {
					i++
				}
			}
			emit(tokComment, start, i, startLine)

		case c == '"' || c == '\'':
			start, startLine := i, line
			i++
			for {
				if i >= len(src) || src[i] == '\n' {
					return nil, fmt.Errorf("line %d: unfinished string", startLine)
				}
				if src[i] == '\\' {
					if i+1 < len(src) && src[i+1] == '\n' {
						line++
					}
					i += 2
					continue
				}
				if src[i] == c {
					i++
					break
				}
				i++
			}
			emit(tokString, start, i, startLine)

		case c == '[':
			if level, ok := longBracket(src, i); ok {
				start, startLine := i, line
				end, lines, err := closeLongBracket(src, i, level)
				if err != nil {
					return nil, fmt.Errorf("line %d: unfinished long string", startLine)
				}
				i, line = end, line+lines
				emit(tokString, start, i, startLine)
				continue
			}
			emit(tokSymbol, i, i+1, line)
			i++

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			emit(tokIdent, start, i, line)

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) {
				d := src[i]
				if isIdentPart(d) || d == '.' {
					i++
					continue
				}
				if (d == '+' || d == '-') && strings.ContainsRune("eEpP", rune(src[i-1])) {
					i++
					continue
				}
				break
			}
			emit(tokNumber, start, i, line)

		default:
			n := 1
			for _, op := range []string{"...", "..", "==", "~=", "<=", ">=", "::"} {
				if strings.HasPrefix(src[i:], op) {
					n = len(op)
					break
				}
			}
			emit(tokSymbol, i, i+n, line)
			i += n
		}
	}
	return toks, nil
}

// longBracket reports whether src[i:] opens a long bracket ("[[", "[==[")
// and returns its level.
func longBracket(src string, i int) (int, bool) {
	if i >= len(src) || src[i] != '[' {
		return 0, false
	}
	j := i + 1
	for j < len(src) && src[j] == '=' {
		j++
	}
	if j < len(src) && src[j] == '[' {
		return j - i - 1, true
	}
	return 0, false
}

// closeLongBracket finds the end of the long bracket opened at i and returns
// the offset just past it together with the newlines crossed.
func closeLongBracket(src string, i, level int) (int, int, error) {
	closer := "]" + strings.Repeat("=", level) + "]"
	body := i + level + 2
	k := strings.Index(src[body:], closer)
	if k < 0 {
		return 0, 0, fmt.Errorf("unfinished long bracket")
	}
	end := body + k + len(closer)
	return end, strings.Count(src[i:end], "\n"), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
