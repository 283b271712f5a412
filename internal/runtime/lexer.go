// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrEmptyCommand is returned by Tokenize for blank or comment-only input.
var ErrEmptyCommand = errors.New("command line is empty")

// Tokenize splits a command line into argv, honoring single quotes, double
// quotes, and backslash escapes. Nothing is expanded.
//
// simple is false when the line needs a shell to mean what it says:
// pipelines, lists, redirections, substitutions, variables, globs, or
// leading assignments. argv is nil in that case. Unbalanced quotes are
// reported as a parse error.
func Tokenize(line string) (argv []string, simple bool, err error) {
	f, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, false, err
	}
	if len(f.Stmts) == 0 {
		return nil, false, ErrEmptyCommand
	}
	if len(f.Stmts) > 1 {
		return nil, false, nil
	}

	st := f.Stmts[0]
	if st.Negated || st.Background || st.Coprocess || len(st.Redirs) > 0 {
		return nil, false, nil
	}
	call, ok := st.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 || len(call.Args) == 0 {
		return nil, false, nil
	}

	for _, w := range call.Args {
		s, ok := literalWord(w)
		if !ok {
			return nil, false, nil
		}
		argv = append(argv, s)
	}
	return argv, true, nil
}

// literalWord renders a word made only of literal and quoted text.
func literalWord(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for i, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			if strings.ContainsAny(unescapedRunes(p.Value), "*?[") || (i == 0 && strings.HasPrefix(p.Value, "~")) {
				return "", false
			}
			sb.WriteString(unescape(p.Value, false))
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", false
			}
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			if p.Dollar {
				return "", false
			}
			for _, q := range p.Parts {
				lit, ok := q.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(unescape(lit.Value, true))
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// unescape removes shell backslash escapes. Inside double quotes only
// $ ` " \ and newline are escapable.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			next := s[i+1]
			if !quoted || strings.IndexByte("$`\"\\\n", next) >= 0 {
				if next != '\n' {
					sb.WriteByte(next)
				}
				i++
				continue
			}
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// unescapedRunes returns s without escaped characters, for glob detection.
func unescapedRunes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
