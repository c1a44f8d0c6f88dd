package grammar

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// tokenize runs the teacher-grounded POSIX shell tokenizer
// (mvdan.cc/sh/v3/syntax, the real shell parser already present in the
// retrieval pack) over line and reports whether it parses as a single,
// plain command call with no redirects, pipes, comments, or
// environment-variable expansions — the native-detection rule of
// spec.md §4.1. When native is true, tokens is nil and the whole line
// should be treated as an opaque shell script.
func tokenize(line string) (tokens []string, native bool) {
	parser := syntax.NewParser(syntax.KeepComments(true))
	file, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		// Not even valid shell syntax: treat as an opaque native script,
		// same as any other non-string construct.
		return nil, true
	}
	if len(file.Last) > 0 || len(file.Stmts) != 1 {
		return nil, true
	}
	stmt := file.Stmts[0]
	if len(stmt.Comments) > 0 || len(stmt.Redirs) > 0 || stmt.Negated || stmt.Background || stmt.Coprocess {
		return nil, true
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 {
		return nil, true
	}

	out := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		lit, plain := literalOf(word)
		if !plain {
			return nil, true
		}
		out = append(out, lit)
	}
	return out, false
}

// literalOf returns word's fully quote-removed literal value. ok is
// false if word contains any non-string construct: parameter expansion
// (covers both $foo and ${foo}), command substitution, arithmetic
// expansion, process substitution, or an extended glob.
func literalOf(word *syntax.Word) (string, bool) {
	var b strings.Builder
	for _, part := range word.Parts {
		s, ok := literalPart(part)
		if !ok {
			return "", false
		}
		b.WriteString(s)
	}
	return b.String(), true
}

func literalPart(part syntax.WordPart) (string, bool) {
	switch p := part.(type) {
	case *syntax.Lit:
		return p.Value, true
	case *syntax.SglQuoted:
		return p.Value, true
	case *syntax.DblQuoted:
		var b strings.Builder
		for _, inner := range p.Parts {
			s, ok := literalPart(inner)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	default:
		// ParamExp ($foo, ${foo}), CmdSubst, ArithmExp, ProcSubst,
		// ExtGlob, and anything else the grammar doesn't recognize as a
		// plain string literal.
		return "", false
	}
}
