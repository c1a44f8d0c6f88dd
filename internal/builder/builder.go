// Package builder implements the task spec builder, spec.md §4.3: a
// mutable accumulator over the grammar parser and option engine that
// freezes into an immutable spec.TaskSpec.
package builder

import (
	"strings"

	"github.com/run-z/runz/core/attrs"
	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/grammar"
	isyntax "github.com/run-z/runz/internal/syntax"
)

// Builder accumulates a task spec incrementally, then freezes it with
// Spec once every parse/apply call has run.
type Builder struct {
	spec   spec.TaskSpec
	parsed bool
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{spec: spec.TaskSpec{Attrs: attrs.New()}}
}

// Parse delegates to the task grammar parser and merges the resulting
// spec's prerequisites, attributes, and arguments into the builder.
func (b *Builder) Parse(line string) error {
	s, err := grammar.Parse(line)
	if err != nil {
		return err
	}
	b.spec.Pre = append(b.spec.Pre, s.Pre...)
	b.spec.Attrs.Merge(s.Attrs)
	b.spec.Args = append(b.spec.Args, s.Args...)
	if s.IsNative() {
		b.spec.Action = s.Action
	}
	b.parsed = true
	return nil
}

// OptionEngine returns the option/syntax engine used for applying
// task-level options: every long or short option absorbs at most one
// value, inline or from the following argv, via the wildcard layer, and
// bare positional tokens
// fall through to args.
func OptionEngine() *isyntax.Engine {
	return &isyntax.Engine{
		Syntaxes: isyntax.DefaultSyntaxes(),
		Options: []map[string]isyntax.ReaderFunc{
			{
				"--*": func(r *isyntax.Read) { r.Values(1) },
				"-*":  func(r *isyntax.Read) { r.Values(1) },
				"*":   func(r *isyntax.Read) { r.Values(0) },
			},
		},
	}
}

// ApplyOptions runs the option engine over args[fromIndex:], appending
// every recognized long/short option as an attribute (name stripped of
// its leading dashes) and leftover positional tokens as args.
func (b *Builder) ApplyOptions(args []string, fromIndex int) error {
	res, err := OptionEngine().Parse(args[fromIndex:])
	if err != nil {
		return err
	}
	for name, values := range res.Values {
		attrName := strings.TrimLeft(name, "-")
		if len(values) == 0 {
			b.spec.Attrs.Add(attrName, "")
			continue
		}
		for _, v := range values {
			b.spec.Attrs.Add(attrName, v)
		}
	}
	b.spec.Args = append(b.spec.Args, res.Positional...)
	b.parsed = true
	return nil
}

// ApplyArgv implements the script-prefix rule of spec.md §4.3: when
// scriptLine's own tokens are an exact, case-sensitive prefix of
// argv[fromIndex:], the script's own options are applied first, then
// the remaining tail is applied explicitly; otherwise the whole of
// argv[fromIndex:] is applied as-is.
func (b *Builder) ApplyArgv(scriptLine, taskName string, argv []string, fromIndex int) error {
	tail := argv[fromIndex:]
	scriptTokens, ok := grammar.Tokenize(scriptLine)
	if ok && len(scriptTokens) > 0 && scriptTokens[0] == "run-z" {
		scriptTokens = scriptTokens[1:]
	}
	if ok && isPrefix(scriptTokens, tail) {
		if err := b.Parse(scriptLine); err != nil {
			return err
		}
		return b.ApplyOptions(tail, len(scriptTokens))
	}
	return b.ApplyOptions(tail, 0)
}

func isPrefix(prefix, tokens []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i, p := range prefix {
		if tokens[i] != p {
			return false
		}
	}
	return true
}

// Spec freezes and returns the accumulated spec, classifying its
// action: native lines keep the Script action Parse already set;
// otherwise a spec with leftover args becomes a Command, and one
// without becomes a Group. The "then" attribute (spec.md §6) marks
// where positional prerequisite parsing ended and the literal command
// to run begins, so a leading "--then" sentinel is stripped from the
// leftover args before they're joined into the Command text.
func (b *Builder) Spec() spec.TaskSpec {
	out := b.spec
	if out.Action.Kind == spec.ActionGroup && len(out.Args) > 0 {
		args := out.Args
		if args[0] == "--then" {
			args = args[1:]
		}
		out.Action = spec.Action{Kind: spec.ActionCommand, Command: strings.Join(args, " ")}
	}
	return out
}
