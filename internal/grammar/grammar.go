// Package grammar parses a run-z command line into a spec.TaskSpec:
// package selectors, attribute assignments, and prerequisite task
// references with their shorthand and delimited arguments, per
// spec.md §4.1.
package grammar

import (
	"strings"

	"github.com/run-z/runz/core/attrs"
	"github.com/run-z/runz/core/spec"
)

// Tokenize exposes the POSIX shell tokenization of line for callers
// that need to compare it word-for-word against an already-tokenized
// argv, such as the builder's script-prefix matching (spec.md §4.3).
// ok is false if line isn't a single plain command call.
func Tokenize(line string) (tokens []string, ok bool) {
	toks, native := tokenize(line)
	return toks, !native
}

// Parse tokenizes line with the POSIX shell tokenizer and, if it reads
// as run-z grammar, builds the TaskSpec it describes. A line that
// isn't run-z grammar (wrong leading word, or any construct the
// tokenizer can't reduce to plain strings) comes back as a native
// passthrough script.
func Parse(line string) (spec.TaskSpec, error) {
	tokens, native := tokenize(line)
	if native || len(tokens) == 0 || tokens[0] != "run-z" {
		return spec.TaskSpec{
			Attrs:  attrs.New(),
			Action: spec.Action{Kind: spec.ActionScript, Command: line},
		}, nil
	}
	return newParser(tokens[1:]).parse()
}

type parser struct {
	rest []string

	commandLine string
	tokenStart  []int

	pre   []spec.Prerequisite
	attrs attrs.Attrs

	pending         *spec.TaskRef
	pendingRawArgs  []string
	pendingParallel bool
	argsAttachable  bool
	argMode         bool
}

func newParser(rest []string) *parser {
	p := &parser{
		rest:  rest,
		attrs: attrs.New(),
	}
	var b strings.Builder
	p.tokenStart = make([]int, len(rest))
	for i, tok := range rest {
		if i > 0 {
			b.WriteByte(' ')
		}
		p.tokenStart[i] = b.Len()
		b.WriteString(tok)
	}
	p.commandLine = b.String()
	return p
}

func (p *parser) errorAt(pos int, message string) error {
	return &InvalidTaskError{Message: message, CommandLine: p.commandLine, Position: pos}
}

func (p *parser) parse() (spec.TaskSpec, error) {
	for i, tok := range p.rest {
		start := p.tokenStart[i]

		if p.argMode {
			if err := p.processToken(tok, start); err != nil {
				return spec.TaskSpec{}, err
			}
			continue
		}

		if strings.HasPrefix(tok, "-") {
			p.commitPending()
			out := spec.TaskSpec{Pre: p.pre, Attrs: p.attrs, Args: append([]string(nil), p.rest[i:]...)}
			return out, nil
		}

		if isPackageSelector(tok) {
			p.commitPending()
			p.pre = append(p.pre, spec.PackagePrerequisite(spec.PackageSelector{Host: tok}))
			continue
		}

		if name, value, ok := parseAttribute(tok); ok {
			p.commitPending()
			p.attrs.Add(name, value)
			continue
		}

		if err := p.processToken(tok, start); err != nil {
			return spec.TaskSpec{}, err
		}
	}

	p.commitPending()
	return spec.TaskSpec{Pre: p.pre, Attrs: p.attrs}, nil
}

func isPackageSelector(tok string) bool {
	return tok == "." || tok == ".." || strings.HasPrefix(tok, "./") || strings.HasPrefix(tok, "../")
}

// parseAttribute reports whether tok is an attribute assignment: it
// contains "=" and the first "=" precedes any "/". The "=name" form
// forces an empty value; "name=" and "name=value" behave as written.
func parseAttribute(tok string) (name, value string, ok bool) {
	eq := strings.IndexByte(tok, '=')
	if eq < 0 {
		return "", "", false
	}
	if slash := strings.IndexByte(tok, '/'); slash >= 0 && slash < eq {
		return "", "", false
	}
	if eq == 0 {
		return tok[1:], "", true
	}
	return tok[:eq], tok[eq+1:], true
}

// processToken splits tok on the "//" argument delimiter, alternating
// name-piece and argument-piece roles starting from p.argMode, and
// toggling p.argMode once per separator so the state persists
// correctly across tokens for an unbalanced "//" count.
func (p *parser) processToken(tok string, tokenStart int) error {
	pieces := splitWithOffsets(tok, "//")
	for i, piece := range pieces {
		absOffset := tokenStart + piece.offset
		if p.argMode {
			if err := p.processArgPiece(piece.text, tokenStart); err != nil {
				return err
			}
		} else {
			if err := p.processNamePiece(piece.text, absOffset); err != nil {
				return err
			}
		}
		if i < len(pieces)-1 {
			p.argMode = !p.argMode
		}
	}
	return nil
}

// processArgPiece appends raw argument text to the attachable pending
// TaskRef. tokenStart is the owning token's start, matching the
// position spec.md's examples report for this error path (no
// fragment-level "+1" adjustment, unlike the comma-fragment case).
func (p *parser) processArgPiece(text string, tokenStart int) error {
	if !p.argsAttachable || p.pending == nil {
		return p.errorAt(tokenStart, errTaskArgWithoutTask)
	}
	p.pendingRawArgs = append(p.pendingRawArgs, text)
	return nil
}

// processNamePiece splits piece on "," into fragments and processes
// each: a non-empty task name commits the old pending TaskRef and
// starts a new one; an empty name with shorthand arguments attaches
// to the current pending on the first fragment, or is always an
// error on a later one; an empty name with no arguments just arms
// parallel for whatever TaskRef is created next.
func (p *parser) processNamePiece(piece string, pieceOffset int) error {
	fragments := splitWithOffsets(piece, ",")
	for idx, frag := range fragments {
		if idx > 0 {
			p.pendingParallel = true
		}
		if err := p.processFragment(frag.text, idx, len(fragments), pieceOffset+frag.offset); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) processFragment(frag string, idx, total int, fragStart int) error {
	parts := splitWithOffsets(frag, "/")
	name := parts[0].text
	var shorthand []string
	for _, part := range parts[1:] {
		shorthand = append(shorthand, part.text)
	}

	if name != "" {
		p.commitPending()
		p.pending = &spec.TaskRef{Task: name, Parallel: p.pendingParallel}
		p.pendingRawArgs = append([]string(nil), shorthand...)
		p.pendingParallel = false
		p.argsAttachable = true
		return nil
	}

	if len(shorthand) == 0 {
		if idx > 0 && total > 1 {
			p.argsAttachable = false
		}
		return nil
	}

	if idx == 0 {
		if p.argsAttachable && p.pending != nil {
			p.pendingRawArgs = append(p.pendingRawArgs, shorthand...)
			return nil
		}
		return p.errorAt(fragStart, errTaskArgWithoutTask)
	}
	return p.errorAt(fragStart+1, errTaskArgWithoutTask)
}

// commitPending classifies the pending TaskRef's accumulated raw
// arguments into Attrs and Args, then pushes it onto Pre.
func (p *parser) commitPending() {
	if p.pending == nil {
		return
	}
	ref := *p.pending
	ref.Attrs = attrs.New()
	for _, raw := range p.pendingRawArgs {
		if strings.HasPrefix(raw, "-") {
			ref.Args = append(ref.Args, raw)
			continue
		}
		if name, value, ok := parseAttribute(raw); ok {
			ref.Attrs.Add(name, value)
			continue
		}
		ref.Args = append(ref.Args, raw)
	}
	p.pre = append(p.pre, spec.TaskPrerequisite(ref))
	p.pending = nil
	p.pendingRawArgs = nil
	p.argsAttachable = false
}

type offsetPiece struct {
	text   string
	offset int
}

// splitWithOffsets splits s on sep like strings.Split, additionally
// reporting each piece's byte offset within s.
func splitWithOffsets(s, sep string) []offsetPiece {
	parts := strings.Split(s, sep)
	out := make([]offsetPiece, len(parts))
	pos := 0
	for i, part := range parts {
		out[i] = offsetPiece{text: part, offset: pos}
		pos += len(part) + len(sep)
	}
	return out
}
