// Package syntax implements the option/syntax engine: an iterative
// recognizer for CLI-style tokens with retry-by-replacement, deferral,
// and wildcard fallback dispatch. The task builder runs it to apply
// task-level options; the top-level CLI uses only its
// UnknownOptionError.
package syntax

import (
	"fmt"
	"strings"
)

// Candidate is one interpretation of the token at the current position,
// proposed by a SyntaxHandler.
//
// Tail must be a genuine prefix-window of the real remaining argv after
// the option token: if a handler sets Tail, it must equal
// remaining[1:1+w] for some window length w it chooses (0 means "this
// candidate offers the reader nothing to consume"). The engine uses that
// invariant to reconcile how many tokens a reader actually consumed with
// how much of the real argv to advance past.
type Candidate struct {
	Name   string
	Values []string // inline values already parsed from the option token itself (e.g. --name=value)
	Tail   []string // window of remaining[1:] the reader may pull further values from
	Retry  bool
}

// SyntaxHandler inspects the current argv (the option token is
// remaining[0]) and proposes zero or more candidates, most-preferred
// first.
type SyntaxHandler func(remaining []string) []Candidate

// ReaderFunc is invoked with a Read giving access to the candidate's
// value pool. It recognizes the candidate by calling Values, Rest, or
// Defer; calling none of those leaves the candidate unrecognized.
type ReaderFunc func(r *Read)

// Read is the per-candidate context passed to a ReaderFunc.
type Read struct {
	pool     []string
	idx      int
	acted    bool
	explicit bool // Values returned no tokens: recognized, zero tokens, not a no-op
	consumed []string
	deferCB  func(values []string) error
}

// Values consumes up to max following tokens from the pool, stopping
// early at the next option-like token (one starting with "-"). max<=0
// means unbounded (consume every non-option-like token remaining).
func (r *Read) Values(max int) []string {
	r.acted = true
	var out []string
	for r.idx < len(r.pool) {
		if max > 0 && len(out) >= max {
			break
		}
		tok := r.pool[r.idx]
		if len(out) > 0 && strings.HasPrefix(tok, "-") {
			break
		}
		out = append(out, tok)
		r.idx++
	}
	if len(out) == 0 {
		r.explicit = true
	}
	r.consumed = append(r.consumed, out...)
	return out
}

// Rest consumes every remaining token in the pool unconditionally, even
// ones that look like options.
func (r *Read) Rest() []string {
	r.acted = true
	out := append([]string(nil), r.pool[r.idx:]...)
	r.consumed = append(r.consumed, out...)
	r.idx = len(r.pool)
	return out
}

// Defer registers a second-pass callback, run after the full linear scan
// with the final accumulated values recorded for this option's name. cb
// returning a non-nil error means the option is still unresolved, which
// the engine reports as UnknownOptionError.
func (r *Read) Defer(cb func(values []string) error) {
	r.acted = true
	r.deferCB = cb
}

// UnknownOptionError is raised when no reader recognizes a candidate and
// no wildcard fallback is registered either.
type UnknownOptionError struct {
	Name string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown option %q", e.Name)
}

// Result accumulates recognized option values in recognition order.
type Result struct {
	Values     map[string][]string
	Positional []string
}

func newResult() *Result {
	return &Result{Values: make(map[string][]string)}
}

func (r *Result) add(name string, values []string) {
	if _, ok := r.Values[name]; !ok {
		r.Values[name] = []string{}
	}
	r.Values[name] = append(r.Values[name], values...)
}

// Engine drives recognition. Options is an ordered list of reader
// layers: later layers are consulted after earlier ones for the same
// name, never overriding — "all readers for a name are invoked in order
// until recognition".
type Engine struct {
	Syntaxes []SyntaxHandler
	Options  []map[string]ReaderFunc
}

// Default syntaxes, matching spec.md §4.2: long options, short options
// with a one-letter prefix possibly bearing an inline parameter, a
// single-letter cluster fallback, and a verbatim positional catch-all.
func DefaultSyntaxes() []SyntaxHandler {
	return []SyntaxHandler{LongOptionSyntax, ShortOptionSyntax, PositionalSyntax}
}

// LongOptionSyntax recognizes --name and --name=value.
func LongOptionSyntax(remaining []string) []Candidate {
	tok := remaining[0]
	if !strings.HasPrefix(tok, "--") || len(tok) == 2 {
		return nil
	}
	body := tok[2:]
	name := "--" + body
	var values []string
	if i := strings.IndexByte(body, '='); i >= 0 {
		name = "--" + body[:i]
		values = []string{body[i+1:]}
	}
	return []Candidate{{Name: name, Values: values, Tail: remaining[1:]}}
}

// ShortOptionSyntax recognizes -x, -x<param>, and falls back to
// single-letter cluster re-processing. Given "-test" and readers
// {-t, -t*, -test}, it prefers -test (longest exact), then -t* (prefix
// with parameter "est"), then -t (single letter, "est" re-processed as
// a new short cluster), per spec.md §4.2.
func ShortOptionSyntax(remaining []string) []Candidate {
	tok := remaining[0]
	if !strings.HasPrefix(tok, "-") || strings.HasPrefix(tok, "--") || len(tok) < 2 {
		return nil
	}
	var out []Candidate
	// Longest exact: the whole token as a single option name.
	out = append(out, Candidate{Name: tok, Tail: remaining[1:]})
	if len(tok) > 2 {
		letter := tok[:2]
		param := tok[2:]
		// One-letter prefix with an inline parameter.
		out = append(out, Candidate{Name: letter, Values: []string{param}, Tail: remaining[1:]})
		// Single-letter cluster fallback: the remainder re-enters
		// recognition as its own short-option token, e.g. "-test" falls
		// back to offering "-est" as a fresh cluster to split further.
		out = append(out, Candidate{Name: "-" + param, Tail: remaining[1:]})
	}
	return out
}

// PositionalSyntax is the verbatim catch-all for non-option tokens.
func PositionalSyntax(remaining []string) []Candidate {
	tok := remaining[0]
	if strings.HasPrefix(tok, "-") && tok != "-" {
		return nil
	}
	return []Candidate{{Name: "*", Values: []string{tok}, Tail: remaining[1:]}}
}

func wildcardFor(name string) string {
	switch {
	case strings.HasPrefix(name, "--"):
		return "--*"
	case strings.HasPrefix(name, "-") && name != "-":
		return "-*"
	default:
		return "*"
	}
}

// readersFor gathers, in order, every reader registered for name: exact
// matches across layers first (registration order), then the per-letter
// short wildcard (e.g. "-t*") if applicable, then the generic wildcard.
func (e *Engine) readersFor(name string) []ReaderFunc {
	var out []ReaderFunc
	for _, layer := range e.Options {
		if r, ok := layer[name]; ok {
			out = append(out, r)
		}
	}
	if len(name) == 2 && strings.HasPrefix(name, "-") && !strings.HasPrefix(name, "--") {
		letterWildcard := name + "*"
		for _, layer := range e.Options {
			if r, ok := layer[letterWildcard]; ok {
				out = append(out, r)
			}
		}
	}
	wc := wildcardFor(name)
	for _, layer := range e.Options {
		if r, ok := layer[wc]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) candidatesFor(remaining []string) []Candidate {
	var out []Candidate
	for _, h := range e.Syntaxes {
		out = append(out, h(remaining)...)
	}
	return out
}

// Parse recognizes every token in argv, returning the accumulated
// option values and any unclaimed positional tokens.
func (e *Engine) Parse(argv []string) (*Result, error) {
	remaining := append([]string(nil), argv...)
	result := newResult()
	var deferred []deferredCall
	anyRecognized := false
	retryBudget := (len(argv) + 1) * 8

	for len(remaining) > 0 {
		candidates := e.candidatesFor(remaining)
		if len(candidates) == 0 {
			return nil, &UnknownOptionError{Name: remaining[0]}
		}

		advanced := false
		for _, cand := range candidates {
			if recognized := e.tryRecognize(cand, result, &deferred); recognized != nil {
				remaining = nextRemaining(remaining, cand, recognized.idx)
				anyRecognized = true
				advanced = true
				break
			}
			if cand.Retry && !anyRecognized && retryBudget > 0 {
				retryBudget--
				expanded := buildExpanded(cand)
				afterWindow := remaining[1+len(cand.Tail):]
				remaining = append(expanded, afterWindow...)
				advanced = true
				break
			}
		}
		if !advanced {
			return nil, &UnknownOptionError{Name: candidates[0].Name}
		}
	}

	for _, d := range deferred {
		if err := d.cb(result.Values[d.name]); err != nil {
			return nil, &UnknownOptionError{Name: d.name}
		}
	}

	if pos, ok := result.Values["*"]; ok {
		result.Positional = pos
		delete(result.Values, "*")
	}
	return result, nil
}

type deferredCall struct {
	name string
	cb   func(values []string) error
}

// tryRecognize invokes cand's readers in order, returning the Read that
// recognized it (nil if none did).
func (e *Engine) tryRecognize(cand Candidate, result *Result, deferred *[]deferredCall) *Read {
	pool := append(append([]string(nil), cand.Values...), cand.Tail...)
	for _, reader := range e.readersFor(cand.Name) {
		r := &Read{pool: pool}
		reader(r)
		if !r.acted {
			continue
		}
		if r.deferCB != nil {
			*deferred = append(*deferred, deferredCall{name: cand.Name, cb: r.deferCB})
			result.add(cand.Name, nil)
		} else {
			result.add(cand.Name, r.consumed)
		}
		// idx counts how many of cand.Values were consumed too; only the
		// portion past len(cand.Values) came from the real argv Tail.
		tailIdx := r.idx - len(cand.Values)
		if tailIdx < 0 {
			tailIdx = 0
		}
		if tailIdx > len(cand.Tail) {
			tailIdx = len(cand.Tail)
		}
		r.idx = tailIdx
		return r
	}
	return nil
}

// nextRemaining computes the real remaining argv once cand has been
// recognized, given how many of cand.Tail's tokens the reader consumed.
func nextRemaining(remaining []string, cand Candidate, tailConsumed int) []string {
	unconsumedWindow := cand.Tail[tailConsumed:]
	afterWindow := remaining[1+len(cand.Tail):]
	return append(append([]string{}, unconsumedWindow...), afterWindow...)
}

func buildExpanded(cand Candidate) []string {
	out := []string{cand.Name}
	out = append(out, cand.Values...)
	out = append(out, cand.Tail...)
	return out
}
