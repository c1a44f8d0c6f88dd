// Package planner implements the call plan builder, spec.md §4.4: a
// reentrant, deduplicating walk over a package's task table that
// produces an immutable Plan of Calls, ordered by first encounter.
package planner

import (
	"fmt"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/crypto/blake2b"

	"github.com/run-z/runz/core/attrs"
	"github.com/run-z/runz/core/invariant"
	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/pkgmodel"
)

// CallID identifies a planned call by the package path and task name it
// targets. It is a blake2b-256 digest, not a sequence number, so two
// planning passes over the same graph always agree on identity.
type CallID [32]byte

func newCallID(packagePath, taskName string) CallID {
	h, err := blake2b.New256(nil)
	invariant.ExpectNoError(err, "blake2b.New256 construction")
	h.Write([]byte(packagePath))
	h.Write([]byte{0})
	h.Write([]byte(taskName))
	var id CallID
	copy(id[:], h.Sum(nil))
	return id
}

// Call is one planned invocation: a package/task target with the
// coalesced attributes and arguments contributed by every call-site that
// referenced it.
type Call struct {
	ID      CallID
	Package *pkgmodel.Package
	Task    *pkgmodel.Task
	Attrs   attrs.Attrs
	Args    []string
}

// Plan is the finished, immutable result of planning: every Call
// encountered, keyed by CallID, its prerequisite edges, its pairwise
// parallel-run hints, and the order Calls were first encountered in
// (stable across runs, since planning is deterministic).
type Plan struct {
	Calls         map[CallID]*Call
	Prerequisites map[CallID][]CallID
	Parallel      map[CallID]map[CallID]bool
	Order         []CallID

	// Root is the CallID of the task the plan was built for.
	Root CallID
}

// MakeParallel records a and b as runnable concurrently with each other.
// The relation is symmetric.
func (p *Plan) MakeParallel(a, b CallID) {
	if a == b {
		return
	}
	if p.Parallel[a] == nil {
		p.Parallel[a] = make(map[CallID]bool)
	}
	if p.Parallel[b] == nil {
		p.Parallel[b] = make(map[CallID]bool)
	}
	p.Parallel[a][b] = true
	p.Parallel[b][a] = true
}

// AreParallel reports whether a and b were hinted as concurrent.
func (p *Plan) AreParallel(a, b CallID) bool {
	return p.Parallel[a] != nil && p.Parallel[a][b]
}

// PackageResolver resolves a package-selector host token (".", "..",
// "./pkg", "../pkg") relative to current, per spec.md §4.1/§4.4. It is
// satisfied by internal/discovery; the planner never touches the
// filesystem itself.
type PackageResolver interface {
	ResolvePackage(current *pkgmodel.Package, host string) (*pkgmodel.Package, error)
}

// UnknownTaskError reports a task name absent from its target package's
// table at plan time. The planner itself never returns this error (it
// always materializes an pkgmodel.UnknownTask call instead, per spec.md
// scenario 6); it is exposed for the executor to raise at run time when
// such a call executes without the if-present attribute set, per
// scenario 7.
type UnknownTaskError struct {
	Package    string
	Task       string
	Suggestion string
}

func (e *UnknownTaskError) Error() string {
	msg := fmt.Sprintf("task not found: %s in package %s", e.Task, e.Package)
	if e.Suggestion != "" {
		msg += ". " + e.Suggestion
	}
	return msg
}

// suggestTask finds the closest candidate name to target via fuzzy
// ranking, returning "" if candidates is empty or nothing ranks.
func suggestTask(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	return ranks[0].Target
}

func suggestionFor(target string, candidates []string) string {
	closest := suggestTask(target, candidates)
	if closest == "" {
		return ""
	}
	return fmt.Sprintf("Did you mean %q?", closest)
}

// Planner builds Plans over a fixed PackageResolver. It is safe to reuse
// across multiple Plan calls; it holds no state between them.
type Planner struct {
	Resolver PackageResolver
}

// New returns a Planner using resolver to follow package selectors.
func New(resolver PackageResolver) *Planner {
	return &Planner{Resolver: resolver}
}

// planState is the mutable, single-Plan-call context threaded through
// recursive planning.
type planState struct {
	plan       *Plan
	resolver   PackageResolver
	inProgress map[CallID]bool
}

// Plan builds the call plan rooted at taskName in pkg. It is reentrant:
// a task reachable from multiple call-sites is planned once and its
// attributes/arguments merged across every site, in the order call-sites
// are encountered during the walk.
func (pl *Planner) Plan(pkg *pkgmodel.Package, taskName string) (*Plan, error) {
	invariant.NotNil(pkg, "pkg")

	plan := &Plan{
		Calls:         make(map[CallID]*Call),
		Prerequisites: make(map[CallID][]CallID),
		Parallel:      make(map[CallID]map[CallID]bool),
	}
	st := &planState{
		plan:       plan,
		resolver:   pl.Resolver,
		inProgress: make(map[CallID]bool),
	}

	id, err := st.planTask(pkg, taskName, attrs.New(), nil)
	if err != nil {
		return nil, err
	}
	plan.Root = id
	return plan, nil
}

// resolveTask looks taskName up in target's table, materializing an
// pkgmodel.UnknownTask placeholder (never an error) when absent, per
// spec.md scenario 6.
func resolveTask(target *pkgmodel.Package, taskName string, ifPresent bool) *pkgmodel.Task {
	if t, ok := target.Tasks[taskName]; ok {
		return t
	}
	return pkgmodel.UnknownTask(target, taskName, ifPresent)
}

// planTask plans target's taskName task, merging callAttrs/callArgs into
// an existing Call if one was already planned, or walking its
// prerequisites to build a new one. It returns the resulting CallID.
func (st *planState) planTask(target *pkgmodel.Package, taskName string, callAttrs attrs.Attrs, callArgs []string) (CallID, error) {
	id := newCallID(target.Location.Path(), taskName)

	if call, ok := st.plan.Calls[id]; ok {
		call.Attrs.Merge(callAttrs)
		call.Args = append(call.Args, callArgs...)
		return id, nil
	}

	invariant.Precondition(!st.inProgress[id], "task %s in package %s is already being planned (cycle)", taskName, target.Location.Path())
	st.inProgress[id] = true
	defer delete(st.inProgress, id)

	task := resolveTask(target, taskName, callAttrs.Bool("if-present"))

	call := &Call{
		ID:      id,
		Package: target,
		Task:    task,
		Attrs:   callAttrs.Clone(),
		Args:    append([]string(nil), callArgs...),
	}
	st.plan.Calls[id] = call
	st.plan.Order = append(st.plan.Order, id)

	currentTarget := target
	var prevID CallID
	havePrev := false

	for _, pre := range task.Spec.Pre {
		switch pre.Kind {
		case spec.PrereqPackage:
			resolved, err := st.resolvePackage(currentTarget, pre.Package.Host)
			if err != nil {
				return CallID{}, err
			}
			currentTarget = resolved

		case spec.PrereqTask:
			ref := pre.Task
			preID, err := st.planTask(currentTarget, ref.Task, ref.Attrs, ref.Args)
			if err != nil {
				return CallID{}, err
			}
			st.plan.Prerequisites[id] = append(st.plan.Prerequisites[id], preID)

			if ref.Parallel && havePrev {
				st.linkParallel(prevID, preID)
			}
			prevID, havePrev = preID, true
		}
	}

	return id, nil
}

// resolvePackage delegates to the resolver, returning a plain error
// naming the selector if none is configured; the resolver itself owns
// filesystem-not-found semantics.
func (st *planState) resolvePackage(current *pkgmodel.Package, host string) (*pkgmodel.Package, error) {
	if st.resolver == nil {
		return nil, fmt.Errorf("package selector %q used but no package resolver configured", host)
	}
	return st.resolver.ResolvePackage(current, host)
}

// linkParallel joins prevID with preID, and transitively with every
// terminal leaf prevID's own Group expansion reaches, so that a
// parallel marker on a Group prerequisite relaxes ordering against every
// concrete action it expands into rather than just the Group call
// itself.
func (st *planState) linkParallel(prevID, preID CallID) {
	for _, a := range st.leaves(prevID) {
		for _, b := range st.leaves(preID) {
			st.plan.MakeParallel(a, b)
		}
	}
}

// leaves returns id itself if its Call is not an ActionGroup, or the
// transitive set of non-Group prerequisite CallIDs otherwise.
func (st *planState) leaves(id CallID) []CallID {
	call, ok := st.plan.Calls[id]
	if !ok || call.Task.Spec.Action.Kind != spec.ActionGroup {
		return []CallID{id}
	}
	var out []CallID
	seen := map[CallID]bool{id: true}
	var walk func(CallID)
	walk = func(cur CallID) {
		for _, pre := range st.plan.Prerequisites[cur] {
			if seen[pre] {
				continue
			}
			seen[pre] = true
			preCall := st.plan.Calls[pre]
			if preCall != nil && preCall.Task.Spec.Action.Kind == spec.ActionGroup {
				walk(pre)
			} else {
				out = append(out, pre)
			}
		}
	}
	walk(id)
	if len(out) == 0 {
		return []CallID{id}
	}
	return out
}

// TaskNames lists pkg's own task names, for building an
// UnknownTaskError's suggestion.
func TaskNames(pkg *pkgmodel.Package) []string {
	names := make([]string, 0, len(pkg.Tasks))
	for name := range pkg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewUnknownTaskError builds an UnknownTaskError for taskName in pkg,
// populating a "did you mean" suggestion from pkg's own task names when
// one ranks close enough to be worth mentioning.
func NewUnknownTaskError(pkg *pkgmodel.Package, taskName string) *UnknownTaskError {
	candidates := TaskNames(pkg)
	return &UnknownTaskError{
		Package:    pkg.Location.Path(),
		Task:       taskName,
		Suggestion: suggestionFor(taskName, candidates),
	}
}

// String renders id as a short hex prefix for logging, matching the
// texture of the teacher's step-id formatting.
func (id CallID) String() string {
	return fmt.Sprintf("%x", id[:6])
}
