// Package executor implements the Job Executor, spec.md §4.5: given a
// Plan, run every Call's Job respecting prerequisite edges and the
// planner's parallel hints, resolving once the entry Call's Job is done
// or failing on the first error.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/run-z/runz/core/invariant"
	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/planner"
	"github.com/run-z/runz/internal/shell"
)

// JobState is a Job's position in its state machine: pending → running →
// one of the two terminal states.
type JobState int

const (
	Pending JobState = iota
	Running
	DoneOK
	DoneErr
)

func (s JobState) String() string {
	switch s {
	case Running:
		return "running"
	case DoneOK:
		return "done-ok"
	case DoneErr:
		return "done-err"
	default:
		return "pending"
	}
}

// Job tracks one Call's execution, spec.md §4.5.
type Job struct {
	CallID   planner.CallID
	Call     *planner.Call
	State    JobState
	ExitCode int
	Err      error
}

// JobFailed is raised when a Command/Script Job's subprocess exits
// non-zero, spec.md §7.
type JobFailed struct {
	Call     *planner.Call
	ExitCode int
}

func (e *JobFailed) Error() string {
	return fmt.Sprintf("task %s in package %s failed with exit code %d", e.Call.Task.Name, e.Call.Package.Location.Path(), e.ExitCode)
}

// Executor runs a fixed Plan. Not reusable across runs: construct a new
// one per Plan invocation.
type Executor struct {
	plan *planner.Plan

	mu       sync.Mutex
	jobs     map[planner.CallID]*Job
	deps     map[planner.CallID][]planner.CallID
	rdeps    map[planner.CallID][]planner.CallID
	pending  map[planner.CallID]int
	done     map[planner.CallID]chan struct{}
	firstErr error
	errOnce  sync.Once

	wg sync.WaitGroup
}

// New builds an Executor for plan. The executor computes its schedule
// (dependency counts plus synthetic sibling-order edges from the
// planner's parallel hints) eagerly, before any Job starts.
func New(plan *planner.Plan) *Executor {
	invariant.NotNil(plan, "plan")

	e := &Executor{
		plan:    plan,
		jobs:    make(map[planner.CallID]*Job, len(plan.Calls)),
		deps:    make(map[planner.CallID][]planner.CallID, len(plan.Calls)),
		rdeps:   make(map[planner.CallID][]planner.CallID, len(plan.Calls)),
		pending: make(map[planner.CallID]int, len(plan.Calls)),
		done:    make(map[planner.CallID]chan struct{}, len(plan.Calls)),
	}

	for id, call := range plan.Calls {
		e.jobs[id] = &Job{CallID: id, Call: call, State: Pending}
		e.done[id] = make(chan struct{})
		e.pending[id] = 0
	}

	// Own prerequisites: a Group's sub-tasks, a strict happens-before.
	for id, pre := range plan.Prerequisites {
		e.deps[id] = append(e.deps[id], pre...)
	}

	// Sibling-order edges: consecutive prerequisites under the same
	// parent run serially in planning-insertion order unless the
	// planner marked them parallel, per spec.md §4.4/§5.
	for _, siblings := range plan.Prerequisites {
		for i := 1; i < len(siblings); i++ {
			prev, cur := siblings[i-1], siblings[i]
			if !plan.AreParallel(prev, cur) {
				e.deps[cur] = append(e.deps[cur], prev)
			}
		}
	}

	for id, deps := range e.deps {
		deps = dedupe(deps)
		e.deps[id] = deps
		e.pending[id] = len(deps)
		for _, d := range deps {
			e.rdeps[d] = append(e.rdeps[d], id)
		}
	}

	return e
}

func dedupe(ids []planner.CallID) []planner.CallID {
	seen := make(map[planner.CallID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Run executes the whole plan, returning once every Job has reached a
// terminal state. It returns the first failure encountered, or nil if
// every Job completed done-ok.
func (e *Executor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runnable []planner.CallID
	e.mu.Lock()
	for id, n := range e.pending {
		if n == 0 {
			runnable = append(runnable, id)
		}
	}
	e.mu.Unlock()

	sort.Slice(runnable, func(i, j int) bool { return e.planOrder(runnable[i]) < e.planOrder(runnable[j]) })
	for _, id := range runnable {
		e.start(runCtx, cancel, id)
	}

	<-e.done[e.plan.Root]
	e.wg.Wait()

	return e.firstErr
}

func (e *Executor) planOrder(id planner.CallID) int {
	for i, o := range e.plan.Order {
		if o == id {
			return i
		}
	}
	return len(e.plan.Order)
}

func (e *Executor) start(ctx context.Context, cancel context.CancelFunc, id planner.CallID) {
	e.mu.Lock()
	job := e.jobs[id]
	if job.State != Pending {
		e.mu.Unlock()
		return
	}
	job.State = Running
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		exitCode, err := e.runJob(ctx, job)
		e.finish(ctx, cancel, id, exitCode, err)
	}()
}

// runJob dispatches on the Call's action kind, spec.md §4.5 step 3.
func (e *Executor) runJob(ctx context.Context, job *Job) (int, error) {
	switch job.Call.Task.Spec.Action.Kind {
	case spec.ActionGroup:
		return 0, nil

	case spec.ActionUnknown:
		if job.Call.Attrs.Bool("if-present") {
			return 0, nil
		}
		return 1, planner.NewUnknownTaskError(job.Call.Package, job.Call.Task.Name)

	case spec.ActionCommand, spec.ActionScript:
		line := commandLine(job.Call)
		proc := shell.Script(ctx, line).
			SetDir(job.Call.Package.Location.Path()).
			AppendEnv(attrEnv(job.Call.Attrs))
		return proc.Run()

	default:
		invariant.Invariant(false, "unhandled action kind %v", job.Call.Task.Spec.Action.Kind)
		return 1, nil
	}
}

// commandLine resolves the argv to run: the task's own command text,
// with any call-site args appended, per spec.md §4.5 "task args + call
// args". A Command action's text is already the join of its own
// TaskSpec.Args (the builder folded them in when classifying the
// action), so only a Script action's separately-tracked Args need
// appending here to avoid doubling them up.
func commandLine(call *planner.Call) string {
	parts := []string{call.Task.Spec.Action.Command}
	if call.Task.Spec.Action.Kind == spec.ActionScript {
		parts = append(parts, call.Task.Spec.Args...)
	}
	parts = append(parts, call.Args...)
	return strings.Join(nonEmpty(parts), " ")
}

func nonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// attrEnv renders attrs as RUN_Z_ATTR_<NAME>=<values> environment
// entries, multi-values joined by the ASCII record separator, per
// spec.md §6.
const recordSeparator = "\x1e"

func attrEnv(a map[string][]string) map[string]string {
	out := make(map[string]string, len(a))
	for name, values := range a {
		key := "RUN_Z_ATTR_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		out[key] = strings.Join(values, recordSeparator)
	}
	return out
}

// finish records a Job's terminal state, propagates failure
// (cancelling every not-yet-started Job and recording the first error),
// and schedules any dependents that became runnable.
func (e *Executor) finish(ctx context.Context, cancel context.CancelFunc, id planner.CallID, exitCode int, err error) {
	e.mu.Lock()
	job := e.jobs[id]
	job.ExitCode = exitCode

	if err == nil && exitCode != 0 {
		err = &JobFailed{Call: job.Call, ExitCode: exitCode}
	}

	if err != nil {
		job.State = DoneErr
		job.Err = err
		e.mu.Unlock()

		e.errOnce.Do(func() {
			e.mu.Lock()
			e.firstErr = err
			e.mu.Unlock()
			cancel()
		})

		close(e.done[id])
		e.cascadeCancel(id)
		return
	}

	job.State = DoneOK

	var next []planner.CallID
	for _, dep := range e.rdeps[id] {
		e.pending[dep]--
		if e.pending[dep] == 0 {
			next = append(next, dep)
		}
	}
	e.mu.Unlock()

	close(e.done[id])

	sort.Slice(next, func(i, j int) bool { return e.planOrder(next[i]) < e.planOrder(next[j]) })
	for _, n := range next {
		e.start(ctx, cancel, n)
	}
}

// cascadeCancel marks every not-yet-started dependent of a failed Job as
// done-err-cancelled, so their done channels close too and the whole
// graph unwinds to a terminal state instead of deadlocking on a
// dependency that will now never succeed, per spec.md §4.5/§5.
func (e *Executor) cascadeCancel(failed planner.CallID) {
	queue := append([]planner.CallID(nil), e.rdeps[failed]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		e.mu.Lock()
		job := e.jobs[id]
		if job.State == DoneOK || job.State == DoneErr {
			e.mu.Unlock()
			continue
		}
		job.State = DoneErr
		job.Err = context.Canceled
		e.mu.Unlock()

		close(e.done[id])
		queue = append(queue, e.rdeps[id]...)
	}
}

// Jobs returns a snapshot of every Job's current state, for reporting.
func (e *Executor) Jobs() map[planner.CallID]*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[planner.CallID]*Job, len(e.jobs))
	for id, job := range e.jobs {
		cp := *job
		out[id] = &cp
	}
	return out
}
