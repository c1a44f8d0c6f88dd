package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/batch"
	"github.com/run-z/runz/internal/builder"
	"github.com/run-z/runz/internal/discovery"
	"github.com/run-z/runz/internal/executor"
	"github.com/run-z/runz/internal/pkgmodel"
	"github.com/run-z/runz/internal/planfmt"
	"github.com/run-z/runz/internal/planner"
)

// entryTaskName names the synthetic task the CLI's own task line is
// attached to so the ordinary planner can plan it like any other named
// task. Manifest scripts are keyed by object/map keys a real author
// writes by hand; this name opens with a NUL byte, so it can never
// collide with one.
const entryTaskName = "\x00entry"

// Version is the compiler identifier recorded in a written plan file's
// metadata (excluded from its content hash, planfmt.Meta's doc comment).
var Version = "dev"

// Run resolves PACKAGES/TASK targeting, builds the entry task's spec,
// and plans/executes (or serializes/replays/dry-runs) it, per spec.md
// §6's command-line surface.
func Run(ctx context.Context, opts Options, args []string, stdout, stderr io.Writer) error {
	if opts.PlanFile != "" && len(args) == 0 && !opts.DryRun {
		return runFromPlan(ctx, opts, stdout)
	}

	root, err := os.Getwd()
	if err != nil {
		return err
	}

	targets, rest, err := resolveTargets(root, args)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	if len(rest) == 0 {
		return &ExitError{Code: 2, Err: fmt.Errorf("no task given; usage: %s", usage)}
	}

	entrySpec, err := parseEntryLine(rest)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	pkgs := make([]*pkgmodel.Package, len(targets))
	for i, t := range targets {
		pkgs[i] = withEntryTask(t, entrySpec)
	}

	if opts.Watch {
		return runWatched(ctx, root, pkgs, opts, stdout, stderr)
	}

	return runPass(ctx, pkgs, opts, stdout, stderr)
}

// parseEntryLine reconstructs rest into a single run-z command line
// (the same grammar a manifest script's right-hand side uses) and
// builds its TaskSpec, per spec.md §4.1's "reconstructed command line"
// convention — argv tokens are rejoined with single spaces before
// re-tokenizing, exactly as error messages reconstruct a command line
// from its tokens.
func parseEntryLine(rest []string) (spec.TaskSpec, error) {
	line := "run-z " + strings.Join(rest, " ")
	b := builder.New()
	if err := b.Parse(line); err != nil {
		return spec.TaskSpec{}, err
	}
	return b.Spec(), nil
}

// withEntryTask returns a shallow copy of pkg whose task table also
// carries entrySpec under entryTaskName, leaving pkg itself untouched so
// the same discovered package can be reused across multiple --watch
// iterations without accumulating stale entries.
func withEntryTask(pkg *pkgmodel.Package, entrySpec spec.TaskSpec) *pkgmodel.Package {
	tasks := make(map[string]*pkgmodel.Task, len(pkg.Tasks)+1)
	for name, task := range pkg.Tasks {
		tasks[name] = task
	}
	clone := *pkg
	clone.Tasks = tasks
	tasks[entryTaskName] = &pkgmodel.Task{Target: &clone, Name: entryTaskName, Spec: entrySpec}
	return &clone
}

func runPass(ctx context.Context, pkgs []*pkgmodel.Package, opts Options, stdout, stderr io.Writer) error {
	pl := planner.New(discovery.NewResolver())

	if opts.DryRun || opts.PlanFile != "" {
		return reportPlans(pl, pkgs, opts, stdout)
	}

	start := time.Now()
	_, err := batch.Run(ctx, pl, pkgs, entryTaskName)
	if opts.Timing {
		fmt.Fprintf(stderr, "run-z: took %s\n", time.Since(start))
	}
	if err != nil {
		code := 1
		if batchErr, ok := err.(*batch.Error); ok && len(batchErr.Failures) > 0 {
			code = ExitCode(batchErr.Failures[0].Err)
		}
		return &ExitError{Code: code, Err: err}
	}
	return nil
}

// reportPlans plans every target without starting any Job, per
// spec.md §6's --dry-run addition. With --dry-run it prints each
// target's Calls in planning order to stdout; with --plan FILE it
// serializes the target's plan to file. --plan with more than one
// target is rejected with exit code 2.
func reportPlans(pl *planner.Planner, pkgs []*pkgmodel.Package, opts Options, stdout io.Writer) error {
	if opts.PlanFile != "" && len(pkgs) > 1 {
		return &ExitError{Code: 2, Err: fmt.Errorf("--plan cannot be combined with more than one package target")}
	}

	for _, pkg := range pkgs {
		plan, err := pl.Plan(pkg, entryTaskName)
		if err != nil {
			return &ExitError{Code: 2, Err: err}
		}

		if opts.DryRun {
			printPlan(stdout, pkg, plan)
		}

		if opts.PlanFile != "" {
			if err := writePlanFile(plan, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func writePlanFile(plan *planner.Plan, opts Options) error {
	f, err := os.Create(opts.PlanFile)
	if err != nil {
		return err
	}
	defer f.Close()

	meta := planfmt.Meta{CreatedAt: uint64(time.Now().Unix()), Compiler: "run-z/" + Version}
	if _, err := planfmt.Write(f, plan, entryTaskName, meta); err != nil {
		return err
	}
	return nil
}

// printPlan renders plan's Calls in planning order, indicating each
// Call's action kind and, where it has one, its parallel partners.
func printPlan(w io.Writer, pkg *pkgmodel.Package, plan *planner.Plan) {
	fmt.Fprintf(w, "package %s\n", pkg.Location.Path())
	for _, id := range plan.Order {
		call := plan.Calls[id]
		fmt.Fprintf(w, "  %s %s (%s)", id, call.Task.Name, call.Task.Spec.Action.Kind)
		if partners := plan.Parallel[id]; len(partners) > 0 {
			fmt.Fprintf(w, " [parallel with %d other call(s)]", len(partners))
		}
		fmt.Fprintln(w)
	}
}

// runFromPlan executes a previously serialized plan file directly, per
// SPEC_FULL.md's "--plan FILE / plan replay" addition (mirrors the
// teacher's own runFromPlan contract-verification mode). Packages
// referenced by the recorded plan are reloaded from disk at their
// recorded paths only to locate them; each Call runs the command text
// recorded in the plan, not the script in the package's current
// manifest.
func runFromPlan(ctx context.Context, opts Options, stdout io.Writer) error {
	f, err := os.Open(opts.PlanFile)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer f.Close()

	doc, err := planfmt.Read(f)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	loaded := make(map[string]*pkgmodel.Package)
	plan, err := planfmt.FromDoc(doc.Plan, func(path string) (*pkgmodel.Package, error) {
		if pkg, ok := loaded[path]; ok {
			return pkg, nil
		}
		loc := discovery.LocationAt(path)
		manifest, err := discovery.Load(loc)
		if err != nil {
			return nil, err
		}
		pkg, err := pkgmodel.New(loc, manifest, nil)
		if err != nil {
			return nil, err
		}
		loaded[path] = pkg
		return pkg, nil
	})
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	if opts.DryRun {
		for path, pkg := range loaded {
			_ = path
			printPlan(stdout, pkg, plan)
		}
		return nil
	}

	if err := executor.New(plan).Run(ctx); err != nil {
		return &ExitError{Code: ExitCode(err), Err: err}
	}
	return nil
}

// runWatched re-plans and re-executes pkgs' entry task every time a
// manifest changes under root, until ctx is cancelled, per spec.md §6's
// --watch addition.
func runWatched(ctx context.Context, root string, pkgs []*pkgmodel.Package, opts Options, stdout, stderr io.Writer) error {
	w, err := discovery.NewWatcher(root)
	if err != nil {
		return err
	}
	defer w.Close()

	for {
		watchOpts := opts
		watchOpts.Watch = false
		if err := runPass(ctx, pkgs, watchOpts, stdout, stderr); err != nil {
			FormatError(stderr, err, ShouldUseColor(opts.NoColor))
		}

		fmt.Fprintln(stderr, "run-z: watching for manifest changes...")
		if err := w.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		refreshed, _, err := resolveTargets(root, []string{})
		if err != nil {
			FormatError(stderr, err, ShouldUseColor(opts.NoColor))
			continue
		}
		for i, pkg := range refreshed {
			if i < len(pkgs) {
				pkgs[i] = withEntryTask(pkg, pkgs[i].Tasks[entryTaskName].Spec)
			}
		}
	}
}
