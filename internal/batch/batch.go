// Package batch implements spec.md §4.5's Batcher: fanning a single
// entry task invocation out across multiple target packages, running
// each as its own independent plan+execute, and aggregating failures.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/run-z/runz/internal/executor"
	"github.com/run-z/runz/internal/pkgmodel"
	"github.com/run-z/runz/internal/planner"
)

// Result is one package's outcome within a batch run.
type Result struct {
	Package *pkgmodel.Package
	Plan    *planner.Plan
	Err     error
}

// Error aggregates every failing Result in a batch, per spec.md §4.5
// "the entry fails if any sub-entry fails".
type Error struct {
	Failures []Result
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s: %v", f.Package.Location.Path(), f.Err)
	}
	return fmt.Sprintf("%d of the batch's packages failed:\n%s", len(e.Failures), strings.Join(msgs, "\n"))
}

// Run plans and executes taskName against every package in pkgs
// concurrently, via pl, returning one Result per package and an
// aggregated *Error if any package failed. A single-package batch (the
// default, spec.md §4.5) is just the len(pkgs)==1 case of this same
// path.
func Run(ctx context.Context, pl *planner.Planner, pkgs []*pkgmodel.Package, taskName string) ([]Result, error) {
	results := make([]Result, len(pkgs))

	var wg sync.WaitGroup
	for i, pkg := range pkgs {
		wg.Add(1)
		go func(i int, pkg *pkgmodel.Package) {
			defer wg.Done()
			results[i] = runOne(ctx, pl, pkg, taskName)
		}(i, pkg)
	}
	wg.Wait()

	var failures []Result
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		return results, &Error{Failures: failures}
	}
	return results, nil
}

func runOne(ctx context.Context, pl *planner.Planner, pkg *pkgmodel.Package, taskName string) Result {
	plan, err := pl.Plan(pkg, taskName)
	if err != nil {
		return Result{Package: pkg, Err: err}
	}

	ex := executor.New(plan)
	if err := ex.Run(ctx); err != nil {
		return Result{Package: pkg, Plan: plan, Err: err}
	}
	return Result{Package: pkg, Plan: plan}
}
