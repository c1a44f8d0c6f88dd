package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/run-z/runz/internal/pkgmodel"
	"github.com/run-z/runz/internal/planner"
)

type fakeLocation struct{ path string }

func (f fakeLocation) Path() string     { return f.path }
func (f fakeLocation) BaseName() string { return f.path }

func mustPackage(t *testing.T, path string, scripts map[string]string) *pkgmodel.Package {
	t.Helper()
	pkg, err := pkgmodel.New(fakeLocation{path: path}, pkgmodel.Manifest{Name: path, Scripts: scripts}, nil)
	require.NoError(t, err)
	return pkg
}

func TestRunSucceedsOnAllPassingCommands(t *testing.T) {
	dir := t.TempDir()
	pkg := mustPackage(t, dir, map[string]string{
		"build": "true",
		"test":  "run-z build --then true",
	})

	pl := planner.New(nil)
	plan, err := pl.Plan(pkg, "test")
	require.NoError(t, err)

	ex := New(plan)
	err = ex.Run(context.Background())
	require.NoError(t, err)

	for _, job := range ex.Jobs() {
		assert.Equal(t, DoneOK, job.State)
	}
}

func TestRunFailsOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	pkg := mustPackage(t, dir, map[string]string{
		"build": "false",
	})

	pl := planner.New(nil)
	plan, err := pl.Plan(pkg, "build")
	require.NoError(t, err)

	ex := New(plan)
	err = ex.Run(context.Background())
	require.Error(t, err)

	var failed *JobFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.ExitCode)
}

func TestRunCancelsDependentsOnFailure(t *testing.T) {
	dir := t.TempDir()
	marker := dir + "/should-not-exist"
	pkg := mustPackage(t, dir, map[string]string{
		"bad":  "false",
		"next": "run-z bad --then touch " + marker,
	})

	pl := planner.New(nil)
	plan, err := pl.Plan(pkg, "next")
	require.NoError(t, err)

	ex := New(plan)
	err = ex.Run(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "a task gated on a failed prerequisite must never run")
}

func TestRunOrdersSerialPrerequisitesByDefault(t *testing.T) {
	dir := t.TempDir()
	traceFile := dir + "/trace"
	pkg := mustPackage(t, dir, map[string]string{
		"first":  "echo first >> " + traceFile,
		"second": "echo second >> " + traceFile,
		"all":    "run-z first second",
	})

	pl := planner.New(nil)
	plan, err := pl.Plan(pkg, "all")
	require.NoError(t, err)

	ex := New(plan)
	require.NoError(t, ex.Run(context.Background()))

	data, err := os.ReadFile(traceFile)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestRunAllowsParallelSiblingsToOverlap(t *testing.T) {
	dir := t.TempDir()
	pkg := mustPackage(t, dir, map[string]string{
		"slow": "sleep 0.2",
		"fast": "sleep 0.05",
		"all":  "run-z slow, fast",
	})

	pl := planner.New(nil)
	plan, err := pl.Plan(pkg, "all")
	require.NoError(t, err)

	ex := New(plan)
	start := time.Now()
	require.NoError(t, ex.Run(context.Background()))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 250*time.Millisecond, "parallel siblings must overlap rather than run strictly serially")
}
