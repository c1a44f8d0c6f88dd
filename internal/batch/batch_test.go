package batch

import (
	"context"
	"testing"

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

func TestRunSucceedsAcrossAllPackages(t *testing.T) {
	pkgs := []*pkgmodel.Package{
		mustPackage(t, t.TempDir(), map[string]string{"build": "true"}),
		mustPackage(t, t.TempDir(), map[string]string{"build": "true"}),
	}

	results, err := Run(context.Background(), planner.New(nil), pkgs, "build")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestRunAggregatesFailures(t *testing.T) {
	pkgs := []*pkgmodel.Package{
		mustPackage(t, t.TempDir(), map[string]string{"build": "true"}),
		mustPackage(t, t.TempDir(), map[string]string{"build": "false"}),
	}

	results, err := Run(context.Background(), planner.New(nil), pkgs, "build")
	require.Error(t, err)
	require.Len(t, results, 2)

	var batchErr *Error
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Failures, 1)
}
