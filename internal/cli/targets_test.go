package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, json string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(json), 0o644))
}

func TestResolveTargetsDefaultsToRoot(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"name": "root-pkg", "scripts": {"build": "echo hi"}}`)

	targets, rest, err := resolveTargets(root, []string{"build"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "root-pkg", targets[0].Manifest.Name)
	assert.Equal(t, []string{"build"}, rest)
}

func TestResolveTargetsConsumesAliasTokens(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"name": "root-pkg", "scripts": {}}`)
	sub := filepath.Join(root, "sub")
	writeManifest(t, sub, `{"name": "sub-pkg", "scripts": {"build": "echo sub"}}`)

	targets, rest, err := resolveTargets(root, []string{"sub-pkg", "build"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "sub-pkg", targets[0].Manifest.Name)
	assert.Equal(t, []string{"build"}, rest)
}

func TestResolveTargetsConsumesPathSelector(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"name": "root-pkg", "scripts": {}}`)
	sub := filepath.Join(root, "sub")
	writeManifest(t, sub, `{"name": "sub-pkg", "scripts": {"build": "echo sub"}}`)

	targets, rest, err := resolveTargets(root, []string{"./sub", "build"})
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "sub-pkg", targets[0].Manifest.Name)
	assert.Equal(t, []string{"build"}, rest)
}

func TestIsPackageSelector(t *testing.T) {
	assert.True(t, isPackageSelector("."))
	assert.True(t, isPackageSelector(".."))
	assert.True(t, isPackageSelector("./sub"))
	assert.True(t, isPackageSelector("../sub"))
	assert.False(t, isPackageSelector("build"))
}
