package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/run-z/runz/internal/pkgmodel"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocateFindsJSONAndYAMLManifests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name": "root"}`)
	writeFile(t, filepath.Join(root, "pkgs/a/package.json"), `{"name": "a"}`)
	writeFile(t, filepath.Join(root, "pkgs/b/package.yaml"), "name: b\n")
	writeFile(t, filepath.Join(root, "node_modules/ignored/package.json"), `{"name": "ignored"}`)

	locs, err := Locate(root)
	require.NoError(t, err)

	var names []string
	for _, loc := range locs {
		manifest, err := Load(loc)
		require.NoError(t, err)
		names = append(names, manifest.Name)
	}
	assert.ElementsMatch(t, []string{"root", "a", "b"}, names)
}

func TestLoadJSONScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{
		"name": "demo",
		"scripts": {"build": "echo build", "test": "run-z build"}
	}`)

	manifest, err := Load(Location{dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "demo", manifest.Name)
	assert.Equal(t, "echo build", manifest.Scripts["build"])
	assert.Equal(t, "run-z build", manifest.Scripts["test"])
}

func TestLoadYAMLScripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.yaml"), "name: demo\nscripts:\n  build: echo build\n  test: run-z build\n")

	manifest, err := Load(Location{dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "demo", manifest.Name)
	assert.Equal(t, "echo build", manifest.Scripts["build"])
}

func TestLoadRejectsInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), `{"name": 42}`)

	_, err := Load(Location{dir: dir})
	assert.Error(t, err)
}

func TestLoadEmptyOnMissingManifest(t *testing.T) {
	dir := t.TempDir()

	manifest, err := Load(Location{dir: dir})
	require.NoError(t, err)
	assert.Equal(t, "", manifest.Name)
	assert.Empty(t, manifest.Scripts)
}

func TestResolvePackageDotAndDotDot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "package.json"), `{"name": "root", "scripts": {"build": "echo building"}}`)
	writeFile(t, filepath.Join(root, "sub/package.json"), `{"name": "sub"}`)

	subLoc := Location{dir: filepath.Join(root, "sub")}
	subManifest, err := Load(subLoc)
	require.NoError(t, err)
	subPkg, err := pkgmodel.New(subLoc, subManifest, nil)
	require.NoError(t, err)

	r := NewResolver()
	parent, err := r.ResolvePackage(subPkg, "..")
	require.NoError(t, err)
	assert.Equal(t, "root", parent.Manifest.Name)

	same, err := r.ResolvePackage(subPkg, ".")
	require.NoError(t, err)
	assert.Equal(t, "sub", same.Manifest.Name)
}
