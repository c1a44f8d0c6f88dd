// Package discovery is the reference filesystem/package-discovery
// collaborator of spec.md §6: locating package directories, loading and
// validating their manifests, and resolving the package-selector host
// tokens the planner needs.
package discovery

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/run-z/runz/internal/pkgmodel"
)

// manifestFiles are the recognized manifest filenames within a package
// directory, tried in order.
var manifestFiles = []string{"package.json", "package.yaml", "package.yml"}

// manifestSchema validates the shape of spec.md §6's package manifest:
// {name?: string, scripts?: {[name]: string}}. Compiled once, adapted
// from the teacher's core/types/validation.go compile-a-static-schema
// pattern, stripped of its dynamic-schema caching (our schema never
// changes at runtime).
const manifestSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"scripts": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		}
	}
}`

var manifestSchema = compileManifestSchema()

func compileManifestSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const url = "schema://package-manifest.json"
	if err := compiler.AddResource(url, strings.NewReader(manifestSchemaJSON)); err != nil {
		panic(fmt.Sprintf("discovery: invalid embedded manifest schema: %v", err))
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("discovery: manifest schema failed to compile: %v", err))
	}
	return schema
}

// Location is a filesystem directory holding (or not holding) a package
// manifest. It satisfies pkgmodel.Location.
type Location struct {
	dir string
}

// Path returns the directory's absolute-or-as-given path, comparable as
// a string prefix against other Locations to compute parent/child
// relations, per spec.md §6.
func (l Location) Path() string { return l.dir }

// BaseName returns the directory's final path element.
func (l Location) BaseName() string { return filepath.Base(l.dir) }

// LocationAt builds a Location directly for dir, for callers (the CLI's
// target-resolution step) that already know which directory they mean
// rather than discovering it through Locate.
func LocationAt(dir string) Location {
	return Location{dir: dir}
}

// Locate walks the directory tree rooted at root, yielding one Location
// per directory that carries a recognized manifest file. Directories
// named "node_modules" or starting with "." are skipped, matching the
// teacher's own walker conventions for ignoring vendor/VCS trees.
func Locate(root string) ([]Location, error) {
	var out []Location
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if base != "." && (base == "node_modules" || strings.HasPrefix(base, ".")) {
			return filepath.SkipDir
		}
		if hasManifest(path) {
			out = append(out, Location{dir: path})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", root, err)
	}
	return out, nil
}

func hasManifest(dir string) bool {
	_, _, ok := findManifestFile(dir)
	return ok
}

func findManifestFile(dir string) (path string, isYAML bool, ok bool) {
	for _, name := range manifestFiles {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml"), true
		}
	}
	return "", false, false
}

// Load reads and validates loc's manifest file, returning the decoded
// pkgmodel.Manifest. A Location with no manifest file loads as an empty
// manifest (no name, no scripts) rather than an error, so an
// intermediate directory between two named packages can still host
// sub-packages.
func Load(loc Location) (pkgmodel.Manifest, error) {
	path, isYAML, ok := findManifestFile(loc.dir)
	if !ok {
		return pkgmodel.Manifest{Scripts: map[string]string{}}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return pkgmodel.Manifest{}, fmt.Errorf("load manifest %s: %w", path, err)
	}

	doc, err := decodeToJSONCompatible(raw, isYAML)
	if err != nil {
		return pkgmodel.Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if err := manifestSchema.Validate(doc); err != nil {
		return pkgmodel.Manifest{}, fmt.Errorf("invalid manifest %s: %w", path, err)
	}

	var decoded struct {
		Name    string            `json:"name" yaml:"name"`
		Scripts map[string]string `json:"scripts" yaml:"scripts"`
	}
	if isYAML {
		if err := yaml.Unmarshal(raw, &decoded); err != nil {
			return pkgmodel.Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	} else {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return pkgmodel.Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
		}
	}
	if decoded.Scripts == nil {
		decoded.Scripts = map[string]string{}
	}

	return pkgmodel.Manifest{Name: decoded.Name, Scripts: decoded.Scripts}, nil
}

// decodeToJSONCompatible normalizes either JSON or YAML source into the
// map[string]interface{} shape jsonschema.Schema.Validate expects,
// since YAML unmarshals to map[interface{}]interface{} style nodes that
// the schema validator can't walk directly.
func decodeToJSONCompatible(raw []byte, isYAML bool) (interface{}, error) {
	if !isYAML {
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	var doc interface{}
	if len(node.Content) > 0 {
		asJSON, err := yamlNodeToJSON(node.Content[0])
		if err != nil {
			return nil, err
		}
		doc = asJSON
	} else {
		doc = map[string]interface{}{}
	}
	return doc, nil
}

func yamlNodeToJSON(n *yaml.Node) (interface{}, error) {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return jsonRoundTrip(v)
}

// jsonRoundTrip normalizes map[interface{}]interface{} nodes (as
// produced by a generic yaml.Node.Decode into interface{}) into
// map[string]interface{}, which both encoding/json and jsonschema
// expect.
func jsonRoundTrip(v interface{}) (interface{}, error) {
	b, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = normalizeYAML(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return val
	}
}

// Resolver implements planner.PackageResolver: its ResolvePackage
// resolves a package-selector host token ("." the current package's
// directory, ".." its filesystem parent, "./name" a subdirectory,
// "../name" a sibling directory) relative to current, loading and
// building the target package on demand.
type Resolver struct {
	// Cache avoids re-loading/re-parsing a package visited by more than
	// one selector in the same planning pass.
	cache map[string]*pkgmodel.Package
}

// NewResolver returns a Resolver with an empty package cache.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]*pkgmodel.Package)}
}

func (r *Resolver) ResolvePackage(current *pkgmodel.Package, host string) (*pkgmodel.Package, error) {
	dir := current.Location.Path()
	switch {
	case host == ".":
		// stays in dir
	case host == "..":
		dir = filepath.Dir(dir)
	case strings.HasPrefix(host, "./"):
		dir = filepath.Join(dir, strings.TrimPrefix(host, "./"))
	case strings.HasPrefix(host, "../"):
		dir = filepath.Join(filepath.Dir(dir), strings.TrimPrefix(host, "../"))
	default:
		return nil, fmt.Errorf("discovery: not a package selector: %q", host)
	}
	dir = filepath.Clean(dir)

	if pkg, ok := r.cache[dir]; ok {
		return pkg, nil
	}

	loc := Location{dir: dir}
	manifest, err := Load(loc)
	if err != nil {
		return nil, err
	}

	pkg, err := pkgmodel.New(loc, manifest, nil)
	if err != nil {
		return nil, err
	}
	r.cache[dir] = pkg
	return pkg, nil
}
