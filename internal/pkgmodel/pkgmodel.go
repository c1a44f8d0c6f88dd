// Package pkgmodel implements package identity, alias derivation, and
// the eagerly-built task table described in spec.md §3.
package pkgmodel

import (
	"fmt"
	"strings"

	"github.com/run-z/runz/core/attrs"
	"github.com/run-z/runz/core/invariant"
	"github.com/run-z/runz/core/spec"
	"github.com/run-z/runz/internal/builder"
)

// Location is the abstract directory handle a package is identified
// by. The filesystem walker (internal/discovery) is the only producer
// of Locations; pkgmodel never touches the filesystem itself.
type Location interface {
	Path() string
	BaseName() string
}

// Manifest is the external package manifest, spec.md §6: a name and a
// scriptName → commandLine mapping. Unknown extra fields are the
// loader's concern, not this package's.
type Manifest struct {
	Name    string
	Scripts map[string]string
}

// Package is a located, manifest-backed script host. Its task table is
// built eagerly at construction by parsing every script.
type Package struct {
	Location Location
	Manifest Manifest

	// Aliases lists this package's names, full manifest name first.
	Aliases []string
	// ScopeName is the "@scope" portion of a "@scope/name" manifest
	// name, empty otherwise.
	ScopeName string
	// SubPackageName is set when Manifest.Name (after scope removal)
	// contains a further "/", naming this package's position under its
	// HostPackage.
	SubPackageName string
	// HostPackage is this package's nearest explicitly-named ancestor
	// in the directory tree, or nil if it has none or is itself the host.
	// Supplied by the caller (internal/discovery walks the tree); this
	// package never resolves it on its own.
	HostPackage *Package

	Tasks map[string]*Task
}

// Task is (target package, name, immutable spec), spec.md §3.
type Task struct {
	Target *Package
	Name   string
	Spec   spec.TaskSpec
}

// New builds a Package from a location and manifest, parsing every
// script into a Task. hostPackage is the caller-resolved nearest named
// ancestor (nil if this package has none or is itself the host).
func New(loc Location, manifest Manifest, hostPackage *Package) (*Package, error) {
	invariant.NotNil(loc, "location")

	pkg := &Package{
		Location:    loc,
		Manifest:    manifest,
		HostPackage: hostPackage,
		Tasks:       make(map[string]*Task, len(manifest.Scripts)),
	}
	pkg.Aliases, pkg.ScopeName, pkg.SubPackageName = deriveAliases(manifest.Name)

	for name, line := range manifest.Scripts {
		b := builder.New()
		if err := b.Parse(line); err != nil {
			return nil, fmt.Errorf("package %s: script %q: %w", loc.Path(), name, err)
		}
		pkg.Tasks[name] = &Task{Target: pkg, Name: name, Spec: b.Spec()}
	}

	invariant.Postcondition(len(pkg.Tasks) == len(manifest.Scripts), "every script must produce exactly one task")
	return pkg, nil
}

// deriveAliases applies spec.md §3's alias rule: the full manifest
// name first; if it begins with "@" and contains "/", the unscoped
// remainder after the first "/" is also an alias; if that remainder
// itself contains a "/", everything after ITS first "/" is the
// subPackageName, also listed as an alias.
func deriveAliases(name string) (aliases []string, scopeName, subPackageName string) {
	if name == "" {
		return nil, "", ""
	}
	aliases = append(aliases, name)

	unscoped := name
	if strings.HasPrefix(name, "@") {
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			scopeName = name[:idx]
			unscoped = name[idx+1:]
			aliases = append(aliases, unscoped)
		}
	}

	if idx := strings.IndexByte(unscoped, '/'); idx >= 0 {
		subPackageName = unscoped[idx+1:]
		aliases = append(aliases, subPackageName)
	}

	return aliases, scopeName, subPackageName
}

// UnknownTask materializes a placeholder Task for a name absent from
// target's table, carrying ifPresent so the executor can decide
// whether its absence is fatal, per spec.md §4.4.
func UnknownTask(target *Package, name string, ifPresent bool) *Task {
	a := attrs.New()
	if ifPresent {
		a.Add("if-present", "")
	}
	s := spec.TaskSpec{Action: spec.Action{Kind: spec.ActionUnknown}, Attrs: a}
	return &Task{Target: target, Name: name, Spec: s}
}
