package cli

import (
	"strings"

	"github.com/run-z/runz/internal/discovery"
	"github.com/run-z/runz/internal/pkgmodel"
)

// isPackageSelector reports whether tok is one of the path-relative
// package selector forms planner.PackageResolver understands, per
// spec.md §4.1/§6.
func isPackageSelector(tok string) bool {
	return tok == "." || tok == ".." || strings.HasPrefix(tok, "./") || strings.HasPrefix(tok, "../")
}

// resolveTargets splits args into leading PACKAGES tokens (spec.md §6's
// `run-z [PACKAGES...] TASK ...`) and the remaining task-grammar tail,
// greedily consuming tokens that are either a path-relative package
// selector or a known alias of a package discovered under root. The
// first token that is neither stops the scan and starts the task line;
// an empty PACKAGES list defaults to the package at root itself. This
// greedy rule means a task named identically to a sibling package's
// alias can't be targeted as the very first token without a leading
// "."; recorded as an Open Question decision in DESIGN.md.
func resolveTargets(root string, args []string) ([]*pkgmodel.Package, []string, error) {
	locs, err := discovery.Locate(root)
	if err != nil {
		return nil, nil, err
	}

	byAlias := make(map[string]*pkgmodel.Package)
	for _, loc := range locs {
		manifest, err := discovery.Load(loc)
		if err != nil {
			return nil, nil, err
		}
		pkg, err := pkgmodel.New(loc, manifest, nil)
		if err != nil {
			return nil, nil, err
		}
		for _, alias := range pkg.Aliases {
			byAlias[alias] = pkg
		}
	}

	rootLoc := discovery.LocationAt(root)
	rootManifest, err := discovery.Load(rootLoc)
	if err != nil {
		return nil, nil, err
	}
	rootPkg, err := pkgmodel.New(rootLoc, rootManifest, nil)
	if err != nil {
		return nil, nil, err
	}

	resolver := discovery.NewResolver()

	var targets []*pkgmodel.Package
	i := 0
	for i < len(args) {
		tok := args[i]
		if isPackageSelector(tok) {
			pkg, err := resolver.ResolvePackage(rootPkg, tok)
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, pkg)
			i++
			continue
		}
		if pkg, ok := byAlias[tok]; ok {
			targets = append(targets, pkg)
			i++
			continue
		}
		break
	}

	if len(targets) == 0 {
		targets = []*pkgmodel.Package{rootPkg}
	}

	return targets, args[i:], nil
}
