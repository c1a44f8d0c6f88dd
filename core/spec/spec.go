// Package spec defines the immutable task specification produced by the
// task grammar parser and builder, and consumed by the package model and
// call planner.
package spec

import "github.com/run-z/runz/core/attrs"

// ActionKind tags the variant held by an Action.
type ActionKind int

const (
	// ActionGroup expands into the prerequisite calls listed in Pre. The
	// zero value: a spec with no explicit action is a Group with no
	// extra targets of its own, spec.md §3.
	ActionGroup ActionKind = iota
	// ActionCommand runs a subprocess.
	ActionCommand
	// ActionScript delegates to the manifest's script runner.
	ActionScript
	// ActionUnknown fails unless the if-present attribute is set.
	ActionUnknown
)

func (k ActionKind) String() string {
	switch k {
	case ActionCommand:
		return "Command"
	case ActionScript:
		return "Script"
	case ActionUnknown:
		return "Unknown"
	default:
		return "Group"
	}
}

// Action is the tagged variant over a task's execution kind. Only the
// fields relevant to Kind are meaningful.
type Action struct {
	Kind ActionKind

	// Command holds the raw shell command line (ActionCommand).
	Command string
	// Parallel marks a Command as runnable concurrently with its
	// siblings at the shell level (distinct from TaskRef.Parallel,
	// which is a planner-level hint between prerequisites).
	Parallel bool

	// Targets holds extra package targets for ActionGroup, beyond the
	// ones already expressed through Pre's PackageSelectors.
	Targets []string
}

// PrerequisiteKind tags the variant held by a Prerequisite.
type PrerequisiteKind int

const (
	// PrereqTask references another task by name.
	PrereqTask PrerequisiteKind = iota
	// PrereqPackage selects a different target package for the
	// prerequisites that follow it in the same Pre sequence.
	PrereqPackage
)

// TaskRef is a Prerequisite that names another task, carrying the
// attributes and arguments to inject into it.
type TaskRef struct {
	Task     string
	Parallel bool
	Attrs    attrs.Attrs
	Args     []string
}

// PackageSelector is a Prerequisite that changes the current target
// package for subsequent TaskRefs in the same Pre sequence. Host is the
// relative path token as written (".", "..", "./pkg", "../pkg").
type PackageSelector struct {
	Host string
}

// Prerequisite is either a TaskRef or a PackageSelector. Exactly one of
// the two fields is meaningful, selected by Kind.
type Prerequisite struct {
	Kind    PrerequisiteKind
	Task    TaskRef
	Package PackageSelector
}

// TaskPrerequisite builds a PrereqTask Prerequisite.
func TaskPrerequisite(ref TaskRef) Prerequisite {
	return Prerequisite{Kind: PrereqTask, Task: ref}
}

// PackagePrerequisite builds a PrereqPackage Prerequisite.
func PackagePrerequisite(sel PackageSelector) Prerequisite {
	return Prerequisite{Kind: PrereqPackage, Package: sel}
}

// TaskSpec is the immutable value produced by the builder: an ordered
// list of prerequisites, the task's own attributes, trailing arguments,
// and its action.
type TaskSpec struct {
	Pre    []Prerequisite
	Attrs  attrs.Attrs
	Args   []string
	Action Action
}

// IsNative reports whether the spec was produced from a command line
// that was not run-z grammar (native shell script), per spec.md §4.1.
func (s TaskSpec) IsNative() bool {
	return s.Action.Kind == ActionScript
}
