package grammar

import "fmt"

// InvalidTaskError is raised by Parse on any grammar violation. It
// always carries the reconstructed command line (the tokens after
// run-z, rejoined with single spaces) and a byte position pointing at
// the offending token's start, per spec.md §4.1.
type InvalidTaskError struct {
	Message     string
	CommandLine string
	Position    int
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("%s (at %d in %q)", e.Message, e.Position, e.CommandLine)
}

const errTaskArgWithoutTask = "Task argument specified, but not the task"
