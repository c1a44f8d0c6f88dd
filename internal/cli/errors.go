package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/run-z/runz/internal/executor"
	"github.com/run-z/runz/internal/grammar"
	"github.com/run-z/runz/internal/planner"
	"github.com/run-z/runz/internal/syntax"
)

// ExitError pairs an error with the process exit code it should
// produce. Code wins over the structural classification in ExitCode
// when present, so a caller that already knows the right code (the
// ambient flag layer, a batch aggregate) doesn't need its error to be
// one of the four spec.md §7 kinds.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode classifies err into spec.md §6's exit codes by structurally
// matching the concrete error kinds of §7, the same way the teacher's
// FormatError switches on concrete error types rather than parsing
// messages: 0 success (nil), 2 for a parse/option/unknown-task failure,
// 1 for everything else (subprocess failure, generic errors).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}

	var invalidTask *grammar.InvalidTaskError
	var unknownOption *syntax.UnknownOptionError
	var unknownTask *planner.UnknownTaskError
	if errors.As(err, &invalidTask) || errors.As(err, &unknownOption) || errors.As(err, &unknownTask) {
		return 2
	}

	return 1
}

// FormatError writes err to w, adding the extra context each of
// spec.md §7's error kinds can offer: the reconstructed command line
// and a caret at the offending position for InvalidTaskError, a "did
// you mean" hint for UnknownTaskError (already folded into its own
// Error() string), plain text otherwise.
func FormatError(w io.Writer, err error, useColor bool) {
	if err == nil {
		return
	}

	var invalidTask *grammar.InvalidTaskError
	if errors.As(err, &invalidTask) {
		fmt.Fprintf(w, "%s%s\n", Colorize("Error: ", ColorRed, useColor), invalidTask.Message)
		fmt.Fprintf(w, "  %s\n", invalidTask.CommandLine)
		fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", invalidTask.Position), Colorize("^", ColorYellow, useColor))
		return
	}

	var jobFailed *executor.JobFailed
	if errors.As(err, &jobFailed) {
		fmt.Fprintf(w, "%s%s\n", Colorize("Error: ", ColorRed, useColor), jobFailed.Error())
		return
	}

	fmt.Fprintf(w, "%s%s\n", Colorize("Error: ", ColorRed, useColor), err.Error())
}
