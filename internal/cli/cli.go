package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// usage documents spec.md §6's command-line surface.
const usage = "run-z [PACKAGES...] TASK [/ARG|//ARG//|,TASK|...]... [--OPT...]"

// Options holds the ambient flags splitOptions extracts from argv before
// the remaining tokens reach the task grammar, per spec.md §6.
type Options struct {
	PlanFile string
	DryRun   bool
	Debug    bool
	NoColor  bool
	Timing   bool
	Watch    bool
}

// ambientFlags are the option tokens splitOptions reserves for itself;
// everything else (including task-grammar options like --then) passes
// through untouched to the builder/grammar stack.
var ambientFlags = map[string]bool{
	"--dry-run":  true,
	"--debug":    true,
	"--no-color": true,
	"--timing":   true,
	"--watch":    true,
}

// splitOptions walks argv pulling out recognized ambient flags (and
// --plan's value) into Options, leaving every other token, in order, in
// the returned slice for the task grammar to parse. It never consults
// cobra's own flag parser: the root command disables flag parsing so
// tokens like "--then" reach here undisturbed.
func splitOptions(argv []string) (Options, []string, error) {
	var opts Options
	var rest []string

	for i := 0; i < len(argv); i++ {
		tok := argv[i]

		if tok == "--plan" {
			if i+1 >= len(argv) {
				return opts, nil, fmt.Errorf("--plan requires a file path")
			}
			opts.PlanFile = argv[i+1]
			i++
			continue
		}

		if ambientFlags[tok] {
			switch tok {
			case "--dry-run":
				opts.DryRun = true
			case "--debug":
				opts.Debug = true
			case "--no-color":
				opts.NoColor = true
			case "--timing":
				opts.Timing = true
			case "--watch":
				opts.Watch = true
			}
			continue
		}

		rest = append(rest, tok)
	}

	return opts, rest, nil
}

// NewRootCommand builds the cobra entry point. Flag parsing is disabled
// so cobra never intercepts a task-grammar option; splitOptions does
// that job by hand before the remaining tokens reach the planner stack.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                usage,
		Short:              "run-z runs tasks declared in package manifests",
		DisableFlagParsing: true,
		SilenceErrors:      true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, rest, err := splitOptions(args)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			configureLogging(opts.Debug)

			ctx, cancel := newCancellableContext(cmd.Context())
			defer cancel()

			return Run(ctx, opts, rest, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	return cmd
}

// newCancellableContext derives a context that cancels on SIGINT or
// SIGTERM, per spec.md §6's "Cancellation semantics".
func newCancellableContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}
