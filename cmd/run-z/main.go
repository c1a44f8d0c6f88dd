// Command run-z is the entry point of spec.md §6's command-line surface.
package main

import (
	"os"

	"github.com/run-z/runz/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	err := rootCmd.Execute()
	cli.FormatError(os.Stderr, err, cli.ShouldUseColor(false))

	os.Exit(cli.ExitCode(err))
}
