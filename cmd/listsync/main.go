// Command listsync runs the collaborative shopping-list server and its
// operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/listsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	// Commands report their own errors; main only maps them to exit codes.
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
