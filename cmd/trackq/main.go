// Command trackq queues tracking events locally and delivers them to the
// collection API.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/trackq/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
