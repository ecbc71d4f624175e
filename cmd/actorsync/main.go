// Command actorsync invokes mutations on remote actors and watches their
// state converge.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/actorsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
