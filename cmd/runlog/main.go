// Command runlog queries the backtest event store through its tool surface.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/runlog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "runlog: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
