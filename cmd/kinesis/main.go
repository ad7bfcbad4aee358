// Command kinesis is the binary entry point: parse flags and config, then
// dispatch to the start/version subcommands in cmd.
package main

import (
	"fmt"
	"os"

	"github.com/EdgeKing810/kinesis-db/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
