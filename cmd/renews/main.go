// Command renews runs the NNTP server, or, given an "admin" subcommand,
// performs one administrative action against its storage backend and
// exits. See cmd/renews/commands for the command tree.
package main

import (
	"fmt"
	"os"

	"github.com/renews-project/renews/cmd/renews/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
