// Command gpaxos reads a topology config,
// runs it to its configured lifetime, logs per-role learning, and sets
// its exit code per whether a protocol violation was observed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "gpaxos",
		Short: "Run a generalized-Paxos topology (Classic or Fast variant)",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newFuzzCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
