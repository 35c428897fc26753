// Command ralph drives the ralph-loop supervisor: it repeatedly invokes a
// coding agent against a fixed prompt, watching its output for a completion
// promise, until the agent signals it is done, the iteration budget runs
// out, or the process is interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "Run a coding agent in a supervised loop until it finishes a task",
	Long: `ralph spawns a fresh agent subprocess every iteration, feeds it the
same fixed prompt, and watches its stdout/stderr for a completion promise
string. Each iteration is killed if it runs past a configured context-token
budget; the run ends when the promise is found, the iteration budget is
exhausted, or the process receives SIGINT/SIGTERM.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
