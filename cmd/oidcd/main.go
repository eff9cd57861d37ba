// Command oidcd is the OIDC credential agent daemon. It holds account
// configs and token material in memory, hands out access tokens to local
// applications over a unix socket, and never writes a token to disk.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Environment variable names the agent advertises. A shell eval's the
// printed export lines; --kill reads them back.
const (
	sockEnvName = "OIDC_SOCK"
	pidEnvName  = "OIDCD_PID"
)

func main() {
	var (
		killFlag    bool
		debugFlag   bool
		consoleFlag bool
	)

	root := &cobra.Command{
		Use:   "oidcd",
		Short: "agent that manages OIDC access tokens for local applications",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{fmt.Errorf("unexpected argument %q", args[0])}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if killFlag {
				return killAgent()
			}
			if consoleFlag {
				return runAgent(debugFlag)
			}
			return daemonize(debugFlag)
		},
	}
	root.Flags().BoolVarP(&killFlag, "kill", "k", false,
		"kill the current agent (given by the "+pidEnvName+" environment variable)")
	root.Flags().BoolVarP(&debugFlag, "debug", "g", false,
		"sets the log level to DEBUG")
	root.Flags().BoolVarP(&consoleFlag, "console", "c", false,
		"runs oidcd on the console, without daemonizing")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "oidcd:", err)
		if isUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks bad command line arguments (exit code 2).
type usageError struct{ error }

func isUsageError(err error) bool {
	var ue usageError
	return errors.As(err, &ue)
}
