// Command krillctl is the operator-facing CLI for krill: it never manages
// services itself, only talks to a running krilld over its unix socket.
// Grounded in the teacher's cmd/root.go cobra composition (package-level
// rootCmd, persistent flags registered in init(), PersistentPreRunE for
// cross-cutting setup, Execute() exiting 1 on error) narrowed to krill's own
// flag set and exit-code contract (spec.md §6: 0 success, 2 recipe
// invalid, 3 daemon unreachable, 1 otherwise).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

// Exit codes, spec.md §6.
const (
	exitOK               = 0
	exitRecipeInvalid    = 2
	exitDaemonUnreachable = 3
	exitOther            = 1
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "krillctl",
	Short: "krillctl controls a running krill daemon",
	Long: `krillctl is the command-line client for krill, a process supervisor.

It never starts or manages processes directly — every subcommand except
"up" dials a running krilld's unix socket and exchanges newline-delimited
JSON requests. Start the daemon first with:

  krillctl up my-recipe.yaml`,
}

// Execute runs the root command. Called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "krillctl: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.DefaultSocketPath, "path to the krilld unix socket")
}

// exitCodeFor maps a command error to spec.md §6's exit-code contract.
// Subcommands wrap daemon-unreachable errors in *daemonUnreachableError and
// recipe-validation errors in *recipeInvalidError; anything else is a
// generic failure.
func exitCodeFor(err error) int {
	switch e := err.(type) {
	case *daemonUnreachableError:
		return exitDaemonUnreachable
	case *recipeInvalidError:
		return exitRecipeInvalid
	case *childExitError:
		return e.code
	default:
		return exitOther
	}
}

type daemonUnreachableError struct{ err error }

func (e *daemonUnreachableError) Error() string { return e.err.Error() }
func (e *daemonUnreachableError) Unwrap() error { return e.err }

type recipeInvalidError struct{ err error }

func (e *recipeInvalidError) Error() string { return e.err.Error() }
func (e *recipeInvalidError) Unwrap() error { return e.err }

// dialDaemon connects to the daemon's socket, wrapping a failure so
// exitCodeFor reports it as spec.md §6's exit code 3.
func dialDaemon() (*ipc.Client, error) {
	c, err := ipc.Dial(socketPath)
	if err != nil {
		return nil, &daemonUnreachableError{err: err}
	}
	return c, nil
}
