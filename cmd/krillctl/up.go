package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
	"github.com/Zero-Robotics/krill/internal/recipe"
)

// childExitError carries an attached krilld subprocess's own exit code
// verbatim, so `krillctl up recipe.yaml` (without -d) preserves spec.md §6's
// exit-code contract instead of collapsing every krilld failure to 1.
type childExitError struct{ code int }

func (e *childExitError) Error() string { return fmt.Sprintf("krilld exited with code %d", e.code) }

var detach bool

var upCmd = &cobra.Command{
	Use:   "up <recipe.yaml>",
	Short: "Start the krill daemon for a recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUp(args[0], detach)
	},
}

func init() {
	upCmd.Flags().BoolVarP(&detach, "detach", "d", false, "run the daemon in the background and return once it is ready")
	rootCmd.AddCommand(upCmd)
}

// runUp validates the recipe locally (so a bad recipe fails fast with exit
// code 2 instead of waiting on a subprocess round trip), then launches
// krilld either attached to this terminal or, with -d, detached and
// polled until its socket accepts connections.
func runUp(recipePath string, detach bool) error {
	if _, err := recipe.Load(recipePath); err != nil {
		return &recipeInvalidError{err: fmt.Errorf("recipe %s: %w", recipePath, err)}
	}

	krilldPath, err := resolveKrilld()
	if err != nil {
		return err
	}

	absRecipe, err := filepath.Abs(recipePath)
	if err != nil {
		return fmt.Errorf("failed to resolve recipe path: %w", err)
	}

	cmdArgs := []string{"-recipe", absRecipe, "-socket", socketPath}
	child := exec.Command(krilldPath, cmdArgs...)

	if !detach {
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Stdin = os.Stdin
		if err := child.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &childExitError{code: exitErr.ExitCode()}
			}
			return fmt.Errorf("failed to run krilld: %w", err)
		}
		return nil
	}

	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start krilld: %w", err)
	}
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("failed to detach krilld: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := waitForSocket(ctx, socketPath); err != nil {
		return &daemonUnreachableError{err: fmt.Errorf("krilld did not become ready: %w", err)}
	}

	fmt.Printf("krilld started (pid %d), listening on %s\n", child.Process.Pid, socketPath)
	return nil
}

// resolveKrilld finds the krilld binary alongside krillctl, falling back to
// $PATH — mirroring how the teacher's native_services.go locates sibling
// tool binaries instead of assuming a fixed install layout.
func resolveKrilld() (string, error) {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "krilld")
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	if path, lookErr := exec.LookPath("krilld"); lookErr == nil {
		return path, nil
	}
	return "", fmt.Errorf("could not locate krilld binary (looked alongside krillctl and in $PATH)")
}

func waitForSocket(ctx context.Context, path string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c, err := ipc.Dial(path); err == nil {
			c.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
