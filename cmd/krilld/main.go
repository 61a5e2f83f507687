// Command krilld is krill's daemon: loads a recipe, builds the dependency
// graph, brings every service up in dependency order, and serves the local
// IPC socket until asked to shut down. Grounded in the teacher's
// cmd/orchestrator/orchestrator.go composition root (construct managers,
// wire them together, run until signaled) and cmd/root.go's --debug/flag
// handling conventions, narrowed to a single long-running daemon process
// instead of a CLI dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zero-Robotics/krill/internal/ipc"
	"github.com/Zero-Robotics/krill/internal/klog"
	"github.com/Zero-Robotics/krill/internal/orchestrator"
	"github.com/Zero-Robotics/krill/internal/recipe"
	"github.com/Zero-Robotics/krill/internal/session"
)

func main() {
	recipePath := flag.String("recipe", "", "path to the recipe YAML file (required)")
	socketPath := flag.String("socket", ipc.DefaultSocketPath, "unix socket path to bind")
	logDir := flag.String("log-dir", "", "session log directory (default: the recipe's log_dir, else "+session.DefaultLogDir+")")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *recipePath == "" {
		fmt.Fprintln(os.Stderr, "krilld: -recipe is required")
		os.Exit(exitRecipeInvalid)
	}

	if err := run(*recipePath, *socketPath, *logDir, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "krilld: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// Exit codes, spec.md §6: 0 success, 2 recipe invalid, 3 daemon
// unreachable (here: socket bind failed), 1 otherwise.
const (
	exitRecipeInvalid = 2
	exitBindFailed    = 3
	exitOther         = 1
)

type recipeInvalidError struct{ err error }

func (e *recipeInvalidError) Error() string { return e.err.Error() }
func (e *recipeInvalidError) Unwrap() error { return e.err }

type bindFailedError struct{ err error }

func (e *bindFailedError) Error() string { return e.err.Error() }
func (e *bindFailedError) Unwrap() error { return e.err }

// exitCodeFor maps a run() error to the exit-code contract above, mirroring
// cmd/krillctl/root.go's own exitCodeFor.
func exitCodeFor(err error) int {
	switch err.(type) {
	case *recipeInvalidError:
		return exitRecipeInvalid
	case *bindFailedError:
		return exitBindFailed
	default:
		return exitOther
	}
}

func run(recipePath, socketPath, logDir string, debug bool) error {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return &recipeInvalidError{err: fmt.Errorf("recipe %s: %w", recipePath, err)}
	}

	if logDir == "" {
		logDir = rec.LogDir
	}
	sess, err := session.New(logDir)
	if err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	defer sess.Close()

	if err := klog.Init(sess.KrillLogPath(), debug); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer klog.Close()

	klog.Info("loaded recipe %q (%d services) into session %s", rec.Name, len(rec.Services), sess.Dir())

	watcher, err := recipe.NewWatcher(recipePath)
	if err != nil {
		klog.Warn("recipe file watcher disabled: %s", err)
	} else {
		defer watcher.Close()
		go func() {
			for path := range watcher.Changes {
				klog.Warn("recipe file %s changed on disk; krilld does not hot-reload, restart to apply", path)
			}
		}()
	}

	orch, err := orchestrator.New(rec, sess)
	if err != nil {
		return fmt.Errorf("failed to construct orchestrator: %w", err)
	}
	defer orch.Close()

	srv, err := ipc.NewServer(socketPath, orch)
	if err != nil {
		return &bindFailedError{err: err}
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		klog.Info("received %s, shutting down gracefully", sig)
		orch.Down(context.Background())
		cancel()
	}()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	klog.Info("starting services for recipe %q", rec.Name)
	orch.Up(ctx)
	klog.Info("startup sequence complete, ipc socket listening at %s", srv.Addr())

	err = <-serveErrCh
	return err
}
