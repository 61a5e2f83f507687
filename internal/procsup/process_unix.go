//go:build unix

package procsup

import (
	"fmt"
	"os/exec"
	"syscall"
)

const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

// applyProcessGroup marks cmd to start in its own new process group (spec.md
// §4.6: "the child and every descendant it forks share one process group,
// equal to the child's PID"). Grounded in other_examples' edirooss-zmux-server
// newProcess, which sets the identical SysProcAttr before Start.
func applyProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processGroupID reads back the process group of pid. Immediately after
// Setpgid-starting a child, its PGID equals its PID, but we ask the kernel
// rather than assume it, since a racing setpgid from the child itself (rare,
// but some launchers re-exec through a shell) could have changed it.
func processGroupID(pid int) (int, error) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0, fmt.Errorf("getpgid(%d): %w", pid, err)
	}
	return pgid, nil
}

// signalProcessGroup signals every process in pgid by sending to -pgid, the
// POSIX convention for "this process group" (spec.md §4.6 steps 2 and 4).
func signalProcessGroup(pgid int, sig syscall.Signal) error {
	return syscall.Kill(-pgid, sig)
}

type waitStatus struct {
	signaled bool
	signal   string
	code     int
}

func exitStatus(exitErr *exec.ExitError) (waitStatus, bool) {
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return waitStatus{}, false
	}
	if status.Signaled() {
		return waitStatus{signaled: true, signal: status.Signal().String()}, true
	}
	return waitStatus{code: status.ExitStatus()}, true
}
