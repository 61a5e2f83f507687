// Package procsup implements spec.md §4.6: spawning each service in its own
// process group, tracking PID/PGID, capturing stdout/stderr, and driving
// termination with the SIGTERM → grace → SIGKILL ladder. Grounded in
// cmd/orchestrator/process_manager.go's pipe/monitor pattern, with the
// process-group isolation of other_examples' edirooss-zmux-server
// (Setpgid/Pdeathsig) in place of the teacher's bare os/exec.Cmd.
package procsup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zero-Robotics/krill/internal/session"
)

// Record is spec.md §3's "Process record": created when a child is spawned,
// destroyed on reap.
type Record struct {
	Name      string // "{workspace}.{service}.{uuid6}" (spec.md §6)
	PID       int
	PGID      int
	StartTime time.Time
}

// ExitEvent is delivered to the owning Service Runner when a child exits,
// by value over a channel — procsup never holds a reference back to the
// runner or orchestrator (design note §9: "Supervisor fan-out without
// references").
type ExitEvent struct {
	ExitCode int
	Signal   string // non-empty if terminated by signal instead of exiting
	Err      error  // non-nil only for wait-machinery failures, not nonzero exit
}

// Handle is a live, owned reference to one spawned child.
type Handle struct {
	Record Record

	cmd  *exec.Cmd
	ring *session.Ring

	exitCh chan ExitEvent
	done   chan struct{} // closed once the child has been reaped
}

// Exit returns the channel that receives exactly one ExitEvent when the
// child terminates.
func (h *Handle) Exit() <-chan ExitEvent { return h.exitCh }

// Supervisor spawns and terminates processes for one workspace.
type Supervisor struct {
	workspace string
	session   *session.Session

	mu      sync.Mutex
	logFile map[string]*os.File
}

// New creates a Supervisor that writes per-service logs into sess and names
// processes under workspace.
func New(workspace string, sess *session.Session) *Supervisor {
	return &Supervisor{
		workspace: workspace,
		session:   sess,
		logFile:   make(map[string]*os.File),
	}
}

// Spawn resolves and execs plan's program, placing the child in its own
// process group (spec.md §4.6 step 2: "PGID equals its PID"), and begins
// capturing its stdout/stderr to the session's per-service log file and to
// ring.
func (s *Supervisor) Spawn(serviceName string, program string, args []string, cwd string, env []string, ring *session.Ring) (*Handle, error) {
	label := fmt.Sprintf("%s.%s.%s", s.workspace, serviceName, uuid.New().String()[:6])

	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	cmd.Env = mergeWithOSEnviron(env)
	applyProcessGroup(cmd)

	logF, err := s.openServiceLog(serviceName)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe for %s: %w", serviceName, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe for %s: %w", serviceName, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", serviceName, err)
	}

	pgid, err := processGroupID(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid // best-effort fallback; spec.md invariant assumes Setpgid succeeded
	}

	h := &Handle{
		Record: Record{
			Name:      label,
			PID:       cmd.Process.Pid,
			PGID:      pgid,
			StartTime: time.Now(),
		},
		cmd:    cmd,
		ring:   ring,
		exitCh: make(chan ExitEvent, 1),
		done:   make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.captureStream(serviceName, "stdout", stdout, logF, ring) }()
	go func() { defer wg.Done(); s.captureStream(serviceName, "stderr", stderr, logF, ring) }()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		h.exitCh <- exitEventFromWaitError(err)
		close(h.done)
	}()

	return h, nil
}

func (s *Supervisor) openServiceLog(serviceName string) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.logFile[serviceName]; ok {
		return f, nil
	}

	path := s.session.ServiceLogPath(serviceName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file for %s: %w", serviceName, err)
	}
	s.logFile[serviceName] = f
	return f, nil
}

// captureStream reads lines from reader and writes each one directly to the
// log file and then to the ring buffer (spec.md §4.6 step 3). There is no
// channel between the reader and the writers: a slow log-file write holds up
// this loop. Ring.Push never blocks; once the ring is full it overwrites the
// oldest line, and the IPC log tailer reports overwritten lines to its
// subscriber with a "lines dropped" marker, so a slow IPC tailer never
// blocks this loop.
func (s *Supervisor) captureStream(serviceName, stream string, reader io.Reader, logFile *os.File, ring *session.Ring) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		now := time.Now()
		fmt.Fprintf(logFile, "[%s] [%s] %s\n", now.Format(time.RFC3339Nano), stream, line)
		if ring != nil {
			ring.Push(session.LogLine{Timestamp: now.UnixNano(), Stream: stream, Text: line})
		}
	}
}

func exitEventFromWaitError(err error) ExitEvent {
	if err == nil {
		return ExitEvent{ExitCode: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if status, ok := exitStatus(exitErr); ok {
			if status.signaled {
				return ExitEvent{Signal: status.signal}
			}
			return ExitEvent{ExitCode: status.code}
		}
		return ExitEvent{ExitCode: exitErr.ExitCode()}
	}
	return ExitEvent{Err: err}
}

// Stop drives the termination ladder of spec.md §4.6:
//  1. run the stop plan to completion, bounded by stopTimeout/2, if one exists
//  2. SIGTERM the process group
//  3. wait up to stopTimeout for exit
//  4. SIGKILL the process group if still alive
//
// It never signals the bare PID — only the negative PGID — so launchers,
// shells, and their grandchildren are cleaned up in one shot.
func (s *Supervisor) Stop(h *Handle, stopProgram string, stopArgs []string, stopCwd string, stopEnv []string, stopTimeout time.Duration) error {
	if stopProgram != "" {
		s.runStopPlan(stopProgram, stopArgs, stopCwd, stopEnv, stopTimeout/2)
	}

	if err := signalProcessGroup(h.Record.PGID, sigterm); err != nil && !alreadyExited(h) {
		return fmt.Errorf("failed to SIGTERM process group %d: %w", h.Record.PGID, err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(stopTimeout):
	}

	if err := signalProcessGroup(h.Record.PGID, sigkill); err != nil && !alreadyExited(h) {
		return fmt.Errorf("failed to SIGKILL process group %d: %w", h.Record.PGID, err)
	}

	<-h.done
	return nil
}

// Kill skips the graceful stop plan entirely and goes straight to SIGKILL of
// the process group (spec.md §4.7's `kill` command).
func (s *Supervisor) Kill(h *Handle) error {
	if err := signalProcessGroup(h.Record.PGID, sigkill); err != nil && !alreadyExited(h) {
		return fmt.Errorf("failed to SIGKILL process group %d: %w", h.Record.PGID, err)
	}
	<-h.done
	return nil
}

func alreadyExited(h *Handle) bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (s *Supervisor) runStopPlan(program string, args []string, cwd string, env []string, bound time.Duration) {
	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	cmd.Env = mergeWithOSEnviron(env)

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(bound):
		_ = cmd.Process.Kill()
		<-done
	}
}

// mergeWithOSEnviron overlays plan-level NAME=VALUE pairs onto the current
// process's environment, deduplicating by key (last write wins) so the
// child never observes two conflicting values for the same variable.
func mergeWithOSEnviron(planEnv []string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := splitEnv(kv); ok {
			merged[k] = v
		}
	}
	for _, kv := range planEnv {
		if k, v, ok := splitEnv(kv); ok {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func splitEnv(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i < 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
