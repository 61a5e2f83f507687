//go:build unix

package procsup

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Zero-Robotics/krill/internal/session"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *session.Session) {
	t.Helper()
	sess, err := session.New(t.TempDir())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return New("testws", sess), sess
}

func TestSpawnCapturesStdoutToRing(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ring := session.NewRing(16)

	h, err := sup.Spawn("echoer", "/bin/sh", []string{"-c", "echo hello-from-child"}, "", nil, ring)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case ev := <-h.Exit():
		if ev.ExitCode != 0 {
			t.Fatalf("unexpected exit: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for child exit")
	}

	lines, _ := ring.Tail(10)
	found := false
	for _, l := range lines {
		if strings.Contains(l.Text, "hello-from-child") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected captured stdout in ring, got %+v", lines)
	}
}

func TestSpawnAssignsOwnProcessGroup(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	h, err := sup.Spawn("sleeper", "/bin/sleep", []string{"2"}, "", nil, session.NewRing(4))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer func() { _ = sup.Kill(h) }()

	if h.Record.PGID != h.Record.PID {
		t.Fatalf("expected PGID == PID for a freshly Setpgid'd child, got pid=%d pgid=%d", h.Record.PID, h.Record.PGID)
	}
}

func TestStopHonorsSIGTERMWithoutEscalating(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	h, err := sup.Spawn("graceful", "/bin/sh", []string{"-c", "trap 'exit 0' TERM; sleep 30"}, "", nil, session.NewRing(4))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	start := time.Now()
	if err := sup.Stop(h, "", nil, "", nil, 3*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("Stop took %v, expected a fast SIGTERM exit well under the stop_timeout", elapsed)
	}
}

func TestStopEscalatesToSIGKILLWhenTERMIsIgnored(t *testing.T) {
	sup, _ := newTestSupervisor(t)

	h, err := sup.Spawn("stubborn", "/bin/sh", []string{"-c", "trap '' TERM; sleep 30"}, "", nil, session.NewRing(4))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	start := time.Now()
	if err := sup.Stop(h, "", nil, "", nil, 500*time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 500*time.Millisecond {
		t.Fatalf("Stop returned before stop_timeout elapsed (%v), SIGKILL escalation should have waited for the grace period", elapsed)
	}

	select {
	case ev := <-h.Exit():
		if ev.Signal == "" {
			t.Fatalf("expected child to have been killed by a signal, got %+v", ev)
		}
	default:
		t.Fatal("expected exit event to already be available once Stop returned")
	}
}

func TestMergeWithOSEnvironOverridesDuplicateKeys(t *testing.T) {
	os.Setenv("KRILL_TEST_MERGE_VAR", "from-os")
	defer os.Unsetenv("KRILL_TEST_MERGE_VAR")

	merged := mergeWithOSEnviron([]string{"KRILL_TEST_MERGE_VAR=from-plan"})

	found := false
	for _, kv := range merged {
		if kv == "KRILL_TEST_MERGE_VAR=from-plan" {
			found = true
		}
		if kv == "KRILL_TEST_MERGE_VAR=from-os" {
			t.Fatalf("plan env should have overridden the inherited OS value, found stale entry %q", kv)
		}
	}
	if !found {
		t.Fatalf("expected overridden value in merged env, got %v", merged)
	}
}
