//go:build unix

package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zero-Robotics/krill/internal/health"
	"github.com/Zero-Robotics/krill/internal/orchestrator"
	"github.com/Zero-Robotics/krill/internal/recipe"
	"github.com/Zero-Robotics/krill/internal/session"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()

	sess, err := session.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	rec := &recipe.Recipe{
		Name: "ipc-test",
		Services: map[string]*recipe.ServiceSpec{
			"idle": {
				Name:    "idle",
				Exec:    recipe.ExecRecipe{Kind: recipe.KindShell, Shell: &recipe.ShellRecipe{Command: "sleep 5"}},
				Restart: recipe.RestartPolicy{Mode: recipe.RestartNever, StopTimeout: time.Second},
			},
		},
		ServiceOrder: []string{"idle"},
	}
	orch, err := orchestrator.New(rec, sess)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	sockPath := filepath.Join(t.TempDir(), "krill.sock")
	srv, err := NewServer(sockPath, orch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})

	// Give Serve a moment to reach Accept.
	time.Sleep(10 * time.Millisecond)

	client, err := Dial(sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, client
}

func TestRejectsBindingOverLiveSocket(t *testing.T) {
	sess, err := session.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	rec := &recipe.Recipe{Name: "dup-test", Services: map[string]*recipe.ServiceSpec{}}
	orch, err := orchestrator.New(rec, sess)
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	sockPath := filepath.Join(t.TempDir(), "krill.sock")
	first, err := NewServer(sockPath, orch)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = first.Serve(ctx) }()
	t.Cleanup(cancel)
	time.Sleep(10 * time.Millisecond)

	_, err = NewServer(sockPath, orch)
	require.Error(t, err)
}

func TestGetSnapshotReturnsEveryService(t *testing.T) {
	_, client := newTestServer(t)

	snap, err := client.GetSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Services, 1)
	require.Equal(t, "idle", snap.Services[0].Service)
}

func TestCommandStartThenStopRoundTrips(t *testing.T) {
	_, client := newTestServer(t)

	ack, err := client.Command(ActionStart, "idle")
	require.NoError(t, err)
	require.True(t, ack.OK)

	ack, err = client.Command(ActionStop, "idle")
	require.NoError(t, err)
	require.True(t, ack.OK)
}

func TestCommandUnknownServiceReturnsFailedAck(t *testing.T) {
	_, client := newTestServer(t)

	ack, err := client.Command(ActionStart, "does-not-exist")
	require.NoError(t, err)
	require.False(t, ack.OK)
	require.NotEmpty(t, ack.Message)
}

func TestHeartbeatToUnknownServiceReturnsError(t *testing.T) {
	_, client := newTestServer(t)

	require.NoError(t, client.send(Envelope{
		Type:      TypeHeartbeat,
		Heartbeat: &HeartbeatPayload{Service: "ghost", Status: health.HeartbeatHealthy},
	}))

	env, ok, err := client.Recv()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TypeError, env.Type)
	require.Equal(t, "unknown_service", env.Error.Code)
}

func TestSubscribeEventsStreamsStateTransitions(t *testing.T) {
	srv, subscriber := newTestServer(t)

	require.NoError(t, subscriber.SubscribeEvents())

	// Issue the start command on a second connection so the subscriber's
	// stream carries only event envelopes, not an interleaved ack.
	commander, err := Dial(srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = commander.Close() })

	ack, err := commander.Command(ActionStart, "idle")
	require.NoError(t, err)
	require.True(t, ack.OK)

	deadline := time.After(5 * time.Second)
	for {
		env, ok, err := subscriber.Recv()
		require.NoError(t, err)
		require.True(t, ok)
		if env.Type == TypeEvent && env.Event.Service == "idle" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for an idle state-change event")
		default:
		}
	}
}
