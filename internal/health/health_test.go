package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Zero-Robotics/krill/internal/recipe"
)

func TestHeartbeatMonitorHealthyAfterBeat(t *testing.T) {
	check := &recipe.HealthCheck{
		Kind:      recipe.HealthHeartbeat,
		Heartbeat: &recipe.HeartbeatCheck{Timeout: 200 * time.Millisecond},
	}
	m := New(check, "")
	m.Beat(HeartbeatHealthy)

	select {
	case v := <-m.Verdicts():
		if !v.Healthy {
			t.Fatalf("expected a healthy verdict from Beat, got %+v", v)
		}
	default:
		t.Fatal("expected Beat to emit a verdict synchronously")
	}
}

func TestHeartbeatMonitorFaultsWhenNeverBeaten(t *testing.T) {
	// spec.md §8 scenario 6: a service with a heartbeat check that never
	// receives a single heartbeat must still be able to fault, not wait
	// forever in a "first pass" grace window.
	check := &recipe.HealthCheck{
		Kind:      recipe.HealthHeartbeat,
		Heartbeat: &recipe.HeartbeatCheck{Timeout: 100 * time.Millisecond},
	}
	m := New(check, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case v := <-m.Verdicts():
		if v.Healthy {
			t.Fatalf("expected an unhealthy verdict from a service that never beat, got %+v", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the missed-heartbeat verdict")
	}
}

func TestTCPProbeDetectsOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	check := &recipe.HealthCheck{
		Kind: recipe.HealthTCP,
		TCP:  &recipe.TCPCheck{Port: port, Timeout: time.Second},
	}
	m := New(check, "127.0.0.1")

	healthy, err := m.probe()
	if err != nil || !healthy {
		t.Fatalf("expected healthy probe against open port, got healthy=%v err=%v", healthy, err)
	}
}

func TestHTTPProbeValidatesExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().(*net.TCPAddr)
	check := &recipe.HealthCheck{
		Kind: recipe.HealthHTTP,
		HTTP: &recipe.HTTPCheck{Port: addr.Port, Path: "/health", ExpectedStatus: http.StatusOK},
	}
	m := New(check, "127.0.0.1")

	healthy, err := m.probe()
	if healthy || err == nil {
		t.Fatalf("expected mismatched status to fail the probe, got healthy=%v err=%v", healthy, err)
	}

	check.HTTP.ExpectedStatus = http.StatusTeapot
	healthy, err = m.probe()
	if !healthy || err != nil {
		t.Fatalf("expected matching status to pass the probe, got healthy=%v err=%v", healthy, err)
	}
}

func TestScriptProbeReflectsExitCode(t *testing.T) {
	check := &recipe.HealthCheck{
		Kind:   recipe.HealthScript,
		Script: &recipe.ScriptCheck{Command: "exit 1", Timeout: time.Second},
	}
	m := New(check, "")

	healthy, err := m.probe()
	if healthy || err == nil {
		t.Fatalf("expected nonzero exit to fail the probe, got healthy=%v err=%v", healthy, err)
	}

	check.Script.Command = "exit 0"
	healthy, err = m.probe()
	if !healthy || err != nil {
		t.Fatalf("expected zero exit to pass the probe, got healthy=%v err=%v", healthy, err)
	}
}

func TestProbeIntervalNeverExceedsOneSecond(t *testing.T) {
	longCheck := &recipe.HealthCheck{Kind: recipe.HealthTCP, TCP: &recipe.TCPCheck{Port: 1, Timeout: 30 * time.Second}}
	if got := probeInterval(longCheck); got != time.Second {
		t.Fatalf("expected interval capped at 1s, got %s", got)
	}

	shortCheck := &recipe.HealthCheck{Kind: recipe.HealthTCP, TCP: &recipe.TCPCheck{Port: 1, Timeout: 50 * time.Millisecond}}
	if got := probeInterval(shortCheck); got != 50*time.Millisecond {
		t.Fatalf("expected interval to follow a short per-check timeout, got %s", got)
	}
}

func TestFailureThresholdDefaultsToOne(t *testing.T) {
	if got := FailureThreshold(&recipe.HealthCheck{}); got != 1 {
		t.Fatalf("expected default threshold 1, got %d", got)
	}
	if got := FailureThreshold(&recipe.HealthCheck{FailureThreshold: 3}); got != 3 {
		t.Fatalf("expected configured threshold to pass through, got %d", got)
	}
}

func TestBeatWithDegradedStatusEmitsDegradedVerdict(t *testing.T) {
	check := &recipe.HealthCheck{
		Kind:      recipe.HealthHeartbeat,
		Heartbeat: &recipe.HeartbeatCheck{Timeout: time.Second},
	}
	m := New(check, "")

	m.Beat(HeartbeatDegraded)

	select {
	case v := <-m.Verdicts():
		if !v.Degraded || v.Healthy {
			t.Fatalf("expected a degraded verdict, got %+v", v)
		}
	default:
		t.Fatal("expected Beat to emit a verdict synchronously")
	}
}

