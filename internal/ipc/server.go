package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Zero-Robotics/krill/internal/klog"
	"github.com/Zero-Robotics/krill/internal/orchestrator"
	"github.com/Zero-Robotics/krill/internal/runner"
)

// logPollInterval is how often a subscribed connection checks a service's
// log ring for new lines (§9 favors polling over threading a notification
// channel through the ring for a feature this narrow).
const logPollInterval = 100 * time.Millisecond

// Server binds spec.md §6's unix socket and serves the client protocol
// against an Orchestrator.
type Server struct {
	path string
	orch *orchestrator.Orchestrator

	ln net.Listener

	wg sync.WaitGroup
}

// NewServer binds a unix socket at path. It refuses to start if a live
// socket already exists at that path (spec.md §6: "single-bind-only —
// abort if a live socket pre-exists"), but cleans up a stale socket file
// left behind by a daemon that did not exit cleanly.
func NewServer(path string, orch *orchestrator.Orchestrator) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	if err := rejectLiveSocket(path); err != nil {
		return nil, err
	}
	_ = os.Remove(path) // stale socket file from an unclean shutdown

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to bind ipc socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set permissions on ipc socket %s: %w", path, err)
	}

	return &Server{path: path, orch: orch, ln: ln}, nil
}

// rejectLiveSocket dials path; a successful connection means another
// daemon is already listening there.
func rejectLiveSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil // nothing there
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("ipc socket %s is already in use by a running daemon", path)
	}
	return nil // stat'd but not dialable: stale file
}

// Serve accepts connections until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("ipc accept failed: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close unbinds the socket and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := json.NewEncoder(conn)
	var writeMu sync.Mutex
	send := func(env Envelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(env); err != nil {
			klog.Debug("ipc: write to client failed: %s", err)
			cancel()
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "bad_json", Message: err.Error()}})
			continue
		}
		s.dispatch(connCtx, env, send)
	}
}

func (s *Server) dispatch(ctx context.Context, env Envelope, send func(Envelope)) {
	switch env.Type {
	case TypeHeartbeat:
		s.handleHeartbeat(env, send)
	case TypeCommand:
		s.handleCommand(env, send)
	case TypeGetSnapshot:
		send(Envelope{Type: TypeSnapshot, Snapshot: &SnapshotPayload{Services: snapshotsToWire(s.orch.Snapshots())}})
	case TypeSubscribe:
		s.handleSubscribe(ctx, env, send)
	default:
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "unknown_type", Message: string(env.Type)}})
	}
}

func (s *Server) handleHeartbeat(env Envelope, send func(Envelope)) {
	if env.Heartbeat == nil {
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "malformed_heartbeat", Message: "missing heartbeat payload"}})
		return
	}
	if !s.orch.Beat(env.Heartbeat.Service, env.Heartbeat.Status) {
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "unknown_service", Message: env.Heartbeat.Service}})
	}
}

func (s *Server) handleCommand(env Envelope, send func(Envelope)) {
	if env.Command == nil {
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "malformed_command", Message: "missing command payload"}})
		return
	}
	cmd := env.Command
	err := s.orch.Dispatch(string(cmd.Action), cmd.Target)
	ack := &AckPayload{CommandID: cmd.CommandID, OK: err == nil}
	if err != nil {
		ack.Message = err.Error()
	}
	send(Envelope{Type: TypeAck, Ack: ack})
}

func (s *Server) handleSubscribe(ctx context.Context, env Envelope, send func(Envelope)) {
	if env.Subscribe == nil {
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "malformed_subscribe", Message: "missing subscribe payload"}})
		return
	}

	if env.Subscribe.Events {
		id, ch := s.orch.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.orch.Unsubscribe(id)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					send(eventEnvelope(ev))
				}
			}
		}()
	}

	if env.Subscribe.Logs != "" {
		s.wg.Add(1)
		go s.tailLogs(ctx, env.Subscribe.Logs, send)
	}
}

func (s *Server) tailLogs(ctx context.Context, service string, send func(Envelope)) {
	defer s.wg.Done()

	ring, ok := s.orch.Ring(service)
	if !ok {
		send(Envelope{Type: TypeError, Error: &ErrorPayload{Code: "unknown_service", Message: service}})
		return
	}

	var seq int64
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	for {
		lines, next, gap := ring.Since(seq)
		seq = next

		if gap > 0 {
			send(Envelope{Type: TypeLogLine, LogLine: &LogLinePayload{
				Service:   service,
				Timestamp: time.Now().UnixNano(),
				Stream:    "marker",
				Text:      fmt.Sprintf("... %d lines dropped ...", gap),
				Dropped:   gap,
			}})
		}
		for _, l := range lines {
			send(Envelope{Type: TypeLogLine, LogLine: &LogLinePayload{
				Service:   service,
				Timestamp: l.Timestamp,
				Stream:    l.Stream,
				Text:      l.Text,
			}})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func eventEnvelope(ev runner.Event) Envelope {
	return Envelope{Type: TypeEvent, Event: &EventPayload{
		Service:   ev.Service,
		From:      string(ev.From),
		To:        string(ev.To),
		Timestamp: ev.Timestamp,
		Reason:    ev.Reason,
	}}
}

func snapshotsToWire(snaps []runner.Snapshot) []ServiceSnapshot {
	out := make([]ServiceSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, ServiceSnapshot{
			Service:       s.Service,
			State:         string(s.State),
			PID:           s.PID,
			PGID:          s.PGID,
			RestartCount:  s.RestartCount,
			LastExitCode:  s.LastExitCode,
			LastError:     s.LastError,
			LastHeartbeat: s.LastHeartbeat,
			LastHealthy:   s.LastHealthy,
			ProcessName:   s.ProcessName,
		})
	}
	return out
}

// Addr returns the bound socket path, for logging.
func (s *Server) Addr() string {
	if ua, ok := s.ln.Addr().(*net.UnixAddr); ok {
		return ua.Name
	}
	return s.path
}
