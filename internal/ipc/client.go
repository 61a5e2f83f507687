package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Zero-Robotics/krill/internal/health"
)

// Client is a thin synchronous wrapper around the protocol, used by
// krillctl. It sends at most one in-flight request at a time; krillctl's
// subcommands are one-shot, so this trades concurrency for simplicity.
type Client struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *bufio.Scanner
}

// Dial connects to the daemon's unix socket.
func Dial(path string) (*Client, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to krill daemon at %s: %w", path, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, enc: json.NewEncoder(conn), dec: scanner}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) send(env Envelope) error {
	return c.enc.Encode(env)
}

// Recv blocks for the next envelope from the daemon.
func (c *Client) Recv() (Envelope, bool, error) {
	if !c.dec.Scan() {
		return Envelope{}, false, c.dec.Err()
	}
	var env Envelope
	if err := json.Unmarshal(c.dec.Bytes(), &env); err != nil {
		return Envelope{}, true, fmt.Errorf("malformed envelope from daemon: %w", err)
	}
	return env, true, nil
}

// GetSnapshot issues a get_snapshot request and waits for the reply.
func (c *Client) GetSnapshot() (*SnapshotPayload, error) {
	if err := c.send(Envelope{Type: TypeGetSnapshot}); err != nil {
		return nil, err
	}
	env, ok, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("daemon closed the connection before replying")
	}
	if env.Type == TypeError && env.Error != nil {
		return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if env.Snapshot == nil {
		return nil, fmt.Errorf("unexpected reply type %q to get_snapshot", env.Type)
	}
	return env.Snapshot, nil
}

// Command issues a command and waits for its ack.
func (c *Client) Command(action CommandAction, target string) (*AckPayload, error) {
	if err := c.send(Envelope{Type: TypeCommand, Command: &CommandPayload{Action: action, Target: target}}); err != nil {
		return nil, err
	}
	env, ok, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("daemon closed the connection before acking")
	}
	if env.Type == TypeError && env.Error != nil {
		return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if env.Ack == nil {
		return nil, fmt.Errorf("unexpected reply type %q to command", env.Type)
	}
	return env.Ack, nil
}

// Heartbeat sends one heartbeat for service with the given status. Unlike
// GetSnapshot/Command, it does not wait for a reply: the daemon only
// answers a heartbeat with an error envelope if the service is unknown, and
// callers on a hot heartbeat path should not block on a round trip to find
// out. Use Recv directly if you need to observe that error.
func (c *Client) Heartbeat(service string, status health.HeartbeatStatus) error {
	return c.send(Envelope{Type: TypeHeartbeat, Heartbeat: &HeartbeatPayload{Service: service, Status: status}})
}

// SubscribeEvents asks the daemon to stream state-change events on this
// connection. The caller drives Recv in a loop afterward.
func (c *Client) SubscribeEvents() error {
	return c.send(Envelope{Type: TypeSubscribe, Subscribe: &SubscribePayload{Events: true}})
}

// SubscribeLogs asks the daemon to stream a service's log lines on this
// connection.
func (c *Client) SubscribeLogs(service string) error {
	return c.send(Envelope{Type: TypeSubscribe, Subscribe: &SubscribePayload{Logs: service}})
}
