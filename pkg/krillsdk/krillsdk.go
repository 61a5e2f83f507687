// Package krillsdk is the minimal client an in-process supervised service
// imports to report its own health over krill's IPC socket (spec.md §1:
// "per-service SDKs" as an external adapter around the core engine). It is
// a thin wrapper over internal/ipc.Client's heartbeat call, kept separate
// so a service's own binary does not need to depend on krill's internal
// packages.
package krillsdk

import (
	"fmt"
	"sync"
	"time"

	"github.com/Zero-Robotics/krill/internal/health"
	"github.com/Zero-Robotics/krill/internal/ipc"
)

// Status mirrors the two heartbeat status values spec.md §6 allows on the
// wire (`healthy` | `degraded`).
type Status = health.HeartbeatStatus

const (
	Healthy  Status = health.HeartbeatHealthy
	Degraded Status = health.HeartbeatDegraded
)

// Client reports heartbeats for one named service to a running krill
// daemon. Safe for concurrent use; each Beat call opens and reuses a single
// underlying connection.
type Client struct {
	service    string
	socketPath string

	mu   sync.Mutex
	conn *ipc.Client
}

// New returns a Client for service, dialing socketPath lazily on the first
// Beat (so constructing a Client never fails even if the daemon is not yet
// up). An empty socketPath uses ipc.DefaultSocketPath.
func New(service, socketPath string) *Client {
	return &Client{service: service, socketPath: socketPath}
}

// Beat sends one heartbeat with the given status. It reconnects
// automatically if the previous connection was dropped (e.g. the daemon
// restarted).
func (c *Client) Beat(status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := ipc.Dial(c.socketPath)
		if err != nil {
			return fmt.Errorf("krillsdk: connect to daemon: %w", err)
		}
		c.conn = conn
	}

	if err := c.conn.Heartbeat(c.service, status); err != nil {
		_ = c.conn.Close()
		c.conn = nil
		return fmt.Errorf("krillsdk: send heartbeat: %w", err)
	}
	return nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Run beats status every interval until stop is closed, logging nothing and
// swallowing transient send errors (the daemon side already treats a
// heartbeat gap as a health signal, which is the whole point). Intended to
// be run in its own goroutine from the supervised service's main.
func (c *Client) Run(status Status, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.Beat(status)
		}
	}
}
