// Package ipc implements spec.md §6's local control protocol: a unix
// stream socket, newline-delimited JSON, one message per line. Grounded in
// the teacher's JSON-over-stdio addon protocol conventions (cmd/addons.go's
// request/response envelopes) for the tagged-by-type message shape, adapted
// from a single request/response pair into the daemon's richer
// client→daemon / daemon→client message set.
package ipc

import (
	"time"

	"github.com/Zero-Robotics/krill/internal/health"
)

// DefaultSocketPath is spec.md §6's default, overridable by the daemon's
// --socket flag.
const DefaultSocketPath = "/tmp/krill.sock"

// MessageType tags every line on the wire.
type MessageType string

const (
	// Client -> daemon.
	TypeHeartbeat   MessageType = "heartbeat"
	TypeCommand     MessageType = "command"
	TypeSubscribe   MessageType = "subscribe"
	TypeGetSnapshot MessageType = "get_snapshot"

	// Daemon -> client.
	TypeEvent    MessageType = "event"
	TypeSnapshot MessageType = "snapshot"
	TypeLogLine  MessageType = "log_line"
	TypeAck      MessageType = "ack"
	TypeError    MessageType = "error"
)

// CommandAction enumerates spec.md §6's external command surface.
type CommandAction string

const (
	ActionStart      CommandAction = "start"
	ActionStop       CommandAction = "stop"
	ActionRestart    CommandAction = "restart"
	ActionKill       CommandAction = "kill"
	ActionStopDaemon CommandAction = "stop_daemon"
)

// Envelope is the outer shape every line on the socket takes; exactly one
// of the typed payload fields is populated depending on Type. Encoding it
// as one flat struct (rather than an interface{} payload) keeps both ends
// of the protocol free of a type-switch-on-decode step, at the cost of a
// handful of always-omitted fields per message — a fair trade for a
// protocol this small.
type Envelope struct {
	Type MessageType `json:"type"`

	// Client -> daemon fields.
	Heartbeat   *HeartbeatPayload `json:"heartbeat,omitempty"`
	Command     *CommandPayload   `json:"command,omitempty"`
	Subscribe   *SubscribePayload `json:"subscribe,omitempty"`

	// Daemon -> client fields.
	Event    *EventPayload    `json:"event,omitempty"`
	Snapshot *SnapshotPayload `json:"snapshot,omitempty"`
	LogLine  *LogLinePayload  `json:"log_line,omitempty"`
	Ack      *AckPayload      `json:"ack,omitempty"`
	Error    *ErrorPayload    `json:"error,omitempty"`
}

// HeartbeatPayload is a client's `heartbeat` message (spec.md §4.5, §6).
type HeartbeatPayload struct {
	Service  string                  `json:"service"`
	Status   health.HeartbeatStatus  `json:"status"`
	Metadata map[string]string       `json:"metadata,omitempty"`
}

// CommandPayload is a client's `command` message.
type CommandPayload struct {
	CommandID string        `json:"command_id,omitempty"`
	Action    CommandAction `json:"action"`
	Target    string        `json:"target,omitempty"`
}

// SubscribePayload opts a connection into the event bus and/or one
// service's live log tail.
type SubscribePayload struct {
	Events bool   `json:"events"`
	Logs   string `json:"logs,omitempty"`
}

// EventPayload mirrors a runner.Event (spec.md §5 "Event bus").
type EventPayload struct {
	Service   string    `json:"service"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// SnapshotPayload is the daemon's response to get_snapshot.
type SnapshotPayload struct {
	Services []ServiceSnapshot `json:"services"`
}

// ServiceSnapshot is one service's runtime record, wire-shaped from
// runner.Snapshot.
type ServiceSnapshot struct {
	Service       string    `json:"service"`
	State         string    `json:"state"`
	PID           int       `json:"pid,omitempty"`
	PGID          int       `json:"pgid,omitempty"`
	RestartCount  int       `json:"restart_count"`
	LastExitCode  int       `json:"last_exit_code,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	LastHealthy   bool      `json:"last_healthy"`
	ProcessName   string    `json:"process_name,omitempty"`
}

// LogLinePayload is one streamed log line. A Dropped marker line (Stream
// "marker", Dropped > 0) is synthesized by the daemon when a subscriber's
// watermark falls behind the ring's retained window, so the gap is visible
// rather than silently presenting a shorter history as a complete one
// (spec.md §9: "backpressure drops lines with a visible marker rather than
// blocking").
type LogLinePayload struct {
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
	Stream    string `json:"stream"`
	Text      string `json:"text"`
	Dropped   int64  `json:"dropped,omitempty"`
}

// AckPayload acknowledges a command.
type AckPayload struct {
	CommandID string `json:"command_id,omitempty"`
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
}

// ErrorPayload reports a protocol-level or dispatch-level failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
