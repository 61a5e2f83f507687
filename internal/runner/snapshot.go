package runner

import "time"

// Snapshot is a copy-on-read view of one service's runtime record (spec.md
// §3 "Service runtime state", §5: "Other tasks read through a snapshot
// mechanism (copy-on-read under a short-lived lock)"). It is a value type so
// callers can hold onto it without the runner's mutex.
type Snapshot struct {
	Service       string
	State         State
	PID           int
	PGID          int
	RestartCount  int
	LastExitCode  int
	LastError     string
	LastHeartbeat time.Time
	LastHealthy   bool
	ProcessName   string // "{workspace}.{service}.{uuid6}" (spec.md §6)
}
