// Package session implements spec.md §6's session filesystem layout: a
// timestamped directory holding the daemon log, one log file per service,
// and a merged JSON-lines timeline, created once per daemon invocation.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLogDir is spec.md §6's default when a recipe omits log_dir.
const DefaultLogDir = "~/.krill/logs"

// Session owns one daemon invocation's on-disk log layout.
type Session struct {
	dir string

	mu           sync.Mutex
	timelineFile *os.File
}

// New creates "session-<ISO8601 timestamp>/" under logDir (expanding a
// leading "~" the way the teacher's ExpandTilde helper does) and opens
// timeline.jsonl for append.
func New(logDir string) (*Session, error) {
	if logDir == "" {
		logDir = DefaultLogDir
	}
	logDir = expandTilde(logDir)

	dir := filepath.Join(logDir, "session-"+time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	s := &Session{dir: dir}

	tf, err := os.OpenFile(s.TimelinePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline file: %w", err)
	}
	s.timelineFile = tf

	return s, nil
}

func expandTilde(path string) string {
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Dir returns the session's root directory.
func (s *Session) Dir() string { return s.dir }

// KrillLogPath is the daemon-wide event log (spec.md §6: "krill.log").
func (s *Session) KrillLogPath() string {
	return filepath.Join(s.dir, "krill.log")
}

// TimelinePath is the merged, timestamp-sorted JSON-lines stream.
func (s *Session) TimelinePath() string {
	return filepath.Join(s.dir, "timeline.jsonl")
}

// ServiceLogPath is one service's interleaved stdout+stderr log file.
func (s *Session) ServiceLogPath(service string) string {
	return filepath.Join(s.dir, service+".log")
}

// TimelineEvent is one line of timeline.jsonl: either a service state
// transition or a daemon-level note. Shaped to match the IPC `event`
// message (spec.md §6) so the same struct can be marshaled to both.
type TimelineEvent struct {
	Service   string    `json:"service,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// AppendTimeline writes one JSON line, safe for concurrent callers (every
// Service Runner's driver goroutine may call this).
func (s *Session) AppendTimeline(ev TimelineEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.timelineFile.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

// Close flushes and closes the timeline file.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timelineFile == nil {
		return nil
	}
	_ = s.timelineFile.Sync()
	return s.timelineFile.Close()
}
