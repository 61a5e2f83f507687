// Package klog is krill's ambient structured logger: a package-level
// *log.Logger guarded by sync.Once, tee'd to a session's krill.log file and,
// for terminal-attached output, to stdout/stderr with a lipgloss-colored
// severity prefix. Grounded in the teacher's InitDebugLogger
// (cmd/utils/log.go) and the OutputInfo/OutputWarning/OutputError family
// (cmd/output.go), collapsed into one logger since the daemon has no TUI
// message queue to route through.
package klog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	once       sync.Once
	fileLogger *log.Logger
	logFile    *os.File
	debugOn    bool

	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Init opens path (typically a session's krill.log) for append and wires the
// package logger to it. Safe to call multiple times; only the first call
// takes effect, mirroring the teacher's debugOnce.Do pattern.
func Init(path string, debug bool) error {
	var initErr error
	once.Do(func() {
		debugOn = debug
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			initErr = fmt.Errorf("failed to open log file %s: %w", path, err)
			return
		}
		logFile = f
		fileLogger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	})
	return initErr
}

// Close flushes and closes the underlying log file.
func Close() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
	}
}

func writeLine(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	if fileLogger != nil {
		fileLogger.Println(levelTag(level) + " " + msg)
	}

	if level == LevelDebug && !debugOn {
		return
	}

	w := io.Writer(os.Stdout)
	style := infoStyle
	switch level {
	case LevelWarn:
		w, style = os.Stderr, warnStyle
	case LevelError:
		w, style = os.Stderr, errStyle
	case LevelDebug:
		w, style = os.Stderr, debugStyle
	}
	fmt.Fprintln(w, style.Render(levelTag(level)), msg)
}

func levelTag(level Level) string {
	switch level {
	case LevelDebug:
		return "[debug]"
	case LevelWarn:
		return "[warn]"
	case LevelError:
		return "[error]"
	default:
		return "[info]"
	}
}

func Debug(format string, args ...interface{}) { writeLine(LevelDebug, format, args...) }
func Info(format string, args ...interface{})  { writeLine(LevelInfo, format, args...) }
func Warn(format string, args ...interface{})  { writeLine(LevelWarn, format, args...) }
func Error(format string, args ...interface{}) { writeLine(LevelError, format, args...) }
