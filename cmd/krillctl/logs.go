package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

var copyToClipboard bool

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Stream a service's live log tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogs(args[0], copyToClipboard)
	},
}

func init() {
	logsCmd.Flags().BoolVar(&copyToClipboard, "copy", false, "copy the full streamed output to the clipboard when the command exits (e.g. ctrl-c)")
	rootCmd.AddCommand(logsCmd)
}

// runLogs subscribes to one service's log tail and prints each line as it
// arrives. With --copy, every printed line is also buffered and written to
// the clipboard once, on exit, the way the teacher's quick-menu copies a
// selected command via atotto/clipboard rather than after every keystroke.
func runLogs(service string, copy bool) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.SubscribeLogs(service); err != nil {
		return &daemonUnreachableError{err: err}
	}

	var buf strings.Builder

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigCh
		close(done)
		client.Close()
	}()

	for {
		env, ok, err := client.Recv()
		if !ok {
			if copy && buf.Len() > 0 {
				if cerr := clipboard.WriteAll(buf.String()); cerr != nil {
					fmt.Fprintf(os.Stderr, "krillctl: failed to copy logs to clipboard: %v\n", cerr)
				} else {
					fmt.Fprintln(os.Stderr, "logs copied to clipboard")
				}
			}
			select {
			case <-done:
				return nil
			default:
			}
			if err != nil {
				return &daemonUnreachableError{err: err}
			}
			return nil
		}
		if env.Type != ipc.TypeLogLine || env.LogLine == nil {
			continue
		}
		line := fmt.Sprintf("[%s] %s", time.Unix(0, env.LogLine.Timestamp).Format(time.RFC3339), env.LogLine.Text)
		fmt.Println(line)
		if copy {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
}
