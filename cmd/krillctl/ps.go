package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/tui"
)

var watch bool

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List every supervised service and its current state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watch {
			if err := tui.RunDashboard(socketPath); err != nil {
				return &daemonUnreachableError{err: err}
			}
			return nil
		}
		return runPsOnce()
	},
}

func init() {
	psCmd.Flags().BoolVarP(&watch, "watch", "w", false, "live-updating table instead of a one-shot snapshot")
	rootCmd.AddCommand(psCmd)
}

func runPsOnce() error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	snap, err := client.GetSnapshot()
	if err != nil {
		return &daemonUnreachableError{err: err}
	}

	fmt.Printf("%-20s %-10s %8s %9s %s\n", "SERVICE", "STATE", "PID", "RESTARTS", "LAST ERROR")
	for _, s := range snap.Services {
		pid := ""
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		fmt.Printf("%-20s %-10s %8s %9d %s\n", s.Service, s.State, pid, s.RestartCount, s.LastError)
	}
	return nil
}
