package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Gracefully stop the krill daemon and every service it supervises",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDown()
	},
}

func init() {
	rootCmd.AddCommand(downCmd)
}

func runDown() error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ack, err := client.Command(ipc.ActionStopDaemon, "")
	if err != nil {
		return &daemonUnreachableError{err: err}
	}
	if !ack.OK {
		return fmt.Errorf("daemon refused stop_daemon: %s", ack.Message)
	}
	fmt.Println("daemon shutting down")
	return nil
}
