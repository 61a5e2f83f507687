package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

var restartCmd = &cobra.Command{
	Use:   "restart <service>",
	Short: "Stop then start a service, respecting dependency ordering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(ipc.ActionRestart, args[0])
	},
}

func init() {
	rootCmd.AddCommand(restartCmd)
}

func runCommand(action ipc.CommandAction, target string) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	ack, err := client.Command(action, target)
	if err != nil {
		return &daemonUnreachableError{err: err}
	}
	if !ack.OK {
		return fmt.Errorf("%s %s: %s", action, target, ack.Message)
	}
	fmt.Printf("%s: %s ok\n", target, action)
	return nil
}
