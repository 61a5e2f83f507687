package main

import (
	"github.com/spf13/cobra"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

var stopCmd = &cobra.Command{
	Use:   "stop <service>",
	Short: "Stop a service gracefully",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(ipc.ActionStop, args[0])
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
