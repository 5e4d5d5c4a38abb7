package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Session orchestration & human-in-the-loop coordination backend",
	Long: `Foreman coordinates multi-agent task execution sessions: it classifies
operator requests, decomposes complex goals into subtask trees, suspends
worker commands on human approval, and leases scarce resources to worker
clones.

Run "foreman serve" to start the backend, "foreman run" to submit a goal
and stream its progress, and "foreman approvals" for the operator's
approve/reject console.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:7180", "Foreman server base URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
