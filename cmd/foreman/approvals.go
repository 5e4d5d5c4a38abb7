package main

import (
	"github.com/spf13/cobra"

	"github.com/rwalker-dev/foreman/internal/tui"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Open the approval console",
	Long: `Open the operator console for pending approval requests. The console
polls the server and lets you approve or reject suspended worker
commands with single keypresses.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(tui.NewHTTPBackend(serverURL))
	},
}
