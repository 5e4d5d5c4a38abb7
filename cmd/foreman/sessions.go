package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rwalker-dev/foreman/internal/manager"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listSessions()
	},
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a live session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopSession(args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsStopCmd)
}

func listSessions() error {
	resp, err := http.Get(serverURL + "/sessions")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list sessions: status %d", resp.StatusCode)
	}

	var out struct {
		Sessions []manager.SessionSummary `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}

	if len(out.Sessions) == 0 {
		fmt.Println("no live sessions")
		return nil
	}
	bold := color.New(color.Bold)
	bold.Printf("%-14s %-12s %-8s %s\n", "ID", "STATUS", "AGE", "GOAL")
	for _, s := range out.Sessions {
		age := time.Since(s.StartedAt).Round(time.Second)
		fmt.Printf("%-14s %-12s %-8s %s\n", s.ID, s.Status, age, s.Goal)
	}
	return nil
}

func stopSession(id string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/sessions/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		color.New(color.FgRed).Printf("stopped %s\n", id)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("session %s not found", id)
	default:
		return fmt.Errorf("stop session: status %d", resp.StatusCode)
	}
}
