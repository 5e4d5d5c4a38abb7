package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rwalker-dev/foreman/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Submit a goal and stream the session live",
	Long: `Create a session for the goal, subscribe to its notification stream
as the owning client, and print updates until the session finishes.
Closing the stream (Ctrl+C) stops the session on the server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGoal(strings.Join(args, " "))
	},
}

func runGoal(goal string) error {
	body, err := json.Marshal(map[string]string{"goal": goal})
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create session: status %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return fmt.Errorf("decode create response: %w", err)
	}
	color.New(color.FgCyan, color.Bold).Printf("session %s\n", created.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/sessions/" + created.ID + "/ws?owner=true"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := postEvent(created.ID, session.Event{Type: session.EventStart, Content: goal}); err != nil {
		return err
	}

	for {
		var n session.Notification
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			if ctx.Err() != nil {
				// The owner disconnect stops the session server-side.
				fmt.Println("\ninterrupted, stopping session")
				return nil
			}
			return fmt.Errorf("read notification: %w", err)
		}
		printNotification(n)
		if n.Type == session.NoticeDone || n.Type == session.NoticeStopped {
			return nil
		}
	}
}

func postEvent(sessionID string, ev session.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/sessions/"+sessionID+"/events", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("post event: status %d", resp.StatusCode)
	}
	return nil
}

func printNotification(n session.Notification) {
	switch n.Type {
	case session.NoticeStatus:
		color.New(color.FgBlue).Printf("status: %s\n", n.Content)
	case session.NoticeAnswer:
		color.New(color.FgGreen, color.Bold).Println(n.Content)
	case session.NoticeTaskTree:
		color.New(color.FgMagenta).Println("task tree updated:")
		printTree(n, 0)
	case session.NoticeApprovalRequest:
		color.New(color.FgYellow, color.Bold).Printf("approval needed [%s] %s: %s\n", n.RequestID, n.Worker, n.Content)
	case session.NoticeBudgetNotEnough:
		color.New(color.FgYellow).Printf("budget exhausted: %s\n", n.Content)
	case session.NoticeContextTooLong:
		color.New(color.FgYellow).Printf("history too long: %s\n", n.Content)
	case session.NoticeError:
		color.New(color.FgRed).Printf("error: %s\n", n.Content)
	case session.NoticeDone:
		color.New(color.FgGreen, color.Bold).Println("session complete")
	case session.NoticeStopped:
		color.New(color.FgRed).Println("session stopped")
	case session.NoticeTerminal:
		fmt.Println(n.Content)
	default:
		fmt.Printf("%s: %s\n", n.Type, n.Content)
	}
}

func printTree(n session.Notification, _ int) {
	if n.Task == nil {
		return
	}
	fmt.Printf("  %s %s\n", n.Task.ID, n.Task.Content)
	for _, sub := range n.Task.Subtasks {
		marker := " "
		if sub.AssignedTo != "" {
			marker = "@" + sub.AssignedTo
		}
		fmt.Printf("    [%s] %s %s\n", sub.Status, sub.Content, marker)
	}
}
