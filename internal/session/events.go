// Package session implements the per-session event loop and its mutable
// state. Producers from any goroutine enqueue tagged events; a single
// consumer drains the queue, mutates session state, and drives the
// orchestrator collaborator.
package session

import (
	"time"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// EventType tags an inbound session event.
type EventType string

const (
	// EventStart begins (or resumes) work on the session's goal.
	EventStart EventType = "start"
	// EventUpdateTask rewrites the content of a live subtask.
	EventUpdateTask EventType = "update_task"
	// EventAddTask inserts a subtask into the live tree.
	EventAddTask EventType = "add_task"
	// EventRemoveTask deletes a subtask from the live tree.
	EventRemoveTask EventType = "remove_task"
	// EventSkipTask marks a subtask skipped without executing it.
	EventSkipTask EventType = "skip_task"
	// EventTaskState reports a leaf task finishing; its result is archived.
	EventTaskState EventType = "task_state"
	// EventNewTaskState reports a completion that carries follow-up content.
	EventNewTaskState EventType = "new_task_state"
	// EventPause suspends orchestrator execution.
	EventPause EventType = "pause"
	// EventResume resumes a paused orchestrator.
	EventResume EventType = "resume"
	// EventStop terminates the session explicitly.
	EventStop EventType = "stop"
	// EventSupplement appends one leaf task without re-decomposing.
	EventSupplement EventType = "supplement"
	// EventBudgetNotEnough reports exhausted execution budget; resumable.
	EventBudgetNotEnough EventType = "budget_not_enough"
	// EventCreateAgent registers a new worker in the session.
	EventCreateAgent EventType = "create_agent"
	// EventActivateAgent marks a worker eligible for task assignment.
	EventActivateAgent EventType = "activate_agent"
	// EventDeactivateAgent withdraws a worker from task assignment.
	EventDeactivateAgent EventType = "deactivate_agent"
	// EventAssignTask assigns a subtask to a named worker.
	EventAssignTask EventType = "assign_task"
	// EventActivateToolkit enables a toolkit on a worker.
	EventActivateToolkit EventType = "activate_toolkit"
	// EventDeactivateToolkit disables a toolkit on a worker.
	EventDeactivateToolkit EventType = "deactivate_toolkit"
	// EventWriteFile reports a file written on the session's behalf.
	EventWriteFile EventType = "write_file"
	// EventAsk relays a worker question to the operator.
	EventAsk EventType = "ask"
	// EventNotice relays an informational worker message to the operator.
	EventNotice EventType = "notice"
	// EventTerminal relays terminal output to the operator.
	EventTerminal EventType = "terminal"
	// EventSearchMCP reports an MCP toolkit search on the session's behalf.
	EventSearchMCP EventType = "search_mcp"
	// EventInstallMCP reports an MCP toolkit install on the session's behalf.
	EventInstallMCP EventType = "install_mcp"
	// EventClientDisconnect is the implicit stop issued when the owning
	// client goes away. Distinct from EventStop but shares its teardown.
	EventClientDisconnect EventType = "client_disconnect"
)

// Internal completion events. Long orchestrator and classifier calls run
// off the loop so event consumption never blocks on them; their results
// come back through the same queue to keep all state mutation on the
// single consumer.
const (
	eventClassified       EventType = "_classified"
	eventDecomposed       EventType = "_decomposed"
	eventDecomposeFailed  EventType = "_decompose_failed"
	eventFollowupResolved EventType = "_followup_resolved"
)

// Event is an inbound session event. Fields beyond Type are tag-specific;
// unused fields stay zero.
type Event struct {
	// Type is the event tag.
	Type EventType `json:"type"`
	// TaskID identifies the subtask for task-scoped events.
	TaskID string `json:"task_id,omitempty"`
	// Agent is the worker name for agent-scoped events.
	Agent string `json:"agent,omitempty"`
	// Content carries the tag-specific payload text (goal, task content,
	// follow-up, question, notice, terminal output, file path, query).
	Content string `json:"content,omitempty"`
	// Result carries a finishing task's output for task_state events.
	Result string `json:"result,omitempty"`
	// Toolkit names the toolkit for toolkit-scoped events.
	Toolkit string `json:"toolkit,omitempty"`

	// task and classification carry internal completion payloads.
	task           *models.Task
	classification *classifyOutcome
	err            error
}

// NotificationType tags an outbound notification.
type NotificationType string

const (
	// NoticeStatus reports a session status transition.
	NoticeStatus NotificationType = "status"
	// NoticeAnswer carries a direct answer to a simple request.
	NoticeAnswer NotificationType = "answer"
	// NoticeTaskTree carries the current subtask tree after decomposition
	// or mutation.
	NoticeTaskTree NotificationType = "task_tree"
	// NoticeTaskArchived reports a finished task folded into history.
	NoticeTaskArchived NotificationType = "task_archived"
	// NoticeApprovalRequest asks the operator to approve a worker command.
	NoticeApprovalRequest NotificationType = "approval_request"
	// NoticeBudgetNotEnough reports exhausted budget. Resumable; distinct
	// from generic errors.
	NoticeBudgetNotEnough NotificationType = "budget_not_enough"
	// NoticeContextTooLong reports that conversation history exceeded the
	// configured ceiling; further decomposition is refused.
	NoticeContextTooLong NotificationType = "context_too_long"
	// NoticeError reports a generic error while processing an event.
	NoticeError NotificationType = "error"
	// NoticeAsk relays a worker question.
	NoticeAsk NotificationType = "ask"
	// NoticeNotice relays an informational message.
	NoticeNotice NotificationType = "notice"
	// NoticeTerminal relays terminal output.
	NoticeTerminal NotificationType = "terminal"
	// NoticeDone reports successful session completion.
	NoticeDone NotificationType = "done"
	// NoticeStopped reports session termination before completion.
	NoticeStopped NotificationType = "stopped"
)

// Notification is an outbound live update pushed to the wire transport.
// Delivery is at-least-once and in emission order.
type Notification struct {
	// Type is the notification tag.
	Type NotificationType `json:"type"`
	// SessionID identifies the emitting session.
	SessionID string `json:"session_id"`
	// Content is the tag-specific payload text.
	Content string `json:"content,omitempty"`
	// RequestID is the approval request ID for approval_request.
	RequestID string `json:"request_id,omitempty"`
	// Worker is the requesting worker for approval_request.
	Worker string `json:"worker,omitempty"`
	// Task carries the subtask tree for task_tree notifications.
	Task *models.Task `json:"task,omitempty"`
	// Timestamp is when the notification was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Transport delivers notifications to the downstream live-update layer.
// Implementations must preserve per-session ordering; delivery is
// at-least-once.
type Transport interface {
	Publish(sessionID string, n Notification)
}

// classifyOutcome is the result of an off-loop classification call,
// tagged with what triggered it.
type classifyOutcome struct {
	simple   bool
	answer   string
	followup bool // true when triggered by new_task_state
	text     string
}
