package session

import (
	"context"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Orchestrator is the external collaborator that decomposes a goal into a
// subtask tree and executes it. The decomposition and scheduling algorithm
// is out of scope here; the loop only sequences its lifecycle.
//
// Decompose and AppendPass may block for a long time and are always called
// off the event loop. The remaining methods are expected to return quickly.
type Orchestrator interface {
	// Decompose breaks the goal into a subtask tree and begins execution.
	Decompose(ctx context.Context, goal string) (*models.Task, error)
	// AppendPass decomposes follow-up content and appends the resulting
	// subtasks to the live tree, then continues execution.
	AppendPass(ctx context.Context, followup string) (*models.Task, error)
	// AddLeaf appends a single leaf task to the live tree without a
	// decomposition pass.
	AddLeaf(task *models.Task) error
	// UpdateTask rewrites the content of a live subtask.
	UpdateTask(taskID, content string) error
	// RemoveTask deletes a subtask from the live tree.
	RemoveTask(taskID string) error
	// SkipTask marks a subtask skipped.
	SkipTask(taskID string) error
	// AssignTask assigns a subtask to a named worker.
	AssignTask(taskID, worker string) error
	// CompleteTask records a finished subtask's result on the live tree.
	CompleteTask(taskID, result string) error
	// Tree returns a detached snapshot of the live tree, nil before any
	// decomposition. Callers own the returned copy.
	Tree() *models.Task
	// Pause suspends execution after in-flight steps finish.
	Pause()
	// Resume continues execution after a pause.
	Resume()
	// Stop halts execution gracefully, letting in-flight steps finish.
	Stop() error
	// Kill halts execution immediately. Used for non-resumable errors.
	Kill()
}

// OrchestratorFactory creates an Orchestrator for a session once its goal
// is classified as complex. No orchestrator exists before that point.
type OrchestratorFactory func(sessionID string) Orchestrator
