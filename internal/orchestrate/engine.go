// Package orchestrate provides the built-in planning engine behind the
// session loop's orchestrator interface. It turns goals into subtask
// trees via a pluggable planner and tracks execution state for them;
// actually running leaves is the workers' business.
package orchestrate

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Planner produces an ordered list of subtask descriptions for a goal.
type Planner interface {
	Plan(ctx context.Context, goal string) ([]string, error)
}

// Engine implements the session orchestrator contract on top of a
// Planner. Tree-shaped state is guarded by a mutex because Decompose and
// AppendPass run off the session loop while mutations arrive on it.
type Engine struct {
	sessionID string
	planner   Planner

	mu      sync.Mutex
	tree    *models.Task
	paused  bool
	stopped bool
}

// NewEngine creates an Engine for one session.
func NewEngine(sessionID string, planner Planner) *Engine {
	return &Engine{sessionID: sessionID, planner: planner}
}

// Decompose plans the goal into a fresh subtask tree. The returned tree
// is a detached copy; the engine keeps the live one.
func (e *Engine) Decompose(ctx context.Context, goal string) (*models.Task, error) {
	steps, err := e.planner.Plan(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("plan goal: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner produced no subtasks")
	}

	root := &models.Task{
		ID:      "root-" + e.sessionID,
		Content: goal,
		Status:  models.TaskStatusRunning,
	}
	for _, step := range steps {
		root.Subtasks = append(root.Subtasks, &models.Task{
			ID:       newTaskID(),
			ParentID: root.ID,
			Content:  step,
			Status:   models.TaskStatusPending,
		})
	}

	e.mu.Lock()
	e.tree = root
	e.paused = false
	snapshot := root.Clone()
	e.mu.Unlock()
	return snapshot, nil
}

// AppendPass plans a follow-up and appends its subtasks to the live
// tree. The existing subtasks and their results stay untouched, and the
// returned tree is a detached copy.
func (e *Engine) AppendPass(ctx context.Context, followup string) (*models.Task, error) {
	e.mu.Lock()
	root := e.tree
	e.mu.Unlock()
	if root == nil {
		return nil, fmt.Errorf("no live tree to append to")
	}

	steps, err := e.planner.Plan(ctx, followup)
	if err != nil {
		return nil, fmt.Errorf("plan follow-up: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, step := range steps {
		e.tree.Subtasks = append(e.tree.Subtasks, &models.Task{
			ID:       newTaskID(),
			ParentID: e.tree.ID,
			Content:  step,
			Status:   models.TaskStatusPending,
		})
	}
	return e.tree.Clone(), nil
}

// AddLeaf inserts one subtask without planning. An unknown parent falls
// back to the root.
func (e *Engine) AddLeaf(task *models.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return fmt.Errorf("no live tree")
	}

	parent := e.tree
	if task.ParentID != "" {
		if found := e.tree.Find(task.ParentID); found != nil {
			parent = found
		}
	}
	task.ParentID = parent.ID
	parent.Subtasks = append(parent.Subtasks, task)
	return nil
}

// UpdateTask rewrites a subtask's content.
func (e *Engine) UpdateTask(taskID, content string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.find(taskID)
	if err != nil {
		return err
	}
	task.Content = content
	return nil
}

// RemoveTask deletes a subtask. The root cannot be removed.
func (e *Engine) RemoveTask(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return fmt.Errorf("no live tree")
	}
	if taskID == e.tree.ID {
		return fmt.Errorf("cannot remove the root task")
	}
	if !e.tree.Remove(taskID) {
		return fmt.Errorf("task %q not found", taskID)
	}
	return nil
}

// SkipTask marks a subtask skipped without executing it.
func (e *Engine) SkipTask(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.find(taskID)
	if err != nil {
		return err
	}
	task.Status = models.TaskStatusSkipped
	return nil
}

// CompleteTask records a finished subtask's result and marks it done.
func (e *Engine) CompleteTask(taskID, result string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.find(taskID)
	if err != nil {
		return err
	}
	task.Result = result
	task.Status = models.TaskStatusDone
	return nil
}

// Tree returns a detached snapshot of the live tree, nil before any
// decomposition.
func (e *Engine) Tree() *models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Clone()
}

// AssignTask routes a subtask to a named worker.
func (e *Engine) AssignTask(taskID, worker string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, err := e.find(taskID)
	if err != nil {
		return err
	}
	task.AssignedTo = worker
	return nil
}

// Pause suspends execution.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

// Resume continues a paused engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
}

// Paused reports whether the engine is suspended.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Stop shuts the engine down gracefully.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

// Kill force-stops the engine.
func (e *Engine) Kill() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

// Stopped reports whether the engine has been shut down.
func (e *Engine) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) find(taskID string) (*models.Task, error) {
	if e.tree == nil {
		return nil, fmt.Errorf("no live tree")
	}
	task := e.tree.Find(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	return task, nil
}

func newTaskID() string {
	return "task-" + uuid.New().String()[:8]
}
