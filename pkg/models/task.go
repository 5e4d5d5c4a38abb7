package models

// TaskStatus represents the execution state of a subtask.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusDone indicates the task completed.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates the operator skipped the task.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusDone,
		TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Task is one node in a session's subtask tree.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the parent task, empty for roots.
	ParentID string `json:"parent_id,omitempty"`
	// Content describes the work to be done.
	Content string `json:"content"`
	// Result holds the task's output once it completes.
	Result string `json:"result,omitempty"`
	// Status is the current execution state.
	Status TaskStatus `json:"status"`
	// AssignedTo is the name of the worker executing this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Subtasks are the child nodes, in execution order.
	Subtasks []*Task `json:"subtasks,omitempty"`
}

// Clone returns a deep copy of the subtree rooted at t. Cloning a nil
// task returns nil.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	if len(t.Subtasks) > 0 {
		out.Subtasks = make([]*Task, len(t.Subtasks))
		for i, sub := range t.Subtasks {
			out.Subtasks[i] = sub.Clone()
		}
	}
	return &out
}

// Find returns the task with the given ID in this subtree, or nil.
func (t *Task) Find(id string) *Task {
	if t == nil {
		return nil
	}
	if t.ID == id {
		return t
	}
	for _, sub := range t.Subtasks {
		if found := sub.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Remove deletes the direct or transitive child with the given ID.
// Returns true if a node was removed. The root itself cannot be removed.
func (t *Task) Remove(id string) bool {
	if t == nil {
		return false
	}
	for i, sub := range t.Subtasks {
		if sub.ID == id {
			t.Subtasks = append(t.Subtasks[:i], t.Subtasks[i+1:]...)
			return true
		}
		if sub.Remove(id) {
			return true
		}
	}
	return false
}
