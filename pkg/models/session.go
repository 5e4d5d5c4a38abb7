// Package models defines the core data types shared across Foreman.
package models

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	// SessionStatusInit indicates the session exists but has not started work.
	SessionStatusInit SessionStatus = "init"
	// SessionStatusDecomposing indicates the session is decomposing its goal into subtasks.
	SessionStatusDecomposing SessionStatus = "decomposing"
	// SessionStatusRunning indicates workers are executing subtasks.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusPaused indicates execution is temporarily suspended.
	SessionStatusPaused SessionStatus = "paused"
	// SessionStatusDone indicates the session completed its goal.
	SessionStatusDone SessionStatus = "done"
	// SessionStatusStopped indicates the session was stopped before completion.
	SessionStatusStopped SessionStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusInit, SessionStatusDecomposing, SessionStatusRunning,
		SessionStatusPaused, SessionStatusDone, SessionStatusStopped:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusDone || s == SessionStatusStopped
}

// SessionRecord is the archivable summary of a finished session.
type SessionRecord struct {
	// ID is the session's unique identifier.
	ID string `json:"id"`
	// Goal is the operator-submitted goal text.
	Goal string `json:"goal"`
	// Status is the final lifecycle state (done or stopped).
	Status SessionStatus `json:"status"`
	// StartedAt is when the session was created.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the session reached a terminal state.
	EndedAt time.Time `json:"ended_at"`
	// HistoryBytes is the cumulative recorded conversation length.
	HistoryBytes int `json:"history_bytes"`
}

// HistoryEntry is one append-only record in a session's conversation history.
type HistoryEntry struct {
	// Role identifies the author ("user", "worker", "system").
	Role string `json:"role"`
	// Content is the recorded text.
	Content string `json:"content"`
	// At is when the entry was appended.
	At time.Time `json:"at"`
}
