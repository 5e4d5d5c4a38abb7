// Package manager owns the registry of live sessions: it creates them,
// routes inbound events and approval decisions to them, and archives
// them when they terminate.
package manager

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rwalker-dev/foreman/internal/approval"
	"github.com/rwalker-dev/foreman/internal/classify"
	"github.com/rwalker-dev/foreman/internal/logging"
	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/internal/session"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// ErrSessionNotFound is returned for an unknown or already-terminated
// session ID. A stopped session is indistinguishable from one that never
// existed.
var ErrSessionNotFound = errors.New("session not found")

// Archiver persists a terminated session's record and history.
type Archiver interface {
	SaveSession(rec models.SessionRecord, history []models.HistoryEntry) error
}

// Config contains configuration options for the Manager.
type Config struct {
	// Classifier decides simple vs complex requests. Required.
	Classifier classify.Classifier
	// Factory creates a session's orchestrator on demand. Required.
	Factory session.OrchestratorFactory
	// Pool is the shared resource pool all sessions draw from. Required.
	Pool *respool.Manager
	// Inventory supplies resource candidates. Nil means no resources.
	Inventory *respool.Inventory
	// Transport receives outbound notifications. Required.
	Transport session.Transport
	// Archiver persists terminated sessions. Nil disables archiving.
	Archiver Archiver
	// DataDir is where per-session debug logs land. Empty disables them.
	DataDir string
	// QueueSize and HistoryLimit override the session defaults when
	// non-zero.
	QueueSize    int
	HistoryLimit int
}

// Manager manages multiple concurrent sessions.
type Manager struct {
	cfg Config

	// sessions tracks live sessions by ID. Entries are removed when a
	// session's loop terminates.
	sessions map[string]*managed
	mu       sync.RWMutex
}

type managed struct {
	state *session.State
	loop  *session.Loop
}

// PendingApproval is one suspended approval request, tagged with its
// owning session.
type PendingApproval struct {
	SessionID string `json:"session_id"`
	approval.Request
}

// SessionSummary is the manager's view of one live session.
type SessionSummary struct {
	ID        string               `json:"id"`
	Goal      string               `json:"goal"`
	Status    models.SessionStatus `json:"status"`
	StartedAt time.Time            `json:"started_at"`
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*managed),
	}
}

// Create starts a new session for the given goal and returns its ID.
func (m *Manager) Create(goal string) (string, error) {
	if m.cfg.Factory == nil {
		return "", fmt.Errorf("orchestrator factory is required")
	}
	id := "sess-" + uuid.New().String()[:8]

	var resources []models.Resource
	if m.cfg.Inventory != nil {
		resources = m.cfg.Inventory.Resources()
	}

	state := session.NewState(session.Config{
		ID:           id,
		Goal:         goal,
		QueueSize:    m.cfg.QueueSize,
		HistoryLimit: m.cfg.HistoryLimit,
		Resources:    resources,
		Pool:         m.cfg.Pool,
		Transport:    m.cfg.Transport,
	})

	var logger *logging.DebugLogger
	if m.cfg.DataDir != "" {
		logger = logging.ForSession(m.cfg.DataDir, id)
	}

	loop := session.NewLoop(session.LoopConfig{
		State:      state,
		Classifier: m.cfg.Classifier,
		Factory:    m.cfg.Factory,
		Logger:     logger,
		OnTerminal: m.onTerminal,
	})

	m.mu.Lock()
	m.sessions[id] = &managed{state: state, loop: loop}
	m.mu.Unlock()

	go loop.Run()
	return id, nil
}

// onTerminal archives the session and drops it from the registry. Runs
// on the session's loop goroutine after teardown.
func (m *Manager) onTerminal(s *session.State) {
	if m.cfg.Archiver != nil {
		if err := m.cfg.Archiver.SaveSession(s.Record(), s.History()); err != nil {
			log.Printf("[manager] archiving session %s: %v", s.ID(), err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
}

// Get returns the named session's state.
func (m *Manager) Get(id string) (*session.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ms.state, nil
}

// Dispatch routes an inbound event to its session's queue.
func (m *Manager) Dispatch(id string, ev session.Event) error {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	if err := ms.state.Enqueue(ev); err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// ResolveApproval delivers an operator decision to a session's pending
// approval request.
func (m *Manager) ResolveApproval(sessionID, requestID string, decision models.Decision) error {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	if !ms.state.Approvals().Resolve(requestID, decision) {
		return fmt.Errorf("approval request %q not pending", requestID)
	}
	return nil
}

// SetAutoApprove flips a worker's auto-approve flag in one session.
func (m *Manager) SetAutoApprove(sessionID, worker string, on bool) error {
	m.mu.RLock()
	ms, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	ms.state.Approvals().SetAutoApprove(worker, on)
	return nil
}

// PendingApprovals aggregates pending approval requests across all live
// sessions, sorted by session then request ID.
func (m *Manager) PendingApprovals() []PendingApproval {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []PendingApproval
	for id, ms := range m.sessions {
		for _, req := range ms.state.Approvals().Pending() {
			out = append(out, PendingApproval{SessionID: id, Request: req})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// List returns summaries of all live sessions sorted by start time.
func (m *Manager) List() []SessionSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionSummary, 0, len(m.sessions))
	for id, ms := range m.sessions {
		out = append(out, SessionSummary{
			ID:        id,
			Goal:      ms.state.Goal(),
			Status:    ms.state.Status(),
			StartedAt: ms.state.StartedAt(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop terminates one session and waits for its teardown to finish.
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	// A queue already closed to producers means teardown is in flight;
	// waiting on Done below still synchronizes with it.
	_ = ms.state.Enqueue(session.Event{Type: session.EventStop})
	<-ms.loop.Done()
	return nil
}

// StopAll terminates every live session and waits for all teardowns.
func (m *Manager) StopAll() {
	m.mu.RLock()
	live := make([]*managed, 0, len(m.sessions))
	for _, ms := range m.sessions {
		live = append(live, ms)
	}
	m.mu.RUnlock()

	for _, ms := range live {
		_ = ms.state.Enqueue(session.Event{Type: session.EventStop})
	}
	for _, ms := range live {
		<-ms.loop.Done()
	}
}
