package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rwalker-dev/foreman/internal/approval"
	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/internal/worker"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// ErrSessionStopped is returned when enqueueing to a session whose loop
// has terminated.
var ErrSessionStopped = errors.New("session stopped")

// DefaultQueueSize is the event queue capacity when none is configured.
const DefaultQueueSize = 64

// DefaultHistoryLimit is the conversation history ceiling in bytes when
// none is configured.
const DefaultHistoryLimit = 512 * 1024

// Config carries the construction parameters for a session's state.
type Config struct {
	// ID is the session's unique identifier.
	ID string
	// Goal is the operator-submitted goal text.
	Goal string
	// QueueSize is the event queue capacity. Zero selects DefaultQueueSize.
	QueueSize int
	// HistoryLimit is the history ceiling in bytes. Zero selects
	// DefaultHistoryLimit.
	HistoryLimit int
	// Resources are the candidate resource descriptors for worker clones.
	Resources []models.Resource
	// Pool is the shared resource pool manager.
	Pool *respool.Manager
	// Transport receives outbound notifications. Required.
	Transport Transport
}

// State is a session's mutable data. The event queue is multi-producer,
// single-consumer; status transitions and tree mutation happen only on the
// consuming loop. Everything documented as concurrency-safe below may be
// called from any goroutine.
type State struct {
	id   string
	goal string

	// events is the session queue. Producers send via Enqueue; only the
	// loop receives.
	events chan Event

	// ctx is cancelled at teardown; it bounds every background task and
	// every suspended approval wait.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks background tasks so teardown can await them.
	wg sync.WaitGroup

	// approvals is the session's pending-decision registry.
	approvals *approval.Coordinator
	// pool is the shared resource pool; resources are the candidates.
	pool      *respool.Manager
	resources []models.Resource
	// workers is the session's worker registry.
	workers *worker.Registry

	transport Transport

	// status is loop-owned; the mutex only guards cross-goroutine reads.
	statusMu sync.RWMutex
	status   models.SessionStatus

	// history is append-only for the session's lifetime.
	historyMu    sync.Mutex
	history      []models.HistoryEntry
	historyBytes int
	historyLimit int

	// tree is a detached snapshot of the current subtask tree, published
	// by the loop after every tree-changing operation. The orchestrator
	// keeps the live tree; nothing here aliases it.
	treeMu sync.RWMutex
	tree   *models.Task

	// cloner stamps worker clones for this session, leasing resources
	// from the shared pool. Nil when no pool is configured.
	cloner *worker.Cloner

	startedAt time.Time
}

// NewState creates a session's state. The approval coordinator is wired to
// emit approval_request notifications through the transport.
func NewState(cfg Config) *State {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &State{
		id:           cfg.ID,
		goal:         cfg.Goal,
		events:       make(chan Event, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		pool:         cfg.Pool,
		resources:    cfg.Resources,
		workers:      worker.NewRegistry(),
		transport:    cfg.Transport,
		status:       models.SessionStatusInit,
		historyLimit: cfg.HistoryLimit,
		startedAt:    time.Now(),
	}
	if cfg.Pool != nil {
		s.cloner = worker.NewCloner(cfg.ID, cfg.Pool, cfg.Resources)
	}
	s.approvals = approval.NewCoordinator(func(req approval.Request) {
		s.emit(Notification{
			Type:      NoticeApprovalRequest,
			Content:   req.Command,
			RequestID: req.ID,
			Worker:    req.Worker,
		})
	})
	return s
}

// ID returns the session's identifier.
func (s *State) ID() string { return s.id }

// Goal returns the operator-submitted goal.
func (s *State) Goal() string { return s.goal }

// StartedAt returns when the session was created.
func (s *State) StartedAt() time.Time { return s.startedAt }

// Approvals returns the session's approval coordinator.
func (s *State) Approvals() *approval.Coordinator { return s.approvals }

// Workers returns the session's worker registry.
func (s *State) Workers() *worker.Registry { return s.workers }

// Resources returns the candidate resource list for worker clones.
func (s *State) Resources() []models.Resource { return s.resources }

// Context returns the session's lifetime context. It is cancelled at
// teardown; approval waits and background tasks must be bound to it.
func (s *State) Context() context.Context { return s.ctx }

// Enqueue adds an event to the session queue. Safe from any goroutine.
// Blocks while the queue is full; returns ErrSessionStopped once the
// session has been torn down.
func (s *State) Enqueue(ev Event) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionStopped
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrSessionStopped
	}
}

// TrackBackground runs fn on its own goroutine under the session's
// context and registers it so teardown can cancel and await it. No work
// started on behalf of a session may outlive it silently.
func (s *State) TrackBackground(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[session %s] background task %s panicked: %v", s.id, name, r)
			}
		}()
		fn(s.ctx)
	}()
}

// Status returns the current lifecycle state. Safe from any goroutine.
func (s *State) Status() models.SessionStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// setStatus records a transition. Called only from the consuming loop.
func (s *State) setStatus(status models.SessionStatus) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
}

// AppendHistory appends one entry to the conversation history. History is
// append-only: nothing is ever truncated or rewritten.
func (s *State) AppendHistory(role, content string) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append(s.history, models.HistoryEntry{
		Role:    role,
		Content: content,
		At:      time.Now(),
	})
	s.historyBytes += len(role) + len(content)
}

// History returns a copy of the conversation history.
func (s *State) History() []models.HistoryEntry {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	out := make([]models.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryBytes returns the cumulative recorded history length.
func (s *State) HistoryBytes() int {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.historyBytes
}

// HistoryExceeded reports whether the history ceiling has been crossed.
// Once true, the loop refuses further decomposition until the session is
// replaced; it never silently truncates.
func (s *State) HistoryExceeded() bool {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.historyBytes > s.historyLimit
}

// Tree returns a deep copy of the last published subtask tree, nil
// before any decomposition. Safe from any goroutine; callers own the
// returned copy.
func (s *State) Tree() *models.Task {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	return s.tree.Clone()
}

// setTree publishes a tree snapshot. Called only from the consuming loop;
// the snapshot must not be aliased by the orchestrator afterwards.
func (s *State) setTree(t *models.Task) {
	s.treeMu.Lock()
	s.tree = t
	s.treeMu.Unlock()
}

// rootTaskID returns the published root's ID, empty when no tree exists.
func (s *State) rootTaskID() string {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	if s.tree == nil {
		return ""
	}
	return s.tree.ID
}

// emit publishes a notification with the session id and timestamp filled
// in. Notifications emitted while processing one event preserve their
// relative order because the transport is called synchronously.
func (s *State) emit(n Notification) {
	n.SessionID = s.id
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if s.transport != nil {
		s.transport.Publish(s.id, n)
	}
}

// Record builds the archivable summary of the session.
func (s *State) Record() models.SessionRecord {
	return models.SessionRecord{
		ID:           s.id,
		Goal:         s.goal,
		Status:       s.Status(),
		StartedAt:    s.startedAt,
		EndedAt:      time.Now(),
		HistoryBytes: s.HistoryBytes(),
	}
}
