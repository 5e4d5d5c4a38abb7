package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rwalker-dev/foreman/internal/classify"
	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/internal/session"
	"github.com/rwalker-dev/foreman/pkg/models"
)

type stubOrchestrator struct {
	mu    sync.Mutex
	stops int
}

func (s *stubOrchestrator) Decompose(_ context.Context, goal string) (*models.Task, error) {
	return &models.Task{ID: "root", Content: goal, Status: models.TaskStatusRunning}, nil
}
func (s *stubOrchestrator) AppendPass(_ context.Context, string2 string) (*models.Task, error) {
	return &models.Task{ID: "root"}, nil
}
func (s *stubOrchestrator) AddLeaf(*models.Task) error       { return nil }
func (s *stubOrchestrator) UpdateTask(_, _ string) error     { return nil }
func (s *stubOrchestrator) RemoveTask(string) error          { return nil }
func (s *stubOrchestrator) SkipTask(string) error            { return nil }
func (s *stubOrchestrator) AssignTask(_, _ string) error     { return nil }
func (s *stubOrchestrator) CompleteTask(_, _ string) error   { return nil }
func (s *stubOrchestrator) Tree() *models.Task               { return &models.Task{ID: "root"} }
func (s *stubOrchestrator) Pause()                           {}
func (s *stubOrchestrator) Resume()                          {}
func (s *stubOrchestrator) Stop() error                      { s.mu.Lock(); s.stops++; s.mu.Unlock(); return nil }
func (s *stubOrchestrator) Kill()                            {}

type nopTransport struct{}

func (nopTransport) Publish(string, session.Notification) {}

type recordingArchiver struct {
	mu      sync.Mutex
	records []models.SessionRecord
}

func (a *recordingArchiver) SaveSession(rec models.SessionRecord, _ []models.HistoryEntry) error {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
	return nil
}

func (a *recordingArchiver) saved() []models.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.SessionRecord, len(a.records))
	copy(out, a.records)
	return out
}

func alwaysComplex() classify.Classifier {
	return classify.ClassifierFunc(func(context.Context, string) (classify.Result, error) {
		return classify.Result{Complexity: classify.Complex}, nil
	})
}

func newTestManager(t *testing.T, archiver Archiver) *Manager {
	t.Helper()
	m := New(Config{
		Classifier: alwaysComplex(),
		Factory:    func(string) session.Orchestrator { return &stubOrchestrator{} },
		Pool:       respool.NewManager(),
		Transport:  nopTransport{},
		Archiver:   archiver,
	})
	t.Cleanup(m.StopAll)
	return m
}

func waitCount(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for m.Count() != want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d live sessions, have %d", want, m.Count())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManager_CreateAndDispatch(t *testing.T) {
	m := newTestManager(t, nil)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 live session, got %d", m.Count())
	}

	if err := m.Dispatch(id, session.Event{Type: session.EventStart}); err != nil {
		t.Fatal(err)
	}
	s, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for s.Status() != models.SessionStatusRunning {
		select {
		case <-deadline:
			t.Fatalf("session never reached running, status %q", s.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManager_StoppedSessionLooksNonexistent(t *testing.T) {
	m := newTestManager(t, nil)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(id); err != nil {
		t.Fatal(err)
	}
	waitCount(t, m, 0)

	if _, err := m.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after stop, got %v", err)
	}
	if err := m.Dispatch(id, session.Event{Type: session.EventPause}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on dispatch, got %v", err)
	}
}

func TestManager_StopUnknownSession(t *testing.T) {
	m := newTestManager(t, nil)
	if err := m.Stop("sess-ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ArchivesOnTermination(t *testing.T) {
	archiver := &recordingArchiver{}
	m := newTestManager(t, archiver)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(id); err != nil {
		t.Fatal(err)
	}
	waitCount(t, m, 0)

	deadline := time.After(2 * time.Second)
	for len(archiver.saved()) == 0 {
		select {
		case <-deadline:
			t.Fatal("session never archived")
		case <-time.After(time.Millisecond):
		}
	}
	rec := archiver.saved()[0]
	if rec.ID != id || rec.Status != models.SessionStatusStopped {
		t.Errorf("unexpected archived record %+v", rec)
	}
}

func TestManager_ResolveApproval(t *testing.T) {
	m := newTestManager(t, nil)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan models.Decision, 1)
	go func() {
		d, _ := s.Approvals().RequestApproval(s.Context(), "dev", "make deploy")
		got <- d
	}()

	deadline := time.After(2 * time.Second)
	for len(m.PendingApprovals()) == 0 {
		select {
		case <-deadline:
			t.Fatal("approval never surfaced")
		case <-time.After(time.Millisecond):
		}
	}
	pending := m.PendingApprovals()
	if pending[0].SessionID != id || pending[0].Worker != "dev" {
		t.Fatalf("unexpected pending entry %+v", pending[0])
	}

	if err := m.ResolveApproval(id, pending[0].ID, models.DecisionApprove); err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-got:
		if d != models.DecisionApprove {
			t.Errorf("unexpected decision %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never received the decision")
	}

	if err := m.ResolveApproval(id, pending[0].ID, models.DecisionApprove); err == nil {
		t.Error("second resolve of the same request must fail")
	}
	if err := m.ResolveApproval("sess-ghost", "x", models.DecisionApprove); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_PendingApprovalsSorted(t *testing.T) {
	m := newTestManager(t, nil)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Get(id)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		cmd := fmt.Sprintf("cmd-%d", i)
		go s.Approvals().RequestApproval(s.Context(), "dev", cmd)
	}
	deadline := time.After(2 * time.Second)
	for len(m.PendingApprovals()) < 3 {
		select {
		case <-deadline:
			t.Fatal("approvals never all surfaced")
		case <-time.After(time.Millisecond):
		}
	}
	pending := m.PendingApprovals()
	for i := 1; i < len(pending); i++ {
		if pending[i-1].ID > pending[i].ID {
			t.Fatalf("pending approvals not sorted: %v before %v", pending[i-1].ID, pending[i].ID)
		}
	}
}

func TestManager_StopAll(t *testing.T) {
	m := newTestManager(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := m.Create(fmt.Sprintf("goal %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	waitCount(t, m, 3)

	m.StopAll()
	waitCount(t, m, 0)
}

func TestManager_ListSummaries(t *testing.T) {
	m := newTestManager(t, nil)

	id, err := m.Create("build a website")
	if err != nil {
		t.Fatal(err)
	}
	list := m.List()
	if len(list) != 1 {
		t.Fatalf("expected one summary, got %d", len(list))
	}
	if list[0].ID != id || list[0].Goal != "build a website" {
		t.Errorf("unexpected summary %+v", list[0])
	}
	if list[0].Status != models.SessionStatusInit {
		t.Errorf("fresh session should be init, got %q", list[0].Status)
	}
}
