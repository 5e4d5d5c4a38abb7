package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rwalker-dev/foreman/internal/classify"
	"github.com/rwalker-dev/foreman/internal/manager"
	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/internal/session"
	"github.com/rwalker-dev/foreman/pkg/models"
)

type stubOrchestrator struct{}

func (stubOrchestrator) Decompose(_ context.Context, goal string) (*models.Task, error) {
	return &models.Task{ID: "root", Content: goal, Status: models.TaskStatusRunning}, nil
}
func (stubOrchestrator) AppendPass(context.Context, string) (*models.Task, error) {
	return &models.Task{ID: "root"}, nil
}
func (stubOrchestrator) AddLeaf(*models.Task) error   { return nil }
func (stubOrchestrator) UpdateTask(_, _ string) error { return nil }
func (stubOrchestrator) RemoveTask(string) error      { return nil }
func (stubOrchestrator) SkipTask(string) error        { return nil }
func (stubOrchestrator) AssignTask(_, _ string) error { return nil }
func (stubOrchestrator) CompleteTask(_, _ string) error { return nil }
func (stubOrchestrator) Tree() *models.Task             { return &models.Task{ID: "root"} }
func (stubOrchestrator) Pause()                         {}
func (stubOrchestrator) Resume()                      {}
func (stubOrchestrator) Stop() error                  { return nil }
func (stubOrchestrator) Kill()                        {}

type fixture struct {
	ts      *httptest.Server
	manager *manager.Manager
	hub     *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{}
	f.hub = NewHub(func(sessionID string) {
		_ = f.manager.Dispatch(sessionID, session.Event{Type: session.EventClientDisconnect})
	})
	f.manager = manager.New(manager.Config{
		Classifier: classify.ClassifierFunc(func(context.Context, string) (classify.Result, error) {
			return classify.Result{Complexity: classify.Complex}, nil
		}),
		Factory:   func(string) session.Orchestrator { return stubOrchestrator{} },
		Pool:      respool.NewManager(),
		Transport: f.hub,
	})

	srv := New(Config{Addr: "127.0.0.1:0", Manager: f.manager, Hub: f.hub})
	f.ts = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		f.ts.Close()
		f.manager.StopAll()
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	resp := f.post(t, "/sessions", map[string]string{"goal": "build a website"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.ID
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestServer_Healthz(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestServer_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	resp, err := http.Get(f.ts.URL + "/sessions/" + id)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["goal"] != "build a website" {
		t.Errorf("unexpected session body %v", body)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/sessions/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}

	// A stopped session is gone.
	resp, err = http.Get(f.ts.URL + "/sessions/" + id)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after stop, got %d", resp.StatusCode)
	}
}

func TestServer_CreateSessionRequiresGoal(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sessions", map[string]string{"goal": "   "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for blank goal, got %d", resp.StatusCode)
	}
}

func TestServer_PostEvent(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	resp := f.post(t, "/sessions/"+id+"/events", session.Event{Type: session.EventStart})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("post event status %d", resp.StatusCode)
	}

	state, err := f.manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for state.Status() != models.SessionStatusRunning {
		select {
		case <-deadline:
			t.Fatalf("session never started, status %q", state.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestServer_PostEventRejectsReservedTags(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	resp := f.post(t, "/sessions/"+id+"/events", map[string]string{"type": "_decomposed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for reserved tag, got %d", resp.StatusCode)
	}
}

func TestServer_PostEventUnknownSession(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sessions/sess-ghost/events", session.Event{Type: session.EventStart})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_ApprovalFlow(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	state, err := f.manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan models.Decision, 1)
	go func() {
		d, _ := state.Approvals().RequestApproval(state.Context(), "dev", "make deploy")
		got <- d
	}()

	// The request shows up in the aggregate listing.
	var requestID string
	deadline := time.After(2 * time.Second)
	for requestID == "" {
		resp, err := http.Get(f.ts.URL + "/approvals")
		if err != nil {
			t.Fatal(err)
		}
		body := decodeBody[struct {
			Approvals []manager.PendingApproval `json:"approvals"`
		}](t, resp)
		if len(body.Approvals) > 0 {
			requestID = body.Approvals[0].ID
			if body.Approvals[0].SessionID != id {
				t.Fatalf("approval tagged with wrong session %q", body.Approvals[0].SessionID)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("approval never listed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	resp := f.post(t, fmt.Sprintf("/sessions/%s/approvals/%s", id, requestID), map[string]string{"decision": "approve"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status %d", resp.StatusCode)
	}

	select {
	case d := <-got:
		if d != models.DecisionApprove {
			t.Errorf("unexpected decision %q", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never received decision")
	}

	// Second resolve conflicts.
	resp = f.post(t, fmt.Sprintf("/sessions/%s/approvals/%s", id, requestID), map[string]string{"decision": "approve"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 on double resolve, got %d", resp.StatusCode)
	}
}

func TestServer_AutoApprove(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	resp := f.post(t, "/sessions/"+id+"/autoapprove", map[string]any{"worker": "dev", "enabled": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("autoapprove status %d", resp.StatusCode)
	}

	state, err := f.manager.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Approvals().AutoApproved("dev") {
		t.Error("auto-approve flag not applied")
	}
}

func TestServer_WebsocketReceivesNotifications(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/sessions/" + id + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Wait for the subscription to register before emitting.
	deadline := time.After(2 * time.Second)
	for f.hub.SubscriberCount(id) == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(time.Millisecond):
		}
	}

	resp := f.post(t, "/sessions/"+id+"/events", session.Event{Type: session.EventNotice, Content: "hello"})
	resp.Body.Close()

	for {
		var n session.Notification
		if err := wsjson.Read(ctx, conn, &n); err != nil {
			t.Fatalf("reading notification: %v", err)
		}
		if n.Type == session.NoticeNotice {
			if n.Content != "hello" || n.SessionID != id {
				t.Errorf("unexpected notification %+v", n)
			}
			return
		}
	}
}

func TestServer_OwnerDisconnectStopsSession(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/sessions/" + id + "/ws?owner=true"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for f.hub.SubscriberCount(id) == 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber never registered")
		case <-time.After(time.Millisecond):
		}
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	// The owner's disconnect implicitly stops the session.
	deadline = time.After(2 * time.Second)
	for {
		if _, err := f.manager.Get(id); err != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session survived owner disconnect")
		case <-time.After(time.Millisecond):
		}
	}
}
