package session

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/rwalker-dev/foreman/internal/classify"
	"github.com/rwalker-dev/foreman/internal/logging"
	"github.com/rwalker-dev/foreman/internal/worker"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// Loop is the session's single event consumer. It drains the queue,
// mutates session state, and sequences the orchestrator's lifecycle.
// Events are processed to completion one at a time, so state mutation
// never interleaves even though producers push concurrently.
type Loop struct {
	state      *State
	classifier classify.Classifier
	factory    OrchestratorFactory
	logger     *logging.DebugLogger

	// orch is created lazily on the first complex request. Nil until then.
	orch Orchestrator

	// clones holds the live worker clone per agent name. Loop-owned.
	clones map[string]*worker.Clone

	// onTerminal is invoked once after teardown completes, for archiving.
	onTerminal func(*State)

	// done is closed when Run returns.
	done chan struct{}
}

// LoopConfig carries the collaborators a Loop drives.
type LoopConfig struct {
	// State is the session state the loop owns. Required.
	State *State
	// Classifier decides simple vs complex requests. Required.
	Classifier classify.Classifier
	// Factory creates the orchestrator on demand. Required.
	Factory OrchestratorFactory
	// Logger receives the per-session debug trace. Nil disables tracing.
	Logger *logging.DebugLogger
	// OnTerminal runs after teardown, e.g. to archive the session.
	OnTerminal func(*State)
}

// NewLoop creates a Loop. Call Run on its own goroutine.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		state:      cfg.State,
		classifier: cfg.Classifier,
		factory:    cfg.Factory,
		logger:     cfg.Logger,
		onTerminal: cfg.OnTerminal,
		clones:     make(map[string]*worker.Clone),
		done:       make(chan struct{}),
	}
}

// Done is closed when the loop has terminated and teardown has finished.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run consumes events until a terminal transition. It never terminates
// silently: every exit path emits a done or stopped notification first.
func (l *Loop) Run() {
	defer close(l.done)

	s := l.state
	for {
		select {
		case <-s.ctx.Done():
			// External cancellation, e.g. manager shutdown.
			l.teardown(models.SessionStatusStopped, true)
			return
		case ev := <-s.events:
			if terminal := l.handle(ev); terminal {
				return
			}
		}
	}
}

// handle processes one event. Returns true for terminal transitions.
// Any panic while processing is caught, logged, and surfaced as a generic
// error notification; the loop keeps consuming subsequent events.
func (l *Loop) handle(ev Event) (terminal bool) {
	s := l.state
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session %s] panic handling %s: %v", s.id, ev.Type, r)
			s.emit(Notification{Type: NoticeError, Content: fmt.Sprintf("internal error handling %s", ev.Type)})
			terminal = false
		}
	}()

	l.logger.Log("event %s (task=%s agent=%s)", ev.Type, ev.TaskID, ev.Agent)

	switch ev.Type {
	case EventStart:
		l.handleStart(ev)

	case eventClassified:
		l.handleClassified(ev)

	case eventDecomposed:
		// The published tree is a private snapshot; the orchestrator's
		// live tree is never shared with readers or the transport.
		s.setTree(ev.task.Clone())
		s.setStatus(models.SessionStatusRunning)
		if l.orch != nil {
			l.orch.Resume()
		}
		s.emit(Notification{Type: NoticeTaskTree, Task: s.Tree()})
		s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusRunning)})

	case eventDecomposeFailed:
		// Generic provider/runtime error: non-resumable, force-stop the
		// orchestrator. The loop itself keeps consuming.
		log.Printf("[session %s] decomposition failed: %v", s.id, ev.err)
		if l.orch != nil {
			l.orch.Kill()
			l.orch = nil
		}
		s.setStatus(models.SessionStatusInit)
		s.emit(Notification{Type: NoticeError, Content: fmt.Sprintf("decomposition failed: %v", ev.err)})

	case EventUpdateTask:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			return o.UpdateTask(ev.TaskID, ev.Content)
		})

	case EventAddTask:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			return o.AddLeaf(&models.Task{
				ID:       newTaskID(),
				ParentID: ev.TaskID,
				Content:  ev.Content,
				Status:   models.TaskStatusPending,
			})
		})

	case EventRemoveTask:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			return o.RemoveTask(ev.TaskID)
		})

	case EventSkipTask:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			return o.SkipTask(ev.TaskID)
		})

	case EventAssignTask:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			return o.AssignTask(ev.TaskID, ev.Agent)
		})

	case EventTaskState:
		l.archiveTask(ev)
		if root := s.rootTaskID(); root != "" && ev.TaskID == root {
			// Root completion: the session's goal is done.
			l.teardown(models.SessionStatusDone, true)
			return true
		}

	case EventNewTaskState:
		l.archiveTask(ev)
		if l.orch != nil {
			l.orch.Pause()
			s.setStatus(models.SessionStatusPaused)
		}
		followup := ev.Content
		s.TrackBackground("classify-followup", func(ctx context.Context) {
			res, err := l.classifier.Classify(ctx, followup)
			if err != nil {
				s.Enqueue(Event{Type: eventDecomposeFailed, err: err})
				return
			}
			s.Enqueue(Event{Type: eventFollowupResolved, classification: &classifyOutcome{
				simple:   res.Complexity == classify.Simple,
				answer:   res.Answer,
				followup: true,
				text:     followup,
			}})
		})

	case eventFollowupResolved:
		l.handleFollowupResolved(ev)

	case EventPause:
		if l.orch != nil {
			l.orch.Pause()
			s.setStatus(models.SessionStatusPaused)
			s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusPaused)})
		}

	case EventResume:
		if l.orch != nil {
			l.orch.Resume()
			s.setStatus(models.SessionStatusRunning)
			s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusRunning)})
		}

	case EventBudgetNotEnough:
		// Resumable: pause, never stop, and use the dedicated notification
		// so clients can distinguish it from generic errors.
		if l.orch != nil {
			l.orch.Pause()
		}
		s.setStatus(models.SessionStatusPaused)
		s.emit(Notification{Type: NoticeBudgetNotEnough, Content: ev.Content})

	case EventSupplement:
		l.withOrchestrator(ev, func(o Orchestrator) error {
			err := o.AddLeaf(&models.Task{
				ID:       newTaskID(),
				ParentID: ev.TaskID,
				Content:  ev.Content,
				Status:   models.TaskStatusPending,
			})
			if err != nil {
				return err
			}
			o.Resume()
			s.setStatus(models.SessionStatusRunning)
			return nil
		})

	case EventCreateAgent:
		if err := s.workers.Create(ev.Agent, nil); err != nil {
			s.emit(Notification{Type: NoticeError, Content: err.Error()})
			return false
		}
		l.cloneWorker(ev.Agent)
		s.emit(Notification{Type: NoticeNotice, Content: "agent created: " + ev.Agent})

	case EventActivateAgent, EventDeactivateAgent:
		active := ev.Type == EventActivateAgent
		if err := s.workers.SetActive(ev.Agent, active); err != nil {
			s.emit(Notification{Type: NoticeError, Content: err.Error()})
			return false
		}
		if active {
			l.cloneWorker(ev.Agent)
		} else if clone := l.clones[ev.Agent]; clone != nil {
			// A deactivated agent gives its resource back immediately.
			clone.Destroy()
			delete(l.clones, ev.Agent)
		}

	case EventActivateToolkit, EventDeactivateToolkit:
		enabled := ev.Type == EventActivateToolkit
		if err := s.workers.SetToolkit(ev.Agent, ev.Toolkit, enabled); err != nil {
			s.emit(Notification{Type: NoticeError, Content: err.Error()})
		}

	case EventWriteFile:
		s.AppendHistory("system", "wrote file: "+ev.Content)
		s.emit(Notification{Type: NoticeNotice, Content: "wrote file: " + ev.Content})

	case EventAsk:
		s.emit(Notification{Type: NoticeAsk, Content: ev.Content, Worker: ev.Agent})

	case EventNotice:
		s.emit(Notification{Type: NoticeNotice, Content: ev.Content, Worker: ev.Agent})

	case EventTerminal:
		s.emit(Notification{Type: NoticeTerminal, Content: ev.Content, Worker: ev.Agent})

	case EventSearchMCP:
		s.emit(Notification{Type: NoticeNotice, Content: "toolkit search: " + ev.Content})

	case EventInstallMCP:
		s.AppendHistory("system", "installed toolkit: "+ev.Content)
		s.emit(Notification{Type: NoticeNotice, Content: "installed toolkit: " + ev.Content})

	case EventStop:
		l.teardown(models.SessionStatusStopped, true)
		return true

	case EventClientDisconnect:
		log.Printf("[session %s] owning client disconnected, stopping", s.id)
		l.teardown(models.SessionStatusStopped, true)
		return true

	default:
		// Unknown tags are logged and skipped, never fatal.
		log.Printf("[session %s] ignoring unknown event tag %q", s.id, ev.Type)
	}
	return false
}

// handleStart begins work on the goal, or resumes if work is in flight.
func (l *Loop) handleStart(ev Event) {
	s := l.state

	switch s.Status() {
	case models.SessionStatusRunning:
		// Idempotent resume, never a second decomposition.
		if l.orch != nil {
			l.orch.Resume()
		}
		s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusRunning)})
		return
	case models.SessionStatusPaused:
		if l.orch != nil {
			l.orch.Resume()
		}
		s.setStatus(models.SessionStatusRunning)
		s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusRunning)})
		return
	case models.SessionStatusDecomposing:
		log.Printf("[session %s] start ignored: decomposition in flight", s.id)
		return
	}

	if s.HistoryExceeded() {
		s.emit(Notification{Type: NoticeContextTooLong, Content: "conversation history exceeds the configured ceiling; start a new session"})
		return
	}

	goal := ev.Content
	if goal == "" {
		goal = s.goal
	}
	s.AppendHistory("user", goal)
	s.setStatus(models.SessionStatusDecomposing)

	s.TrackBackground("classify", func(ctx context.Context) {
		res, err := l.classifier.Classify(ctx, goal)
		if err != nil {
			s.Enqueue(Event{Type: eventDecomposeFailed, err: err})
			return
		}
		s.Enqueue(Event{Type: eventClassified, classification: &classifyOutcome{
			simple: res.Complexity == classify.Simple,
			answer: res.Answer,
			text:   goal,
		}})
	})
}

// handleClassified acts on the initial classification verdict.
func (l *Loop) handleClassified(ev Event) {
	s := l.state
	res := ev.classification

	if res.simple {
		// Answer directly and stay idle: no orchestrator is created for
		// simple requests.
		s.AppendHistory("system", res.answer)
		s.setStatus(models.SessionStatusInit)
		s.emit(Notification{Type: NoticeAnswer, Content: res.answer})
		return
	}

	if l.orch == nil {
		l.orch = l.factory(s.id)
	}
	orch := l.orch
	goal := res.text
	s.TrackBackground("decompose", func(ctx context.Context) {
		tree, err := orch.Decompose(ctx, goal)
		if err != nil {
			s.Enqueue(Event{Type: eventDecomposeFailed, err: err})
			return
		}
		s.Enqueue(Event{Type: eventDecomposed, task: tree})
	})
}

// handleFollowupResolved acts on a follow-up classification verdict.
func (l *Loop) handleFollowupResolved(ev Event) {
	s := l.state
	res := ev.classification

	if res.simple {
		// Answer and resume without a new decomposition pass.
		s.AppendHistory("system", res.answer)
		s.emit(Notification{Type: NoticeAnswer, Content: res.answer})
		if l.orch != nil {
			l.orch.Resume()
			s.setStatus(models.SessionStatusRunning)
			s.emit(Notification{Type: NoticeStatus, Content: string(models.SessionStatusRunning)})
		}
		return
	}

	if s.HistoryExceeded() {
		// Refuse the new pass; the existing tree may still finish.
		s.emit(Notification{Type: NoticeContextTooLong, Content: "conversation history exceeds the configured ceiling; follow-up decomposition refused"})
		if l.orch != nil {
			l.orch.Resume()
			s.setStatus(models.SessionStatusRunning)
		}
		return
	}

	if l.orch == nil {
		s.emit(Notification{Type: NoticeError, Content: "no orchestrator for follow-up"})
		return
	}
	orch := l.orch
	followup := res.text
	s.TrackBackground("append-pass", func(ctx context.Context) {
		tree, err := orch.AppendPass(ctx, followup)
		if err != nil {
			s.Enqueue(Event{Type: eventDecomposeFailed, err: err})
			return
		}
		s.Enqueue(Event{Type: eventDecomposed, task: tree})
	})
}

// archiveTask folds a finishing task's content and result into the
// conversation history, records the result on the live tree, and reports
// ceiling crossings.
func (l *Loop) archiveTask(ev Event) {
	s := l.state

	exceededBefore := s.HistoryExceeded()
	s.AppendHistory("worker", ev.Content+"\n"+ev.Result)
	if l.orch != nil {
		if err := l.orch.CompleteTask(ev.TaskID, ev.Result); err != nil {
			l.logger.Log("complete task %s: %v", ev.TaskID, err)
		}
		s.setTree(l.orch.Tree())
	}
	s.emit(Notification{Type: NoticeTaskArchived, Content: ev.TaskID})

	if !exceededBefore && s.HistoryExceeded() {
		s.emit(Notification{Type: NoticeContextTooLong, Content: "conversation history exceeds the configured ceiling; further decomposition disabled"})
	}
}

// cloneWorker stamps a clone for the named agent, leasing a resource from
// the shared pool. Idempotent per agent name.
func (l *Loop) cloneWorker(name string) {
	s := l.state
	if s.cloner == nil || l.clones[name] != nil {
		return
	}
	clone := s.cloner.Clone(worker.Template{Name: name}, worker.CloneOptions{})
	l.clones[name] = clone
	if clone.Resource != nil {
		l.logger.Log("worker %s leased resource %s", name, clone.Resource.ID)
	}
}

// withOrchestrator runs fn against the live orchestrator, emitting an
// error notification instead of crashing when none exists yet.
func (l *Loop) withOrchestrator(ev Event, fn func(Orchestrator) error) {
	s := l.state
	if l.orch == nil {
		s.emit(Notification{Type: NoticeError, Content: fmt.Sprintf("cannot handle %s: no task tree yet", ev.Type)})
		return
	}
	if err := fn(l.orch); err != nil {
		s.emit(Notification{Type: NoticeError, Content: err.Error()})
		return
	}
	s.setTree(l.orch.Tree())
	s.emit(Notification{Type: NoticeTaskTree, Task: s.Tree()})
}

// teardown is the shared exit routine for stop, disconnect, and
// completion. It stops the orchestrator, abandons pending approvals,
// cancels and awaits background tasks, and releases pool resources. Still
// pending approvals are abandoned, never force-resolved: their callers are
// woken by the session context and no caller can observe a result after
// its session is gone.
func (l *Loop) teardown(final models.SessionStatus, graceful bool) {
	s := l.state

	if l.orch != nil {
		if graceful {
			if err := l.orch.Stop(); err != nil {
				log.Printf("[session %s] orchestrator stop: %v", s.id, err)
			}
		} else {
			l.orch.Kill()
		}
		l.orch = nil
	}

	s.approvals.AbandonAll()
	s.cancel()
	s.wg.Wait()
	for _, clone := range l.clones {
		clone.Destroy()
	}
	l.clones = nil
	if s.pool != nil {
		if released := s.pool.ReleaseAll(s.id + ":"); released > 0 {
			log.Printf("[session %s] released %d pool resources on teardown", s.id, released)
		}
	}

	s.setStatus(final)
	if final == models.SessionStatusDone {
		s.emit(Notification{Type: NoticeDone})
	} else {
		s.emit(Notification{Type: NoticeStopped})
	}
	l.logger.Log("session terminated with status %s", final)
	l.logger.Close()

	if l.onTerminal != nil {
		l.onTerminal(s)
	}
}

// newTaskID generates an identifier for operator-inserted tasks.
func newTaskID() string {
	return "task-" + uuid.New().String()[:8]
}
