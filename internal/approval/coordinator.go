// Package approval implements the per-session registry of pending human
// decisions. Workers block on RequestApproval until an operator resolves
// the request; resolution is exactly-once and auto-approval fans out to
// every sibling request from the same worker.
package approval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Request carries a worker's ask for human sign-off on a risky command.
type Request struct {
	// ID is the unique identifier for this request.
	ID string `json:"id"`
	// Worker is the name of the worker asking for approval.
	Worker string `json:"worker"`
	// Command is the payload the worker wants to run.
	Command string `json:"command"`
	// CreatedAt is when the request was registered.
	CreatedAt time.Time `json:"created_at"`
}

// entry is one pending request plus its single-resolution future.
type entry struct {
	req Request
	// ch is buffered with capacity 1 so Resolve never blocks. An entry is
	// removed from the registry before its channel is written, which makes
	// double resolution impossible.
	ch chan models.Decision
}

// Coordinator tracks pending approval requests for one session.
// RequestApproval and Resolve are safe to call from any goroutine.
type Coordinator struct {
	// pending maps request ID to its future.
	pending map[string]*entry
	// byWorker is a secondary index of pending IDs per worker name, so
	// fan-out resolution does not depend on string-prefix matching.
	byWorker map[string]map[string]*entry
	// autoApprove records workers the operator has waved through.
	autoApprove map[string]bool
	// notify publishes outbound approval_request notifications. May be nil.
	notify func(Request)
	// mu protects all maps.
	mu sync.Mutex
}

// NewCoordinator creates a Coordinator. notify is invoked once per queued
// request to surface it to the operator; nil disables notifications.
func NewCoordinator(notify func(Request)) *Coordinator {
	return &Coordinator{
		pending:     make(map[string]*entry),
		byWorker:    make(map[string]map[string]*entry),
		autoApprove: make(map[string]bool),
		notify:      notify,
	}
}

// newRequestID builds a request ID from the plain worker name.
// The worker name must be concatenated as-is: downstream code matches IDs
// by their "worker_" prefix, and a formatted representation of a worker
// type would silently change that prefix.
func newRequestID(worker string) string {
	return worker + "_" + uuid.New().String()[:8]
}

// RequestApproval blocks until the operator resolves the request or ctx is
// cancelled. If the worker is already auto-approved it returns immediately
// without queuing. Rejection is reported as a decision value, not an error;
// the error path is reserved for abandonment (session teardown).
func (c *Coordinator) RequestApproval(ctx context.Context, worker, command string) (models.Decision, error) {
	c.mu.Lock()
	if c.autoApprove[worker] {
		c.mu.Unlock()
		return models.DecisionAutoApprove, nil
	}

	e := &entry{
		req: Request{
			ID:        newRequestID(worker),
			Worker:    worker,
			Command:   command,
			CreatedAt: time.Now(),
		},
		ch: make(chan models.Decision, 1),
	}
	c.pending[e.req.ID] = e
	if c.byWorker[worker] == nil {
		c.byWorker[worker] = make(map[string]*entry)
	}
	c.byWorker[worker][e.req.ID] = e
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(e.req)
	}

	select {
	case decision := <-e.ch:
		// A sibling may have flipped auto-approve while we were waiting;
		// honor the flip over the individual decision.
		c.mu.Lock()
		auto := c.autoApprove[worker]
		c.mu.Unlock()
		if auto {
			return models.DecisionAutoApprove, nil
		}
		if !decision.Approved() {
			// Unrecognized decisions collapse to reject: fail closed.
			return models.DecisionReject, nil
		}
		return decision, nil

	case <-ctx.Done():
		c.abandon(e.req.ID)
		return models.DecisionReject, fmt.Errorf("approval %s abandoned: %w", e.req.ID, ctx.Err())
	}
}

// Resolve fulfills the future registered under id with the given decision.
// Returns false if the id is unknown (already resolved, abandoned, or
// foreign); that is a logged no-op, never an error. An auto_approve
// decision also marks the worker auto-approved and resolves all of its
// siblings.
func (c *Coordinator) Resolve(id string, decision models.Decision) bool {
	c.mu.Lock()
	e, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		log.Printf("[approval] resolve for unknown id %s ignored", id)
		return false
	}
	c.remove(e)

	var siblings []*entry
	if decision == models.DecisionAutoApprove {
		c.autoApprove[e.req.Worker] = true
		siblings = c.takeWorkerEntries(e.req.Worker)
	}
	c.mu.Unlock()

	e.ch <- decision
	for _, sib := range siblings {
		sib.ch <- decision
	}
	return true
}

// ResolveAllForWorker resolves every pending request for the given worker
// with the same decision, removing each from the registry. Returns the
// number of requests resolved.
func (c *Coordinator) ResolveAllForWorker(worker string, decision models.Decision) int {
	c.mu.Lock()
	entries := c.takeWorkerEntries(worker)
	c.mu.Unlock()

	for _, e := range entries {
		e.ch <- decision
	}
	return len(entries)
}

// SetAutoApprove sets or clears the auto-approve flag for a worker.
// Clearing it means the worker's next request queues a fresh pending entry.
func (c *Coordinator) SetAutoApprove(worker string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.autoApprove[worker] = true
	} else {
		delete(c.autoApprove, worker)
	}
}

// AutoApproved reports whether the worker is currently auto-approved.
func (c *Coordinator) AutoApproved(worker string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoApprove[worker]
}

// Pending returns a snapshot of all pending requests, oldest first.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := make([]Request, 0, len(c.pending))
	for _, e := range c.pending {
		reqs = append(reqs, e.req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs
}

// PendingCount returns the number of pending requests.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// AbandonAll drops every pending request without resolving it. This is the
// teardown path: waiters are woken by their own context cancellation, never
// by a forced decision. Each abandonment is logged for observability.
func (c *Coordinator) AbandonAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.pending {
		log.Printf("[approval] abandoning pending request %s (worker %s) on teardown", id, e.req.Worker)
	}
	c.pending = make(map[string]*entry)
	c.byWorker = make(map[string]map[string]*entry)
}

// abandon drops a single pending request, logging it.
func (c *Coordinator) abandon(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[id]
	if !ok {
		return
	}
	c.remove(e)
	log.Printf("[approval] abandoning pending request %s (worker %s): caller gone", id, e.req.Worker)
}

// remove deletes an entry from both indexes. Caller must hold mu.
func (c *Coordinator) remove(e *entry) {
	delete(c.pending, e.req.ID)
	if byID := c.byWorker[e.req.Worker]; byID != nil {
		delete(byID, e.req.ID)
		if len(byID) == 0 {
			delete(c.byWorker, e.req.Worker)
		}
	}
}

// takeWorkerEntries removes and returns all pending entries for a worker.
// Caller must hold mu.
func (c *Coordinator) takeWorkerEntries(worker string) []*entry {
	byID := c.byWorker[worker]
	if len(byID) == 0 {
		return nil
	}
	entries := make([]*entry, 0, len(byID))
	for _, e := range byID {
		delete(c.pending, e.req.ID)
		entries = append(entries, e)
	}
	delete(c.byWorker, worker)
	return entries
}
