package worker

import (
	"log"

	"github.com/google/uuid"

	"github.com/rwalker-dev/foreman/internal/respool"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// Template is the shared, immutable description a clone is stamped from.
// Resource assignment never mutates the template: the override travels in
// CloneOptions instead, so concurrent clones from the same template cannot
// race on shared state.
type Template struct {
	// Name is the worker name clones inherit.
	Name string
	// Toolkits are the toolkit names clones start with.
	Toolkits []string
}

// CloneOptions carries per-clone overrides.
type CloneOptions struct {
	// Resource pins the clone to a specific resource handle instead of
	// acquiring one from the pool. The caller keeps ownership.
	Resource *models.Resource
}

// Clone is one live copy of a worker template, holding at most one
// resource handle for its lifetime.
type Clone struct {
	// Worker is the clone's own mutable worker record.
	Worker Worker
	// Resource is the handle assigned to this clone, if any.
	Resource *models.Resource

	// holderID identifies this clone in the pool's ownership registry.
	// Empty when the resource was pinned by the caller.
	holderID string
	pool     *respool.Manager
}

// Cloner stamps out clones for one session, acquiring resources on clone
// and releasing them on destroy.
type Cloner struct {
	sessionID  string
	pool       *respool.Manager
	candidates []models.Resource
}

// NewCloner creates a Cloner for a session.
func NewCloner(sessionID string, pool *respool.Manager, candidates []models.Resource) *Cloner {
	return &Cloner{sessionID: sessionID, pool: pool, candidates: candidates}
}

// Clone creates a live copy of the template. Unless opts pins a resource,
// the clone acquires one from the pool under a holder ID of the form
// "sessionID:name-suffix", which lets session teardown reclaim every
// clone's resource by prefix.
func (c *Cloner) Clone(tmpl Template, opts CloneOptions) *Clone {
	clone := &Clone{
		Worker: Worker{
			Name:     tmpl.Name,
			Toolkits: append([]string(nil), tmpl.Toolkits...),
			Active:   true,
		},
		pool: c.pool,
	}

	if opts.Resource != nil {
		clone.Resource = opts.Resource
		return clone
	}

	clone.holderID = c.sessionID + ":" + tmpl.Name + "-" + uuid.New().String()[:8]
	clone.Resource = c.pool.Acquire(c.candidates, clone.holderID)
	if clone.Resource == nil {
		log.Printf("[worker] clone %s created without a resource: no candidates configured", clone.holderID)
	}
	return clone
}

// Destroy releases the clone's resource. A destroy from a superseded clone
// cannot free its successor's resource: release is owner-checked in the
// pool.
func (cl *Clone) Destroy() {
	if cl.Resource == nil || cl.holderID == "" {
		return
	}
	cl.pool.Release(cl.Resource.ID, cl.holderID)
	cl.Resource = nil
}
