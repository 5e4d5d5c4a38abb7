// Package respool manages ownership of scarce external resources, such as
// remote browser control endpoints, shared across dynamically cloned workers.
package respool

import (
	"log"
	"sync"

	"github.com/rwalker-dev/foreman/pkg/models"
)

// Manager tracks which holder owns which resource. Ownership lives in one
// central registry rather than per-resource state so acquire and release
// stay atomic under a single mutex. The registry is the only mutable
// structure shared across sessions.
type Manager struct {
	// owners maps resource ID to the holder that currently owns it.
	owners map[string]string
	// mu serializes all operations.
	mu sync.Mutex
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{owners: make(map[string]string)}
}

// Acquire returns the first candidate not currently owned, recording
// holderID as its owner. When every candidate is owned the pool is
// exhausted; rather than failing, the first candidate is returned unowned
// for degraded sharing: two holders drive one endpoint, which is slower
// but not fatal. Returns nil only when candidates is empty.
func (m *Manager) Acquire(candidates []models.Resource, holderID string) *models.Resource {
	if len(candidates) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range candidates {
		if _, owned := m.owners[candidates[i].ID]; !owned {
			m.owners[candidates[i].ID] = holderID
			res := candidates[i]
			return &res
		}
	}

	// Degraded sharing: ownership is not re-recorded, so the original
	// holder's release still works and the sharer's release is a no-op.
	shared := candidates[0]
	log.Printf("[respool] all %d resources owned, %s sharing %s (%s)",
		len(candidates), holderID, shared.ID, shared.Name)
	return &shared
}

// Release removes the ownership entry for resourceID only if holderID is
// the current owner. A release by anyone else is a no-op: a superseded
// clone must not free a resource it no longer owns.
func (m *Manager) Release(resourceID, holderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.owners[resourceID]; ok && owner == holderID {
		delete(m.owners, resourceID)
	}
}

// ReleaseAll frees every resource owned by holders whose ID matches the
// given prefix. Session teardown uses this to reclaim resources held by
// the session's clones without tracking them individually.
func (m *Manager) ReleaseAll(holderPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for resID, owner := range m.owners {
		if len(owner) >= len(holderPrefix) && owner[:len(holderPrefix)] == holderPrefix {
			delete(m.owners, resID)
			released++
		}
	}
	return released
}

// Owner returns the current owner of a resource, if any.
func (m *Manager) Owner(resourceID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[resourceID]
	return owner, ok
}

// OwnedCount returns the number of resources with a recorded owner.
func (m *Manager) OwnedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}
