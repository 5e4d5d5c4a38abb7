// Package worker models the automated agents executing subtasks and ties
// their scarce-resource lifecycle to clone and destroy events.
package worker

import (
	"fmt"
	"sort"
	"sync"
)

// Worker is one named agent registered in a session.
type Worker struct {
	// Name is the worker's unique name within the session.
	Name string `json:"name"`
	// Toolkits are the toolkit names currently enabled on the worker.
	Toolkits []string `json:"toolkits,omitempty"`
	// Active indicates the worker is eligible for task assignment.
	Active bool `json:"active"`
}

// Registry tracks a session's workers. Safe for concurrent use, though in
// practice only the session loop mutates it.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Create registers a new worker. Creating an existing name is an error so
// two producers cannot silently merge distinct workers.
func (r *Registry) Create(name string, toolkits []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[name]; exists {
		return fmt.Errorf("worker %q already exists", name)
	}
	r.workers[name] = &Worker{Name: name, Toolkits: append([]string(nil), toolkits...), Active: true}
	return nil
}

// SetActive marks a worker eligible or ineligible for task assignment.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		return fmt.Errorf("worker %q not found", name)
	}
	w.Active = active
	return nil
}

// SetToolkit enables or disables a toolkit on a worker.
func (r *Registry) SetToolkit(name, toolkit string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[name]
	if !ok {
		return fmt.Errorf("worker %q not found", name)
	}
	for i, t := range w.Toolkits {
		if t == toolkit {
			if !enabled {
				w.Toolkits = append(w.Toolkits[:i], w.Toolkits[i+1:]...)
			}
			return nil
		}
	}
	if enabled {
		w.Toolkits = append(w.Toolkits, toolkit)
	}
	return nil
}

// Get returns a copy of the named worker.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[name]
	if !ok {
		return Worker{}, false
	}
	return copyWorker(w), true
}

// List returns all workers sorted by name.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, copyWorker(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyWorker(w *Worker) Worker {
	return Worker{
		Name:     w.Name,
		Toolkits: append([]string(nil), w.Toolkits...),
		Active:   w.Active,
	}
}
