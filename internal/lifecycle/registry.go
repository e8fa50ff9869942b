package lifecycle

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the live controllers by attempt id. Every attempt gets a
// fresh controller; nothing is reused across attempts.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	deps        Deps
}

// NewRegistry returns an empty registry that builds controllers with deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{controllers: make(map[string]*Controller), deps: deps}
}

// Create allocates a new idle controller under a fresh attempt id.
func (r *Registry) Create() *Controller {
	id := uuid.NewString()
	c := New(id, r.deps)
	r.mu.Lock()
	r.controllers[id] = c
	r.mu.Unlock()
	return c
}

// Get returns the controller for an attempt id.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[id]
	return c, ok
}

// Remove drops a controller from the registry. In-flight calls already
// holding the pointer finish normally.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.controllers, id)
	r.mu.Unlock()
}

// Len reports how many controllers are currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}
