// Package registry maps backend ids to the services registered under one
// API.
package registry

import (
	"sync"

	"golang.org/x/exp/slices"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

// Registry holds the services of one API. Lookups and listing are safe
// for concurrent use with registration. List preserves registration
// order.
type Registry[S service.Service] struct {
	mu    sync.RWMutex
	byID  map[string]S
	order []string
}

// New returns an empty registry.
func New[S service.Service]() *Registry[S] {
	return &Registry[S]{byID: make(map[string]S)}
}

// Register adds s. A taken id is a duplicate id error and leaves the
// existing registration untouched.
func (r *Registry[S]) Register(s S) error {
	id := s.ID()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return kerr.DuplicateID("registry.Register", id)
	}
	r.byID[id] = s
	r.order = append(r.order, id)
	return nil
}

// Unregister removes and returns the service with id.
func (r *Registry[S]) Unregister(id string) (S, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.byID[id]
	if !exists {
		return s, kerr.NotFound("registry.Unregister", id)
	}
	delete(r.byID, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return s, nil
}

// Get returns the service with id.
func (r *Registry[S]) Get(id string) (S, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.byID[id]
	if !exists {
		return s, kerr.NotFound("registry.Get", id)
	}
	return s, nil
}

// List returns all services in registration order.
func (r *Registry[S]) List() []S {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]S, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
