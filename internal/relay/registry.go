package relay

import (
	"fmt"
	"sync"
)

// Registry is the set of connected sessions, indexed by display name and by
// id. Every operation holds one lock for the duration of the map update only.
type Registry struct {
	mu     sync.RWMutex
	order  []*Session
	byName map[string]*Session
	byID   map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Session),
		byID:   make(map[string]*Session),
	}
}

// Add inserts s under its display name. It never overwrites: a taken name
// yields a *DuplicateNameError and a taken id an error wrapping ErrDuplicateID.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[s.name]; exists {
		return &DuplicateNameError{Name: s.name}
	}
	if _, exists := r.byID[s.id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateID, s.id)
	}
	r.byName[s.name] = s
	r.byID[s.id] = s
	r.order = append(r.order, s)
	return nil
}

// Remove deletes the session registered under name. It is a no-op when the
// name is absent and reports whether anything was removed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byName[name]
	if !ok {
		return false
	}
	r.removeLocked(s)
	return true
}

// RemoveSession deletes s only if s itself, not a later session reusing its
// name, is registered.
func (r *Registry) RemoveSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName[s.name] != s {
		return false
	}
	r.removeLocked(s)
	return true
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.byName, s.name)
	delete(r.byID, s.id)
	for i, cur := range r.order {
		if cur == s {
			copy(r.order[i:], r.order[i+1:])
			r.order[len(r.order)-1] = nil
			r.order = r.order[:len(r.order)-1]
			break
		}
	}
}

// Find returns the session registered under name.
func (r *Registry) Find(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// FindByID returns the session with the given id.
func (r *Registry) FindByID(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Snapshot returns the registered sessions in registration order. The slice
// is a copy; callers iterate it without holding the lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns the registered display names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, s := range r.order {
		names = append(names, s.name)
	}
	return names
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.order
	r.order = nil
	r.byName = make(map[string]*Session)
	r.byID = make(map[string]*Session)
	return out
}
