// Package registry tracks the set of active bridge sessions.
package registry

import (
	"sync"

	"github.com/square-key-labs/voicebridge/src/session"
)

// Registry is a concurrency-safe map of connection id to session. It is
// the single source of truth for active calls; a session exists here
// from TCP accept until teardown completes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
	}
}

// Put inserts or replaces the session for the given connection id.
func (r *Registry) Put(id string, s *session.Session) {
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

// Get returns the session for the given id, if present.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// Remove deletes the session for the given id and reports whether it was
// present. Teardown uses the return value as its run-once guard.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	return ok
}

// Snapshot returns the current session count and ids. The list is a copy
// taken under a read lock so monitoring never blocks relay traffic for
// longer than the copy itself.
func (r *Registry) Snapshot() (int, []string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	return len(ids), ids
}
