package session

import (
	"log/slog"
	"sync"
)

// Registry tracks live sessions by correlation id. Adding a session whose id
// is already present closes the resident entry first, so a reconnecting
// client never leaks a pipeline. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	session *Session
	closeFn func()
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Add registers a session together with the function that tears down its
// pipeline. A duplicate id replaces (and closes) the resident session.
func (r *Registry) Add(s *Session, closeFn func()) {
	r.mu.Lock()
	prev, had := r.entries[s.ID()]
	r.entries[s.ID()] = registryEntry{session: s, closeFn: closeFn}
	r.mu.Unlock()

	if had {
		slog.Warn("replacing duplicate session", "session_id", s.ID())
		if prev.closeFn != nil {
			prev.closeFn()
		}
	}
}

// Get returns the session with the given id, or nil when absent.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].session
}

// Remove deregisters the session with the given id without closing it.
// Returns true when an entry was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a snapshot of the registered sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	return out
}

// Shutdown closes every registered session and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]registryEntry)
	r.mu.Unlock()

	for id, e := range entries {
		slog.Info("closing session on shutdown", "session_id", id)
		if e.closeFn != nil {
			e.closeFn()
		}
	}
}
