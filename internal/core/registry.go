package core

import (
	"sort"
	"sync"
)

// Registry is the set of sessions that completed authentication. Multiple
// concurrent logins under one username are allowed; each shows up as its
// own session and all of them receive that identity's traffic.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

// Add registers a session. Called once per session, after login.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
}

// Remove unregisters a session. No-op if it was never added.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the current sessions. Broadcast iterates the snapshot,
// never the live map, so concurrent register/unregister is safe.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ForUser returns every session registered under the given username.
func (r *Registry) ForUser(username string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for s := range r.sessions {
		if s.Username() == username {
			out = append(out, s)
		}
	}
	return out
}

// Usernames returns one username per registered session, sorted. A user
// logged in twice appears twice.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for s := range r.sessions {
		names = append(names, s.Username())
	}
	sort.Strings(names)
	return names
}
