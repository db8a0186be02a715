// Package registry implements the Session Registry of spec.md §4.9: an
// RW-locked map from SessionId to *session.Session, active-session
// selection, and cleanup of terminated sessions. Grounded on the
// teacher's internal/daemon/daemon.go ListAgents socket-directory scan
// idiom, generalized from "enumerate sockets on disk" to "enumerate
// entries in an in-memory map".
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tuid/internal/session"
)

// ErrNotFound is returned when a SessionId has no matching entry.
var ErrNotFound = errors.New("registry: session not found")

// ErrNoActive is returned by Active when no session has been designated.
var ErrNoActive = errors.New("registry: no active session")

// Registry owns the set of live sessions and the server's notion of the
// single "active" session that commands default to when a caller omits
// a SessionId (spec.md §3).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	active   string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Create allocates a new SessionId, constructs and starts a Session, and
// registers it. The first session created becomes active automatically.
func (r *Registry) Create(command string, args []string, cwd string, env map[string]string, cols, rows int) (*session.Session, error) {
	id := uuid.New().String()
	s := session.New(id, command, args, cwd, env)
	s.OnExit = r.onSessionExit
	if err := s.Start(cols, rows); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = s
	if r.active == "" {
		r.active = id
	}
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) onSessionExit(s *session.Session) {
	// Exited sessions remain resolvable (screenshot/scroll on a dead
	// session is still meaningful) until an explicit Cleanup call; only
	// the active-session pointer is cleared so a new spawn takes over.
	r.mu.Lock()
	if r.active == s.ID {
		r.active = ""
	}
	r.mu.Unlock()
}

// Get resolves a SessionId. An empty id or the literal "active" resolves
// to the designated active session; if none is designated, it falls
// back to the most-recently-created running session (spec.md §3/§4.9).
func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == "" || id == "active" {
		if r.active != "" {
			if s, ok := r.sessions[r.active]; ok {
				return s, nil
			}
		}
		if s := r.mostRecentRunningLocked(); s != nil {
			return s, nil
		}
		return nil, ErrNoActive
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// mostRecentRunningLocked returns the running session with the latest
// start time, or nil if none are running. Callers must hold r.mu.
func (r *Registry) mostRecentRunningLocked() *session.Session {
	var best *session.Session
	for _, s := range r.sessions {
		if s.State() != session.StateRunning {
			continue
		}
		if best == nil || s.StartTime().After(best.StartTime()) {
			best = s
		}
	}
	return best
}

// SetActive designates id as the default session for omitted-SessionId
// calls. Returns ErrNotFound if id is not registered.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	r.active = id
	return nil
}

// Active returns the id of the current active session.
func (r *Registry) Active() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return "", ErrNoActive
	}
	return r.active, nil
}

// List returns all registered SessionIds in stable (lexical) order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove unregisters a session outright, e.g. after the caller has
// confirmed it no longer needs the exited session's final state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	if r.active == id {
		r.active = ""
	}
}

// Cleanup removes every session whose lifecycle has reached Exited,
// returning the ids removed.
func (r *Registry) Cleanup() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, s := range r.sessions {
		if s.State() == session.StateExited {
			delete(r.sessions, id)
			removed = append(removed, id)
			if r.active == id {
				r.active = ""
			}
		}
	}
	sort.Strings(removed)
	return removed
}
