package session

import "sync"

// Registry is the listener's handle/arena for live sessions (§9: "listener
// owns a set of session handles keyed by an opaque session-id; sessions
// request close by calling server.close(session_id); no back-pointer into
// the owner is stored"). A Session never holds a Registry reference; the
// listener calls Remove itself once a Session's Run/Relay pair returns.
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*Session
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint64]*Session)}
}

// NextID allocates a new session ID without inserting anything.
func (r *Registry) NextID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Insert adds a Session under its own ID.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	r.entries[s.ID()] = s
	r.mu.Unlock()
}

// Remove drops a Session from the registry. It does not close it; callers
// close before or after removing depending on shutdown ordering.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// CloseAll closes every live session. Used on the second SIGINT (§5, S5).
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, s := range r.entries {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
