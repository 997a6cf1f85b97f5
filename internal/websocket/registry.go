package websocket

import "sync"

// Registry is a registry of open sessions.
type Registry struct {
	m   map[string]*Session
	mtx sync.RWMutex
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{
		m: make(map[string]*Session),
	}
}

// Register registers the session under its id.
func (r *Registry) Register(s *Session) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.m[s.ID] = s
}

// Remove removes the session with the given id from the registry.
func (r *Registry) Remove(id string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	delete(r.m, id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.m)
}

// CloseAll closes all registered sessions. Closed sessions remove
// themselves.
func (r *Registry) CloseAll() {
	r.mtx.RLock()
	sessions := make([]*Session, 0, len(r.m))
	for _, s := range r.m {
		sessions = append(sessions, s)
	}
	r.mtx.RUnlock()

	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			s.Log().WithError(err).Warn("closing session")
		}
	}
}
