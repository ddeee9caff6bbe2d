package session

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"sync"
)

// newSessionID returns a high-entropy URL-safe identifier.
func newSessionID() string {
	buf := make([]byte, 18)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Registry tracks the live sessions so the monitor API can find them.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Driver
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: map[string]*Driver{},
	}
}

// Register assigns the driver an id and tracks it. The returned func
// unregisters; it is safe to call more than once.
func (r *Registry) Register(d *Driver) (string, func()) {
	id := newSessionID()
	d.setSessionID(id)

	r.mu.Lock()
	r.sessions[id] = d
	r.mu.Unlock()
	r.logger.Info("session registered", "session_id", id)

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions, id)
			r.mu.Unlock()
			r.logger.Info("session unregistered", "session_id", id)
		})
	}
	return id, unregister
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sessions[id]
	return d, ok
}

// List returns all live sessions.
func (r *Registry) List() []*Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Driver, 0, len(r.sessions))
	for _, d := range r.sessions {
		out = append(out, d)
	}
	return out
}

// Count reports how many sessions are live.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
