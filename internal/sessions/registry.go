package sessions

import (
	"errors"
	"sync"
	"time"

	"log/slog"
)

// ErrSessionNotFound is returned when a beacon references an unknown or
// already-evicted session.
var ErrSessionNotFound = errors.New("session not found")

// Registry owns the live session contexts for this process. Access to a
// context is serialized per session: browser beacons for one session are
// handled one at a time, matching the engine's single-threaded execution
// model.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	logger   *slog.Logger
}

type entry struct {
	mu  sync.Mutex
	ctx *Context
}

// NewRegistry creates a session registry with the given TTL.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		logger:   logger,
	}
}

// Put registers a freshly created session context.
func (r *Registry) Put(ctx *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[ctx.ID] = &entry{ctx: ctx}
}

// WithSession runs fn with exclusive access to the session's context.
func (r *Registry) WithSession(id string, fn func(*Context) error) error {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.ctx)
}

// End removes a session, returning its final context. Any pending
// confirmation dies with it.
func (r *Registry) End(id string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return e.ctx, true
}

// Sweep evicts sessions idle past the TTL and returns how many were removed.
// Eviction implicitly cancels pending timers and confirmations: there is
// simply no context left to resolve them against.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.sessions {
		if e.ctx.ExpiredAt(now, r.ttl) {
			delete(r.sessions, id)
			evicted++
		}
	}

	if evicted > 0 {
		r.logger.Debug("Evicted expired sessions", slog.Int("count", evicted))
	}
	return evicted
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
