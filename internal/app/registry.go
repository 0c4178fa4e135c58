package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

type connEntry struct {
	Signal    core.SignalConnection
	SessionID domain.SessionID
	Cancel    context.CancelFunc
}

// Registry is the single map from live connection ids to their session
// binding. All insertion happens on connect/join and all removal on
// leave/disconnect; nothing else may hold connection state.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Bind registers a freshly upgraded connection that is not yet in any
// session.
func (r *Registry) Bind(conn domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = &connEntry{Signal: sig, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("connection bound")
}

// AttachSession records session membership for a connection.
func (r *Registry) AttachSession(conn domain.ConnID, sid domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return false
	}
	e.SessionID = sid
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("session", string(sid)).Msg("session attached")
	return true
}

// DetachSession clears membership but keeps the connection alive, so a
// client can leave one session and join another without reconnecting.
func (r *Registry) DetachSession(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[conn]; ok {
		e.SessionID = ""
	}
}

// SessionOf returns the session a connection currently belongs to.
func (r *Registry) SessionOf(conn domain.ConnID) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok || e.SessionID == "" {
		return "", false
	}
	return e.SessionID, true
}

// Signal returns the raw transport for a connection, bound or not.
func (r *Registry) Signal(conn domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok {
		return nil, false
	}
	return e.Signal, true
}

// Unbind drops a connection entirely.
func (r *Registry) Unbind(conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("connection unbound")
}

// Cancel fires the connection-scoped context, stopping its pumps.
func (r *Registry) Cancel(conn domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
