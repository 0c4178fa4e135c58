// Package store defines the persistence boundary for session records.
// The live state machines never read through it; it exists so an
// external document store (keyed by session id, TTL-indexed on
// createdAt) can be swapped in without touching the core.
package store

import (
	"context"
	"time"

	"github.com/cloakshare/relay/internal/domain"
)

// Record is the persisted shape of one session.
type Record struct {
	ID           domain.SessionID     `json:"id"`
	Kind         domain.SessionKind   `json:"kind"`
	Status       domain.SessionStatus `json:"status"`
	Members      []domain.Participant `json:"members"`
	Messages     []domain.Message     `json:"messages"`
	Call         *domain.CallSession  `json:"callSession,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastActivity time.Time            `json:"lastActivity"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}

// SessionStore is the document-store port. Implementations must be safe
// for concurrent use.
type SessionStore interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id domain.SessionID) (Record, bool, error)
	Delete(ctx context.Context, id domain.SessionID) error
	List(ctx context.Context) ([]Record, error)
}
