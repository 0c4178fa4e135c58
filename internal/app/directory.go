package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
	"github.com/cloakshare/relay/internal/store"
)

// Code spaces: pair sessions dial 4 decimal digits, meetings 6. Codes
// are only collision-checked against sessions that have not ended.
const (
	pairCodeMin = 1000
	pairCodeMax = 9999
	meshCodeMin = 100000
	meshCodeMax = 999999
)

type DirectoryConfig struct {
	MeshMemberCap  int
	CodeRetryLimit int
	PairTTL        time.Duration
	MeshTTL        time.Duration
}

// Directory maps session codes to live sessions and owns their
// creation, join and leave policy. Mutations inside one session are
// serialized by the session's own lock; the directory lock only guards
// the code table.
type Directory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*core.Session

	cfg   DirectoryConfig
	store store.SessionStore
}

func NewDirectory(cfg DirectoryConfig, st store.SessionStore) *Directory {
	if cfg.MeshMemberCap <= 0 {
		cfg.MeshMemberCap = 8
	}
	if cfg.MeshMemberCap > 12 {
		cfg.MeshMemberCap = 12
	}
	if cfg.CodeRetryLimit <= 0 {
		cfg.CodeRetryLimit = 64
	}
	return &Directory{
		sessions: make(map[domain.SessionID]*core.Session),
		cfg:      cfg,
		store:    st,
	}
}

func codeSpace(kind domain.SessionKind) (min, max int64) {
	if kind == domain.KindMesh {
		return meshCodeMin, meshCodeMax
	}
	return pairCodeMin, pairCodeMax
}

func randomCode(min, max int64) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", min+n.Int64()), nil
}

func memberCap(kind domain.SessionKind, meshCap int) int {
	if kind == domain.KindMesh {
		return meshCap
	}
	return 2
}

// Create allocates a collision-free code and registers a new session.
// The retry loop is bounded: a full code space fails with
// ErrCapacityExceeded, anything short of that but past the retry bound
// with ErrGenerationFailed.
func (d *Directory) Create(kind domain.SessionKind) (*core.Session, error) {
	min, max := codeSpace(kind)

	d.mu.Lock()
	defer d.mu.Unlock()

	active := int64(0)
	for _, s := range d.sessions {
		if s.Kind() == kind && s.Status() != domain.StatusEnded {
			active++
		}
	}
	if active >= max-min+1 {
		return nil, domain.ErrCapacityExceeded
	}

	for i := 0; i < d.cfg.CodeRetryLimit; i++ {
		code, err := randomCode(min, max)
		if err != nil {
			return nil, fmt.Errorf("sample code: %w", err)
		}
		id := domain.SessionID(code)
		if existing, ok := d.sessions[id]; ok && existing.Status() != domain.StatusEnded {
			continue
		}
		sess := core.NewSession(id, kind, memberCap(kind, d.cfg.MeshMemberCap))
		d.sessions[id] = sess
		log.Info().Str("module", "app.directory").Str("session", code).Str("kind", string(kind)).Msg("session created")
		return sess, nil
	}
	return nil, domain.ErrGenerationFailed
}

// Lookup returns an active (not ended) session.
func (d *Directory) Lookup(id domain.SessionID) (*core.Session, error) {
	d.mu.RLock()
	sess, ok := d.sessions[id]
	d.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if sess.Status() == domain.StatusEnded {
		return nil, domain.ErrSessionEnded
	}
	return sess, nil
}

// Get returns a session regardless of status.
func (d *Directory) Get(id domain.SessionID) (*core.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sess, ok := d.sessions[id]
	return sess, ok
}

// Remove forgets a session and deletes its persisted record.
func (d *Directory) Remove(id domain.SessionID) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
	if d.store != nil {
		if err := d.store.Delete(context.Background(), id); err != nil {
			log.Error().Err(err).Str("module", "app.directory").Str("session", string(id)).Msg("store delete")
		}
	}
	log.Info().Str("module", "app.directory").Str("session", string(id)).Msg("session removed")
}

// List snapshots all known sessions.
func (d *Directory) List() []*core.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*core.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *Directory) ttl(kind domain.SessionKind) time.Duration {
	if kind == domain.KindMesh {
		if d.cfg.MeshTTL > 0 {
			return d.cfg.MeshTTL
		}
		return 4 * time.Hour
	}
	if d.cfg.PairTTL > 0 {
		return d.cfg.PairTTL
	}
	return 2 * time.Hour
}

// Save mirrors a session into the document store, best effort. Store
// failures are logged and never surface to request handling.
func (d *Directory) Save(s *core.Session, call *domain.CallSession) {
	if d.store == nil {
		return
	}
	rec := store.Record{
		ID:           s.ID(),
		Kind:         s.Kind(),
		Status:       s.Status(),
		Members:      s.MembersSnapshot(),
		Messages:     s.MessagesSnapshot(),
		Call:         call,
		CreatedAt:    s.CreatedAt(),
		LastActivity: s.LastActivity(),
		ExpiresAt:    s.CreatedAt().Add(d.ttl(s.Kind())),
	}
	if err := d.store.Put(context.Background(), rec); err != nil {
		log.Error().Err(err).Str("module", "app.directory").Str("session", string(s.ID())).Msg("store put")
	}
}
