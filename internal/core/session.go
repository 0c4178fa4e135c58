package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

// PublishResult reports delivery stats and backpressure to the relay.
type PublishResult struct {
	SentTo    int
	Delivered []MemberSession
	Dropped   []MemberSession
}

// Session is one live room or meeting. All mutation happens under the
// session's own lock: updates are read-modify-write against a single
// record, so races are resolved by serializing per session id, not
// globally. The session owns membership and the message log but never
// touches transport resources beyond TrySend.
type Session struct {
	mu sync.Mutex

	id        domain.SessionID
	kind      domain.SessionKind
	memberCap int

	status       domain.SessionStatus
	createdAt    time.Time
	lastActivity time.Time

	members []MemberSession // join order
	byConn  map[domain.ConnID]MemberSession

	messages []domain.Message
}

func NewSession(id domain.SessionID, kind domain.SessionKind, memberCap int) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		kind:         kind,
		memberCap:    memberCap,
		status:       domain.StatusWaiting,
		createdAt:    now,
		lastActivity: now,
		byConn:       make(map[domain.ConnID]MemberSession),
	}
}

func (s *Session) ID() domain.SessionID     { return s.id }
func (s *Session) Kind() domain.SessionKind { return s.kind }

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch bumps lastActivity; the relay calls it on every routed event.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AddMember enforces the member cap and duplicate-join rules. A pair
// session becomes active when the second member arrives, a mesh session
// as soon as it has any member.
func (s *Session) AddMember(ms MemberSession) error {
	conn := ms.Meta().ConnID
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.StatusEnded {
		return domain.ErrSessionEnded
	}
	if _, ok := s.byConn[conn]; ok {
		return domain.ErrConflict
	}
	if len(s.members) >= s.memberCap {
		return domain.ErrSessionFull
	}

	s.members = append(s.members, ms)
	s.byConn[conn] = ms
	s.lastActivity = time.Now()

	switch s.kind {
	case domain.KindPair:
		if len(s.members) == 2 {
			s.status = domain.StatusActive
		}
	case domain.KindMesh:
		s.status = domain.StatusActive
	}
	log.Info().Str("module", "core.session").Str("session", string(s.id)).Str("conn", string(conn)).Msg("member added")
	return nil
}

// RemoveMember is idempotent: removing an unknown connection reports
// ok=false and changes nothing.
func (s *Session) RemoveMember(conn domain.ConnID) (removed *domain.Participant, remaining int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms, found := s.byConn[conn]
	if !found {
		return nil, len(s.members), false
	}
	delete(s.byConn, conn)
	for i, m := range s.members {
		if m.Meta().ConnID == conn {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}
	s.lastActivity = time.Now()
	log.Info().Str("module", "core.session").Str("session", string(s.id)).Str("conn", string(conn)).Msg("member removed")
	return ms.Meta(), len(s.members), true
}

// PromoteEarliest makes the earliest-joined remaining member the host.
// Used by mesh sessions when the host leaves.
func (s *Session) PromoteEarliest() (*domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.members) == 0 {
		return nil, false
	}
	meta := s.members[0].Meta()
	if meta.Role == domain.RoleHost {
		return nil, false
	}
	meta.Role = domain.RoleHost
	return meta, true
}

// HasHost reports whether any remaining member holds the host role.
func (s *Session) HasHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Meta().Role == domain.RoleHost {
			return true
		}
	}
	return false
}

// End marks the session terminal. Further joins fail with ErrSessionEnded.
func (s *Session) End() {
	s.mu.Lock()
	s.status = domain.StatusEnded
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Member returns the session entry for a connection.
func (s *Session) Member(conn domain.ConnID) (MemberSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.byConn[conn]
	return ms, ok
}

// Peer returns the other member of a pair session.
func (s *Session) Peer(conn domain.ConnID) (MemberSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Meta().ConnID != conn {
			return m, true
		}
	}
	return nil, false
}

// Others returns every member except the given connection, in join order.
func (s *Session) Others(conn domain.ConnID) []MemberSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MemberSession, 0, len(s.members))
	for _, m := range s.members {
		if m.Meta().ConnID != conn {
			out = append(out, m)
		}
	}
	return out
}

// MembersSnapshot is a read-only copy for acks and membership diffs.
func (s *Session) MembersSnapshot() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, *m.Meta())
	}
	return out
}

// AppendMessage appends to the log in arrival order. File payloads are
// logged as metadata only; the binary content is relayed, not stored.
func (s *Session) AppendMessage(msg domain.Message) {
	if msg.Kind == domain.MessageFile {
		msg.Content = ""
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// MessagesSnapshot is the full log, replayed to late joiners.
func (s *Session) MessagesSnapshot() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Broadcast fans a frame out to every member except from (pass an empty
// ConnID to include everyone). Unreachable members are reported, never
// waited on.
func (s *Session) Broadcast(from domain.ConnID, f Frame) PublishResult {
	s.mu.Lock()
	targets := make([]MemberSession, len(s.members))
	copy(targets, s.members)
	s.mu.Unlock()

	res := PublishResult{}
	for _, m := range targets {
		if m.Meta().ConnID == from {
			continue
		}
		if err := m.Signal().TrySend(f); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.Delivered = append(res.Delivered, m)
		res.SentTo++
	}
	log.Debug().Str("module", "core.session").Str("session", string(s.id)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
