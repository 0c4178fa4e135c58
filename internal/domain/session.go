// Package domain contains entities without behavior, just meta-data.
package domain

type (
	// SessionID is the short opaque code members dial to meet each other.
	SessionID string

	// ConnID identifies one live connection. It is not a persisted
	// identity; a reconnecting client gets a fresh one.
	ConnID string
)

// SessionKind selects the topology of a session.
type SessionKind string

const (
	// KindPair is a two-member chat room with at most one call.
	KindPair SessionKind = "pair"
	// KindMesh is a multi-party meeting with pairwise peer links.
	KindMesh SessionKind = "mesh"
)

type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// Role of a participant inside a session. Pair sessions use
// initiator/joiner, mesh sessions use host/guest.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
	RoleHost      Role = "host"
	RoleGuest     Role = "guest"
)

// CreatorRole returns the role granted to whoever creates a session.
func (k SessionKind) CreatorRole() Role {
	if k == KindMesh {
		return RoleHost
	}
	return RoleInitiator
}

// JoinerRole returns the role granted to later arrivals.
func (k SessionKind) JoinerRole() Role {
	if k == KindMesh {
		return RoleGuest
	}
	return RoleJoiner
}
