package domain

import "time"

// CallKind selects the media the call was requested with.
type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// Valid reports whether k is one of the known call kinds.
func (k CallKind) Valid() bool { return k == CallVoice || k == CallVideo }

// CallPhase is the state of the per-session call lifecycle.
type CallPhase int

const (
	CallIdle CallPhase = iota
	CallInitiating
	CallRinging
	CallAccepted
	CallNegotiating
	CallConnected
	CallEnded
)

func (p CallPhase) String() string {
	switch p {
	case CallIdle:
		return "idle"
	case CallInitiating:
		return "initiating"
	case CallRinging:
		return "ringing"
	case CallAccepted:
		return "accepted"
	case CallNegotiating:
		return "negotiating"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	}
	return "unknown"
}

// EndReason is carried on the terminal call-ended notice.
type EndReason string

const (
	EndRejected       EndReason = "rejected"
	EndHangup         EndReason = "ended"
	EndTimeout        EndReason = "timeout"
	EndDisconnection  EndReason = "disconnection"
	EndConnectionLost EndReason = "connection-lost"
	EndAborted        EndReason = "aborted"
	EndSessionClosed  EndReason = "session-closed"
)

// CallSession is the persisted trace of one pair call. At most one may be
// active per pair session at a time.
type CallSession struct {
	Active      bool      `json:"active"`
	Kind        CallKind  `json:"kind,omitempty"`
	InitiatorID ConnID    `json:"initiator,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	EndedAt     time.Time `json:"endedAt,omitempty"`
}
