package core

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

// Server-to-client event kinds. Every outbound frame is a JSON object
// whose "type" field carries one of these.
const (
	EvSessionCreated    = "session-created"
	EvSessionJoined     = "session-joined"
	EvMemberJoined      = "member-joined"
	EvMemberLeft        = "member-left"
	EvHostChanged       = "host-changed"
	EvNewMessage        = "new-message"
	EvUserTyping        = "user-typing"
	EvCallInitiated     = "call-initiated"
	EvIncomingCall      = "incoming-call"
	EvCallAccepted      = "call-accepted"
	EvSendOfferNow      = "send-offer-now"
	EvSendPeerOffer     = "send-peer-offer"
	EvOffer             = "offer"
	EvAnswer            = "answer"
	EvIceCandidate      = "ice-candidate"
	EvRestartIce        = "restart-ice"
	EvCallEnded         = "call-ended"
	EvSessionTerminated = "session-terminated"
	EvMediaState        = "media-state"
	EvLeft              = "left"
	EvPong              = "pong"
	EvError             = "error"
)

type SessionCreated struct {
	Type      string             `json:"type"`
	SessionID domain.SessionID   `json:"sessionId"`
	Kind      domain.SessionKind `json:"kind"`
	Role      domain.Role        `json:"role"`
}

type SessionJoined struct {
	Type      string               `json:"type"`
	SessionID domain.SessionID     `json:"sessionId"`
	Kind      domain.SessionKind   `json:"kind"`
	Role      domain.Role          `json:"role"`
	Members   []domain.Participant `json:"members"`
	Messages  []domain.Message     `json:"messages"`
}

// MemberJoined and MemberLeft carry the full updated member list so
// clients never have to reconcile incremental diffs.
type MemberJoined struct {
	Type    string               `json:"type"`
	ConnID  domain.ConnID        `json:"connId"`
	Name    string               `json:"displayName"`
	Members []domain.Participant `json:"members"`
}

type MemberLeft struct {
	Type    string               `json:"type"`
	ConnID  domain.ConnID        `json:"connId"`
	Name    string               `json:"displayName"`
	Members []domain.Participant `json:"members"`
}

type HostChanged struct {
	Type   string        `json:"type"`
	ConnID domain.ConnID `json:"connId"`
	Name   string        `json:"displayName"`
}

type NewMessage struct {
	Type       string             `json:"type"`
	SenderID   domain.ConnID      `json:"senderId"`
	SenderName string             `json:"senderName"`
	Kind       domain.MessageKind `json:"kind"`
	Content    string             `json:"content"`
	FileName   string             `json:"fileName,omitempty"`
	FileSize   int64              `json:"fileSize,omitempty"`
	FileType   string             `json:"fileType,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

type UserTyping struct {
	Type     string        `json:"type"`
	ConnID   domain.ConnID `json:"connId"`
	Name     string        `json:"displayName"`
	IsTyping bool          `json:"isTyping"`
}

type CallInitiated struct {
	Type string          `json:"type"`
	Kind domain.CallKind `json:"kind"`
}

type IncomingCall struct {
	Type       string          `json:"type"`
	CallerID   domain.ConnID   `json:"callerId"`
	CallerName string          `json:"callerName"`
	Kind       domain.CallKind `json:"kind"`
}

type CallAccepted struct {
	Type       string          `json:"type"`
	Kind       domain.CallKind `json:"kind"`
	AcceptedBy string          `json:"acceptedBy"`
}

// SendOfferNow instructs the call initiator to produce the SDP offer.
// It is only ever addressed to the initiator.
type SendOfferNow struct {
	Type string          `json:"type"`
	Kind domain.CallKind `json:"kind"`
}

// SendPeerOffer instructs a mesh newcomer to open negotiation toward one
// already-present participant.
type SendPeerOffer struct {
	Type     string        `json:"type"`
	PeerID   domain.ConnID `json:"peerId"`
	PeerName string        `json:"peerName"`
}

type OfferRelay struct {
	Type     string                    `json:"type"`
	From     domain.ConnID             `json:"from"`
	FromName string                    `json:"fromName,omitempty"`
	SDP      webrtc.SessionDescription `json:"sdp"`
	Kind     domain.CallKind           `json:"kind,omitempty"`
}

type AnswerRelay struct {
	Type     string                    `json:"type"`
	From     domain.ConnID             `json:"from"`
	FromName string                    `json:"fromName,omitempty"`
	SDP      webrtc.SessionDescription `json:"sdp"`
}

type CandidateRelay struct {
	Type      string                  `json:"type"`
	From      domain.ConnID           `json:"from"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// RestartIce asks the link initiator to renegotiate. PeerID identifies
// the link in mesh sessions; pair sessions have only one.
type RestartIce struct {
	Type   string        `json:"type"`
	PeerID domain.ConnID `json:"peerId,omitempty"`
}

type CallEnded struct {
	Type    string           `json:"type"`
	Reason  domain.EndReason `json:"reason"`
	EndedBy string           `json:"endedBy,omitempty"`
}

type SessionTerminated struct {
	Type         string `json:"type"`
	TerminatedBy string `json:"terminatedBy,omitempty"`
	Reason       string `json:"reason"`
}

type MediaState struct {
	Type     string        `json:"type"`
	ConnID   domain.ConnID `json:"connId"`
	Muted    bool          `json:"muted"`
	VideoOff bool          `json:"videoOff"`
}

// Encode marshals an event into a Frame. Marshal failures are programmer
// errors on our own types, so they are logged and produce a nil frame
// that TrySend implementations ignore.
func Encode(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.event").Msg("event marshal")
		return nil
	}
	return b
}
