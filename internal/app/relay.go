package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

// EventSink is how the call machine and mesh coordinator address
// participants without knowing anything about transports. The Relay is
// the production implementation.
type EventSink interface {
	ToConn(conn domain.ConnID, v any)
	ToSession(s *core.Session, except domain.ConnID, v any)
}

// Relay is the event router every client message passes through. It
// scopes events by session membership, drives the per-kind negotiation
// machinery and owns the joins/leaves/teardown choreography. It never
// interprets SDP or candidate payloads, only routes them.
//
// Collaborators are exported fields wired in main.
type Relay struct {
	Directory *Directory
	Registry  *Registry
	Calls     *CallMachine
	Mesh      *MeshCoordinator
	Policy    Policy
}

// ToConn delivers one event to one connection, best effort. A member that
// cannot keep up loses the frame; delivery is only guaranteed to
// connected, non-backlogged participants. Directed traffic counts as
// session activity so a session mid-negotiation never looks idle.
func (r *Relay) ToConn(conn domain.ConnID, v any) {
	if sid, ok := r.Registry.SessionOf(conn); ok {
		if sess, ok := r.Directory.Get(sid); ok {
			sess.Touch()
		}
	}
	sig, ok := r.Registry.Signal(conn)
	if !ok {
		return
	}
	if err := sig.TrySend(core.Encode(v)); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("conn", string(conn)).Msg("direct send dropped")
	}
}

// ToSession broadcasts an event to every member except one (empty except
// includes everyone) and bumps the session's activity clock. Persistent
// backpressure is escalated to the policy.
func (r *Relay) ToSession(s *core.Session, except domain.ConnID, v any) {
	s.Touch()
	res := s.Broadcast(except, core.Encode(v))
	if r.Policy == nil {
		return
	}
	for _, ms := range res.Delivered {
		r.Policy.OnDelivered(ms)
	}
	for _, ms := range res.Dropped {
		if r.Policy.OnBackpressure(s, ms) == KickMember {
			conn := ms.Meta().ConnID
			log.Warn().Str("module", "app.relay").Str("conn", string(conn)).Msg("kicking slow consumer")
			r.Registry.Cancel(conn)
		}
	}
}

// Connect registers a freshly upgraded, sessionless connection.
func (r *Relay) Connect(conn domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.Registry.Bind(conn, sig, cancel)
}

// Disconnect runs the full cleanup for a dropped connection. It is safe
// to call for connections that never joined a session.
func (r *Relay) Disconnect(conn domain.ConnID) {
	r.depart(conn)
	r.Registry.Unbind(conn)
}

// CreateSession allocates a session and joins the creator to it.
func (r *Relay) CreateSession(conn domain.ConnID, name string, kind domain.SessionKind) error {
	if _, ok := r.Registry.SessionOf(conn); ok {
		return fmt.Errorf("%w: already in a session", domain.ErrConflict)
	}
	meta, err := domain.NewParticipant(conn, name, kind.CreatorRole())
	if err != nil {
		return err
	}
	sig, ok := r.Registry.Signal(conn)
	if !ok {
		return domain.ErrNotFound
	}

	sess, err := r.Directory.Create(kind)
	if err != nil {
		return err
	}
	ms := core.NewMemberSession(meta, sig)
	if err := sess.AddMember(ms); err != nil {
		r.Directory.Remove(sess.ID())
		return err
	}
	r.Registry.AttachSession(conn, sess.ID())
	sess.AppendMessage(domain.SystemMessage(name + " joined the chat"))

	r.ToConn(conn, core.SessionCreated{
		Type: core.EvSessionCreated, SessionID: sess.ID(), Kind: kind, Role: meta.Role,
	})
	r.save(sess)
	return nil
}

// JoinSession adds a connection to an existing session, replays the
// message log to the joiner and announces the membership change.
func (r *Relay) JoinSession(conn domain.ConnID, sid domain.SessionID, name string) error {
	if _, ok := r.Registry.SessionOf(conn); ok {
		return fmt.Errorf("%w: already in a session", domain.ErrConflict)
	}
	sess, err := r.Directory.Lookup(sid)
	if err != nil {
		return err
	}
	meta, err := domain.NewParticipant(conn, name, sess.Kind().JoinerRole())
	if err != nil {
		return err
	}
	sig, ok := r.Registry.Signal(conn)
	if !ok {
		return domain.ErrNotFound
	}

	ms := core.NewMemberSession(meta, sig)
	if err := sess.AddMember(ms); err != nil {
		return err
	}
	r.Registry.AttachSession(conn, sid)

	sysMsg := domain.SystemMessage(name + " joined the chat")
	sess.AppendMessage(sysMsg)

	r.ToConn(conn, core.SessionJoined{
		Type:      core.EvSessionJoined,
		SessionID: sid,
		Kind:      sess.Kind(),
		Role:      meta.Role,
		Members:   sess.MembersSnapshot(),
		Messages:  sess.MessagesSnapshot(),
	})
	r.ToSession(sess, conn, core.MemberJoined{
		Type: core.EvMemberJoined, ConnID: conn, Name: name, Members: sess.MembersSnapshot(),
	})
	r.ToSession(sess, conn, newMessageEvent(sysMsg))

	if sess.Kind() == domain.KindMesh {
		r.Mesh.OnJoin(sess, conn)
	}
	r.save(sess)
	return nil
}

// LeaveSession is the voluntary counterpart of Disconnect: the member
// departs but the connection stays open for a future create or join.
// Leaving while in no session is a no-op.
func (r *Relay) LeaveSession(conn domain.ConnID) {
	r.depart(conn)
	r.ToConn(conn, struct {
		Type string `json:"type"`
	}{Type: core.EvLeft})
}

// TerminateSession ends the whole session on behalf of one member.
func (r *Relay) TerminateSession(conn domain.ConnID) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh && meta.Role != domain.RoleHost {
		return fmt.Errorf("%w: only the host can terminate a meeting", domain.ErrUnauthorized)
	}
	r.endSession(sess, meta.DisplayName, "terminated")
	return nil
}

// EvictSession is the reaper's entry point: notify whoever is still
// connected, tear everything down and drop the session from the
// directory.
func (r *Relay) EvictSession(sid domain.SessionID, reason string) {
	sess, ok := r.Directory.Get(sid)
	if !ok {
		return
	}
	if sess.Status() != domain.StatusEnded {
		r.endSession(sess, "", reason)
	}
	r.Calls.Teardown(sid)
	r.Mesh.Teardown(sid)
	r.Directory.Remove(sid)
}

// SendChat appends a chat message to the log and fans it out to the whole
// session, sender included, so every client renders the same order.
func (r *Relay) SendChat(conn domain.ConnID, msg domain.Message) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	msg.SenderID = conn
	msg.SenderName = meta.DisplayName
	msg.Timestamp = time.Now()

	sess.AppendMessage(msg)
	r.ToSession(sess, "", newMessageEvent(msg))
	r.save(sess)
	return nil
}

// Typing relays a typing indicator to everyone else in the session.
func (r *Relay) Typing(conn domain.ConnID, isTyping bool) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	r.ToSession(sess, conn, core.UserTyping{
		Type: core.EvUserTyping, ConnID: conn, Name: meta.DisplayName, IsTyping: isTyping,
	})
	return nil
}

// ToggleMute flips the member's mute flag and broadcasts the new state.
func (r *Relay) ToggleMute(conn domain.ConnID) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	meta.Muted = !meta.Muted
	r.ToSession(sess, "", core.MediaState{
		Type: core.EvMediaState, ConnID: conn, Muted: meta.Muted, VideoOff: meta.VideoOff,
	})
	return nil
}

// ToggleVideo flips the member's video-off flag and broadcasts it.
func (r *Relay) ToggleVideo(conn domain.ConnID) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	meta.VideoOff = !meta.VideoOff
	r.ToSession(sess, "", core.MediaState{
		Type: core.EvMediaState, ConnID: conn, Muted: meta.Muted, VideoOff: meta.VideoOff,
	})
	return nil
}

// InitiateCall starts ringing the pair peer.
func (r *Relay) InitiateCall(conn domain.ConnID, kind domain.CallKind) error {
	sess, meta, err := r.pairOf(conn)
	if err != nil {
		return err
	}
	if err := r.Calls.Initiate(sess, conn, meta.DisplayName, kind); err != nil {
		return err
	}
	r.save(sess)
	return nil
}

func (r *Relay) AcceptCall(conn domain.ConnID) error {
	sess, meta, err := r.pairOf(conn)
	if err != nil {
		return err
	}
	return r.Calls.Accept(sess, conn, meta.DisplayName)
}

func (r *Relay) RejectCall(conn domain.ConnID) error {
	sess, meta, err := r.pairOf(conn)
	if err != nil {
		return err
	}
	return r.Calls.Reject(sess, conn, meta.DisplayName)
}

func (r *Relay) EndCall(conn domain.ConnID) error {
	sess, meta, err := r.pairOf(conn)
	if err != nil {
		return err
	}
	if err := r.Calls.End(sess, conn, meta.DisplayName); err != nil {
		return err
	}
	r.save(sess)
	return nil
}

// Offer routes an SDP offer to the pair peer or the targeted mesh peer.
func (r *Relay) Offer(conn, target domain.ConnID, sdp webrtc.SessionDescription) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh {
		if err := r.requireMember(sess, target); err != nil {
			return err
		}
		return r.Mesh.Offer(sess, conn, meta.DisplayName, target, sdp)
	}
	return r.Calls.Offer(sess, conn, meta.DisplayName, sdp)
}

// Answer routes an SDP answer back across the link.
func (r *Relay) Answer(conn, target domain.ConnID, sdp webrtc.SessionDescription) error {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh {
		if err := r.requireMember(sess, target); err != nil {
			return err
		}
		return r.Mesh.Answer(sess, conn, meta.DisplayName, target, sdp)
	}
	return r.Calls.Answer(sess, conn, meta.DisplayName, sdp)
}

// Candidate routes one ICE candidate through the link's buffer.
func (r *Relay) Candidate(conn, target domain.ConnID, cand webrtc.ICECandidateInit) error {
	sess, _, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh {
		if err := r.requireMember(sess, target); err != nil {
			return err
		}
		return r.Mesh.Candidate(sess, conn, target, cand)
	}
	return r.Calls.Candidate(sess, conn, cand)
}

// CallConnected records a client-reported ICE connected state.
func (r *Relay) CallConnected(conn, target domain.ConnID) error {
	sess, _, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh {
		if err := r.requireMember(sess, target); err != nil {
			return err
		}
		return r.Mesh.ReportConnected(sess, conn, target)
	}
	return r.Calls.ReportConnected(sess, conn)
}

// ICEFailed reports a client-observed ICE failure on a link.
func (r *Relay) ICEFailed(conn, target domain.ConnID) error {
	sess, _, err := r.sessionOf(conn)
	if err != nil {
		return err
	}
	if sess.Kind() == domain.KindMesh {
		if err := r.requireMember(sess, target); err != nil {
			return err
		}
		return r.Mesh.ReportICEFailed(sess, conn, target)
	}
	return r.Calls.ReportICEFailed(sess, conn)
}

// sessionOf resolves a connection to its session and member record.
// A connection outside any session gets ErrUnauthorized: it has no
// standing to act on session state.
func (r *Relay) sessionOf(conn domain.ConnID) (*core.Session, *domain.Participant, error) {
	sid, ok := r.Registry.SessionOf(conn)
	if !ok {
		return nil, nil, fmt.Errorf("%w: not in a session", domain.ErrUnauthorized)
	}
	sess, ok := r.Directory.Get(sid)
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	ms, ok := sess.Member(conn)
	if !ok {
		return nil, nil, fmt.Errorf("%w: not a member", domain.ErrUnauthorized)
	}
	return sess, ms.Meta(), nil
}

// pairOf is sessionOf restricted to pair sessions, for call operations.
func (r *Relay) pairOf(conn domain.ConnID) (*core.Session, *domain.Participant, error) {
	sess, meta, err := r.sessionOf(conn)
	if err != nil {
		return nil, nil, err
	}
	if sess.Kind() != domain.KindPair {
		return nil, nil, fmt.Errorf("%w: call operations are pair-only", domain.ErrInvalidState)
	}
	return sess, meta, nil
}

func (r *Relay) requireMember(sess *core.Session, conn domain.ConnID) error {
	if conn == "" {
		return fmt.Errorf("%w: missing target", domain.ErrInvalidState)
	}
	if _, ok := sess.Member(conn); !ok {
		return fmt.Errorf("%w: target %s", domain.ErrNotFound, conn)
	}
	return nil
}

// depart removes a connection from whatever session it is in, running
// the per-kind teardown. Idempotent: a sessionless connection is left
// untouched.
func (r *Relay) depart(conn domain.ConnID) {
	sid, ok := r.Registry.SessionOf(conn)
	if !ok {
		return
	}
	sess, ok := r.Directory.Get(sid)
	if !ok {
		r.Registry.DetachSession(conn)
		return
	}
	var name string
	if ms, ok := sess.Member(conn); ok {
		name = ms.Meta().DisplayName
	}

	// Negotiation state goes first so stale events arriving after the
	// removal are rejected instead of mutating ended state.
	switch sess.Kind() {
	case domain.KindPair:
		r.Calls.OnMemberGone(sess, name)
	case domain.KindMesh:
		r.Mesh.OnLeave(sid, conn)
	}

	removed, remaining, ok := sess.RemoveMember(conn)
	r.Registry.DetachSession(conn)
	if !ok {
		return
	}

	sysMsg := domain.SystemMessage(removed.DisplayName + " left the chat")
	sess.AppendMessage(sysMsg)
	r.ToSession(sess, "", core.MemberLeft{
		Type: core.EvMemberLeft, ConnID: conn, Name: removed.DisplayName, Members: sess.MembersSnapshot(),
	})
	r.ToSession(sess, "", newMessageEvent(sysMsg))

	switch sess.Kind() {
	case domain.KindPair:
		// Either member leaving ends a pair session for both.
		r.endSession(sess, removed.DisplayName, "peer-left")
	case domain.KindMesh:
		if remaining == 0 {
			sess.End()
		} else if !sess.HasHost() {
			if promoted, ok := sess.PromoteEarliest(); ok {
				r.ToSession(sess, "", core.HostChanged{
					Type: core.EvHostChanged, ConnID: promoted.ConnID, Name: promoted.DisplayName,
				})
			}
		}
	}
	r.save(sess)
	log.Info().Str("module", "app.relay").Str("session", string(sid)).Str("conn", string(conn)).Msg("member departed")
}

// endSession marks a session terminal, notifies remaining members and
// detaches them so their connections can create or join again. The ended
// session stays in the directory until the reaper collects it.
func (r *Relay) endSession(sess *core.Session, by, reason string) {
	switch sess.Kind() {
	case domain.KindPair:
		r.Calls.Shutdown(sess, domain.EndSessionClosed)
	case domain.KindMesh:
		r.Mesh.Teardown(sess.ID())
	}

	r.ToSession(sess, "", core.SessionTerminated{
		Type: core.EvSessionTerminated, TerminatedBy: by, Reason: reason,
	})
	sess.End()

	for _, m := range sess.MembersSnapshot() {
		r.Registry.DetachSession(m.ConnID)
	}
	r.save(sess)
	// The call record must not outlive the session: the directory reuses
	// codes of ended sessions, and a successor on the same code would
	// inherit the old call's phase and cooldown.
	r.Calls.Teardown(sess.ID())
	log.Info().Str("module", "app.relay").Str("session", string(sess.ID())).Str("reason", reason).Msg("session ended")
}

func (r *Relay) save(sess *core.Session) {
	r.Directory.Save(sess, r.Calls.Snapshot(sess.ID()))
}

func newMessageEvent(msg domain.Message) core.NewMessage {
	return core.NewMessage{
		Type:       core.EvNewMessage,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Kind:       msg.Kind,
		Content:    msg.Content,
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		FileType:   msg.FileType,
		Timestamp:  msg.Timestamp,
	}
}
