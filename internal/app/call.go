package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/app/negotiate"
	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

type CallConfig struct {
	RingTimeout        time.Duration
	NegotiationTimeout time.Duration
	Cooldown           time.Duration
}

func (c CallConfig) withDefaults() CallConfig {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 30 * time.Second
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	return c
}

// CallMachine drives the single-call lifecycle of pair sessions:
// idle → initiating → ringing → accepted → negotiating → connected → ended.
// Exactly one call may be active per session; that invariant lives here
// and nowhere else.
//
// The accept deliberately carries no media negotiation. It makes the
// machine instruct the initiator to produce the SDP offer, so the offer
// only exists once both sides want the call.
type CallMachine struct {
	mu    sync.Mutex
	calls map[domain.SessionID]*pairCall

	cfg  CallConfig
	sink EventSink
}

type pairCall struct {
	mu   sync.Mutex
	sess *core.Session

	phase         domain.CallPhase
	kind          domain.CallKind
	initiator     domain.ConnID
	initiatorName string
	recipient     domain.ConnID

	link *negotiate.Link

	ringTimer *time.Timer
	negTimer  *time.Timer
	restarted bool

	startedAt     time.Time
	endedAt       time.Time
	cooldownUntil time.Time
}

func NewCallMachine(cfg CallConfig, sink EventSink) *CallMachine {
	return &CallMachine{
		calls: make(map[domain.SessionID]*pairCall),
		cfg:   cfg.withDefaults(),
		sink:  sink,
	}
}

func (m *CallMachine) get(sess *core.Session) *pairCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.calls[sess.ID()]
	if ok && pc.sess == sess {
		return pc
	}
	if ok {
		// Stale record from an ended session whose code was reused.
		pc.mu.Lock()
		pc.stopTimersLocked()
		if pc.link != nil {
			pc.link.Close()
		}
		pc.mu.Unlock()
	}
	pc = &pairCall{sess: sess, phase: domain.CallIdle}
	m.calls[sess.ID()] = pc
	return pc
}

func (m *CallMachine) lookup(sid domain.SessionID) (*pairCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.calls[sid]
	return pc, ok
}

// Teardown forgets a session's call record entirely.
func (m *CallMachine) Teardown(sid domain.SessionID) {
	m.mu.Lock()
	pc, ok := m.calls[sid]
	delete(m.calls, sid)
	m.mu.Unlock()
	if ok {
		pc.mu.Lock()
		pc.stopTimersLocked()
		if pc.link != nil {
			pc.link.Close()
		}
		pc.mu.Unlock()
	}
}

// Phase reports the current lifecycle phase, idle when no record exists.
func (m *CallMachine) Phase(sid domain.SessionID) domain.CallPhase {
	pc, ok := m.lookup(sid)
	if !ok {
		return domain.CallIdle
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.phase
}

// Snapshot returns the persisted call trace for a session, nil if no
// call was ever placed.
func (m *CallMachine) Snapshot(sid domain.SessionID) *domain.CallSession {
	pc, ok := m.lookup(sid)
	if !ok {
		return nil
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.startedAt.IsZero() {
		return nil
	}
	return &domain.CallSession{
		Active:      pc.phase != domain.CallIdle && pc.phase != domain.CallEnded,
		Kind:        pc.kind,
		InitiatorID: pc.initiator,
		StartedAt:   pc.startedAt,
		EndedAt:     pc.endedAt,
	}
}

// Initiate starts ringing the peer. Initiating while a call is active
// fails with ErrCallInProgress; the first call's state is untouched.
func (m *CallMachine) Initiate(sess *core.Session, from domain.ConnID, fromName string, kind domain.CallKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown call kind %q", domain.ErrInvalidState, kind)
	}
	peer, ok := sess.Peer(from)
	if !ok {
		return fmt.Errorf("%w: no peer to ring", domain.ErrInvalidState)
	}

	pc := m.get(sess)
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.phase == domain.CallEnded && time.Now().After(pc.cooldownUntil) {
		pc.phase = domain.CallIdle
	}
	if pc.phase != domain.CallIdle {
		return domain.ErrCallInProgress
	}

	pc.phase = domain.CallInitiating
	pc.kind = kind
	pc.initiator = from
	pc.initiatorName = fromName
	pc.recipient = peer.Meta().ConnID
	pc.restarted = false
	pc.startedAt = time.Now()
	pc.endedAt = time.Time{}
	pc.link = nil

	m.sink.ToConn(pc.recipient, core.IncomingCall{
		Type: core.EvIncomingCall, CallerID: from, CallerName: fromName, Kind: kind,
	})
	m.sink.ToConn(from, core.CallInitiated{Type: core.EvCallInitiated, Kind: kind})

	pc.phase = domain.CallRinging
	pc.ringTimer = time.AfterFunc(m.cfg.RingTimeout, func() { m.onRingTimeout(sess.ID()) })

	log.Info().Str("module", "app.call").Str("session", string(sess.ID())).
		Str("initiator", string(from)).Str("kind", string(kind)).Msg("call ringing")
	return nil
}

// Accept moves the call to negotiating and tells the initiator, never
// the recipient, to produce the offer.
func (m *CallMachine) Accept(sess *core.Session, from domain.ConnID, fromName string) error {
	pc, ok := m.lookup(sess.ID())
	if !ok {
		return fmt.Errorf("%w: no call to accept", domain.ErrInvalidState)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.phase != domain.CallRinging {
		return fmt.Errorf("%w: accept in %s", domain.ErrInvalidState, pc.phase)
	}
	if from != pc.recipient {
		return domain.ErrUnauthorized
	}

	pc.stopRingTimerLocked()
	pc.phase = domain.CallAccepted

	m.sink.ToSession(sess, "", core.CallAccepted{
		Type: core.EvCallAccepted, Kind: pc.kind, AcceptedBy: fromName,
	})
	m.sink.ToConn(pc.initiator, core.SendOfferNow{Type: core.EvSendOfferNow, Kind: pc.kind})

	pc.link = negotiate.NewLink(pc.initiator, pc.recipient)
	pc.phase = domain.CallNegotiating
	pc.negTimer = time.AfterFunc(m.cfg.NegotiationTimeout, func() { m.onNegotiationTimeout(sess.ID()) })

	log.Info().Str("module", "app.call").Str("session", string(sess.ID())).Msg("call accepted, negotiating")
	return nil
}

// Reject ends a ringing call.
func (m *CallMachine) Reject(sess *core.Session, from domain.ConnID, fromName string) error {
	pc, ok := m.lookup(sess.ID())
	if !ok {
		return fmt.Errorf("%w: no call to reject", domain.ErrInvalidState)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase != domain.CallRinging {
		return fmt.Errorf("%w: reject in %s", domain.ErrInvalidState, pc.phase)
	}
	if from != pc.recipient {
		return domain.ErrUnauthorized
	}
	m.endLocked(pc, domain.EndRejected, fromName)
	return nil
}

// End hangs up an in-flight call from either side.
func (m *CallMachine) End(sess *core.Session, from domain.ConnID, fromName string) error {
	pc, ok := m.lookup(sess.ID())
	if !ok {
		return fmt.Errorf("%w: no call to end", domain.ErrInvalidState)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase == domain.CallIdle || pc.phase == domain.CallEnded {
		return fmt.Errorf("%w: end in %s", domain.ErrInvalidState, pc.phase)
	}
	if from != pc.initiator && from != pc.recipient {
		return domain.ErrUnauthorized
	}
	m.endLocked(pc, domain.EndHangup, fromName)
	return nil
}

// OnMemberGone ends any in-flight call when a participant leaves or
// disconnects. Pending negotiation state is discarded synchronously so
// stale events are ignored afterward.
func (m *CallMachine) OnMemberGone(sess *core.Session, name string) {
	m.shutdown(sess, domain.EndDisconnection, name)
}

// Shutdown force-ends any in-flight call, used when the whole session is
// being terminated or evicted.
func (m *CallMachine) Shutdown(sess *core.Session, reason domain.EndReason) {
	m.shutdown(sess, reason, "")
}

func (m *CallMachine) shutdown(sess *core.Session, reason domain.EndReason, endedBy string) {
	pc, ok := m.lookup(sess.ID())
	if !ok {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase == domain.CallIdle || pc.phase == domain.CallEnded {
		return
	}
	m.endLocked(pc, reason, endedBy)
}

// Offer relays the initiator's SDP to the recipient.
func (m *CallMachine) Offer(sess *core.Session, from domain.ConnID, fromName string, sdp webrtc.SessionDescription) error {
	pc, link, err := m.negotiating(sess.ID())
	if err != nil {
		return err
	}
	if err := link.Offer(from); err != nil {
		return err
	}
	pc.mu.Lock()
	target, kind := pc.recipient, pc.kind
	pc.mu.Unlock()
	m.sink.ToConn(target, core.OfferRelay{
		Type: core.EvOffer, From: from, FromName: fromName, SDP: sdp, Kind: kind,
	})
	return nil
}

// Answer relays the recipient's SDP back and flushes both candidate
// queues: the answer is the proof that both remote descriptions are set.
func (m *CallMachine) Answer(sess *core.Session, from domain.ConnID, fromName string, sdp webrtc.SessionDescription) error {
	pc, link, err := m.negotiating(sess.ID())
	if err != nil {
		return err
	}
	toInitiator, toRecipient, err := link.Answer(from)
	if err != nil {
		return err
	}
	pc.mu.Lock()
	initiator, recipient := pc.initiator, pc.recipient
	pc.mu.Unlock()

	m.sink.ToConn(initiator, core.AnswerRelay{Type: core.EvAnswer, From: from, FromName: fromName, SDP: sdp})
	for _, c := range toInitiator {
		m.sink.ToConn(initiator, core.CandidateRelay{Type: core.EvIceCandidate, From: recipient, Candidate: c})
	}
	for _, c := range toRecipient {
		m.sink.ToConn(recipient, core.CandidateRelay{Type: core.EvIceCandidate, From: initiator, Candidate: c})
	}
	return nil
}

// Candidate relays or buffers one ICE candidate, per the link's state.
func (m *CallMachine) Candidate(sess *core.Session, from domain.ConnID, cand webrtc.ICECandidateInit) error {
	_, link, err := m.negotiating(sess.ID())
	if err != nil {
		return err
	}
	deliver, err := link.Candidate(from, cand)
	if err != nil {
		return err
	}
	if !deliver {
		return nil
	}
	target, ok := link.Other(from)
	if !ok {
		return domain.ErrInvalidState
	}
	m.sink.ToConn(target, core.CandidateRelay{Type: core.EvIceCandidate, From: from, Candidate: cand})
	return nil
}

// ReportConnected records the client-observed ICE connected state.
func (m *CallMachine) ReportConnected(sess *core.Session, from domain.ConnID) error {
	pc, link, err := m.negotiating(sess.ID())
	if err != nil {
		return err
	}
	if err := link.Connected(); err != nil {
		return err
	}
	pc.mu.Lock()
	pc.phase = domain.CallConnected
	pc.stopNegTimerLocked()
	pc.mu.Unlock()
	log.Info().Str("module", "app.call").Str("session", string(sess.ID())).Msg("call connected")
	return nil
}

// ReportICEFailed asks the initiator for one ICE restart, then gives up.
func (m *CallMachine) ReportICEFailed(sess *core.Session, from domain.ConnID) error {
	pc, ok := m.lookup(sess.ID())
	if !ok {
		return fmt.Errorf("%w: no call", domain.ErrInvalidState)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase != domain.CallNegotiating && pc.phase != domain.CallConnected {
		return fmt.Errorf("%w: ice failure in %s", domain.ErrInvalidState, pc.phase)
	}
	if pc.restarted {
		m.endLocked(pc, domain.EndConnectionLost, "")
		return nil
	}
	pc.restarted = true
	pc.phase = domain.CallNegotiating
	pc.stopNegTimerLocked()
	sid := sess.ID()
	pc.negTimer = time.AfterFunc(m.cfg.NegotiationTimeout, func() { m.onNegotiationTimeout(sid) })
	m.sink.ToConn(pc.initiator, core.RestartIce{Type: core.EvRestartIce})
	log.Warn().Str("module", "app.call").Str("session", string(sid)).Msg("ice failed, restart requested")
	return nil
}

func (m *CallMachine) negotiating(sid domain.SessionID) (*pairCall, *negotiate.Link, error) {
	pc, ok := m.lookup(sid)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no call", domain.ErrInvalidState)
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase != domain.CallNegotiating && pc.phase != domain.CallConnected {
		return nil, nil, fmt.Errorf("%w: negotiation event in %s", domain.ErrInvalidState, pc.phase)
	}
	return pc, pc.link, nil
}

func (m *CallMachine) onRingTimeout(sid domain.SessionID) {
	pc, ok := m.lookup(sid)
	if !ok {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase != domain.CallRinging {
		return
	}
	log.Info().Str("module", "app.call").Str("session", string(sid)).Msg("ring timeout")
	m.endLocked(pc, domain.EndTimeout, "")
}

func (m *CallMachine) onNegotiationTimeout(sid domain.SessionID) {
	pc, ok := m.lookup(sid)
	if !ok {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.phase != domain.CallNegotiating {
		return
	}
	if pc.restarted {
		log.Warn().Str("module", "app.call").Str("session", string(sid)).Msg("negotiation timeout after restart")
		m.endLocked(pc, domain.EndConnectionLost, "")
		return
	}
	pc.restarted = true
	pc.negTimer = time.AfterFunc(m.cfg.NegotiationTimeout, func() { m.onNegotiationTimeout(sid) })
	m.sink.ToConn(pc.initiator, core.RestartIce{Type: core.EvRestartIce})
	log.Warn().Str("module", "app.call").Str("session", string(sid)).Msg("negotiation timeout, restart requested")
}

// endLocked finalizes the call. Caller holds pc.mu.
func (m *CallMachine) endLocked(pc *pairCall, reason domain.EndReason, endedBy string) {
	pc.stopTimersLocked()
	if pc.link != nil {
		pc.link.Close()
	}
	pc.phase = domain.CallEnded
	pc.endedAt = time.Now()
	pc.cooldownUntil = pc.endedAt.Add(m.cfg.Cooldown)

	m.sink.ToSession(pc.sess, "", core.CallEnded{Type: core.EvCallEnded, Reason: reason, EndedBy: endedBy})
	log.Info().Str("module", "app.call").Str("session", string(pc.sess.ID())).
		Str("reason", string(reason)).Msg("call ended")
}

func (pc *pairCall) stopRingTimerLocked() {
	if pc.ringTimer != nil {
		pc.ringTimer.Stop()
		pc.ringTimer = nil
	}
}

func (pc *pairCall) stopNegTimerLocked() {
	if pc.negTimer != nil {
		pc.negTimer.Stop()
		pc.negTimer = nil
	}
}

func (pc *pairCall) stopTimersLocked() {
	pc.stopRingTimerLocked()
	pc.stopNegTimerLocked()
}
