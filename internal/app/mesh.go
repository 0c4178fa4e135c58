package app

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/app/negotiate"
	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

// pairKey identifies one unordered pair of participants.
type pairKey struct {
	a, b domain.ConnID
}

func keyFor(x, y domain.ConnID) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

type meshLink struct {
	*negotiate.Link
	restarted bool
}

// MeshCoordinator manages the pairwise peer links of meeting sessions.
// There is no ringing in a mesh: membership change is the trigger, and
// the newcomer initiates the offer toward every participant already
// present. Each link runs its own offer/answer/candidate exchange,
// independent of every other link.
type MeshCoordinator struct {
	mu    sync.Mutex
	links map[domain.SessionID]map[pairKey]*meshLink

	sink EventSink
}

func NewMeshCoordinator(sink EventSink) *MeshCoordinator {
	return &MeshCoordinator{
		links: make(map[domain.SessionID]map[pairKey]*meshLink),
		sink:  sink,
	}
}

// OnJoin creates one link per existing participant and instructs the
// newcomer to open negotiation toward each of them.
func (mc *MeshCoordinator) OnJoin(sess *core.Session, newcomer domain.ConnID) {
	peers := sess.Others(newcomer)

	mc.mu.Lock()
	byPair, ok := mc.links[sess.ID()]
	if !ok {
		byPair = make(map[pairKey]*meshLink)
		mc.links[sess.ID()] = byPair
	}
	for _, p := range peers {
		peer := p.Meta().ConnID
		byPair[keyFor(newcomer, peer)] = &meshLink{Link: negotiate.NewLink(newcomer, peer)}
	}
	mc.mu.Unlock()

	for _, p := range peers {
		meta := p.Meta()
		mc.sink.ToConn(newcomer, core.SendPeerOffer{
			Type: core.EvSendPeerOffer, PeerID: meta.ConnID, PeerName: meta.DisplayName,
		})
	}
	log.Info().Str("module", "app.mesh").Str("session", string(sess.ID())).
		Str("conn", string(newcomer)).Int("links", len(peers)).Msg("mesh links opened")
}

// OnLeave tears down every link touching the departed connection. Links
// between the remaining participants are untouched.
func (mc *MeshCoordinator) OnLeave(sid domain.SessionID, conn domain.ConnID) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	byPair, ok := mc.links[sid]
	if !ok {
		return
	}
	for key, ln := range byPair {
		if ln.Touches(conn) {
			ln.Close()
			delete(byPair, key)
		}
	}
	if len(byPair) == 0 {
		delete(mc.links, sid)
	}
}

// Teardown forgets all links of a session.
func (mc *MeshCoordinator) Teardown(sid domain.SessionID) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, ln := range mc.links[sid] {
		ln.Close()
	}
	delete(mc.links, sid)
}

// LinkCount reports the number of live links in a session.
func (mc *MeshCoordinator) LinkCount(sid domain.SessionID) int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.links[sid])
}

func (mc *MeshCoordinator) link(sid domain.SessionID, x, y domain.ConnID) (*meshLink, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	ln, ok := mc.links[sid][keyFor(x, y)]
	if !ok {
		return nil, fmt.Errorf("%w: no link %s<->%s", domain.ErrNotFound, x, y)
	}
	return ln, nil
}

// Offer relays a newcomer's SDP offer to one targeted peer.
func (mc *MeshCoordinator) Offer(sess *core.Session, from domain.ConnID, fromName string, target domain.ConnID, sdp webrtc.SessionDescription) error {
	ln, err := mc.link(sess.ID(), from, target)
	if err != nil {
		return err
	}
	if err := ln.Offer(from); err != nil {
		return err
	}
	mc.sink.ToConn(target, core.OfferRelay{
		Type: core.EvOffer, From: from, FromName: fromName, SDP: sdp,
	})
	return nil
}

// Answer relays the responder's SDP back across the link and flushes the
// candidates buffered on both directions, in arrival order.
func (mc *MeshCoordinator) Answer(sess *core.Session, from domain.ConnID, fromName string, target domain.ConnID, sdp webrtc.SessionDescription) error {
	ln, err := mc.link(sess.ID(), from, target)
	if err != nil {
		return err
	}
	toInitiator, toResponder, err := ln.Answer(from)
	if err != nil {
		return err
	}
	initiator, responder := ln.Initiator(), ln.Responder()

	mc.sink.ToConn(initiator, core.AnswerRelay{Type: core.EvAnswer, From: from, FromName: fromName, SDP: sdp})
	for _, c := range toInitiator {
		mc.sink.ToConn(initiator, core.CandidateRelay{Type: core.EvIceCandidate, From: responder, Candidate: c})
	}
	for _, c := range toResponder {
		mc.sink.ToConn(responder, core.CandidateRelay{Type: core.EvIceCandidate, From: initiator, Candidate: c})
	}
	return nil
}

// Candidate relays or buffers one ICE candidate on the targeted link.
func (mc *MeshCoordinator) Candidate(sess *core.Session, from, target domain.ConnID, cand webrtc.ICECandidateInit) error {
	ln, err := mc.link(sess.ID(), from, target)
	if err != nil {
		return err
	}
	deliver, err := ln.Candidate(from, cand)
	if err != nil {
		return err
	}
	if !deliver {
		return nil
	}
	mc.sink.ToConn(target, core.CandidateRelay{Type: core.EvIceCandidate, From: from, Candidate: cand})
	return nil
}

// ReportConnected records a link as connected.
func (mc *MeshCoordinator) ReportConnected(sess *core.Session, from, target domain.ConnID) error {
	ln, err := mc.link(sess.ID(), from, target)
	if err != nil {
		return err
	}
	return ln.Connected()
}

// ReportICEFailed asks the link's initiator for one restart, then closes
// the link. A closed mesh link stays closed; the peers remain in the
// session and can still chat.
func (mc *MeshCoordinator) ReportICEFailed(sess *core.Session, from, target domain.ConnID) error {
	ln, err := mc.link(sess.ID(), from, target)
	if err != nil {
		return err
	}

	mc.mu.Lock()
	first := !ln.restarted
	ln.restarted = true
	mc.mu.Unlock()

	if !first {
		ln.Close()
		mc.mu.Lock()
		delete(mc.links[sess.ID()], keyFor(from, target))
		mc.mu.Unlock()
		log.Warn().Str("module", "app.mesh").Str("session", string(sess.ID())).
			Str("from", string(from)).Str("target", string(target)).Msg("mesh link abandoned after restart")
		return nil
	}

	other, _ := ln.Other(ln.Initiator())
	mc.sink.ToConn(ln.Initiator(), core.RestartIce{Type: core.EvRestartIce, PeerID: other})
	log.Warn().Str("module", "app.mesh").Str("session", string(sess.ID())).
		Str("initiator", string(ln.Initiator())).Msg("mesh ice restart requested")
	return nil
}
