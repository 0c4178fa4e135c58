package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

func (ctl *Controller) handleInitiate(connID domain.ConnID, c *wsConn, data []byte) {
	type initiatePayload struct {
		Type string `json:"type"`
		Kind string `json:"kind"`
	}
	var p initiatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad initiate payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	kind := domain.CallKind(p.Kind)
	if !kind.Valid() {
		ctl.sendError(c, "bad-payload")
		return
	}
	ctl.report(c, "initiate-call", ctl.Relay.InitiateCall(connID, kind))
}

func (ctl *Controller) handleAccept(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "accept-call", ctl.Relay.AcceptCall(connID))
}

func (ctl *Controller) handleReject(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "reject-call", ctl.Relay.RejectCall(connID))
}

func (ctl *Controller) handleEnd(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "end-call", ctl.Relay.EndCall(connID))
}

func (ctl *Controller) handleOffer(connID domain.ConnID, c *wsConn, data []byte) {
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	sdp, ok := p.description(webrtc.SDPTypeOffer)
	if !ok {
		ctl.sendError(c, "bad-payload")
		return
	}
	ctl.report(c, "offer", ctl.Relay.Offer(connID, domain.ConnID(p.Target), sdp))
}

func (ctl *Controller) handleAnswer(connID domain.ConnID, c *wsConn, data []byte) {
	var p sdpPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	sdp, ok := p.description(webrtc.SDPTypeAnswer)
	if !ok {
		ctl.sendError(c, "bad-payload")
		return
	}
	ctl.report(c, "answer", ctl.Relay.Answer(connID, domain.ConnID(p.Target), sdp))
}

func (ctl *Controller) handleCandidate(connID domain.ConnID, c *wsConn, data []byte) {
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	if p.Candidate == "" {
		// end-of-candidates marker, nothing to relay
		return
	}
	ctl.report(c, "ice-candidate", ctl.Relay.Candidate(connID, domain.ConnID(p.Target), p.toICE()))
}

func (ctl *Controller) handleConnected(connID domain.ConnID, c *wsConn, data []byte) {
	var p linkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connected payload")
		return
	}
	ctl.report(c, "call-connected", ctl.Relay.CallConnected(connID, domain.ConnID(p.Target)))
}

func (ctl *Controller) handleICEFailed(connID domain.ConnID, c *wsConn, data []byte) {
	var p linkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad ice-failed payload")
		return
	}
	ctl.report(c, "ice-failed", ctl.Relay.ICEFailed(connID, domain.ConnID(p.Target)))
}
