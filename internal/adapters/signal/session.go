package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

func (ctl *Controller) handleCreate(connID domain.ConnID, token string, c *wsConn, data []byte) {
	if !ctl.creates.Allow(token) {
		log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("create rate limited")
		ctl.sendError(c, "rate-limited")
		return
	}

	type createPayload struct {
		Type string `json:"type"`
		Name string `json:"displayName"`
		Kind string `json:"kind"`
	}
	var p createPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad create payload")
		ctl.sendError(c, "bad-payload")
		return
	}

	kind := domain.SessionKind(p.Kind)
	if kind != domain.KindPair && kind != domain.KindMesh {
		ctl.sendError(c, "bad-payload")
		return
	}
	ctl.report(c, "create-session", ctl.Relay.CreateSession(connID, p.Name, kind))
}

func (ctl *Controller) handleJoin(connID domain.ConnID, c *wsConn, data []byte) {
	type joinPayload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
		Name      string `json:"displayName"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	if p.SessionID == "" {
		ctl.sendError(c, "bad-payload")
		return
	}
	ctl.report(c, "join-session", ctl.Relay.JoinSession(connID, domain.SessionID(p.SessionID), p.Name))
}

// handleLeave exits the current session; the connection stays open.
func (ctl *Controller) handleLeave(connID domain.ConnID) {
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("leave")
	ctl.Relay.LeaveSession(connID)
}

func (ctl *Controller) handleTerminate(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "terminate-session", ctl.Relay.TerminateSession(connID))
}
