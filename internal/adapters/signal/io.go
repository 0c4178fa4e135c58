package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, connID domain.ConnID, token string, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump closing")
		ctl.Relay.Disconnect(connID)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(connID)).Msg("readPump read error")
				return
			}
			ctl.dispatch(connID, token, c, data)
		}
	}
}

func (ctl *Controller) dispatch(connID domain.ConnID, token string, c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad-payload")
		return
	}

	switch env.Type {
	case "create-session":
		ctl.handleCreate(connID, token, c, data)
	case "join-session":
		ctl.handleJoin(connID, c, data)
	case "leave-session":
		ctl.handleLeave(connID)
	case "terminate-session":
		ctl.handleTerminate(connID, c)
	case "send-message":
		ctl.handleMessage(connID, c, data)
	case "typing-start":
		ctl.handleTyping(connID, c, true)
	case "typing-stop":
		ctl.handleTyping(connID, c, false)
	case "initiate-call":
		ctl.handleInitiate(connID, c, data)
	case "accept-call":
		ctl.handleAccept(connID, c)
	case "reject-call":
		ctl.handleReject(connID, c)
	case "end-call":
		ctl.handleEnd(connID, c)
	case "offer":
		ctl.handleOffer(connID, c, data)
	case "answer":
		ctl.handleAnswer(connID, c, data)
	case "ice-candidate":
		ctl.handleCandidate(connID, c, data)
	case "call-connected":
		ctl.handleConnected(connID, c, data)
	case "ice-failed":
		ctl.handleICEFailed(connID, c, data)
	case "toggle-mute":
		ctl.handleToggleMute(connID, c)
	case "toggle-video":
		ctl.handleToggleVideo(connID, c)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(c, "unknown-type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, code string) {
	ctl.sendJSON(c, struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{
		Type:  core.EvError,
		Error: code,
	})
}

// report translates a relay error to a client-facing error frame.
// Invalid-state rejections are dropped with a diagnostic only: signaling
// must stay robust to duplicate and late messages.
func (ctl *Controller) report(c *wsConn, op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrInvalidState) {
		log.Warn().Err(err).Str("module", "signal").Str("op", op).Msg("dropped out-of-state signal")
		return
	}
	log.Warn().Err(err).Str("module", "signal").Str("op", op).Msg("rejected")
	ctl.sendError(c, errorCode(err))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrSessionFull):
		return "session-full"
	case errors.Is(err, domain.ErrSessionEnded):
		return "session-ended"
	case errors.Is(err, domain.ErrNotFound):
		return "not-found"
	case errors.Is(err, domain.ErrCallInProgress):
		return "call-in-progress"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity-exceeded"
	case errors.Is(err, domain.ErrGenerationFailed):
		return "generation-failed"
	case errors.Is(err, domain.ErrNameEmpty), errors.Is(err, domain.ErrNameTooLong):
		return "bad-name"
	}
	return "internal"
}
