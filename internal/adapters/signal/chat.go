package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

func (ctl *Controller) handleMessage(connID domain.ConnID, c *wsConn, data []byte) {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(c, "bad-payload")
		return
	}
	if !p.valid(ctl.cfg.MaxFileSize) {
		ctl.sendError(c, "bad-payload")
		return
	}
	msg := domain.Message{
		Kind:     p.Kind,
		Content:  p.Content,
		FileName: p.FileName,
		FileSize: p.FileSize,
		FileType: p.FileType,
	}
	ctl.report(c, "send-message", ctl.Relay.SendChat(connID, msg))
}

func (ctl *Controller) handleTyping(connID domain.ConnID, c *wsConn, isTyping bool) {
	ctl.report(c, "typing", ctl.Relay.Typing(connID, isTyping))
}
