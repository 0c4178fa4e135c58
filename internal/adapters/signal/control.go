package signal

import (
	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

func (ctl *Controller) handlePing(c *wsConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{
		Type: core.EvPong,
	})
}

func (ctl *Controller) handleToggleMute(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "toggle-mute", ctl.Relay.ToggleMute(connID))
}

func (ctl *Controller) handleToggleVideo(connID domain.ConnID, c *wsConn) {
	ctl.report(c, "toggle-video", ctl.Relay.ToggleVideo(connID))
}
