package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/cloakshare/relay/internal/domain"
)

// envelope is the minimal shape every inbound frame must have.
type envelope struct {
	Type string `json:"type"`
}

// sdpPayload carries an offer or answer. Target is required in mesh
// sessions and ignored in pair sessions.
type sdpPayload struct {
	Type   string `json:"type"`
	SDP    string `json:"sdp"`
	Target string `json:"target,omitempty"`
}

func (p sdpPayload) description(t webrtc.SDPType) (webrtc.SessionDescription, bool) {
	if p.SDP == "" {
		return webrtc.SessionDescription{}, false
	}
	return webrtc.SessionDescription{Type: t, SDP: p.SDP}, true
}

// candidatePayload mirrors the browser's RTCIceCandidateInit. SDPMid and
// SDPMLineIndex stay pointers so an absent field is relayed as absent,
// not as a zero the remote peer would take literally.
type candidatePayload struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Target        string  `json:"target,omitempty"`
}

func (p candidatePayload) toICE() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
}

// linkPayload targets a peer link without an SDP body, used by the
// connected/failed status reports.
type linkPayload struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// messagePayload is one chat send. File messages carry the binary inline
// as Content plus metadata; the cap on Content is enforced here at the
// boundary, before the relay sees it.
type messagePayload struct {
	Type     string             `json:"type"`
	Kind     domain.MessageKind `json:"kind"`
	Content  string             `json:"content"`
	FileName string             `json:"fileName,omitempty"`
	FileSize int64              `json:"fileSize,omitempty"`
	FileType string             `json:"fileType,omitempty"`
}

func (p messagePayload) valid(maxFileSize int64) bool {
	switch p.Kind {
	case domain.MessageText, domain.MessageEmoji:
		return p.Content != ""
	case domain.MessageFile:
		return p.FileName != "" && p.FileSize > 0 && p.FileSize <= maxFileSize
	}
	return false
}
