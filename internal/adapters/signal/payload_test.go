package signal

import (
	"encoding/json"
	"testing"
)

func TestCandidatePayloadOptionalFields(t *testing.T) {
	t.Run("absent fields relay as absent", func(t *testing.T) {
		var p candidatePayload
		raw := `{"type":"ice-candidate","candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host"}`
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatal(err)
		}
		c := p.toICE()
		if c.SDPMid != nil {
			t.Fatalf("sdpMid materialized as %q", *c.SDPMid)
		}
		if c.SDPMLineIndex != nil {
			t.Fatalf("sdpMLineIndex materialized as %d", *c.SDPMLineIndex)
		}
	})

	t.Run("explicit zero index survives", func(t *testing.T) {
		var p candidatePayload
		raw := `{"type":"ice-candidate","candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}`
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatal(err)
		}
		c := p.toICE()
		if c.SDPMid == nil || *c.SDPMid != "0" {
			t.Fatalf("sdpMid = %v, want 0", c.SDPMid)
		}
		if c.SDPMLineIndex == nil || *c.SDPMLineIndex != 0 {
			t.Fatalf("sdpMLineIndex = %v, want 0", c.SDPMLineIndex)
		}
	})
}
