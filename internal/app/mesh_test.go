package app

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/cloakshare/relay/internal/domain"
)

// meshUp creates a meeting hosted by h with guests g1 and g2, clearing
// setup frames.
func meshUp(t *testing.T, r *Relay) (domain.SessionID, map[string]*fakeSignal) {
	t.Helper()
	sigs := map[string]*fakeSignal{
		"h":  connect(t, r, "h"),
		"g1": connect(t, r, "g1"),
		"g2": connect(t, r, "g2"),
	}
	if err := r.CreateSession("h", "Host", domain.KindMesh); err != nil {
		t.Fatalf("create: %v", err)
	}
	created, ok := sigs["h"].last("session-created")
	if !ok {
		t.Fatal("no session-created ack")
	}
	sid := domain.SessionID(created["sessionId"].(string))
	if len(sid) != 6 {
		t.Fatalf("mesh code %q, want 6 digits", sid)
	}
	if err := r.JoinSession("g1", sid, "Gina"); err != nil {
		t.Fatalf("join g1: %v", err)
	}
	if err := r.JoinSession("g2", sid, "Glen"); err != nil {
		t.Fatalf("join g2: %v", err)
	}
	for _, s := range sigs {
		s.reset()
	}
	return sid, sigs
}

func TestMeshJoinOpensLinks(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sigs := map[string]*fakeSignal{
		"h":  connect(t, r, "h"),
		"g1": connect(t, r, "g1"),
		"g2": connect(t, r, "g2"),
	}
	if err := r.CreateSession("h", "Host", domain.KindMesh); err != nil {
		t.Fatal(err)
	}
	created, _ := sigs["h"].last("session-created")
	sid := domain.SessionID(created["sessionId"].(string))

	if err := r.JoinSession("g1", sid, "Gina"); err != nil {
		t.Fatal(err)
	}
	if sigs["g1"].countOf("send-peer-offer") != 1 {
		t.Fatal("first guest should open one link")
	}
	if r.Mesh.LinkCount(sid) != 1 {
		t.Fatalf("links = %d", r.Mesh.LinkCount(sid))
	}

	if err := r.JoinSession("g2", sid, "Glen"); err != nil {
		t.Fatal(err)
	}
	// newcomer initiates toward every existing participant
	if got := sigs["g2"].countOf("send-peer-offer"); got != 2 {
		t.Fatalf("send-peer-offer to newcomer = %d, want 2", got)
	}
	if sigs["h"].countOf("send-peer-offer") != 0 || sigs["g1"].countOf("send-peer-offer") != 0 {
		t.Fatal("existing participants were told to initiate")
	}
	// C(3,2) links after the join stabilizes
	if r.Mesh.LinkCount(sid) != 3 {
		t.Fatalf("links = %d, want 3", r.Mesh.LinkCount(sid))
	}
}

func TestMeshTargetedNegotiation(t *testing.T) {
	r := newTestRelay(CallConfig{})
	_, sigs := meshUp(t, r)

	// g2 joined last, so it initiates toward h.
	if err := r.Offer("g2", "h", sdp(webrtc.SDPTypeOffer)); err != nil {
		t.Fatal(err)
	}
	ev, ok := sigs["h"].last("offer")
	if !ok {
		t.Fatal("target missed the offer")
	}
	if ev["from"] != "g2" {
		t.Fatalf("offer from = %v", ev["from"])
	}
	if sigs["g1"].countOf("offer") != 0 {
		t.Fatal("offer leaked to a third participant")
	}

	// candidate races the answer: buffered on the g2<->h link only
	if err := r.Candidate("g2", "h", ice("c1")); err != nil {
		t.Fatal(err)
	}
	if sigs["h"].countOf("ice-candidate") != 0 {
		t.Fatal("candidate leaked before the answer")
	}

	if err := r.Answer("h", "g2", sdp(webrtc.SDPTypeAnswer)); err != nil {
		t.Fatal(err)
	}
	if sigs["g2"].countOf("answer") != 1 {
		t.Fatal("initiator missed the answer")
	}
	if sigs["h"].countOf("ice-candidate") != 1 {
		t.Fatal("buffered candidate not flushed to target")
	}

	t.Run("wrong direction rejected", func(t *testing.T) {
		// h is the responder on this link; its offer must be refused
		err := r.Offer("h", "g2", sdp(webrtc.SDPTypeOffer))
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("missing target rejected", func(t *testing.T) {
		err := r.Offer("g2", "", sdp(webrtc.SDPTypeOffer))
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("unknown target rejected", func(t *testing.T) {
		err := r.Candidate("g2", "nobody", ice("x"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMeshLeaveTearsDownLinks(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigs := meshUp(t, r)

	r.Disconnect("g1")

	// links touching g1 are gone, h<->g2 survives
	if got := r.Mesh.LinkCount(sid); got != 1 {
		t.Fatalf("links = %d, want 1", got)
	}
	for _, name := range []string{"h", "g2"} {
		if got := sigs[name].countOf("member-left"); got != 1 {
			t.Fatalf("%s member-left count = %d, want exactly 1", name, got)
		}
		ev, _ := sigs[name].last("member-left")
		members := ev["members"].([]any)
		if len(members) != 2 {
			t.Fatalf("%s member list = %d entries", name, len(members))
		}
	}

	// surviving link still negotiates
	if err := r.Offer("g2", "h", sdp(webrtc.SDPTypeOffer)); err != nil {
		t.Fatalf("surviving link offer: %v", err)
	}

	// stale event for the torn-down link is rejected
	if err := r.Candidate("g2", "g1", ice("stale")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("stale candidate err = %v, want ErrNotFound", err)
	}
}

func TestMeshHostPromotion(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigs := meshUp(t, r)

	r.Disconnect("h")

	for _, name := range []string{"g1", "g2"} {
		ev, ok := sigs[name].last("host-changed")
		if !ok {
			t.Fatalf("%s missed host-changed", name)
		}
		if ev["connId"] != "g1" {
			t.Fatalf("promoted %v, want earliest-joined g1", ev["connId"])
		}
	}

	sess, _ := r.Directory.Get(sid)
	if sess.Status() != domain.StatusActive {
		t.Fatal("meeting should survive the host leaving")
	}

	// meeting ends only when the last member leaves
	r.Disconnect("g1")
	r.Disconnect("g2")
	if sess.Status() != domain.StatusEnded {
		t.Fatal("empty meeting not ended")
	}
}

func TestTerminateMeetingHostOnly(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigs := meshUp(t, r)

	if err := r.TerminateSession("g1"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("guest terminate err = %v, want ErrUnauthorized", err)
	}
	sess, _ := r.Directory.Get(sid)
	if sess.Status() != domain.StatusActive {
		t.Fatal("guest terminated the meeting")
	}

	if err := r.TerminateSession("h"); err != nil {
		t.Fatalf("host terminate: %v", err)
	}
	for _, name := range []string{"g1", "g2"} {
		ev, ok := sigs[name].last("session-terminated")
		if !ok {
			t.Fatalf("%s missed session-terminated", name)
		}
		if ev["terminatedBy"] != "Host" {
			t.Fatalf("terminatedBy = %v", ev["terminatedBy"])
		}
	}
	if sess.Status() != domain.StatusEnded {
		t.Fatal("meeting not ended")
	}
}

func TestMeshICEFailure(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigs := meshUp(t, r)

	if err := r.Offer("g2", "h", sdp(webrtc.SDPTypeOffer)); err != nil {
		t.Fatal(err)
	}
	if err := r.Answer("h", "g2", sdp(webrtc.SDPTypeAnswer)); err != nil {
		t.Fatal(err)
	}

	if err := r.ICEFailed("h", "g2"); err != nil {
		t.Fatal(err)
	}
	ev, ok := sigs["g2"].last("restart-ice")
	if !ok {
		t.Fatal("link initiator missed restart-ice")
	}
	if ev["peerId"] != "h" {
		t.Fatalf("restart peerId = %v", ev["peerId"])
	}

	// repeated failure abandons the link but keeps the meeting alive
	if err := r.ICEFailed("h", "g2"); err != nil {
		t.Fatal(err)
	}
	if got := r.Mesh.LinkCount(sid); got != 2 {
		t.Fatalf("links = %d, want 2 after abandonment", got)
	}
	sess, _ := r.Directory.Get(sid)
	if sess.Status() != domain.StatusActive {
		t.Fatal("meeting ended by a link failure")
	}
}
