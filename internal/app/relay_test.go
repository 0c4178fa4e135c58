package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
	"github.com/cloakshare/relay/internal/store"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {}

// events decodes every captured frame into a generic map.
func (f *fakeSignal) events() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeSignal) countOf(typ string) int {
	n := 0
	for _, ev := range f.events() {
		if ev["type"] == typ {
			n++
		}
	}
	return n
}

func (f *fakeSignal) last(typ string) (map[string]any, bool) {
	var found map[string]any
	for _, ev := range f.events() {
		if ev["type"] == typ {
			found = ev
		}
	}
	return found, found != nil
}

func (f *fakeSignal) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func newTestRelay(callCfg CallConfig) *Relay {
	if callCfg.RingTimeout == 0 {
		callCfg.RingTimeout = time.Hour
	}
	if callCfg.NegotiationTimeout == 0 {
		callCfg.NegotiationTimeout = time.Hour
	}
	r := &Relay{
		Directory: NewDirectory(DirectoryConfig{}, store.NewMemoryStore()),
		Registry:  NewRegistry(),
		Policy:    NewSlowConsumerPolicy(3),
	}
	r.Calls = NewCallMachine(callCfg, r)
	r.Mesh = NewMeshCoordinator(r)
	return r
}

func connect(t *testing.T, r *Relay, id string) *fakeSignal {
	t.Helper()
	sig := &fakeSignal{}
	r.Connect(domain.ConnID(id), sig, func() {})
	return sig
}

// pairUp creates a pair session with members a (Alice) and b (Bob) and
// clears the setup frames.
func pairUp(t *testing.T, r *Relay) (domain.SessionID, *fakeSignal, *fakeSignal) {
	t.Helper()
	sigA := connect(t, r, "a")
	sigB := connect(t, r, "b")

	if err := r.CreateSession("a", "Alice", domain.KindPair); err != nil {
		t.Fatalf("create: %v", err)
	}
	created, ok := sigA.last("session-created")
	if !ok {
		t.Fatal("no session-created ack")
	}
	sid := domain.SessionID(created["sessionId"].(string))
	if err := r.JoinSession("b", sid, "Bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	sigA.reset()
	sigB.reset()
	return sid, sigA, sigB
}

func TestCreateAndJoinPair(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sigA := connect(t, r, "a")
	sigB := connect(t, r, "b")

	if err := r.CreateSession("a", "Alice", domain.KindPair); err != nil {
		t.Fatal(err)
	}
	created, ok := sigA.last("session-created")
	if !ok {
		t.Fatal("no session-created ack")
	}
	sid := created["sessionId"].(string)
	if len(sid) != 4 {
		t.Fatalf("pair code %q, want 4 digits", sid)
	}
	if created["role"] != "initiator" {
		t.Fatalf("creator role = %v", created["role"])
	}

	if err := r.JoinSession("b", domain.SessionID(sid), "Bob"); err != nil {
		t.Fatal(err)
	}

	joined, ok := sigB.last("session-joined")
	if !ok {
		t.Fatal("no session-joined ack")
	}
	if joined["role"] != "joiner" {
		t.Fatalf("joiner role = %v", joined["role"])
	}
	members := joined["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("member list length = %d", len(members))
	}
	// replay includes both system join entries
	messages := joined["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("replayed %d messages, want 2 system entries", len(messages))
	}

	if sigA.countOf("member-joined") != 1 {
		t.Fatal("creator missed member-joined")
	}
	if sigA.countOf("new-message") != 1 {
		t.Fatal("creator missed the system join message")
	}
	// the joiner gets history in the ack, not a second broadcast
	if sigB.countOf("member-joined") != 0 {
		t.Fatal("joiner received its own member-joined")
	}
}

func TestJoinErrors(t *testing.T) {
	r := newTestRelay(CallConfig{})

	t.Run("unknown session", func(t *testing.T) {
		connect(t, r, "x")
		err := r.JoinSession("x", "0000", "Xavier")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("full session", func(t *testing.T) {
		sid, _, _ := pairUp(t, r)
		connect(t, r, "c")
		err := r.JoinSession("c", sid, "Carol")
		if !errors.Is(err, domain.ErrSessionFull) {
			t.Fatalf("err = %v, want ErrSessionFull", err)
		}
	})

	t.Run("empty name", func(t *testing.T) {
		r2 := newTestRelay(CallConfig{})
		sigH := connect(t, r2, "h")
		if err := r2.CreateSession("h", "Host", domain.KindMesh); err != nil {
			t.Fatal(err)
		}
		created, _ := sigH.last("session-created")
		sid := domain.SessionID(created["sessionId"].(string))
		connect(t, r2, "g")
		if err := r2.JoinSession("g", sid, ""); !errors.Is(err, domain.ErrNameEmpty) {
			t.Fatalf("err = %v, want ErrNameEmpty", err)
		}
	})
}

func TestPairLeaveEndsSession(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigA, sigB := pairUp(t, r)

	r.LeaveSession("b")

	if sigA.countOf("member-left") != 1 {
		t.Fatalf("member-left count = %d", sigA.countOf("member-left"))
	}
	if sigA.countOf("session-terminated") != 1 {
		t.Fatal("remaining member missed session-terminated")
	}
	if _, ok := sigB.last("left"); !ok {
		t.Fatal("leaver missed the left ack")
	}

	sess, ok := r.Directory.Get(sid)
	if !ok {
		t.Fatal("session dropped before reap")
	}
	if sess.Status() != domain.StatusEnded {
		t.Fatalf("status = %v, want ended", sess.Status())
	}

	// idempotent: a second leave produces no further membership events
	before := sigA.countOf("member-left")
	r.LeaveSession("b")
	if sigA.countOf("member-left") != before {
		t.Fatal("duplicate member-left after repeated leave")
	}

	// both connections are free to start over
	sigA.reset()
	if err := r.CreateSession("a", "Alice", domain.KindPair); err != nil {
		t.Fatalf("create after termination: %v", err)
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	r := newTestRelay(CallConfig{})
	_, sigA, _ := pairUp(t, r)

	r.Disconnect("b")

	if sigA.countOf("member-left") != 1 {
		t.Fatal("peer missed member-left")
	}
	if sigA.countOf("session-terminated") != 1 {
		t.Fatal("peer missed session-terminated")
	}
	if n := r.Registry.Count(); n != 1 {
		t.Fatalf("registry count = %d, want 1", n)
	}
	// a disconnected stranger is a no-op
	r.Disconnect("b")
}

func TestChatRelay(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigA, sigB := pairUp(t, r)

	if err := r.SendChat("a", domain.Message{Kind: domain.MessageText, Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	// sender included: both render the same order
	for name, sig := range map[string]*fakeSignal{"sender": sigA, "peer": sigB} {
		ev, ok := sig.last("new-message")
		if !ok {
			t.Fatalf("%s missed new-message", name)
		}
		if ev["content"] != "hello" || ev["senderName"] != "Alice" {
			t.Fatalf("%s got %v", name, ev)
		}
	}

	sess, _ := r.Directory.Get(sid)
	msgs := sess.MessagesSnapshot()
	if msgs[len(msgs)-1].Content != "hello" {
		t.Fatal("message not logged")
	}

	t.Run("outsider rejected", func(t *testing.T) {
		connect(t, r, "z")
		err := r.SendChat("z", domain.Message{Kind: domain.MessageText, Content: "hi"})
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestTypingAndMediaState(t *testing.T) {
	r := newTestRelay(CallConfig{})
	_, sigA, sigB := pairUp(t, r)

	if err := r.Typing("a", true); err != nil {
		t.Fatal(err)
	}
	ev, ok := sigB.last("user-typing")
	if !ok {
		t.Fatal("peer missed user-typing")
	}
	if ev["isTyping"] != true {
		t.Fatalf("isTyping = %v", ev["isTyping"])
	}
	if sigA.countOf("user-typing") != 0 {
		t.Fatal("typing echoed to sender")
	}

	if err := r.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	ms, ok := sigB.last("media-state")
	if !ok {
		t.Fatal("peer missed media-state")
	}
	if ms["muted"] != true || ms["connId"] != "a" {
		t.Fatalf("media-state = %v", ms)
	}
	if err := r.ToggleMute("a"); err != nil {
		t.Fatal(err)
	}
	ms, _ = sigB.last("media-state")
	if ms["muted"] != false {
		t.Fatal("second toggle did not unmute")
	}
}

func TestDirectEventsBumpActivity(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, _, _ := pairUp(t, r)
	sess, _ := r.Directory.Get(sid)

	before := sess.LastActivity()
	time.Sleep(5 * time.Millisecond)

	// Call signaling is all direct sends; it must still count as activity
	// or an idle cutoff would reap a session mid-negotiation.
	if err := r.InitiateCall("a", domain.CallVoice); err != nil {
		t.Fatal(err)
	}
	if !sess.LastActivity().After(before) {
		t.Fatal("directed traffic did not bump the activity clock")
	}
}

func TestTerminateSession(t *testing.T) {
	r := newTestRelay(CallConfig{})
	sid, sigA, sigB := pairUp(t, r)

	if err := r.TerminateSession("b"); err != nil {
		t.Fatal(err)
	}
	ev, ok := sigA.last("session-terminated")
	if !ok {
		t.Fatal("peer missed session-terminated")
	}
	if ev["terminatedBy"] != "Bob" {
		t.Fatalf("terminatedBy = %v", ev["terminatedBy"])
	}
	if _, ok := sigB.last("session-terminated"); !ok {
		t.Fatal("terminator missed the notice")
	}
	sess, _ := r.Directory.Get(sid)
	if sess.Status() != domain.StatusEnded {
		t.Fatal("session not ended")
	}
}
