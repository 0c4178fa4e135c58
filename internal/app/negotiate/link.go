package negotiate

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/domain"
)

// State of one peer link's offer/answer exchange.
type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Event is a signaling input applied to a link.
type Event int

const (
	EventOffer Event = iota
	EventAnswer
	EventCandidate
	EventConnected
)

func (e Event) String() string {
	switch e {
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventCandidate:
		return "candidate"
	case EventConnected:
		return "connected"
	}
	return "unknown"
}

// transitions is the single dispatch table for link state changes. An
// (event, state) pair absent from the table is rejected, not assumed
// well-formed. Candidates do not change state but are only legal in the
// states listed here. An offer in any open state other than idle is a
// renegotiation, including a restart while the first offer is still
// unanswered.
var transitions = map[Event]map[State]State{
	EventOffer: {
		StateIdle:       StateOfferSent,
		StateOfferSent:  StateOfferSent,
		StateAnswerSent: StateOfferSent,
		StateConnected:  StateOfferSent,
	},
	EventAnswer: {
		StateOfferSent: StateAnswerSent,
	},
	EventConnected: {
		StateAnswerSent: StateConnected,
	},
	EventCandidate: {
		StateIdle:       StateIdle,
		StateOfferSent:  StateOfferSent,
		StateAnswerSent: StateAnswerSent,
		StateConnected:  StateConnected,
	},
}

// Link tracks one directed offer/answer exchange between two peers. The
// initiator is the side that produces offers; in pair calls that is the
// caller, in mesh sessions the newcomer.
type Link struct {
	mu sync.Mutex

	initiator domain.ConnID
	responder domain.ConnID
	state     State

	// Candidate queues keyed by the peer that will apply them. Both
	// drain when the answer passes through: the answer proves the
	// responder applied the offer, and relaying it gives the initiator
	// its remote description.
	toInitiator CandidateBuffer
	toResponder CandidateBuffer
}

func NewLink(initiator, responder domain.ConnID) *Link {
	return &Link{initiator: initiator, responder: responder}
}

func (l *Link) Initiator() domain.ConnID { return l.initiator }
func (l *Link) Responder() domain.ConnID { return l.responder }

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Touches reports whether the link involves the given connection.
func (l *Link) Touches(conn domain.ConnID) bool {
	return l.initiator == conn || l.responder == conn
}

// Other returns the opposite end of the link.
func (l *Link) Other(conn domain.ConnID) (domain.ConnID, bool) {
	switch conn {
	case l.initiator:
		return l.responder, true
	case l.responder:
		return l.initiator, true
	}
	return "", false
}

func (l *Link) step(ev Event) error {
	next, ok := transitions[ev][l.state]
	if !ok {
		log.Warn().Str("module", "negotiate").
			Str("event", ev.String()).Str("state", l.state.String()).
			Msg("transition rejected")
		return fmt.Errorf("%w: %s in %s", domain.ErrInvalidState, ev, l.state)
	}
	l.state = next
	return nil
}

// Offer applies an SDP offer from the initiator. A repeat offer after
// the exchange completed re-arms both candidate queues for the restart.
func (l *Link) Offer(from domain.ConnID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return fmt.Errorf("%w: offer on closed link", domain.ErrInvalidState)
	}
	if from != l.initiator {
		return fmt.Errorf("%w: offer from non-initiator", domain.ErrInvalidState)
	}
	renegotiate := l.state != StateIdle
	if err := l.step(EventOffer); err != nil {
		return err
	}
	if renegotiate {
		l.toInitiator.Reset()
		l.toResponder.Reset()
	}
	return nil
}

// Answer applies the responder's SDP answer and returns the candidates
// to flush, in original arrival order, for each side.
func (l *Link) Answer(from domain.ConnID) (toInitiator, toResponder []webrtc.ICECandidateInit, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return nil, nil, fmt.Errorf("%w: answer on closed link", domain.ErrInvalidState)
	}
	if from != l.responder {
		return nil, nil, fmt.Errorf("%w: answer from non-responder", domain.ErrInvalidState)
	}
	if err := l.step(EventAnswer); err != nil {
		return nil, nil, err
	}
	return l.toInitiator.MarkReady(), l.toResponder.MarkReady(), nil
}

// Candidate records an ICE candidate from one side. It returns true when
// the candidate should be relayed to the other side immediately, false
// when it was queued until the remote description is set.
func (l *Link) Candidate(from domain.ConnID, c webrtc.ICECandidateInit) (deliver bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false, fmt.Errorf("%w: candidate on closed link", domain.ErrInvalidState)
	}
	if err := l.step(EventCandidate); err != nil {
		return false, err
	}
	switch from {
	case l.initiator:
		return l.toResponder.Add(c), nil
	case l.responder:
		return l.toInitiator.Add(c), nil
	}
	return false, fmt.Errorf("%w: candidate from stranger", domain.ErrInvalidState)
}

// Connected records the client-reported ICE connected state.
func (l *Link) Connected() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnected {
		return nil // duplicate report, harmless
	}
	return l.step(EventConnected)
}

// Close makes the link terminal and discards pending candidates, so
// stale events arriving afterward are rejected rather than mutating
// ended state.
func (l *Link) Close() {
	l.mu.Lock()
	l.state = StateClosed
	l.toInitiator.Reset()
	l.toResponder.Reset()
	l.mu.Unlock()
}

// PendingFor reports how many candidates are queued for a given side,
// for diagnostics.
func (l *Link) PendingFor(conn domain.ConnID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch conn {
	case l.initiator:
		return l.toInitiator.Pending()
	case l.responder:
		return l.toResponder.Pending()
	}
	return 0
}
