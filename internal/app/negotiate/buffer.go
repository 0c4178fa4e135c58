// Package negotiate holds the per-peer-link state machine and the ICE
// candidate buffer that absorbs the race between candidates and remote
// descriptions.
package negotiate

import "github.com/pion/webrtc/v4"

// CandidateBuffer queues ICE candidates for one remote peer until its
// remote description is known. Candidates are never reordered: the queue
// is drained in arrival order exactly once, then later candidates bypass
// it entirely.
type CandidateBuffer struct {
	queue []webrtc.ICECandidateInit
	ready bool
}

// Add records a candidate. It returns true when the candidate can be
// applied immediately, false when it was queued.
func (b *CandidateBuffer) Add(c webrtc.ICECandidateInit) bool {
	if b.ready {
		return true
	}
	b.queue = append(b.queue, c)
	return false
}

// MarkReady flips the buffer into pass-through mode and returns the
// queued candidates in original arrival order. The queue is dropped; a
// second call returns nothing.
func (b *CandidateBuffer) MarkReady() []webrtc.ICECandidateInit {
	if b.ready {
		return nil
	}
	b.ready = true
	q := b.queue
	b.queue = nil
	return q
}

// Reset discards pending candidates and re-arms queueing, used when a
// link renegotiates after an ICE restart.
func (b *CandidateBuffer) Reset() {
	b.queue = nil
	b.ready = false
}

// Pending returns the number of queued candidates.
func (b *CandidateBuffer) Pending() int { return len(b.queue) }
