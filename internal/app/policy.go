package app

import (
	"sync"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to members that cannot keep up with the
// relay. A single dropped frame stays silent per the delivery contract;
// the policy only sees repeat offenders. OnDelivered gives the policy
// the successful sends so a recovered consumer stops counting as slow.
type Policy interface {
	OnBackpressure(s *core.Session, ms core.MemberSession) BackpressureAction
	OnDelivered(ms core.MemberSession)
}

// SlowConsumerPolicy kicks a member after a run of consecutive
// backpressure drops. Any successful delivery in between resets the
// count via Reset.
type SlowConsumerPolicy struct {
	mu        sync.Mutex
	Threshold int
	counts    map[domain.ConnID]int
}

func NewSlowConsumerPolicy(threshold int) *SlowConsumerPolicy {
	if threshold <= 0 {
		threshold = 8
	}
	return &SlowConsumerPolicy{Threshold: threshold, counts: make(map[domain.ConnID]int)}
}

func (p *SlowConsumerPolicy) OnBackpressure(_ *core.Session, ms core.MemberSession) BackpressureAction {
	conn := ms.Meta().ConnID
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[conn]++
	if p.counts[conn] >= p.Threshold {
		delete(p.counts, conn)
		return KickMember
	}
	return DropFrame
}

// OnDelivered clears the drop count: only consecutive drops kick.
func (p *SlowConsumerPolicy) OnDelivered(ms core.MemberSession) {
	p.Reset(ms.Meta().ConnID)
}

// Reset clears the drop count for a connection.
func (p *SlowConsumerPolicy) Reset(conn domain.ConnID) {
	p.mu.Lock()
	delete(p.counts, conn)
	p.mu.Unlock()
}
