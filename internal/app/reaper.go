package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloakshare/relay/internal/core"
	"github.com/cloakshare/relay/internal/domain"
)

type ReaperConfig struct {
	Interval       time.Duration
	PairTTL        time.Duration
	MeshTTL        time.Duration
	PairIdleCutoff time.Duration
	MeshIdleCutoff time.Duration
}

func (c ReaperConfig) withDefaults() ReaperConfig {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.PairTTL <= 0 {
		c.PairTTL = 2 * time.Hour
	}
	if c.MeshTTL <= 0 {
		c.MeshTTL = 4 * time.Hour
	}
	if c.PairIdleCutoff <= 0 {
		c.PairIdleCutoff = 30 * time.Minute
	}
	if c.MeshIdleCutoff <= 0 {
		c.MeshIdleCutoff = time.Hour
	}
	return c
}

// Reaper periodically collects dead sessions: ended ones, ones past
// their absolute TTL and ones idle past the cutoff while not active with
// live members. It runs independently of request handling; a failed
// sweep is logged and retried next cycle, never fatal.
type Reaper struct {
	cfg   ReaperConfig
	relay *Relay
}

func NewReaper(cfg ReaperConfig, relay *Relay) *Reaper {
	return &Reaper{cfg: cfg.withDefaults(), relay: relay}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (rp *Reaper) Run(ctx context.Context) {
	log.Info().Str("module", "app.reaper").Dur("interval", rp.cfg.Interval).Msg("reaper started")
	ticker := time.NewTicker(rp.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			rp.Sweep(time.Now())
		}
	}
}

// Sweep runs one collection pass against the given clock.
func (rp *Reaper) Sweep(now time.Time) {
	var reaped int
	for _, sess := range rp.relay.Directory.List() {
		if reason, ok := rp.dead(sess, now); ok {
			rp.relay.EvictSession(sess.ID(), reason)
			reaped++
		}
	}
	if reaped > 0 {
		log.Info().Str("module", "app.reaper").Int("reaped", reaped).Msg("sweep complete")
	}
}

func (rp *Reaper) dead(sess *core.Session, now time.Time) (string, bool) {
	if sess.Status() == domain.StatusEnded {
		return "ended", true
	}

	ttl, idle := rp.cfg.PairTTL, rp.cfg.PairIdleCutoff
	if sess.Kind() == domain.KindMesh {
		ttl, idle = rp.cfg.MeshTTL, rp.cfg.MeshIdleCutoff
	}
	if now.Sub(sess.CreatedAt()) > ttl {
		return "expired", true
	}

	// Idle collection only applies to sessions that are not active with
	// live members; an ongoing meeting is never idle-reaped, the TTL is
	// its only bound.
	activeWithMembers := sess.Status() == domain.StatusActive && sess.MemberCount() > 0
	if !activeWithMembers && now.Sub(sess.LastActivity()) > idle {
		return "inactive", true
	}
	return "", false
}
