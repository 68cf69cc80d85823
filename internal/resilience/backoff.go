package resilience

import (
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// BackoffConfig mirrors the three tunables of the reset scheduler.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Max: 60 * time.Second, Multiplier: 2.0}
}

// ResetScheduler gates device resets behind exponential backoff: the first
// reset is always allowed; every subsequent one must wait at least
// initialBackoff*multiplier^resetCount (clamped to maxBackoff) since the
// previous reset.
type ResetScheduler struct {
	mu            sync.Mutex
	b             *backoff.Backoff
	lastResetTime time.Time
	cooldown      time.Duration
	resetCount    int
}

func NewResetScheduler(cfg BackoffConfig) *ResetScheduler {
	return &ResetScheduler{
		b: &backoff.Backoff{
			Min:    cfg.Initial,
			Max:    cfg.Max,
			Factor: cfg.Multiplier,
		},
	}
}

// Allow reports whether a reset may be performed at time now.
func (s *ResetScheduler) Allow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastResetTime.IsZero() {
		return true
	}
	return now.Sub(s.lastResetTime) >= s.cooldown
}

// RecordReset must be called immediately after a reset is actually
// performed. It sets the cooldown window for the next Allow check.
func (s *ResetScheduler) RecordReset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResetTime = now
	s.cooldown = s.b.Duration()
	s.resetCount++
}

func (s *ResetScheduler) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetCount
}
