package twitchapi

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen means the cooldown elapsed and exactly one trial call
	// is in flight; it re-opens on failure or fully resets on success.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker tracks consecutive upstream failures and short-circuits calls during
// an open window. It is consulted before any rate-limit or token work is
// spent, so an open circuit costs nothing.
type Breaker struct {
	Threshold int              // consecutive failures before opening, default 5
	Cooldown  time.Duration    // open window length, default 60s
	Now       func() time.Time // injectable clock for tests
	OnOpen    func(open bool)  // optional gauge hook

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{Threshold: threshold, Cooldown: cooldown}
}

func (b *Breaker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Breaker) threshold() int {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return 5
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown > 0 {
		return b.Cooldown
	}
	return 60 * time.Second
}

// MayAttempt reports whether a call should be attempted. While open it
// returns true exactly once per cooldown expiry, entering a half-open trial.
func (b *Breaker) MayAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown() {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		// Trial already in flight.
		return false
	}
	return false
}

// AbortTrial releases a half-open trial that ended without an upstream
// verdict (auth failure, cancellation, rate-wait exhaustion). The circuit
// reverts to open with the original window, so the already-elapsed cooldown
// makes the next attempt eligible as a fresh trial instead of the breaker
// wedging in half-open.
func (b *Breaker) AbortTrial() {
	b.mu.Lock()
	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
	}
	b.mu.Unlock()
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	wasOpen := b.state != BreakerClosed
	b.state = BreakerClosed
	b.failures = 0
	b.mu.Unlock()
	if wasOpen && b.OnOpen != nil {
		b.OnOpen(false)
	}
}

// RecordFailure increments the consecutive failure count and opens the
// circuit at the threshold. A failed half-open trial re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	opened := false
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold() {
		if b.state != BreakerOpen {
			opened = true
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
	b.mu.Unlock()
	if opened && b.OnOpen != nil {
		b.OnOpen(true)
	}
}

// State returns the current state and consecutive failure count.
func (b *Breaker) State() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
