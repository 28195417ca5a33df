package twitchapi

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(5, 60*time.Second)
	b.Now = clock.Now

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.MayAttempt() {
			t.Fatalf("MayAttempt() = false after %d failures, want true below threshold", i+1)
		}
	}
	b.RecordFailure()
	if b.MayAttempt() {
		t.Error("MayAttempt() = true after reaching threshold, want false")
	}
	if st, failures := b.State(); st != BreakerOpen || failures != 5 {
		t.Errorf("State() = %v/%d, want open/5", st, failures)
	}
}

func TestBreaker_TrialAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 60*time.Second)
	b.Now = clock.Now

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	// Short-circuits for the whole cooldown window.
	clock.Advance(59 * time.Second)
	if b.MayAttempt() {
		t.Fatal("MayAttempt() = true before cooldown elapsed")
	}
	clock.Advance(time.Second)
	// Exactly one trial attempt is admitted.
	if !b.MayAttempt() {
		t.Fatal("MayAttempt() = false after cooldown elapsed, want one trial")
	}
	if b.MayAttempt() {
		t.Fatal("MayAttempt() = true while trial in flight, want false")
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 60*time.Second)
	b.Now = clock.Now

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(60 * time.Second)
	if !b.MayAttempt() {
		t.Fatal("expected trial attempt")
	}
	b.RecordFailure()
	if b.MayAttempt() {
		t.Error("MayAttempt() = true right after failed trial, want re-opened circuit")
	}
	// The fresh open window starts at the trial failure.
	clock.Advance(60 * time.Second)
	if !b.MayAttempt() {
		t.Error("MayAttempt() = false after second cooldown, want trial")
	}
}

func TestBreaker_TrialSuccessResets(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 60*time.Second)
	b.Now = clock.Now

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(60 * time.Second)
	if !b.MayAttempt() {
		t.Fatal("expected trial attempt")
	}
	b.RecordSuccess()
	if st, failures := b.State(); st != BreakerClosed || failures != 0 {
		t.Errorf("State() after trial success = %v/%d, want closed/0", st, failures)
	}
	if !b.MayAttempt() {
		t.Error("MayAttempt() = false after reset, want true")
	}
}

func TestBreaker_AbortedTrialStaysEligible(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(3, 60*time.Second)
	b.Now = clock.Now

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clock.Advance(60 * time.Second)
	if !b.MayAttempt() {
		t.Fatal("expected trial attempt")
	}
	// The trial ends without an upstream verdict (e.g. auth failure before
	// the request went out). The breaker must not wedge in half-open.
	b.AbortTrial()
	if st, _ := b.State(); st != BreakerOpen {
		t.Fatalf("State() after aborted trial = %v, want open", st)
	}
	// The cooldown already elapsed, so the next attempt is a fresh trial.
	if !b.MayAttempt() {
		t.Fatal("MayAttempt() = false after aborted trial, want a fresh trial")
	}
	b.RecordSuccess()
	if st, failures := b.State(); st != BreakerClosed || failures != 0 {
		t.Errorf("State() = %v/%d after trial success, want closed/0", st, failures)
	}
}

func TestBreaker_AbortTrialOutsideHalfOpenIsNoop(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.AbortTrial()
	if st, _ := b.State(); st != BreakerClosed {
		t.Errorf("State() = %v, want closed: abort must not touch a closed circuit", st)
	}
	b.RecordFailure()
	b.AbortTrial()
	if _, failures := b.State(); failures != 1 {
		t.Errorf("failures = %d, want 1 preserved", failures)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	// Two more failures stay below the threshold because the count reset.
	b.RecordFailure()
	b.RecordFailure()
	if !b.MayAttempt() {
		t.Error("MayAttempt() = false, want true: failure count should have reset")
	}
}

func TestBreaker_OnOpenHook(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker(2, time.Minute)
	b.Now = clock.Now
	var transitions []bool
	b.OnOpen = func(open bool) { transitions = append(transitions, open) }

	b.RecordFailure()
	b.RecordFailure() // opens
	clock.Advance(time.Minute)
	b.MayAttempt() // trial
	b.RecordSuccess()

	want := []bool{true, false}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}
