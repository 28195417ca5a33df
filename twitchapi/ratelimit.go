package twitchapi

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter: at most MaxCalls acquisitions
// within any window of length Window. Bursts are smoothed against the moving
// window rather than reset on a clock boundary.
type Limiter struct {
	MaxCalls int
	Window   time.Duration
	Now      func() time.Time                     // injectable clock for tests
	Sleep    func(ctx context.Context, d time.Duration) error // injectable wait

	mu    sync.Mutex
	calls []time.Time
}

// maxWaitCycles bounds the acquire loop so sustained contention cannot stack
// waits forever; exhausting it surfaces ErrRateLimited instead of blocking.
const maxWaitCycles = 10

func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return &Limiter{MaxCalls: maxCalls, Window: window}
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Limiter) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until a call slot is available within the window, then
// records the call. The wait loop is iterative with a bounded cycle count.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.MaxCalls <= 0 || l.Window <= 0 {
		return nil
	}
	for i := 0; i < maxWaitCycles; i++ {
		wait, ok := l.tryAcquire()
		if ok {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return ErrRateLimited
}

// tryAcquire evicts timestamps older than the window, then either records
// now (true) or returns how long until the oldest call leaves the window.
func (l *Limiter) tryAcquire() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.Window)
	idx := 0
	for idx < len(l.calls) && !l.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		l.calls = append(l.calls[:0], l.calls[idx:]...)
	}
	if len(l.calls) < l.MaxCalls {
		l.calls = append(l.calls, now)
		return 0, true
	}
	wait := l.Window - now.Sub(l.calls[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Inflight returns how many calls are currently recorded inside the window.
func (l *Limiter) Inflight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.Window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
