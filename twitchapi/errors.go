package twitchapi

import (
	"errors"
	"fmt"
)

// Error taxonomy for upstream calls. Callers branch on these with errors.Is /
// errors.As; nothing here terminates the process, every path degrades to
// "try again next cycle".
var (
	// ErrCircuitOpen is returned without any network attempt while the
	// breaker is open. Treated as a quiet skip, not an error-severity event.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRateLimited is internal; Limiter.Acquire blocks instead of failing,
	// so this only surfaces when the bounded wait count is exhausted.
	ErrRateLimited = errors.New("rate limit wait exhausted")
)

// AuthError indicates missing/invalid credentials or a failed token exchange.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twitch auth: %s: %v", e.Reason, e.Err)
	}
	return "twitch auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError indicates a timeout, connection failure, or 5xx response.
// These feed the circuit breaker and are safe to retry next cycle.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("twitch transient: status %d", e.Status)
	}
	return fmt.Sprintf("twitch transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// DataError indicates a malformed payload or a 4xx other than 401/429.
// It is a client-side/data problem, not an upstream reliability signal,
// and does not count against the circuit breaker.
type DataError struct {
	Status int
	Msg    string
}

func (e *DataError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("twitch data: status %d: %s", e.Status, e.Msg)
	}
	return "twitch data: " + e.Msg
}

// IsTransient reports whether err should be retried on a later cycle.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsCircuitOpen reports whether err is the breaker short-circuiting.
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

// IsAuth reports whether err is a credentials/exchange failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
