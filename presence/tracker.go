// Package presence converts raw live-status polling into edge-triggered
// notifications: exactly one went-live event per broadcast session, one
// went-offline event when it ends.
package presence

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/streamwatch/backend/telemetry"
	"github.com/onnwee/streamwatch/backend/twitchapi"
)

// State is the last observed liveness of a tracked identity.
type State string

const (
	StateOffline State = "offline"
	StateLive    State = "live"
)

// Identity is one tracked broadcaster. LastState/LastSessionID are mutated
// only by the tracker after each poll cycle.
type Identity struct {
	Handle        string
	Target        string // notification target for the surrounding chat system
	LastState     State
	LastSessionID string
}

// Store persists tracked identities and their poll state.
type Store interface {
	TrackedIdentities(ctx context.Context) ([]Identity, error)
	SetState(ctx context.Context, handle string, state State, sessionID string) error
	RemoveIdentity(ctx context.Context, handle string) error
}

// IdentityError is a per-identity failure inside an otherwise healthy cycle.
// One identity's failure never aborts the batch.
type IdentityError struct {
	Handle string
	Err    error
}

// Tracker polls tracked identities through the API client and computes
// presence transition events.
type Tracker struct {
	API      *twitchapi.Client
	Store    Store
	Interval time.Duration // poll interval, default 30s
}

func (t *Tracker) interval() time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return 30 * time.Second
}

// Cycle performs one poll pass: batch-resolve handles, batch-fetch live
// status, compute transitions, persist new state. It returns the computed
// events plus per-identity errors; the returned error is set only when the
// whole batch failed (e.g. the resolve or streams call).
func (t *Tracker) Cycle(ctx context.Context) ([]Event, []IdentityError, error) {
	identities, err := t.Store.TrackedIdentities(ctx)
	if err != nil {
		return nil, nil, err
	}
	telemetry.SetTrackedIdentities(len(identities))
	if len(identities) == 0 {
		return nil, nil, nil
	}

	handles := make([]string, 0, len(identities))
	for _, id := range identities {
		handles = append(handles, id.Handle)
	}
	users, err := t.API.GetUsers(ctx, handles)
	if err != nil {
		return nil, nil, err
	}
	idByLogin := make(map[string]string, len(users))
	for _, u := range users {
		idByLogin[u.Login] = u.ID
	}

	var itemErrs []IdentityError
	userIDs := make([]string, 0, len(identities))
	resolved := make([]Identity, 0, len(identities))
	for _, id := range identities {
		uid, ok := idByLogin[id.Handle]
		if !ok {
			// Upstream account is gone (deleted/renamed); drop from tracking
			// rather than erroring every future cycle.
			slog.Warn("tracked identity not resolvable, removing", slog.String("handle", id.Handle))
			if err := t.Store.RemoveIdentity(ctx, id.Handle); err != nil {
				itemErrs = append(itemErrs, IdentityError{Handle: id.Handle, Err: err})
			}
			continue
		}
		userIDs = append(userIDs, uid)
		resolved = append(resolved, id)
	}
	if len(resolved) == 0 {
		return nil, itemErrs, nil
	}

	streams, err := t.API.GetStreams(ctx, userIDs)
	if err != nil {
		return nil, itemErrs, err
	}
	liveByLogin := make(map[string]twitchapi.Stream, len(streams))
	for _, s := range streams {
		liveByLogin[s.UserLogin] = s
	}

	var events []Event
	for _, id := range resolved {
		s, live := liveByLogin[id.Handle]
		switch {
		case live && (id.LastState != StateLive || s.ID != id.LastSessionID):
			// New session: either an offline->live edge or a changed session
			// id while continuously live (new stream, not a continuation).
			ev := Event{
				Kind:        WentLive,
				Handle:      id.Handle,
				Target:      id.Target,
				SessionID:   s.ID,
				Title:       s.Title,
				Category:    s.GameName,
				ViewerCount: s.ViewerCount,
				StartedAt:   s.StartedAt,
				Thumbnail:   s.ThumbnailURL,
			}
			if ev.Category == "" && s.GameID != "" {
				// Display-only enrichment; failure must not block the cycle.
				if g, err := t.API.GetGame(ctx, s.GameID); err == nil && g != nil {
					ev.Category = g.Name
				}
			}
			if err := t.Store.SetState(ctx, id.Handle, StateLive, s.ID); err != nil {
				itemErrs = append(itemErrs, IdentityError{Handle: id.Handle, Err: err})
				continue
			}
			events = append(events, ev)
		case !live && id.LastState == StateLive:
			if err := t.Store.SetState(ctx, id.Handle, StateOffline, ""); err != nil {
				itemErrs = append(itemErrs, IdentityError{Handle: id.Handle, Err: err})
				continue
			}
			events = append(events, Event{
				Kind:      WentOffline,
				Handle:    id.Handle,
				Target:    id.Target,
				SessionID: id.LastSessionID,
			})
		}
	}
	return events, itemErrs, nil
}

// Run polls on the configured interval until ctx is cancelled, dispatching
// each cycle's events. The first cycle runs after a small jitter so multiple
// instances do not stampede the API together.
func (t *Tracker) Run(ctx context.Context, dispatcher *Dispatcher) {
	interval := t.interval()
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	jitter := time.Duration(rand.Int63n(int64(interval / 2)))
	slog.Info("presence tracker starting", slog.Duration("interval", interval), slog.Duration("initial_jitter", jitter))
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t.runOnce(ctx, dispatcher)
		select {
		case <-ctx.Done():
			slog.Info("presence tracker stopped")
			return
		case <-ticker.C:
		}
	}
}

func (t *Tracker) runOnce(ctx context.Context, dispatcher *Dispatcher) {
	telemetry.CountPresenceCycle()
	cycleCtx, span := telemetry.StartSpan(ctx, "presence", "presence.cycle")
	defer span.End()
	var events []Event
	var itemErrs []IdentityError
	var err error
	telemetry.TimeFunc(telemetry.PresenceCycleDuration, func() {
		events, itemErrs, err = t.Cycle(cycleCtx)
	})
	for _, ie := range itemErrs {
		slog.Warn("presence cycle item failed", slog.String("handle", ie.Handle), slog.Any("err", ie.Err))
	}
	if err != nil {
		if twitchapi.IsCircuitOpen(err) {
			// Expected, quiet skip: the breaker doing its job.
			slog.Debug("presence cycle skipped: circuit open")
		} else {
			telemetry.RecordError(span, err)
			slog.Warn("presence cycle failed", slog.Any("err", err))
		}
		return
	}
	dispatcher.Dispatch(ctx, events)
}
