package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/streamwatch/backend/telemetry"
)

// EventKind distinguishes the two edge-triggered transitions.
type EventKind int

const (
	WentLive EventKind = iota
	WentOffline
)

func (k EventKind) String() string {
	if k == WentLive {
		return "went_live"
	}
	return "went_offline"
}

// Event is one presence transition computed during a poll cycle. Events are
// returned by the tracker and handed to the sink by a dispatcher, decoupling
// polling cadence from delivery mechanics.
type Event struct {
	Kind        EventKind
	Handle      string
	Target      string // notification target configured for the identity
	SessionID   string
	Title       string
	Category    string
	ViewerCount int
	StartedAt   time.Time
	Thumbnail   string
}

// Sink delivers a presence event to the surrounding chat system.
type Sink interface {
	OnPresenceChange(ctx context.Context, ev Event) error
}

// RoleAssigner is the optional role-assignment side effect toggled on
// live/offline transitions.
type RoleAssigner interface {
	AssignLiveRole(ctx context.Context, handle string, live bool) error
}

// Dispatcher hands computed events to the sink. A delivery failure is logged
// and never aborts the remaining events.
type Dispatcher struct {
	Sink         Sink
	Roles        RoleAssigner  // optional
	DrainTimeout time.Duration // used when dispatching after cancellation, default 5s
}

func (d *Dispatcher) drainTimeout() time.Duration {
	if d.DrainTimeout > 0 {
		return d.DrainTimeout
	}
	return 5 * time.Second
}

// Dispatch delivers events in order. If ctx was already cancelled the events
// were still computed before shutdown, so they are drained best-effort under
// a fresh timeout rather than dropped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	if len(events) == 0 || d.Sink == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), d.drainTimeout())
		defer cancel()
		slog.Info("draining presence events after shutdown", slog.Int("count", len(events)))
	}
	for _, ev := range events {
		if err := d.Sink.OnPresenceChange(ctx, ev); err != nil {
			slog.Warn("presence notification failed", slog.String("handle", ev.Handle), slog.Any("err", err))
			continue
		}
		switch ev.Kind {
		case WentLive:
			telemetry.CountEvent("live")
		case WentOffline:
			telemetry.CountEvent("offline")
		}
		if d.Roles != nil {
			if err := d.Roles.AssignLiveRole(ctx, ev.Handle, ev.Kind == WentLive); err != nil {
				slog.Warn("role assignment failed", slog.String("handle", ev.Handle), slog.Any("err", err))
			}
		}
	}
}
