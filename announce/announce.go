// Package announce delivers presence and schedule notifications to Twitch
// chat, with a slog-backed fallback sink when chat credentials are absent.
package announce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/streamwatch/backend/presence"
	"github.com/onnwee/streamwatch/backend/twitchapi"
)

// ChatAnnouncer posts notifications into a Twitch chat channel using the bot
// account's user OAuth token (the app access token cannot be used for IRC).
type ChatAnnouncer struct {
	Channel string

	client *twitch.Client
	mu     sync.Mutex
	ready  bool
}

// NewChatAnnouncer builds the announcer; call Start to connect.
func NewChatAnnouncer(username, oauthToken, channel string) *ChatAnnouncer {
	return &ChatAnnouncer{
		Channel: channel,
		client:  twitch.NewClient(username, oauthToken),
	}
}

// Start connects and joins the channel, disconnecting when ctx is cancelled.
// Connect blocks, so it runs in its own goroutine; delivery before the
// connection is up is queued by the IRC client.
func (a *ChatAnnouncer) Start(ctx context.Context) {
	a.client.OnConnect(func() {
		a.mu.Lock()
		a.ready = true
		a.mu.Unlock()
		slog.Info("chat announcer connected", slog.String("channel", a.Channel))
	})
	a.client.Join(a.Channel)
	go func() {
		<-ctx.Done()
		a.client.Disconnect()
	}()
	go func() {
		if err := a.client.Connect(); err != nil && ctx.Err() == nil {
			slog.Error("chat announcer connect error", slog.Any("err", err))
		}
	}()
}

// Ready reports whether the IRC connection is established.
func (a *ChatAnnouncer) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// OnPresenceChange posts a went-live or went-offline line to chat.
func (a *ChatAnnouncer) OnPresenceChange(ctx context.Context, ev presence.Event) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	target := ev.Target
	if target == "" {
		target = a.Channel
	}
	a.client.Say(target, formatPresence(ev))
	return nil
}

// OnScheduleReady posts the upcoming schedule to chat.
func (a *ChatAnnouncer) OnScheduleReady(ctx context.Context, guildID string, segments []twitchapi.ScheduleSegment) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.client.Say(a.Channel, formatSchedule(segments))
	return nil
}

func formatPresence(ev presence.Event) string {
	if ev.Kind == presence.WentOffline {
		return fmt.Sprintf("%s has gone offline.", ev.Handle)
	}
	msg := fmt.Sprintf("%s is now live", ev.Handle)
	if ev.Category != "" {
		msg += " playing " + ev.Category
	}
	if ev.Title != "" {
		msg += ": " + ev.Title
	}
	return msg + " | https://twitch.tv/" + ev.Handle
}

func formatSchedule(segments []twitchapi.ScheduleSegment) string {
	if len(segments) == 0 {
		return "No upcoming streams scheduled."
	}
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		line := s.Start.Format("Mon 15:04") + " " + s.Title
		if s.Category != "" {
			line += " (" + s.Category + ")"
		}
		parts = append(parts, line)
	}
	return "Upcoming streams: " + strings.Join(parts, " | ")
}

// LogSink writes notifications to the structured log. Used when chat
// credentials are not configured so cycles still have a delivery target.
type LogSink struct{}

func (LogSink) OnPresenceChange(ctx context.Context, ev presence.Event) error {
	slog.Info("presence change",
		slog.String("handle", ev.Handle),
		slog.String("kind", ev.Kind.String()),
		slog.String("session_id", ev.SessionID),
		slog.String("title", ev.Title),
		slog.String("category", ev.Category))
	return nil
}

func (LogSink) OnScheduleReady(ctx context.Context, guildID string, segments []twitchapi.ScheduleSegment) error {
	slog.Info("schedule ready", slog.String("guild", guildID), slog.Int("segments", len(segments)))
	return nil
}
