// Package schedule fires a schedule-posting action at most once per day per
// tracked guild, at a configured local time. The contract is best effort,
// at most once: a missed window requires a manual force sync.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/streamwatch/backend/telemetry"
	"github.com/onnwee/streamwatch/backend/twitchapi"
)

// Config is one guild's schedule posting configuration, validated at load
// time by the store.
type Config struct {
	GuildID  string
	Handle   string // broadcaster whose calendar is fetched
	Days     []time.Weekday
	At       string // local wall clock "HH:MM"
	Timezone string // IANA zone name, e.g. Europe/London
}

// Store persists schedule configs and per-guild sync markers.
type Store interface {
	ScheduleConfigs(ctx context.Context) ([]Config, error)
	LastSyncedPeriod(ctx context.Context, guildID string) (string, error)
	SetLastSyncedPeriod(ctx context.Context, guildID, periodKey string) error
}

// Sink receives fetched segments for rendering/posting.
type Sink interface {
	OnScheduleReady(ctx context.Context, guildID string, segments []twitchapi.ScheduleSegment) error
}

// Synchronizer runs a short fixed-interval loop and fires the posting action
// when a guild's configured local time matches and today's period key has not
// been synced yet. The marker is the idempotence guard against the loop
// firing twice inside the same matching minute or after a restart.
type Synchronizer struct {
	API      *twitchapi.Client
	Store    Store
	Sink     Sink
	Interval time.Duration    // tick interval, default 1m
	Segments int              // how many upcoming segments to fetch, default 10
	Now      func() time.Time // injectable clock for tests
}

func (s *Synchronizer) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return time.Minute
}

func (s *Synchronizer) segments() int {
	if s.Segments > 0 {
		return s.Segments
	}
	return 10
}

func (s *Synchronizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Tick evaluates every guild config once. Per-guild failures are logged and
// never abort the remaining guilds.
func (s *Synchronizer) Tick(ctx context.Context) {
	telemetry.CountScheduleCycle()
	configs, err := s.Store.ScheduleConfigs(ctx)
	if err != nil {
		slog.Warn("schedule configs load failed", slog.Any("err", err))
		return
	}
	for _, cfg := range configs {
		if err := s.tickGuild(ctx, cfg); err != nil {
			if twitchapi.IsCircuitOpen(err) {
				slog.Debug("schedule sync skipped: circuit open", slog.String("guild", cfg.GuildID))
				continue
			}
			telemetry.CountScheduleSyncFailure()
			slog.Warn("schedule sync failed", slog.String("guild", cfg.GuildID), slog.Any("err", err))
		}
	}
}

func (s *Synchronizer) tickGuild(ctx context.Context, cfg Config) error {
	if len(cfg.Days) == 0 || cfg.At == "" || cfg.Timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	now := s.now().In(loc)
	if !weekdayMatches(cfg.Days, now.Weekday()) || now.Format("15:04") != cfg.At {
		return nil
	}
	periodKey := now.Format("2006-01-02")
	last, err := s.Store.LastSyncedPeriod(ctx, cfg.GuildID)
	if err != nil {
		return fmt.Errorf("load sync marker: %w", err)
	}
	if last == periodKey {
		return nil // already synced this period
	}
	return s.sync(ctx, cfg, periodKey)
}

// ForceSync runs the posting action immediately for one guild, regardless of
// the configured time window, and advances the marker on success. This is
// the manual resynchronization path for a missed window.
func (s *Synchronizer) ForceSync(ctx context.Context, guildID string) error {
	configs, err := s.Store.ScheduleConfigs(ctx)
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.GuildID != guildID {
			continue
		}
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			loc = time.UTC
		}
		return s.sync(ctx, cfg, s.now().In(loc).Format("2006-01-02"))
	}
	return fmt.Errorf("no schedule config for guild %s", guildID)
}

// sync fetches segments and hands them to the sink. The marker is only
// advanced after a successful post, so a fetch failure can retry on the next
// tick within the same window.
func (s *Synchronizer) sync(ctx context.Context, cfg Config, periodKey string) error {
	users, err := s.API.GetUsers(ctx, []string{cfg.Handle})
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return fmt.Errorf("broadcaster %q not found", cfg.Handle)
	}
	segments, err := s.API.GetSchedule(ctx, users[0].ID, s.segments())
	if err != nil {
		return err
	}
	if err := s.Sink.OnScheduleReady(ctx, cfg.GuildID, segments); err != nil {
		return fmt.Errorf("schedule post: %w", err)
	}
	if err := s.Store.SetLastSyncedPeriod(ctx, cfg.GuildID, periodKey); err != nil {
		// The post already went out; without the marker the next tick in this
		// window will post again. Duplicate delivery is the accepted failure
		// mode here, losing the post to an unwritable marker is not.
		slog.Error("sync marker persist failed after post, duplicate delivery possible",
			slog.String("guild", cfg.GuildID), slog.String("period", periodKey), slog.Any("err", err))
		return fmt.Errorf("persist sync marker: %w", err)
	}
	telemetry.CountScheduleSync()
	slog.Info("schedule synced", slog.String("guild", cfg.GuildID), slog.String("period", periodKey), slog.Int("segments", len(segments)))
	return nil
}

// Run ticks on the configured interval until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) {
	interval := s.interval()
	slog.Info("schedule synchronizer starting", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			slog.Info("schedule synchronizer stopped")
			return
		case <-ticker.C:
		}
	}
}

func weekdayMatches(days []time.Weekday, d time.Weekday) bool {
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}
