// Command backend runs the streaming-platform integration core: a presence
// tracker that turns live-status polling into edge-triggered notifications,
// and a schedule synchronizer that posts upcoming streams once per day per
// guild. Both poll Twitch Helix through a shared client composed of an app
// token source, a sliding-window rate limiter, and a circuit breaker.
//
// Shutdown is graceful on SIGINT/SIGTERM; events computed before shutdown
// are drained best-effort.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/streamwatch/backend/announce"
	"github.com/onnwee/streamwatch/backend/config"
	"github.com/onnwee/streamwatch/backend/presence"
	"github.com/onnwee/streamwatch/backend/schedule"
	"github.com/onnwee/streamwatch/backend/server"
	"github.com/onnwee/streamwatch/backend/store"
	"github.com/onnwee/streamwatch/backend/telemetry"
	"github.com/onnwee/streamwatch/backend/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("streamwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := store.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := store.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	st := &store.Store{DB: database}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = st.SetKV(ctx, "service_started_at", time.Now().UTC().Format(time.RFC3339))

	// Shared integration core: token source, limiter, breaker, client.
	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		Margin:       cfg.TokenMargin,
	}
	limiter := twitchapi.NewLimiter(cfg.RateMaxCalls, cfg.RateWindow)
	breaker := twitchapi.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)
	breaker.OnOpen = telemetry.UpdateCircuitGauge
	api := &twitchapi.Client{
		ClientID: cfg.TwitchClientID,
		Tokens:   tokens,
		Limiter:  limiter,
		Breaker:  breaker,
		Timeout:  cfg.APITimeout,
	}

	// Notification sink: chat announcer when the bot account is configured,
	// structured log fallback otherwise.
	var presenceSink presence.Sink
	var scheduleSink schedule.Sink
	if err := cfg.ValidateAnnounceReady(); err == nil {
		announcer := announce.NewChatAnnouncer(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel)
		announcer.Start(ctx)
		presenceSink = announcer
		scheduleSink = announcer
	} else {
		slog.Info("chat announcer disabled, logging notifications", slog.Any("reason", err))
		presenceSink = announce.LogSink{}
		scheduleSink = announce.LogSink{}
	}

	synchronizer := &schedule.Synchronizer{
		API:      api,
		Store:    st,
		Sink:     scheduleSink,
		Interval: cfg.ScheduleTickInterval,
	}

	// Track every loop so shutdown waits for in-flight cycles (and their
	// best-effort event drain) instead of dropping them mid-delivery.
	var wg sync.WaitGroup

	if err := cfg.ValidateAPIReady(); err != nil {
		slog.Warn("pollers disabled", slog.Any("reason", err))
	} else {
		tracker := &presence.Tracker{API: api, Store: st, Interval: cfg.PresencePollInterval}
		dispatcher := &presence.Dispatcher{Sink: presenceSink}
		wg.Add(2)
		go func() {
			defer wg.Done()
			tracker.Run(ctx, dispatcher)
		}()
		go func() {
			defer wg.Done()
			synchronizer.Run(ctx)
		}()
	}

	handlers := &server.Handlers{
		DB:         database,
		Store:      st,
		Breaker:    breaker,
		Limiter:    limiter,
		Sync:       synchronizer,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
		StartedAt:  time.Now(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}
