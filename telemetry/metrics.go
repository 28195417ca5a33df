// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PresenceCycles       prometheus.Counter
	ScheduleCycles       prometheus.Counter
	WentLiveEvents       prometheus.Counter
	WentOfflineEvents    prometheus.Counter
	ScheduleSyncs        prometheus.Counter
	ScheduleSyncFailures prometheus.Counter
	TokenRefreshes       prometheus.Counter
	APICalls             *prometheus.CounterVec // labeled by outcome

	// Histograms (seconds)
	PresenceCycleDuration prometheus.Observer

	// Gauges
	TrackedIdentitiesGauge prometheus.Gauge
	CircuitOpenGauge       prometheus.Gauge // 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PresenceCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_presence_cycles_total", Help: "Number of presence poll cycles"})
		ScheduleCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_schedule_cycles_total", Help: "Number of schedule synchronizer ticks"})
		WentLiveEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_went_live_events_total", Help: "Number of went-live notifications emitted"})
		WentOfflineEvents = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_went_offline_events_total", Help: "Number of went-offline notifications emitted"})
		ScheduleSyncs = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_schedule_syncs_total", Help: "Number of schedule posts fired"})
		ScheduleSyncFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_schedule_sync_failures_total", Help: "Number of schedule fetch/post failures"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "streamwatch_token_refreshes_total", Help: "Number of app token exchanges performed"})
		APICalls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "streamwatch_api_calls_total", Help: "Helix API calls by outcome"}, []string{"outcome"})
		PresenceCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "streamwatch_presence_cycle_duration_seconds", Help: "Presence poll cycle duration seconds", Buckets: prometheus.DefBuckets})
		TrackedIdentitiesGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_tracked_identities", Help: "Current number of tracked identities"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "streamwatch_circuit_open", Help: "Circuit breaker open=1 closed=0"})
	})
}

// APICall counts one Helix call with its outcome label.
func APICall(outcome string) {
	if APICalls != nil {
		APICalls.WithLabelValues(outcome).Inc()
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge != nil {
		if open {
			CircuitOpenGauge.Set(1)
		} else {
			CircuitOpenGauge.Set(0)
		}
	}
}

// SetTrackedIdentities records the current tracked identity count.
func SetTrackedIdentities(n int) {
	if TrackedIdentitiesGauge != nil {
		TrackedIdentitiesGauge.Set(float64(n))
	}
}

// CountEvent bumps the emitted-event counter matching kind ("live"/"offline").
func CountEvent(kind string) {
	switch kind {
	case "live":
		if WentLiveEvents != nil {
			WentLiveEvents.Inc()
		}
	case "offline":
		if WentOfflineEvents != nil {
			WentOfflineEvents.Inc()
		}
	}
}

// CountPresenceCycle bumps the presence poll cycle counter.
func CountPresenceCycle() {
	if PresenceCycles != nil {
		PresenceCycles.Inc()
	}
}

// CountScheduleCycle bumps the schedule tick counter.
func CountScheduleCycle() {
	if ScheduleCycles != nil {
		ScheduleCycles.Inc()
	}
}

// CountScheduleSync bumps the fired schedule post counter.
func CountScheduleSync() {
	if ScheduleSyncs != nil {
		ScheduleSyncs.Inc()
	}
}

// CountScheduleSyncFailure bumps the schedule failure counter.
func CountScheduleSyncFailure() {
	if ScheduleSyncFailures != nil {
		ScheduleSyncFailures.Inc()
	}
}

// CountTokenRefresh bumps the app token exchange counter.
func CountTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
