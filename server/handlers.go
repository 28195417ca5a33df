package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/streamwatch/backend/schedule"
	"github.com/onnwee/streamwatch/backend/store"
	"github.com/onnwee/streamwatch/backend/twitchapi"
)

// Handlers carries the dependencies the HTTP endpoints read from.
type Handlers struct {
	DB         *sql.DB
	Store      *store.Store
	Breaker    *twitchapi.Breaker
	Limiter    *twitchapi.Limiter
	Sync       *schedule.Synchronizer
	AdminToken string
	StartedAt  time.Time
}

// HandleHealthz is a trivial liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness: the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		http.Error(w, "db not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type statusResponse struct {
	UptimeSeconds     int64  `json:"uptime_seconds"`
	CircuitState      string `json:"circuit_state"`
	CircuitFailures   int    `json:"circuit_failures"`
	RateCallsInWindow int    `json:"rate_calls_in_window"`
	TrackedIdentities int    `json:"tracked_identities"`
	ScheduleGuilds    int    `json:"schedule_guilds"`
}

// HandleStatus returns a JSON snapshot of the integration core.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{UptimeSeconds: int64(time.Since(h.StartedAt).Seconds())}
	if h.Breaker != nil {
		st, failures := h.Breaker.State()
		resp.CircuitState = st.String()
		resp.CircuitFailures = failures
	}
	if h.Limiter != nil {
		resp.RateCallsInWindow = h.Limiter.Inflight()
	}
	if h.Store != nil {
		if ids, err := h.Store.TrackedIdentities(r.Context()); err == nil {
			resp.TrackedIdentities = len(ids)
		}
		if cfgs, err := h.Store.ScheduleConfigs(r.Context()); err == nil {
			resp.ScheduleGuilds = len(cfgs)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("status encode failed", slog.Any("err", err))
	}
}

// HandleAdminSync triggers a manual schedule resynchronization for one guild,
// bypassing the configured time window. Errors are translated to
// human-readable failure messages for the operator.
func (h *Handlers) HandleAdminSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	guild := r.URL.Query().Get("guild")
	if guild == "" {
		http.Error(w, "missing guild parameter", http.StatusBadRequest)
		return
	}
	if h.Sync == nil {
		http.Error(w, "synchronizer not running", http.StatusServiceUnavailable)
		return
	}
	if err := h.Sync.ForceSync(r.Context(), guild); err != nil {
		switch {
		case twitchapi.IsCircuitOpen(err):
			http.Error(w, "upstream temporarily unavailable (circuit open), try again shortly", http.StatusServiceUnavailable)
		case twitchapi.IsAuth(err):
			http.Error(w, "twitch credentials invalid or missing", http.StatusBadGateway)
		case twitchapi.IsTransient(err):
			http.Error(w, "upstream error, try again: "+err.Error(), http.StatusBadGateway)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("synced"))
}
