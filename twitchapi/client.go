package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/onnwee/streamwatch/backend/telemetry"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// Client composes TokenSource + Limiter + Breaker around Helix GET calls.
// Call order per request: breaker first (an open circuit spends no rate
// budget or token work), then limiter, then token, then the upstream call.
type Client struct {
	ClientID   string
	Tokens     *TokenSource
	Limiter    *Limiter
	Breaker    *Breaker
	BaseURL    string        // defaults to the Helix endpoint
	Timeout    time.Duration // per upstream call, default 10s
	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error // injectable for tests

	// MaxRateRetries bounds 429 retries before giving up, default 2.
	MaxRateRetries int
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 10 * time.Second
}

func (c *Client) maxRateRetries() int {
	if c.MaxRateRetries > 0 {
		return c.MaxRateRetries
	}
	return 2
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
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

// Get performs an authenticated Helix GET and decodes the JSON body into out.
// 401 triggers one re-auth retry, 429 honors Retry-After with a bounded retry
// count, 5xx/network errors record a breaker failure, other 4xx return a
// DataError without touching the breaker.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	if c.Breaker != nil && !c.Breaker.MayAttempt() {
		telemetry.APICall("circuit_open")
		return ErrCircuitOpen
	}
	if c.Limiter != nil {
		if err := c.Limiter.Acquire(ctx); err != nil {
			c.abortTrial()
			return err
		}
	}
	authRetried := false
	rateRetries := 0
	for {
		tok, err := c.Tokens.Get(ctx)
		if err != nil {
			c.abortTrial()
			telemetry.APICall("auth_error")
			return err
		}
		status, retryAfter, body, err := c.doOnce(ctx, path, params, tok)
		if err != nil {
			c.recordFailure()
			telemetry.APICall("network_error")
			return &TransientError{Err: err}
		}
		switch {
		case status == http.StatusOK:
			c.recordSuccess()
			telemetry.APICall("ok")
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return &DataError{Msg: fmt.Sprintf("decode %s response: %v", path, err)}
			}
			return nil
		case status == http.StatusUnauthorized:
			c.Tokens.Invalidate()
			if authRetried {
				c.abortTrial()
				telemetry.APICall("auth_error")
				return &AuthError{Reason: "unauthorized after token refresh"}
			}
			authRetried = true
		case status == http.StatusTooManyRequests:
			if rateRetries >= c.maxRateRetries() {
				c.recordFailure()
				telemetry.APICall("rate_limited")
				return &TransientError{Status: status}
			}
			rateRetries++
			slog.Debug("helix rate limited, backing off", slog.String("path", path), slog.Duration("retry_after", retryAfter))
			if err := c.sleep(ctx, retryAfter); err != nil {
				c.abortTrial()
				return err
			}
		case status >= 500:
			c.recordFailure()
			telemetry.APICall("server_error")
			return &TransientError{Status: status}
		default:
			telemetry.APICall("data_error")
			return &DataError{Status: status, Msg: truncate(string(body), 200)}
		}
	}
}

// doOnce issues a single request under the per-call timeout and returns the
// status, parsed Retry-After, and body.
func (c *Client) doOnce(ctx context.Context, path string, params url.Values, token string) (int, time.Duration, []byte, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, u, nil)
	if err != nil {
		return 0, 0, nil, err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, 0, nil, err
	}
	return resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), body, nil
}

func (c *Client) recordSuccess() {
	if c.Breaker != nil {
		c.Breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.Breaker != nil {
		c.Breaker.RecordFailure()
	}
}

// abortTrial releases a possible half-open trial when the call ends without
// an upstream success/failure verdict, so every Get that was admitted also
// resolves the breaker state.
func (c *Client) abortTrial() {
	if c.Breaker != nil {
		c.Breaker.AbortTrial()
	}
}

// parseRetryAfter interprets the upstream-provided delay, defaulting to 1s.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
