package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/streamwatch/backend/telemetry"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// A cached token is never handed out within Margin of its expiry. Concurrent
// callers that observe a stale token share a single exchange via singleflight
// rather than each hitting the token endpoint.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string        // defaults to the Twitch id endpoint
	Margin       time.Duration // safety margin before expiry, default 60s
	HTTPClient   *http.Client
	Now          func() time.Time // injectable clock for tests

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func (ts *TokenSource) now() time.Time {
	if ts.Now != nil {
		return ts.Now()
	}
	return time.Now()
}

func (ts *TokenSource) margin() time.Duration {
	if ts.Margin > 0 {
		return ts.Margin
	}
	return 60 * time.Second
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && ts.expiresAt.Sub(ts.now()) > ts.margin() {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()

	v, err, _ := ts.group.Do("refresh", func() (any, error) {
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next Get performs a fresh exchange.
// Used after an upstream 401 on a token that should still have been valid.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	// Re-check: another caller may have refreshed while we waited.
	if ts.token != "" && ts.expiresAt.Sub(ts.now()) > ts.margin() {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		ts.token = ""
		return "", &AuthError{Reason: "missing client id/secret"}
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	endpoint := ts.TokenURL
	if endpoint == "" {
		endpoint = defaultTokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Reason: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		ts.token = ""
		return "", &AuthError{Reason: "token exchange", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		ts.token = ""
		return "", &AuthError{Reason: fmt.Sprintf("token request failed: %s: %s", resp.Status, string(b))}
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		ts.token = ""
		return "", &AuthError{Reason: "decode token response", Err: err}
	}
	if at.AccessToken == "" {
		ts.token = ""
		return "", &AuthError{Reason: "empty access_token in response"}
	}
	ts.token = at.AccessToken
	ts.expiresAt = ts.now().Add(time.Duration(at.ExpiresIn) * time.Second)
	telemetry.CountTokenRefresh()
	return ts.token, nil
}
