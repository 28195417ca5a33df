package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenSource_GetCached(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token-123",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
	}

	ctx := context.Background()

	// First call should fetch token
	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	if callCount != 1 {
		t.Errorf("expected 1 API call, got %d", callCount)
	}

	// Repeated calls within the validity window should use the cached token
	for i := 0; i < 4; i++ {
		token2, err := ts.Get(ctx)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if token2 != token1 {
			t.Errorf("cached token = %s, want %s", token2, token1)
		}
	}
	if callCount != 1 {
		t.Errorf("expected still 1 API call (cached), got %d", callCount)
	}
}

func TestTokenSource_GetRefreshExpired(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		token := "test-token-1"
		if callCount > 1 {
			token = "test-token-2"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": token,
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	now := time.Now()
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
		Now:          func() time.Time { return now },
	}

	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-1" {
		t.Errorf("Get() = %s, want test-token-1", token1)
	}

	// Advance the clock inside the safety margin; the cached token must not
	// be handed out within margin of expiry.
	now = now.Add(3600*time.Second - 30*time.Second)

	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != "test-token-2" {
		t.Errorf("Get() = %s, want test-token-2 (refreshed)", token2)
	}
	if callCount != 2 {
		t.Errorf("expected 2 API calls (initial + refresh), got %d", callCount)
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	ts := &TokenSource{
		ClientID:     "",
		ClientSecret: "",
	}

	_, err := ts.Get(context.Background())
	if err == nil {
		t.Fatal("Get() with missing credentials should return error")
	}
	if !IsAuth(err) {
		t.Errorf("Get() error = %v, want AuthError", err)
	}
	if !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want error about missing credentials", err)
	}
}

func TestTokenSource_GetServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "bad-client",
		ClientSecret: "bad-secret",
		TokenURL:     server.URL,
	}

	_, err := ts.Get(context.Background())
	if err == nil {
		t.Fatal("Get() with server error should return error")
	}
	if !IsAuth(err) {
		t.Errorf("Get() error = %v, want AuthError", err)
	}
}

func TestTokenSource_GetEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
	}

	_, err := ts.Get(context.Background())
	if err == nil {
		t.Fatal("Get() with empty access_token should return error")
	}
	if !strings.Contains(err.Error(), "empty access_token") {
		t.Errorf("Get() error = %v, want error about empty access_token", err)
	}
}

func TestTokenSource_FailureClearsCachedToken(t *testing.T) {
	fail := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	now := time.Now()
	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
		Now:          func() time.Time { return now },
	}

	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	now = now.Add(2 * time.Hour)
	fail = true
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("Get() after upstream failure should return error")
	}
	// Cached token was cleared; recovery requires a successful exchange.
	fail = false
	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() after recovery error = %v", err)
	}
	if tok != "test-token" {
		t.Errorf("Get() = %s, want test-token", tok)
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount.Add(1)
		// Simulate slow response so concurrent callers pile up
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		TokenURL:     server.URL,
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = ts.Get(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		if errs[i] != nil {
			t.Errorf("Get() error = %v", errs[i])
		}
		if tokens[i] != "test-token" {
			t.Errorf("Get() = %s, want test-token", tokens[i])
		}
	}
	// Singleflight collapses concurrent refreshes into one exchange.
	if callCount.Load() != 1 {
		t.Errorf("expected 1 API call with concurrent access, got %d", callCount.Load())
	}
}
