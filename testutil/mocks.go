package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockHelixServer creates a test server that mocks Twitch Helix API responses
type MockHelixServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockHelixServer creates a new mock Helix API server keyed by URL path
func NewMockHelixServer(t *testing.T) *MockHelixServer {
	t.Helper()
	m := &MockHelixServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockUsersResponse adds a handler for the /users endpoint
func (m *MockHelixServer) MockUsersResponse(users []map[string]string) {
	m.Handlers["/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{"data": users}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockStreamsResponse adds a handler for the /streams endpoint
func (m *MockHelixServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/streams"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{"data": streams}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockScheduleResponse adds a handler for the /schedule endpoint
func (m *MockHelixServer) MockScheduleResponse(segments []map[string]interface{}) {
	m.Handlers["/schedule"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": map[string]interface{}{"segments": segments},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockGamesResponse adds a handler for the /games endpoint
func (m *MockHelixServer) MockGamesResponse(games []map[string]string) {
	m.Handlers["/games"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{"data": games}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint
func (m *MockHelixServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
