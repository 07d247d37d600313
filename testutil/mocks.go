package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockTwitchServer serves the Twitch token endpoint and the Helix endpoints used
// for live-session orchestration. Point TokenSource.TokenURL at URL+"/oauth2/token"
// and HelixClient.BaseURL at URL+"/helix".
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	TokenRequests  atomic.Int32
	StreamRequests atomic.Int32

	mu   sync.Mutex
	live map[string]time.Time // login -> started_at
}

// NewMockTwitchServer creates a mock that issues tokens and reports every login offline.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		live:     make(map[string]time.Time),
	}
	m.MockOAuthTokenResponse("mock-app-token", 3600)
	m.Handlers["/helix/streams"] = m.serveStreams
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// SetLive marks login live (started now) or offline.
func (m *MockTwitchServer) SetLive(login string, live bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if live {
		if _, ok := m.live[login]; !ok {
			m.live[login] = time.Now().UTC().Truncate(time.Second)
		}
		return
	}
	delete(m.live, login)
}

func (m *MockTwitchServer) serveStreams(w http.ResponseWriter, r *http.Request) {
	m.StreamRequests.Add(1)
	if r.Header.Get("Authorization") == "" || r.Header.Get("Client-Id") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	logins := r.URL.Query()["user_login"]
	sort.Strings(logins)
	m.mu.Lock()
	data := make([]map[string]any, 0)
	for _, l := range logins {
		if started, ok := m.live[l]; ok {
			data = append(data, map[string]any{
				"id": "stream-" + l, "user_id": "id-" + l, "user_login": l,
				"title": l + " live", "type": "live", "started_at": started.Format(time.RFC3339),
			})
		}
	}
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		m.TokenRequests.Add(1)
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
