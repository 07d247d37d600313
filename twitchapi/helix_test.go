package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newHelixFixture(t *testing.T, streams http.HandlerFunc) (*HelixClient, *atomic.Int32) {
	t.Helper()
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/helix/streams", streams)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &HelixClient{
		AppTokenSource: &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL + "/oauth2/token"},
		ClientID:       "cid",
		BaseURL:        srv.URL + "/helix",
	}, &tokenCalls
}

func TestGetStreams(t *testing.T) {
	started := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	hc, tokenCalls := newHelixFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Errorf("Client-Id = %q", got)
		}
		if logins := r.URL.Query()["user_login"]; len(logins) != 2 {
			t.Errorf("user_login = %v", logins)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"id": "1", "user_login": "alpha", "title": "hi", "type": "live", "started_at": started.Format(time.RFC3339)},
		}})
	})

	for i := 0; i < 2; i++ {
		streams, err := hc.GetStreams(context.Background(), "alpha", "beta")
		if err != nil {
			t.Fatalf("GetStreams: %v", err)
		}
		if len(streams) != 1 || streams[0].UserLogin != "alpha" || !streams[0].StartedAt.Equal(started) {
			t.Fatalf("streams = %+v", streams)
		}
	}
	if n := tokenCalls.Load(); n != 1 {
		t.Errorf("token fetched %d times, want 1 (cached)", n)
	}
}

func TestGetStreamsUnauthorizedInvalidatesToken(t *testing.T) {
	var calls atomic.Int32
	hc, tokenCalls := newHelixFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	if _, err := hc.GetStreams(context.Background(), "alpha"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	streams, err := hc.GetStreams(context.Background(), "alpha")
	if err != nil || len(streams) != 0 {
		t.Fatalf("second call: %v %v", streams, err)
	}
	if n := tokenCalls.Load(); n != 2 {
		t.Errorf("token fetched %d times, want 2", n)
	}
}

func TestGetStreamsValidatesInput(t *testing.T) {
	hc := &HelixClient{AppTokenSource: &TokenSource{}}
	if _, err := hc.GetStreams(context.Background()); err == nil {
		t.Error("expected error for empty logins")
	}
	many := make([]string, 101)
	if _, err := hc.GetStreams(context.Background(), many...); err == nil {
		t.Error("expected error for >100 logins")
	}
}

func TestGetStreamsServerError(t *testing.T) {
	hc, _ := newHelixFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	if _, err := hc.GetStreams(context.Background(), "alpha"); err == nil {
		t.Fatal("expected error on 502")
	}
}
