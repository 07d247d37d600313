// Package twitchapi is a minimal Twitch Helix client used to learn when a
// channel's stream goes live or offline, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const DefaultBaseURL = "https://api.twitch.tv/helix"

var ErrUnauthorized = errors.New("twitch helix: unauthorized")

// HelixClient provides the Helix calls needed for live-session orchestration.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
}

// Stream is a live stream as reported by GET /streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

// GetStreams returns the live streams among the given logins (max 100). A login
// that is offline is simply absent from the result.
func (hc *HelixClient) GetStreams(ctx context.Context, logins ...string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, fmt.Errorf("no logins")
	}
	if len(logins) > 100 {
		return nil, fmt.Errorf("too many logins: %d > 100", len(logins))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	err := hc.get(ctx, "/streams", map[string][]string{"user_login": logins, "first": {"100"}}, &body)
	if err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (hc *HelixClient) get(ctx context.Context, path string, query map[string][]string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// token revoked or expired early; force a refresh next time
		hc.AppTokenSource.Invalidate()
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("twitch helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
