// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for reading a live broadcast's chat. Access tokens are minted from a long-lived
// refresh token and refreshed transparently by the oauth2 transport.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

const readonlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// Message types reported in LiveChatMessage snippets.
const (
	TypeText    = "textMessageEvent"
	TypeDeleted = "messageDeletedEvent"
)

var ErrNoLiveChat = errors.New("video has no active live chat")

// Config holds the OAuth client and refresh token for the broadcasting account.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
}

// Client reads live chat messages.
type Client struct {
	svc *yt.Service
}

// New returns a Client authenticated with cfg's refresh token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("youtube: client id, client secret and refresh token are required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{readonlyScope}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	// expired token: the first request triggers a refresh
	ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken, Expiry: time.Unix(1, 0)})
	return NewWithHTTPClient(ctx, oauth2.NewClient(ctx, ts), "")
}

// NewWithHTTPClient builds a Client on an already authenticated HTTP client.
// endpoint overrides the API base URL when non-empty.
func NewWithHTTPClient(ctx context.Context, hc *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// LiveChatID resolves the active live chat of a broadcast video.
func (c *Client) LiveChatID(ctx context.Context, videoID string) (string, error) {
	res, err := c.svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("youtube videos.list: %w", err)
	}
	if len(res.Items) == 0 || res.Items[0].LiveStreamingDetails == nil || res.Items[0].LiveStreamingDetails.ActiveLiveChatId == "" {
		return "", ErrNoLiveChat
	}
	return res.Items[0].LiveStreamingDetails.ActiveLiveChatId, nil
}

// Message is the subset of a LiveChatMessage the moderation pipeline consumes.
type Message struct {
	ID                string
	Type              string
	AuthorChannelID   string
	AuthorDisplayName string
	Text              string
	DeletedMessageID  string
	PublishedAt       time.Time
	IsOwner           bool
	IsModerator       bool
	IsSponsor         bool
}

// Page is one liveChatMessages.list response.
type Page struct {
	Messages      []Message
	NextPageToken string
	PollInterval  time.Duration
	// Offline is true once the broadcast has ended.
	Offline bool
}

// ListMessages fetches messages after pageToken ("" for the most recent ones).
func (c *Client) ListMessages(ctx context.Context, liveChatID, pageToken string) (Page, error) {
	call := c.svc.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return Page{}, fmt.Errorf("youtube liveChatMessages.list: %w", err)
	}
	p := Page{
		NextPageToken: res.NextPageToken,
		PollInterval:  time.Duration(res.PollingIntervalMillis) * time.Millisecond,
		Offline:       res.OfflineAt != "",
		Messages:      make([]Message, 0, len(res.Items)),
	}
	for _, item := range res.Items {
		if item == nil || item.Snippet == nil {
			continue
		}
		m := Message{
			ID:              item.Id,
			Type:            item.Snippet.Type,
			AuthorChannelID: item.Snippet.AuthorChannelId,
			Text:            item.Snippet.DisplayMessage,
		}
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			m.PublishedAt = t
		}
		if d := item.Snippet.TextMessageDetails; d != nil && d.MessageText != "" {
			m.Text = d.MessageText
		}
		if d := item.Snippet.MessageDeletedDetails; d != nil {
			m.DeletedMessageID = d.DeletedMessageId
		}
		if a := item.AuthorDetails; a != nil {
			if a.ChannelId != "" {
				m.AuthorChannelID = a.ChannelId
			}
			m.AuthorDisplayName = a.DisplayName
			m.IsOwner = a.IsChatOwner
			m.IsModerator = a.IsChatModerator
			m.IsSponsor = a.IsChatSponsor
		}
		p.Messages = append(p.Messages, m)
	}
	return p, nil
}
