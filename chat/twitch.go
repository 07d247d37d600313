package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchSource reads chat from Twitch IRC. The moderation channel id is the
// Twitch login of the broadcaster. Without Username it joins anonymously (read only).
type TwitchSource struct {
	Username   string
	OAuthToken string
	Channels   []string
	// Server overrides the IRC address (host:port), mainly for tests.
	Server string
	TLS    *bool
}

func (s *TwitchSource) Name() string { return "twitch" }

func (s *TwitchSource) client() *twitch.Client {
	var c *twitch.Client
	if s.Username == "" || s.OAuthToken == "" {
		c = twitch.NewAnonymousClient()
	} else {
		tok := s.OAuthToken
		if !strings.HasPrefix(tok, "oauth:") {
			tok = "oauth:" + tok
		}
		c = twitch.NewClient(s.Username, tok)
	}
	if s.Server != "" {
		c.IrcAddress = s.Server
	}
	if s.TLS != nil {
		c.TLS = *s.TLS
	}
	return c
}

// Run connects, joins Channels and blocks until ctx is done or the connection fails.
func (s *TwitchSource) Run(ctx context.Context, out chan<- RawEvent) error {
	if len(s.Channels) == 0 {
		return errors.New("twitch: no channels")
	}
	client := s.client()

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		emit(ctx, out, privateMessageEvent(msg))
	})
	client.OnUserJoinMessage(func(msg twitch.UserJoinMessage) {
		emit(ctx, out, RawEvent{Kind: KindJoin, ChannelID: msg.Channel, AuthorID: msg.User, AuthorDisplayName: msg.User})
	})
	client.OnClearMessage(func(msg twitch.ClearMessage) {
		emit(ctx, out, RawEvent{Kind: KindDelete, ChannelID: msg.Channel, AuthorID: msg.Login, SourceMessageID: msg.TargetMsgID})
	})
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.Any("channels", s.Channels), slog.String("component", "chat_twitch"))
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	client.Join(s.Channels...)
	err := client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

// privateMessageEvent maps a PRIVMSG; the author id is the stable Twitch user id.
func privateMessageEvent(msg twitch.PrivateMessage) RawEvent {
	badges := make([]string, 0, len(msg.User.Badges))
	for name := range msg.User.Badges {
		badges = append(badges, name)
	}
	author := msg.User.ID
	if author == "" {
		author = msg.User.Name
	}
	return RawEvent{
		Kind:              KindMessage,
		ChannelID:         msg.Channel,
		AuthorID:          author,
		AuthorDisplayName: msg.User.DisplayName,
		Body:              msg.Message,
		Badges:            badges,
		SourceMessageID:   msg.ID,
		SourceTimestamp:   msg.Time,
	}
}
