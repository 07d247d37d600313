package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/mod-tender/youtubeapi"
)

// LiveChatLister is the part of *youtubeapi.Client a YouTubeSource uses.
type LiveChatLister interface {
	LiveChatID(ctx context.Context, videoID string) (string, error)
	ListMessages(ctx context.Context, liveChatID, pageToken string) (youtubeapi.Page, error)
}

// YouTubeSource polls a YouTube live chat. Messages published before Run started
// are skipped.
type YouTubeSource struct {
	Client LiveChatLister
	// ChannelID is the moderation channel the chat is reported as.
	ChannelID string
	// LiveChatID is used directly; otherwise it is resolved from VideoID.
	LiveChatID string
	VideoID    string
	// MinInterval floors the server-suggested polling interval (default 2s).
	MinInterval time.Duration
	Now         func() time.Time
}

func (s *YouTubeSource) Name() string { return "youtube" }

func (s *YouTubeSource) Run(ctx context.Context, out chan<- RawEvent) error {
	if s.ChannelID == "" {
		return errors.New("youtube: channel id empty")
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	minInterval := s.MinInterval
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	chatID := s.LiveChatID
	if chatID == "" {
		id, err := s.Client.LiveChatID(ctx, s.VideoID)
		if err != nil {
			return err
		}
		chatID = id
	}

	log := slog.With(slog.String("channel", s.ChannelID), slog.String("component", "chat_youtube"))
	started := now()
	pageToken := ""
	backoff := minInterval
	for {
		page, err := s.Client.ListMessages(ctx, chatID, pageToken)
		wait := minInterval
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("youtube live chat poll failed", slog.Any("err", err), slog.Duration("retry_in", backoff))
			wait = backoff
			if backoff < time.Minute {
				backoff *= 2
			}
		} else {
			backoff = minInterval
			pageToken = page.NextPageToken
			for _, m := range page.Messages {
				ev, ok := youTubeEvent(s.ChannelID, m, started)
				if !ok {
					continue
				}
				if !emit(ctx, out, ev) {
					return nil
				}
			}
			if page.Offline {
				log.Info("youtube broadcast ended")
				return nil
			}
			if page.PollInterval > wait {
				wait = page.PollInterval
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func youTubeEvent(channelID string, m youtubeapi.Message, started time.Time) (RawEvent, bool) {
	if !m.PublishedAt.IsZero() && m.PublishedAt.Before(started) {
		return RawEvent{}, false
	}
	switch m.Type {
	case youtubeapi.TypeText:
		var badges []string
		if m.IsOwner {
			badges = append(badges, "owner")
		}
		if m.IsModerator {
			badges = append(badges, "moderator")
		}
		if m.IsSponsor {
			badges = append(badges, "sponsor")
		}
		return RawEvent{
			Kind:              KindMessage,
			ChannelID:         channelID,
			AuthorID:          m.AuthorChannelID,
			AuthorDisplayName: m.AuthorDisplayName,
			Body:              m.Text,
			Badges:            badges,
			SourceMessageID:   m.ID,
			SourceTimestamp:   m.PublishedAt,
		}, true
	case youtubeapi.TypeDeleted:
		return RawEvent{Kind: KindDelete, ChannelID: channelID, SourceMessageID: m.DeletedMessageID, SourceTimestamp: m.PublishedAt}, true
	}
	return RawEvent{}, false
}
