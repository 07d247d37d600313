package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/mod-tender/youtubeapi"
)

type fakeLister struct {
	pages []youtubeapi.Page
	errs  []error
	calls int
	ids   []string
}

func (f *fakeLister) LiveChatID(_ context.Context, videoID string) (string, error) {
	if videoID == "" {
		return "", youtubeapi.ErrNoLiveChat
	}
	return "chat-" + videoID, nil
}

func (f *fakeLister) ListMessages(_ context.Context, liveChatID, pageToken string) (youtubeapi.Page, error) {
	f.ids = append(f.ids, liveChatID+"/"+pageToken)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return youtubeapi.Page{}, f.errs[i]
	}
	if i < len(f.pages) {
		return f.pages[i], nil
	}
	return youtubeapi.Page{Offline: true}, nil
}

func TestYouTubeSourceMapsMessages(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{
		errs: []error{nil, errors.New("quota")},
		pages: []youtubeapi.Page{
			{
				NextPageToken: "p2",
				Messages: []youtubeapi.Message{
					{ID: "old", Type: youtubeapi.TypeText, AuthorChannelID: "UC1", Text: "backlog", PublishedAt: start.Add(-time.Minute)},
					{ID: "m1", Type: youtubeapi.TypeText, AuthorChannelID: "UC1", AuthorDisplayName: "Ann", Text: "hi", IsModerator: true, PublishedAt: start.Add(time.Second)},
					{ID: "m2", Type: "superChatEvent", AuthorChannelID: "UC2", PublishedAt: start.Add(2 * time.Second)},
				},
			},
			{},
			{
				Offline: true,
				Messages: []youtubeapi.Message{
					{ID: "d1", Type: youtubeapi.TypeDeleted, DeletedMessageID: "m1", PublishedAt: start.Add(3 * time.Second)},
				},
			},
		},
	}
	src := &YouTubeSource{Client: lister, ChannelID: "yt", VideoID: "vid", MinInterval: time.Millisecond, Now: func() time.Time { return start }}
	out := make(chan RawEvent, 8)
	if err := src.Run(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	close(out)
	var got []RawEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(got), got)
	}
	if got[0].Kind != KindMessage || got[0].SourceMessageID != "m1" || got[0].ChannelID != "yt" {
		t.Errorf("first event %+v", got[0])
	}
	if !RolesFromBadges(got[0].Badges).Privileged() {
		t.Errorf("moderator badge lost: %v", got[0].Badges)
	}
	if got[1].Kind != KindDelete || got[1].SourceMessageID != "m1" {
		t.Errorf("second event %+v", got[1])
	}
	if lister.ids[0] != "chat-vid/" || lister.ids[1] != "chat-vid/p2" || lister.ids[2] != "chat-vid/p2" {
		t.Errorf("page tokens not followed: %v", lister.ids)
	}
}

func TestYouTubeSourceNoLiveChat(t *testing.T) {
	src := &YouTubeSource{Client: &fakeLister{}, ChannelID: "yt"}
	if err := src.Run(context.Background(), make(chan RawEvent)); !errors.Is(err, youtubeapi.ErrNoLiveChat) {
		t.Fatalf("err = %v", err)
	}
}
