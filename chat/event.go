package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/mod-tender/moderation"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindJoin    Kind = "join"
	KindDelete  Kind = "delete"
)

// RawEvent is one event as delivered by a chat platform or the webhook feed.
type RawEvent struct {
	Kind              Kind      `json:"kind"`
	ChannelID         string    `json:"channelId"`
	AuthorID          string    `json:"authorId,omitempty"`
	AuthorDisplayName string    `json:"authorDisplayName,omitempty"`
	Body              string    `json:"body,omitempty"`
	Badges            []string  `json:"badges,omitempty"`
	SourceMessageID   string    `json:"sourceMessageId,omitempty"`
	SourceTimestamp   time.Time `json:"sourceTimestamp,omitempty"`
}

// Event is a validated RawEvent. For joins only ChannelID, AuthorID and
// AuthorDisplayName of Ingest are set; for deletes only ChannelID and SourceMessageID.
type Event struct {
	Kind   Kind
	Ingest moderation.IngestEvent
}

// MalformedEventError names the required fields a RawEvent was missing.
type MalformedEventError struct {
	Kind    Kind
	Missing []string
}

func (e *MalformedEventError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("malformed event: unknown kind %q", e.Kind)
	}
	return fmt.Sprintf("malformed %s event: missing %s", e.Kind, strings.Join(e.Missing, ", "))
}

func (e *MalformedEventError) Unwrap() error { return moderation.ErrMalformedEvent }

// Normalize validates raw and converts it into an Event.
func Normalize(raw RawEvent) (Event, error) {
	var missing []string
	need := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	switch raw.Kind {
	case KindMessage:
		need(raw.ChannelID, "channelId")
		need(raw.AuthorID, "authorId")
		need(raw.Body, "body")
	case KindJoin:
		need(raw.ChannelID, "channelId")
		need(raw.AuthorID, "authorId")
	case KindDelete:
		need(raw.ChannelID, "channelId")
		need(raw.SourceMessageID, "sourceMessageId")
	default:
		return Event{}, &MalformedEventError{Kind: raw.Kind}
	}
	if len(missing) > 0 {
		return Event{}, &MalformedEventError{Kind: raw.Kind, Missing: missing}
	}
	display := raw.AuthorDisplayName
	if display == "" {
		display = raw.AuthorID
	}
	return Event{
		Kind: raw.Kind,
		Ingest: moderation.IngestEvent{
			ChannelID:         raw.ChannelID,
			AuthorID:          raw.AuthorID,
			AuthorDisplayName: display,
			Roles:             RolesFromBadges(raw.Badges),
			Body:              raw.Body,
			SourceTimestamp:   raw.SourceTimestamp,
			SourceMessageID:   raw.SourceMessageID,
		},
	}, nil
}

// RolesFromBadges maps platform badges to roles. Unknown badges are ignored.
func RolesFromBadges(badges []string) moderation.RoleFlags {
	var r moderation.RoleFlags
	for _, b := range badges {
		switch strings.ToLower(b) {
		case "broadcaster", "owner":
			r |= moderation.RoleOwner
		case "moderator", "mod":
			r |= moderation.RoleModerator
		case "subscriber", "member", "vip", "sponsor":
			r |= moderation.RoleMember
		}
	}
	return r
}
