// Package moderation owns per-channel chat state: the messages of a live session,
// the standing of every user, and the moderator operations that change them.
//
// Each channel has a single writer. Sequence numbers are assigned and events are
// published while the channel lock is held, so every subscriber observes the same
// commit order.
package moderation

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/onnwee/mod-tender/slowmode"
)

var (
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUserBanned        = errors.New("user banned")
	ErrRateLimited       = errors.New("rate limited")
	ErrUserTimedOut      = errors.New("user timed out")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMessageNotFound   = errors.New("message not found")
	ErrChannelNotFound   = errors.New("channel not found")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidDelay      = slowmode.ErrInvalidDelay
	ErrChannelClosed     = errors.New("channel closed")
)

// RoleFlags is the set of channel roles a message author holds.
type RoleFlags uint8

const (
	RoleOwner RoleFlags = 1 << iota
	RoleModerator
	RoleMember
)

var roleNames = []struct {
	flag RoleFlags
	name string
}{
	{RoleOwner, "owner"},
	{RoleModerator, "moderator"},
	{RoleMember, "member"},
}

// Privileged reports whether the roles bypass slow mode.
func (r RoleFlags) Privileged() bool { return r&(RoleOwner|RoleModerator) != 0 }

func (r RoleFlags) Has(f RoleFlags) bool { return r&f == f }

func (r RoleFlags) Names() []string {
	out := []string{}
	for _, rn := range roleNames {
		if r.Has(rn.flag) {
			out = append(out, rn.name)
		}
	}
	return out
}

func (r RoleFlags) MarshalJSON() ([]byte, error) { return json.Marshal(r.Names()) }

func (r *RoleFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*r = 0
	for _, n := range names {
		for _, rn := range roleNames {
			if rn.name == n {
				*r |= rn.flag
			}
		}
	}
	return nil
}

type MessageStatus string

const (
	StatusVisible MessageStatus = "visible"
	StatusHidden  MessageStatus = "hidden"
	StatusDeleted MessageStatus = "deleted"
	StatusFlagged MessageStatus = "flagged"
)

type StandingState string

const (
	StandingNormal   StandingState = "normal"
	StandingTimedOut StandingState = "timed_out"
	StandingBanned   StandingState = "banned"
)

// ChatMessage is one accepted message. ID is assigned by the engine and strictly
// increases per channel in arrival order.
type ChatMessage struct {
	ID                uint64        `json:"id"`
	ChannelID         string        `json:"channel_id"`
	AuthorID          string        `json:"author_id"`
	AuthorDisplayName string        `json:"author_display_name"`
	Body              string        `json:"body"`
	Roles             RoleFlags     `json:"roles"`
	Status            MessageStatus `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	ReceivedAt        time.Time     `json:"received_at"`
	SourceMessageID   string        `json:"source_message_id,omitempty"`
}

type Standing struct {
	UserID           string        `json:"user_id"`
	ChannelID        string        `json:"channel_id"`
	State            StandingState `json:"state"`
	TimeoutExpiresAt *time.Time    `json:"timeout_expires_at,omitempty"`
}

type ActionKind string

const (
	ActionHide   ActionKind = "hide"
	ActionDelete ActionKind = "delete"
	ActionFlag   ActionKind = "flag"
	ActionUnflag ActionKind = "unflag"
)

// Action is a moderator decision on one message. Reason is kept only for flag.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

// IngestEvent is a normalized inbound chat message.
type IngestEvent struct {
	ChannelID         string
	AuthorID          string
	AuthorDisplayName string
	Roles             RoleFlags
	Body              string
	SourceTimestamp   time.Time
	SourceMessageID   string
}

type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectBanned    RejectReason = "user_banned"
	RejectRateLimit RejectReason = "rate_limited"
	RejectTimedOut  RejectReason = "user_timed_out"
	RejectMalformed RejectReason = "malformed_event"
)

// IngestResult is the admission outcome of one IngestEvent. Err is the sentinel
// matching Reason for rejected events.
type IngestResult struct {
	Accepted   bool
	Message    ChatMessage
	Reason     RejectReason
	RetryAfter time.Duration
	Err        error
}

// Receipt describes a committed moderator action. Seq is zero when nothing was
// published. AuditErr is set when the audit write failed; the action still stands.
type Receipt struct {
	Seq      uint64
	AuditErr error
}

type EventKind string

const (
	EventMessageAccepted  EventKind = "message_accepted"
	EventMessageModerated EventKind = "message_moderated"
	EventStandingChanged  EventKind = "standing_changed"
	EventSlowModeChanged  EventKind = "slow_mode_changed"
	EventUserJoined       EventKind = "user_joined"
)

// Event is one committed change of a channel, delivered to subscribers in Seq order.
type Event struct {
	Seq         uint64           `json:"seq"`
	ChannelID   string           `json:"channel_id"`
	Kind        EventKind        `json:"kind"`
	At          time.Time        `json:"at"`
	Message     *ChatMessage     `json:"message,omitempty"`
	Standing    *Standing        `json:"standing,omitempty"`
	SlowMode    *slowmode.Config `json:"slow_mode,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	ActorID     string           `json:"actor_id,omitempty"`
}

// Subscription is one attached subscriber of a channel topic.
type Subscription interface {
	ID() string
	Events() <-chan Event
	// Done is closed when the subscription ends for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended; nil after Close.
	Err() error
	Close()
}

// Broker fans events out to subscribers. Publish must not block.
type Broker interface {
	Publish(ev Event)
	Attach(channelID string) Subscription
	CloseTopic(channelID string, reason error)
}
