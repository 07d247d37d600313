// Package audit is the append-only record of moderation actions.
//
// Stores only ever append; there is no update or delete API. The Recorder wraps a
// Store for the moderation engine: a failed write is logged, counted and returned
// to the caller, but never undoes the action it describes.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrAuditWrite wraps every failure returned by Recorder.Record.
var ErrAuditWrite = errors.New("audit write failed")

// Outcomes of an audited action.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
)

// Entry is one audited moderation action.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	ChannelID string    `json:"channel_id" bson:"channel_id"`
	ActorID   string    `json:"actor_id" bson:"actor_id"`
	Action    string    `json:"action" bson:"action"`
	TargetID  string    `json:"target_id" bson:"target_id"`
	Detail    string    `json:"detail,omitempty" bson:"detail,omitempty"`
	Outcome   string    `json:"outcome" bson:"outcome"`
	At        time.Time `json:"at" bson:"at"`
}

// Query selects entries of one channel in [From, To). Zero From/To are open bounds.
type Query struct {
	ChannelID string
	From      time.Time
	To        time.Time
	Cursor    string
	Limit     int
}

// Page is one page of a Query ordered by (At, ID) ascending.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	Query(ctx context.Context, q Query) (Page, error)
	Ping(ctx context.Context) error
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

func normalizeLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
