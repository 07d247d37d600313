package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PostgresStore persists entries in the moderation_audit table (see db migrations).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO moderation_audit (channel_id, actor_id, action, target_id, detail, outcome, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.ChannelID, e.ActorID, e.Action, e.TargetID, e.Detail, e.Outcome, e.At.UTC(),
	).Scan(&id)
	if err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID = strconv.FormatInt(id, 10)
	return e, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) (Page, error) {
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}
	limit := normalizeLimit(q.Limit)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if q.ChannelID != "" {
		where = append(where, "channel_id = "+arg(q.ChannelID))
	}
	if !q.From.IsZero() {
		where = append(where, "at >= "+arg(q.From.UTC()))
	}
	if !q.To.IsZero() {
		where = append(where, "at < "+arg(q.To.UTC()))
	}
	if cur != nil {
		cid, err := strconv.ParseInt(cur.ID, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("%w: id %q", ErrInvalidCursor, cur.ID)
		}
		where = append(where, fmt.Sprintf("(at, id) > (%s, %s)", arg(cur.At.UTC()), arg(cid)))
	}

	stmt := `SELECT id, channel_id, actor_id, action, target_id, COALESCE(detail, ''), outcome, at FROM moderation_audit`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY at ASC, id ASC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e  Entry
			id int64
			at time.Time
		)
		if err := rows.Scan(&id, &e.ChannelID, &e.ActorID, &e.Action, &e.TargetID, &e.Detail, &e.Outcome, &at); err != nil {
			return Page{}, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = strconv.FormatInt(id, 10)
		e.At = at.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate audit entries: %w", err)
	}
	return Page{Entries: entries, NextCursor: nextCursor(entries, limit)}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
