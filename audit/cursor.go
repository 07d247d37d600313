package audit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the keyset position after the last entry of a page.
type Cursor struct {
	At time.Time `json:"at"`
	ID string    `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor returns nil for an empty string.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}

func nextCursor(entries []Entry, limit int) string {
	if len(entries) < limit || len(entries) == 0 {
		return ""
	}
	last := entries[len(entries)-1]
	c, err := EncodeCursor(Cursor{At: last.At, ID: last.ID})
	if err != nil {
		return ""
	}
	return c
}
