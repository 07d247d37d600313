package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory. It is the default store when no
// database is configured and the store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     uint64
	entries []Entry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	// zero padded so lexical order equals insertion order
	e.ID = fmt.Sprintf("%020d", s.seq)
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) (Page, error) {
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}
	limit := normalizeLimit(q.Limit)

	s.mu.RLock()
	matched := make([]Entry, 0)
	for _, e := range s.entries {
		if q.ChannelID != "" && e.ChannelID != q.ChannelID {
			continue
		}
		if !q.From.IsZero() && e.At.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !e.At.Before(q.To) {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	out := make([]Entry, 0, limit)
	for _, e := range matched {
		if cur != nil && !less(Entry{At: cur.At, ID: cur.ID}, e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return Page{Entries: out, NextCursor: nextCursor(out, limit)}, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func less(a, b Entry) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.ID < b.ID
}
