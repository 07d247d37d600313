package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/testutil"
)

func pageAll(t *testing.T, s audit.Store, q audit.Query) []audit.Entry {
	t.Helper()
	var out []audit.Entry
	for i := 0; i < 20; i++ {
		p, err := s.Query(context.Background(), q)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		out = append(out, p.Entries...)
		if p.NextCursor == "" {
			return out
		}
		q.Cursor = p.NextCursor
	}
	t.Fatal("pagination does not terminate")
	return nil
}

func appendN(t *testing.T, s audit.Store, channel string, n int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		// identical timestamps force the id tiebreak
		_, err := s.Append(context.Background(), audit.Entry{
			ChannelID: channel, ActorID: "mod", Action: "delete",
			TargetID: fmt.Sprintf("%d", i), Outcome: audit.OutcomeApplied, At: at,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestPostgresStorePagination(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := audit.NewPostgresStore(database)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	appendN(t, s, "pg", 7, at)

	got := pageAll(t, s, audit.Query{ChannelID: "pg", Limit: 3})
	if len(got) != 7 {
		t.Fatalf("got %d entries, want 7", len(got))
	}
	for i, e := range got {
		if e.TargetID != fmt.Sprintf("%d", i) {
			t.Errorf("entry %d target=%s", i, e.TargetID)
		}
		if !e.At.Equal(at) {
			t.Errorf("entry %d at=%v", i, e.At)
		}
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMongoStorePagination(t *testing.T) {
	database := testutil.SetupTestMongo(t)
	s, err := audit.NewMongoStore(context.Background(), database)
	if err != nil {
		t.Fatalf("NewMongoStore: %v", err)
	}
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	appendN(t, s, "mg", 5, at)
	appendN(t, s, "other", 2, at)

	got := pageAll(t, s, audit.Query{ChannelID: "mg", Limit: 2})
	if len(got) != 5 {
		t.Fatalf("got %d entries, want 5", len(got))
	}
	for i, e := range got {
		if e.TargetID != fmt.Sprintf("%d", i) {
			t.Errorf("entry %d target=%s", i, e.TargetID)
		}
	}
}
