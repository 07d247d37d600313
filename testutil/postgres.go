package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/onnwee/mod-tender/db"
)

// SetupTestDB opens TEST_PG_DSN, applies migrations and empties the audit table.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`TRUNCATE moderation_audit RESTART IDENTITY`); err != nil {
		database.Close()
		t.Fatalf("failed to truncate audit table: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SetupTestMongo returns a fresh database on TEST_MONGO_URI, dropped on cleanup.
// It skips the test if TEST_MONGO_URI is not set.
func SetupTestMongo(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("failed to connect mongo: %v", err)
	}
	name := "mod_tender_test_" + time.Now().UTC().Format("20060102150405.000000")
	database := client.Database(sanitizeDBName(name))
	t.Cleanup(func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ccancel()
		_ = database.Drop(cctx)
		_ = client.Disconnect(cctx)
	})
	return database
}

func sanitizeDBName(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c == '.' {
			out[i] = '_'
		}
	}
	return string(out)
}
