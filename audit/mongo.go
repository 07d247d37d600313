package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists entries in a MongoDB collection. IDs are ObjectID hex
// strings, which sort in insertion order within one process.
type MongoStore struct {
	coll *mongo.Collection
}

// ConnectMongo dials uri and returns the named database.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client.Database(database), nil
}

// NewMongoStore uses the moderation_audit collection of db and ensures its index.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{coll: db.Collection("moderation_audit")}
	ictx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.coll.Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "channel_id", Value: 1},
			{Key: "at", Value: 1},
			{Key: "_id", Value: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create audit index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e.ID = primitive.NewObjectID().Hex()
	// mongo stores milliseconds; truncate so cursors round-trip exactly
	e.At = e.At.UTC().Truncate(time.Millisecond)
	if _, err := s.coll.InsertOne(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return e, nil
}

func (s *MongoStore) Query(ctx context.Context, q Query) (Page, error) {
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}
	limit := normalizeLimit(q.Limit)

	filter := bson.M{}
	if q.ChannelID != "" {
		filter["channel_id"] = q.ChannelID
	}
	at := bson.M{}
	if !q.From.IsZero() {
		at["$gte"] = q.From.UTC()
	}
	if !q.To.IsZero() {
		at["$lt"] = q.To.UTC()
	}
	if len(at) > 0 {
		filter["at"] = at
	}
	if cur != nil {
		filter["$or"] = bson.A{
			bson.M{"at": bson.M{"$gt": cur.At.UTC()}},
			bson.M{"at": cur.At.UTC(), "_id": bson.M{"$gt": cur.ID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	c, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return Page{}, fmt.Errorf("query audit entries: %w", err)
	}
	defer c.Close(ctx)

	var entries []Entry
	if err := c.All(ctx, &entries); err != nil {
		return Page{}, fmt.Errorf("decode audit entries: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	for i := range entries {
		entries[i].At = entries[i].At.UTC()
	}
	return Page{Entries: entries, NextCursor: nextCursor(entries, limit)}, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}
