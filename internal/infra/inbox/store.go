package inbox

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store records consumed event ids per consumer in app_inbox. A unique index
// turns a redelivery into a duplicate key.
type Store struct {
	col      *mongo.Collection
	consumer string
	ttl      time.Duration
}

func NewStore(db *mongo.Database, consumer string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Store{col: db.Collection("app_inbox"), consumer: consumer, ttl: ttl}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "consumer", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "received_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(s.ttl.Seconds()))},
	})
	if err != nil {
		return fmt.Errorf("inbox indexes: %w", err)
	}
	return nil
}

// Seen records eventID and reports whether this consumer had already recorded it.
func (s *Store) Seen(ctx context.Context, eventID string) (bool, error) {
	doc := bson.M{"event_id": eventID, "consumer": s.consumer, "received_at": time.Now().UTC()}
	_, err := s.col.InsertOne(ctx, doc)
	if err == nil {
		return false, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return true, nil
	}
	return false, fmt.Errorf("inbox insert: %w", err)
}
