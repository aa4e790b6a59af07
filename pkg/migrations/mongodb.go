package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureEventIndexes creates the indexes the event store relies on:
// (platform, occurred_at) backs similarity candidate lookups, occurred_at
// backs time-range queries and the retention sweep. The _id index already
// guarantees event idempotence.
func EnsureEventIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("events")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "platform", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_events_platform_occurred_at"),
		},
		{
			Keys:    bson.D{{Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_events_occurred_at"),
		},
		{
			Keys:    bson.D{{Key: "is_duplicate", Value: 1}, {Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("idx_events_is_duplicate_occurred_at"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create event indexes: %w", err)
		}
	}

	return nil
}

// EnsureAlertIndexes creates the status index the active-alerts query uses.
func EnsureAlertIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("alerts")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_alerts_status_created_at"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create alert indexes: %w", err)
		}
	}

	return nil
}
