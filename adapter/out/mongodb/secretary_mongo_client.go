// Package mongodb stores document artifacts and calendar events in MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionArtifacts = "document_artifacts"
	collectionEvents    = "calendar_events"
)

// Connect opens a client and verifies the primary is reachable.
func Connect(ctx context.Context, url string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetAppName("secretary_server")

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes both adapters rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	if err := NewArtifactAdapter(db).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("artifact indexes: %w", err)
	}
	if err := NewCalendarAdapter(db).EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("calendar indexes: %w", err)
	}
	return nil
}
