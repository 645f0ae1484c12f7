package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// CalendarAdapter implements out.CalendarEventRepository keyed by the
// deterministic event id, so reprocessing a document overwrites its events.
type CalendarAdapter struct {
	collection *mongo.Collection
}

func NewCalendarAdapter(db *mongo.Database) *CalendarAdapter {
	return &CalendarAdapter{collection: db.Collection(collectionEvents)}
}

var _ out.CalendarEventRepository = (*CalendarAdapter)(nil)

func (a *CalendarAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "starts_at", Value: 1}},
	})
	return err
}

// Upsert replaces only the owner's event. An id held by another user fails
// with a duplicate key error instead of being overwritten.
func (a *CalendarAdapter) Upsert(ctx context.Context, event *domain.CalendarEvent) error {
	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"_id": event.ID, "user_id": event.UserID}
	if _, err := a.collection.ReplaceOne(ctx, filter, event, opts); err != nil {
		return fmt.Errorf("failed to upsert calendar event: %w", err)
	}
	return nil
}

func (a *CalendarAdapter) ListByUser(ctx context.Context, userID string) ([]*domain.CalendarEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "starts_at", Value: 1}})
	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar events: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*domain.CalendarEvent
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode calendar events: %w", err)
	}
	return result, nil
}
