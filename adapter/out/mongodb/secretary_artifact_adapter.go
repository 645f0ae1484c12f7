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

// ArtifactAdapter implements out.ArtifactRepository. Artifacts are insert-only.
type ArtifactAdapter struct {
	collection *mongo.Collection
}

func NewArtifactAdapter(db *mongo.Database) *ArtifactAdapter {
	return &ArtifactAdapter{collection: db.Collection(collectionArtifacts)}
}

var _ out.ArtifactRepository = (*ArtifactAdapter)(nil)

func (a *ArtifactAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (a *ArtifactAdapter) Insert(ctx context.Context, artifact *domain.DocumentArtifact) error {
	if _, err := a.collection.InsertOne(ctx, artifact); err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// ListByDocument returns artifacts oldest first.
func (a *ArtifactAdapter) ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentArtifact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return a.find(ctx, bson.M{"document_id": documentID}, opts)
}

// ListByUser returns the newest artifacts first. An empty kind matches all kinds.
func (a *ArtifactAdapter) ListByUser(ctx context.Context, userID string, kind domain.ArtifactKind, limit int) ([]*domain.DocumentArtifact, error) {
	filter := bson.M{"user_id": userID}
	if kind != "" {
		filter["kind"] = string(kind)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return a.find(ctx, filter, opts)
}

func (a *ArtifactAdapter) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.DocumentArtifact, error) {
	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find artifacts: %w", err)
	}
	defer cursor.Close(ctx)

	var result []*domain.DocumentArtifact
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts: %w", err)
	}
	return result, nil
}
