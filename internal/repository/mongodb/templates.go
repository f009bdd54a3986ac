package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// TemplateStore persists notification templates keyed by event type.
type TemplateStore struct {
	coll *mongo.Collection
}

// GetTemplate returns the template of an event type.
func (s *TemplateStore) GetTemplate(ctx context.Context, eventType models.EventType) (models.NotificationTemplate, error) {
	var doc templateDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": eventType}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NotificationTemplate{}, fmt.Errorf("template %s: %w", eventType, models.ErrNotFound)
	}
	if err != nil {
		return models.NotificationTemplate{}, fmt.Errorf("failed to load template %s: %w", eventType, err)
	}
	return models.NotificationTemplate(doc), nil
}

// ListTemplates returns every template ordered by event type.
func (s *TemplateStore) ListTemplates(ctx context.Context) ([]models.NotificationTemplate, error) {
	cursor, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	var docs []templateDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	out := make([]models.NotificationTemplate, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.NotificationTemplate(d))
	}
	return out, nil
}

// UpsertTemplate inserts or replaces a template.
func (s *TemplateStore) UpsertTemplate(ctx context.Context, t models.NotificationTemplate) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": t.EventType}, templateDocument(t), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", t.EventType, err)
	}
	return nil
}
