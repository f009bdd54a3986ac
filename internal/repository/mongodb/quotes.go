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

// QuoteStore persists quotes in the devis collection.
type QuoteStore struct {
	coll *mongo.Collection
}

// Create inserts a new quote.
func (s *QuoteStore) Create(ctx context.Context, quote models.Quote) error {
	if _, err := s.coll.InsertOne(ctx, newQuoteDocument(quote)); err != nil {
		return fmt.Errorf("failed to insert devis %s: %w", quote.ID, err)
	}
	return nil
}

// Get returns a quote by id.
func (s *QuoteStore) Get(ctx context.Context, id string) (models.Quote, error) {
	var doc quoteDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Quote{}, fmt.Errorf("devis %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Quote{}, fmt.Errorf("failed to load devis %s: %w", id, err)
	}
	return doc.model(), nil
}

// List returns matching quotes, newest first.
func (s *QuoteStore) List(ctx context.Context, filter models.QuoteFilter) ([]models.Quote, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.ClientCompany != "" {
		query["client_company"] = filter.ClientCompany
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list devis: %w", err)
	}

	var docs []quoteDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode devis: %w", err)
	}
	out := make([]models.Quote, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// Update replaces the quote if its stored status is still expected.
func (s *QuoteStore) Update(ctx context.Context, quote models.Quote, expected models.QuoteStatus) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": quote.ID, "status": expected}, newQuoteDocument(quote))
	if err != nil {
		return fmt.Errorf("failed to update devis %s: %w", quote.ID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	current, err := s.Get(ctx, quote.ID)
	if err != nil {
		return err
	}
	return models.InvalidStateError("devis %s is %s, expected %s", quote.ID, current.Status, expected)
}
