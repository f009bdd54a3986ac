package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// Ledger stores parts and their movements. Reservations rely on a
// conditional $inc per part so stock never drops below zero; a partial
// reservation is compensated before returning.
type Ledger struct {
	parts     *mongo.Collection
	movements *mongo.Collection
	logger    *zap.Logger
}

// UpsertPart inserts or replaces a catalog entry.
func (l *Ledger) UpsertPart(ctx context.Context, p models.Part) error {
	if p.StockQuantity < 0 {
		return fmt.Errorf("part %s: negative stock %d", p.Reference, p.StockQuantity)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := l.parts.ReplaceOne(ctx, bson.M{"_id": p.Reference}, newPartDocument(p), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert part %s: %w", p.Reference, err)
	}
	return nil
}

// GetPart returns a part by reference.
func (l *Ledger) GetPart(ctx context.Context, reference string) (models.Part, error) {
	var doc partDocument
	err := l.parts.FindOne(ctx, bson.M{"_id": reference}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Part{}, fmt.Errorf("part %s: %w", reference, models.ErrNotFound)
	}
	if err != nil {
		return models.Part{}, fmt.Errorf("failed to load part %s: %w", reference, err)
	}
	return doc.model(), nil
}

// ListParts returns parts ordered by category then reference.
func (l *Ledger) ListParts(ctx context.Context, category string) ([]models.Part, error) {
	filter := bson.M{}
	if category != "" {
		filter["category"] = category
	}
	opts := options.Find().SetSort(bson.D{{Key: "category", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := l.parts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}

	var docs []partDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode parts: %w", err)
	}
	out := make([]models.Part, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// Reserve decrements every item or none. An empty list is a no-op.
func (l *Ledger) Reserve(ctx context.Context, referenceType, referenceID string, items []models.Reservation) error {
	items = mergeReservations(items)
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()

	applied := make([]models.Reservation, 0, len(items))
	for _, item := range items {
		res, err := l.parts.UpdateOne(ctx,
			bson.M{"_id": item.PartReference, "stock_quantity": bson.M{"$gte": item.Quantity}},
			bson.M{
				"$inc": bson.M{"stock_quantity": -item.Quantity},
				"$set": bson.M{"updated_at": now},
			})
		if err != nil {
			l.compensate(ctx, applied)
			return fmt.Errorf("failed to reserve %s: %w", item.PartReference, err)
		}
		if res.MatchedCount == 0 {
			l.compensate(ctx, applied)
			return l.shortages(ctx, items, item)
		}
		applied = append(applied, item)
	}

	moves := make([]any, 0, len(items))
	for _, item := range items {
		moves = append(moves, movementDocument{
			ID:            uuid.NewString(),
			PartReference: item.PartReference,
			Type:          models.MovementReservation,
			Quantity:      -item.Quantity,
			ReferenceType: referenceType,
			ReferenceID:   referenceID,
			Notes:         fmt.Sprintf("Reserved for %s %s", referenceType, referenceID),
			CreatedAt:     now,
		})
	}
	if _, err := l.movements.InsertMany(ctx, moves); err != nil {
		l.compensate(ctx, applied)
		return fmt.Errorf("failed to record reservation movements: %w", err)
	}
	return nil
}

// Release gives reserved units back.
func (l *Ledger) Release(ctx context.Context, referenceType, referenceID string, items []models.Reservation) error {
	now := time.Now().UTC()
	for _, item := range mergeReservations(items) {
		if err := l.increment(ctx, item.PartReference, item.Quantity, now); err != nil {
			return err
		}
		if err := l.insertMovement(ctx, movementDocument{
			ID:            uuid.NewString(),
			PartReference: item.PartReference,
			Type:          models.MovementReservationRelease,
			Quantity:      item.Quantity,
			ReferenceType: referenceType,
			ReferenceID:   referenceID,
			Notes:         fmt.Sprintf("Released from %s %s", referenceType, referenceID),
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Restock adds quantity units to a part.
func (l *Ledger) Restock(ctx context.Context, reference string, quantity int, notes string) (models.Part, error) {
	now := time.Now().UTC()
	var doc partDocument
	err := l.parts.FindOneAndUpdate(ctx,
		bson.M{"_id": reference},
		bson.M{"$inc": bson.M{"stock_quantity": quantity}, "$set": bson.M{"updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Part{}, fmt.Errorf("part %s: %w", reference, models.ErrNotFound)
	}
	if err != nil {
		return models.Part{}, fmt.Errorf("failed to restock %s: %w", reference, err)
	}

	if err := l.insertMovement(ctx, movementDocument{
		ID:            uuid.NewString(),
		PartReference: reference,
		Type:          models.MovementRestock,
		Quantity:      quantity,
		Notes:         notes,
		CreatedAt:     now,
	}); err != nil {
		return models.Part{}, err
	}
	return doc.model(), nil
}

// Movements returns the movements of a part, oldest first.
func (l *Ledger) Movements(ctx context.Context, reference string) ([]models.StockMovement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := l.movements.Find(ctx, bson.M{"part_reference": reference}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements of %s: %w", reference, err)
	}
	var docs []movementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode movements: %w", err)
	}
	out := make([]models.StockMovement, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (l *Ledger) increment(ctx context.Context, reference string, quantity int, now time.Time) error {
	res, err := l.parts.UpdateOne(ctx,
		bson.M{"_id": reference},
		bson.M{"$inc": bson.M{"stock_quantity": quantity}, "$set": bson.M{"updated_at": now}})
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", reference, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("part %s: %w", reference, models.ErrNotFound)
	}
	return nil
}

func (l *Ledger) insertMovement(ctx context.Context, doc movementDocument) error {
	if _, err := l.movements.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to record movement for %s: %w", doc.PartReference, err)
	}
	return nil
}

// compensate returns units taken by a reservation that could not complete.
// It runs on a fresh context so a cancelled request cannot strand stock.
func (l *Ledger) compensate(ctx context.Context, applied []models.Reservation) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	for _, item := range applied {
		if err := l.increment(ctx, item.PartReference, item.Quantity, now); err != nil {
			l.logger.Error("failed to return reserved units",
				zap.String("reference", item.PartReference),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
		}
	}
}

// shortages reports every item the current stock cannot cover. failed is
// reported on its own when stock moved back in the meantime.
func (l *Ledger) shortages(ctx context.Context, items []models.Reservation, failed models.Reservation) error {
	refs := make([]string, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.PartReference)
	}

	available := make(map[string]int, len(items))
	cursor, err := l.parts.Find(ctx, bson.M{"_id": bson.M{"$in": refs}})
	if err == nil {
		var docs []partDocument
		if cursor.All(ctx, &docs) == nil {
			for _, d := range docs {
				available[d.Reference] = d.StockQuantity
			}
		}
	}

	var out []models.Shortage
	for _, it := range items {
		if have := available[it.PartReference]; have < it.Quantity {
			out = append(out, models.Shortage{PartReference: it.PartReference, Requested: it.Quantity, Available: have})
		}
	}
	if len(out) == 0 {
		out = append(out, models.Shortage{PartReference: failed.PartReference, Requested: failed.Quantity, Available: available[failed.PartReference]})
	}
	return &models.StockUnavailableError{Shortages: out}
}

func mergeReservations(items []models.Reservation) []models.Reservation {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.PartReference] += it.Quantity
	}
	out := make([]models.Reservation, 0, len(totals))
	for ref, qty := range totals {
		out = append(out, models.Reservation{PartReference: ref, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartReference < out[j].PartReference })
	return out
}
