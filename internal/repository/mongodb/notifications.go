package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// NotificationStore persists delivery records. A unique index on
// (event_id, target_erp) makes creation idempotent.
type NotificationStore struct {
	coll *mongo.Collection
}

// CreateIfAbsent inserts rec, or returns the existing record for the same
// event and target with created=false.
func (s *NotificationStore) CreateIfAbsent(ctx context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error) {
	_, err := s.coll.InsertOne(ctx, newNotificationDocument(rec))
	if err == nil {
		return rec, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return models.NotificationRecord{}, false, fmt.Errorf("failed to insert notification: %w", err)
	}

	var doc notificationDocument
	err = s.coll.FindOne(ctx, bson.M{"event_id": rec.EventID, "target_erp": rec.Target}).Decode(&doc)
	if err != nil {
		return models.NotificationRecord{}, false, fmt.Errorf("failed to load notification for event %s: %w", rec.EventID, err)
	}
	return doc.model(), false, nil
}

// Get returns a record by id.
func (s *NotificationStore) Get(ctx context.Context, id string) (models.NotificationRecord, error) {
	var doc notificationDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NotificationRecord{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.NotificationRecord{}, fmt.Errorf("failed to load notification %s: %w", id, err)
	}
	return doc.model(), nil
}

// List returns records matching filter, newest first.
func (s *NotificationStore) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Target != "" {
		query["target_erp"] = filter.Target
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.find(ctx, query, opts)
}

// ListPending returns pending records, oldest first.
func (s *NotificationStore) ListPending(ctx context.Context, limit int) ([]models.NotificationRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, bson.M{"status": models.NotificationPending}, opts)
}

// MarkSent records a successful delivery.
func (s *NotificationStore) MarkSent(ctx context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error) {
	set := attemptFields(attempt)
	set["status"] = models.NotificationSent
	set["sent_at"] = attempt.At
	return s.transition(ctx, id, bson.M{}, bson.M{"$set": set, "$unset": bson.M{"next_attempt_at": ""}})
}

// MarkRetry records a failed attempt and bumps retry_count while it is below
// max_retries.
func (s *NotificationStore) MarkRetry(ctx context.Context, id string, attempt models.DeliveryAttempt, nextAttemptAt time.Time) (models.NotificationRecord, error) {
	set := attemptFields(attempt)
	set["next_attempt_at"] = nextAttemptAt
	guard := bson.M{"$expr": bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}}}
	return s.transition(ctx, id, guard, bson.M{"$set": set, "$inc": bson.M{"retry_count": 1}})
}

// MarkFailed records the final failed attempt.
func (s *NotificationStore) MarkFailed(ctx context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error) {
	set := attemptFields(attempt)
	set["status"] = models.NotificationFailed
	return s.transition(ctx, id, bson.M{}, bson.M{"$set": set, "$unset": bson.M{"next_attempt_at": ""}})
}

// Stats counts records per status and target.
func (s *NotificationStore) Stats(ctx context.Context, since time.Time) (models.NotificationStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"status": "$status", "target": "$target_erp"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return models.NotificationStats{}, fmt.Errorf("failed to aggregate notification stats: %w", err)
	}

	var rows []struct {
		ID struct {
			Status models.NotificationStatus `bson:"status"`
			Target models.TargetSystem       `bson:"target"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return models.NotificationStats{}, fmt.Errorf("failed to decode notification stats: %w", err)
	}

	var stats models.NotificationStats
	stats.ByStatusAndTarget = make([]models.NotificationStatCount, 0, len(rows))
	for _, row := range rows {
		stats.ByStatusAndTarget = append(stats.ByStatusAndTarget, models.NotificationStatCount{
			Status: row.ID.Status,
			Target: row.ID.Target,
			Count:  row.Count,
		})
		stats.Total += row.Count
	}
	sort.Slice(stats.ByStatusAndTarget, func(i, j int) bool {
		a, b := stats.ByStatusAndTarget[i], stats.ByStatusAndTarget[j]
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.Target < b.Target
	})

	stats.SentToday, err = s.coll.CountDocuments(ctx, bson.M{
		"status":  models.NotificationSent,
		"sent_at": bson.M{"$gte": since},
	})
	if err != nil {
		return models.NotificationStats{}, fmt.Errorf("failed to count sent notifications: %w", err)
	}
	return stats, nil
}

func (s *NotificationStore) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]models.NotificationRecord, error) {
	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	var docs []notificationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	out := make([]models.NotificationRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// transition updates a pending record. When nothing matches, the current
// record decides between not found and invalid state.
func (s *NotificationStore) transition(ctx context.Context, id string, guard bson.M, update bson.M) (models.NotificationRecord, error) {
	filter := bson.M{"_id": id, "status": models.NotificationPending}
	for k, v := range guard {
		filter[k] = v
	}

	var doc notificationDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.model(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.NotificationRecord{}, fmt.Errorf("failed to update notification %s: %w", id, err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	if current.Status != models.NotificationPending {
		return models.NotificationRecord{}, models.InvalidStateError("notification %s is %s", id, current.Status)
	}
	return models.NotificationRecord{}, models.InvalidStateError("notification %s exhausted %d retries", id, current.MaxRetries)
}

func attemptFields(attempt models.DeliveryAttempt) bson.M {
	return bson.M{
		"http_status_code": attempt.HTTPStatusCode,
		"response_body":    attempt.ResponseBody,
		"error_message":    attempt.ErrorMessage,
		"updated_at":       attempt.At,
	}
}
