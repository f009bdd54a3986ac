package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// NotificationStore keeps delivery records in memory, unique on
// (event id, target).
type NotificationStore struct {
	mu      sync.RWMutex
	records map[string]models.NotificationRecord
	byEvent map[eventTargetKey]string
}

type eventTargetKey struct {
	eventID string
	target  models.TargetSystem
}

// NewNotificationStore creates an empty store.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		records: make(map[string]models.NotificationRecord),
		byEvent: make(map[eventTargetKey]string),
	}
}

// CreateIfAbsent inserts rec unless a record for the same event and target
// exists. The stored record is returned with created=false in that case.
func (s *NotificationStore) CreateIfAbsent(_ context.Context, rec models.NotificationRecord) (models.NotificationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := eventTargetKey{eventID: rec.EventID, target: rec.Target}
	if id, ok := s.byEvent[key]; ok {
		return cloneRecord(s.records[id]), false, nil
	}
	s.records[rec.ID] = cloneRecord(rec)
	s.byEvent[key] = rec.ID
	return cloneRecord(rec), true, nil
}

// Get returns a record by id.
func (s *NotificationStore) Get(_ context.Context, id string) (models.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.NotificationRecord{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// List returns records matching filter, newest first.
func (s *NotificationStore) List(_ context.Context, filter models.NotificationFilter) ([]models.NotificationRecord, error) {
	s.mu.RLock()
	out := make([]models.NotificationRecord, 0)
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.Target != "" && rec.Target != filter.Target {
			continue
		}
		if filter.EventType != "" && rec.EventType != filter.EventType {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListPending returns pending records, oldest first.
func (s *NotificationStore) ListPending(_ context.Context, limit int) ([]models.NotificationRecord, error) {
	s.mu.RLock()
	out := make([]models.NotificationRecord, 0)
	for _, rec := range s.records {
		if rec.Status == models.NotificationPending {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent records a successful delivery.
func (s *NotificationStore) MarkSent(_ context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error) {
	return s.transition(id, func(rec *models.NotificationRecord) error {
		applyAttempt(rec, attempt)
		at := attempt.At
		rec.Status = models.NotificationSent
		rec.SentAt = &at
		rec.NextAttemptAt = nil
		return nil
	})
}

// MarkRetry records a failed attempt and bumps the retry counter while the
// budget allows it.
func (s *NotificationStore) MarkRetry(_ context.Context, id string, attempt models.DeliveryAttempt, nextAttemptAt time.Time) (models.NotificationRecord, error) {
	return s.transition(id, func(rec *models.NotificationRecord) error {
		if rec.RetryCount >= rec.MaxRetries {
			return models.InvalidStateError("notification %s exhausted %d retries", id, rec.MaxRetries)
		}
		applyAttempt(rec, attempt)
		rec.RetryCount++
		next := nextAttemptAt
		rec.NextAttemptAt = &next
		return nil
	})
}

// MarkFailed records the final failed attempt.
func (s *NotificationStore) MarkFailed(_ context.Context, id string, attempt models.DeliveryAttempt) (models.NotificationRecord, error) {
	return s.transition(id, func(rec *models.NotificationRecord) error {
		applyAttempt(rec, attempt)
		rec.Status = models.NotificationFailed
		rec.NextAttemptAt = nil
		return nil
	})
}

// Stats counts records per status and target. SentToday counts records sent
// at or after since.
func (s *NotificationStore) Stats(_ context.Context, since time.Time) (models.NotificationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		status models.NotificationStatus
		target models.TargetSystem
	}
	counts := make(map[bucket]int64)
	var stats models.NotificationStats
	for _, rec := range s.records {
		counts[bucket{rec.Status, rec.Target}]++
		stats.Total++
		if rec.Status == models.NotificationSent && rec.SentAt != nil && !rec.SentAt.Before(since) {
			stats.SentToday++
		}
	}

	stats.ByStatusAndTarget = make([]models.NotificationStatCount, 0, len(counts))
	for b, n := range counts {
		stats.ByStatusAndTarget = append(stats.ByStatusAndTarget, models.NotificationStatCount{Status: b.status, Target: b.target, Count: n})
	}
	sort.Slice(stats.ByStatusAndTarget, func(i, j int) bool {
		a, b := stats.ByStatusAndTarget[i], stats.ByStatusAndTarget[j]
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.Target < b.Target
	})
	return stats, nil
}

// transition applies fn to a pending record. Sent and failed records are final.
func (s *NotificationStore) transition(id string, fn func(*models.NotificationRecord) error) (models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return models.NotificationRecord{}, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	if rec.Status != models.NotificationPending {
		return models.NotificationRecord{}, models.InvalidStateError("notification %s is %s", id, rec.Status)
	}
	if err := fn(&rec); err != nil {
		return models.NotificationRecord{}, err
	}
	s.records[id] = rec
	return cloneRecord(rec), nil
}

func applyAttempt(rec *models.NotificationRecord, attempt models.DeliveryAttempt) {
	rec.HTTPStatusCode = attempt.HTTPStatusCode
	rec.ResponseBody = attempt.ResponseBody
	rec.ErrorMessage = attempt.ErrorMessage
	rec.UpdatedAt = attempt.At
}

func cloneRecord(rec models.NotificationRecord) models.NotificationRecord {
	rec.Payload = maps.Clone(rec.Payload)
	if rec.NextAttemptAt != nil {
		t := *rec.NextAttemptAt
		rec.NextAttemptAt = &t
	}
	if rec.SentAt != nil {
		t := *rec.SentAt
		rec.SentAt = &t
	}
	return rec
}
