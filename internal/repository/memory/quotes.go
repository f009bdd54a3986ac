package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// QuoteStore keeps quotes in a map. Values are copied on the way in and out
// so callers never share line slices with the store.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

// NewQuoteStore creates an empty store.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]models.Quote)}
}

// Create inserts a new quote.
func (s *QuoteStore) Create(_ context.Context, quote models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.quotes[quote.ID]; exists {
		return fmt.Errorf("devis %s already exists", quote.ID)
	}
	s.quotes[quote.ID] = cloneQuote(quote)
	return nil
}

// Get returns a quote by id.
func (s *QuoteStore) Get(_ context.Context, id string) (models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[id]
	if !ok {
		return models.Quote{}, fmt.Errorf("devis %s: %w", id, models.ErrNotFound)
	}
	return cloneQuote(q), nil
}

// List returns matching quotes, newest first.
func (s *QuoteStore) List(_ context.Context, filter models.QuoteFilter) ([]models.Quote, error) {
	s.mu.RLock()
	out := make([]models.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		if filter.ClientCompany != "" && q.ClientCompany != filter.ClientCompany {
			continue
		}
		out = append(out, cloneQuote(q))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces the quote if its stored status is still expected.
func (s *QuoteStore) Update(_ context.Context, quote models.Quote, expected models.QuoteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.quotes[quote.ID]
	if !ok {
		return fmt.Errorf("devis %s: %w", quote.ID, models.ErrNotFound)
	}
	if current.Status != expected {
		return models.InvalidStateError("devis %s is %s, expected %s", quote.ID, current.Status, expected)
	}
	s.quotes[quote.ID] = cloneQuote(quote)
	return nil
}

func cloneQuote(q models.Quote) models.Quote {
	q.Lines = append([]models.QuoteLineItem(nil), q.Lines...)
	q.RemovedReferences = append([]string(nil), q.RemovedReferences...)
	if q.ValidatedAt != nil {
		t := *q.ValidatedAt
		q.ValidatedAt = &t
	}
	if q.RejectedAt != nil {
		t := *q.RejectedAt
		q.RejectedAt = &t
	}
	return q
}
