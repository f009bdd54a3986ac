package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// TemplateStore keeps notification templates keyed by event type.
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[models.EventType]models.NotificationTemplate
}

// NewTemplateStore creates an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[models.EventType]models.NotificationTemplate)}
}

// GetTemplate returns the template of an event type.
func (s *TemplateStore) GetTemplate(_ context.Context, eventType models.EventType) (models.NotificationTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[eventType]
	if !ok {
		return models.NotificationTemplate{}, fmt.Errorf("template %s: %w", eventType, models.ErrNotFound)
	}
	return cloneTemplate(t), nil
}

// ListTemplates returns every template ordered by event type.
func (s *TemplateStore) ListTemplates(_ context.Context) ([]models.NotificationTemplate, error) {
	s.mu.RLock()
	out := make([]models.NotificationTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, cloneTemplate(t))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

// UpsertTemplate inserts or replaces a template.
func (s *TemplateStore) UpsertTemplate(_ context.Context, t models.NotificationTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.EventType] = cloneTemplate(t)
	return nil
}

func cloneTemplate(t models.NotificationTemplate) models.NotificationTemplate {
	targets := make(map[models.TargetSystem]map[string]any, len(t.Targets))
	for target, fields := range t.Targets {
		targets[target] = maps.Clone(fields)
	}
	t.Targets = targets
	return t
}
