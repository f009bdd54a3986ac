package notifications

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// DefaultTemplates returns the template set installed on a fresh store.
func DefaultTemplates() []models.NotificationTemplate {
	both := func(eventType models.EventType, wagl, demat map[string]any) models.NotificationTemplate {
		return models.NotificationTemplate{
			EventType: eventType,
			Active:    true,
			Targets: map[models.TargetSystem]map[string]any{
				models.TargetClientERP:   wagl,
				models.TargetInternalERP: demat,
			},
		}
	}

	return []models.NotificationTemplate{
		both(models.EventInspectionRequested,
			map[string]any{"type": "INSPECTION", "action": "DEMANDE_ENREGISTREE"},
			map[string]any{"type": "INSPECTION", "action": "PLANIFIER"}),
		both(models.EventInspectionScheduled,
			map[string]any{"type": "INSPECTION", "action": "CRENEAU_CONFIRME"},
			map[string]any{"type": "INSPECTION", "action": "AFFECTER_TECHNICIEN"}),
		both(models.EventInspectionCompleted,
			map[string]any{"type": "INSPECTION", "action": "RAPPORT_DISPONIBLE"},
			map[string]any{"type": "INSPECTION", "action": "PREPARER_DEVIS"}),
		both(models.EventQuoteGenerated,
			map[string]any{"type": "DEVIS", "action": "A_VALIDER"},
			map[string]any{"type": "DEVIS", "action": "SUIVI_DEVIS"}),
		both(models.EventQuoteValidated,
			map[string]any{"type": "DEVIS", "action": "CONFIRMATION_CLIENT"},
			map[string]any{"type": "ORDRE_TRAVAIL", "action": "LANCER_INTERVENTION"}),
		both(models.EventQuoteRejected,
			map[string]any{"type": "DEVIS", "action": "REFUS_ENREGISTRE"},
			map[string]any{"type": "DEVIS", "action": "CLOTURER"}),
	}
}

// TemplateStore resolves event types to per-target payload templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, eventType models.EventType) (models.NotificationTemplate, error)
	ListTemplates(ctx context.Context) ([]models.NotificationTemplate, error)
	UpsertTemplate(ctx context.Context, template models.NotificationTemplate) error
}

// SeedTemplates installs the default templates whose event type has none yet.
// Existing templates, active or not, are left alone.
func SeedTemplates(ctx context.Context, store TemplateStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, tpl := range DefaultTemplates() {
		_, err := store.GetTemplate(ctx, tpl.EventType)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("lookup template %s: %w", tpl.EventType, err)
		}
		tpl.UpdatedAt = time.Now().UTC()
		if err := store.UpsertTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.EventType, err)
		}
		logger.Info("notification template seeded", zap.String("event_type", string(tpl.EventType)))
	}
	return nil
}

// buildPayload merges the event snapshot with the target's static fields.
// Static fields win on key collisions so type and action stay template-defined.
func buildPayload(event models.DomainEvent, static map[string]any) map[string]any {
	payload := make(map[string]any, len(event.Payload)+len(static)+3)
	maps.Copy(payload, event.Payload)
	payload["event_type"] = string(event.EventType)
	payload["event_id"] = event.EventID
	payload["timestamp"] = event.OccurredAt.UTC().Format(time.RFC3339)
	maps.Copy(payload, static)
	return payload
}
