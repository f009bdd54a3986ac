package quotes

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const referenceTypeQuote = "devis"

// Ledger is the authoritative stock store. Reserve must be all-or-nothing
// and never take a part below zero.
type Ledger interface {
	PartLookup
	ListParts(ctx context.Context, category string) ([]models.Part, error)
	Reserve(ctx context.Context, referenceType, referenceID string, items []models.Reservation) error
	Release(ctx context.Context, referenceType, referenceID string, items []models.Reservation) error
	Restock(ctx context.Context, reference string, quantity int, notes string) (models.Part, error)
	Movements(ctx context.Context, reference string) ([]models.StockMovement, error)
}

// Store persists quotes. Update replaces the quote only while its stored
// status still equals expected, returning ErrInvalidState otherwise.
type Store interface {
	Create(ctx context.Context, quote models.Quote) error
	Get(ctx context.Context, id string) (models.Quote, error)
	List(ctx context.Context, filter models.QuoteFilter) ([]models.Quote, error)
	Update(ctx context.Context, quote models.Quote, expected models.QuoteStatus) error
}

// Publisher emits domain events. Delivery is fire-and-forget from the
// caller's point of view.
type Publisher interface {
	Publish(ctx context.Context, event models.DomainEvent) error
}

// Locker serializes lifecycle transitions on the same quote.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// GenerateRequest carries the inputs of a quote generation.
type GenerateRequest struct {
	InspectionID             string
	WagonID                  string
	ClientCompany            string
	Parts                    []models.QuoteLineRequest
	InterventionHours        decimal.Decimal
	HourlyRate               *decimal.Decimal
	DiscountPercentage       decimal.Decimal
	ProposedInterventionDate *time.Time
	Urgency                  models.Urgency
	Notes                    string
}

// Generation is a persisted draft plus the reconciliation verdict.
type Generation struct {
	Quote         models.Quote
	CanValidate   bool
	Modifications []models.ModificationSuggestion
	Analysis      []LineAnalysis
}

// PriceOverride sets a negotiated unit price on every line of a part.
type PriceOverride struct {
	Reference       string          `json:"reference" binding:"required"`
	NegotiatedPrice decimal.Decimal `json:"negotiated_price" binding:"required"`
}

// NegotiateRequest updates commercial terms of a draft.
type NegotiateRequest struct {
	DiscountPercentage *decimal.Decimal
	NegotiatedParts    []PriceOverride
	InterventionDate   *time.Time
}

// Service owns the quote lifecycle: draft -> validated | rejected.
type Service struct {
	engine    *Engine
	ledger    Ledger
	store     Store
	publisher Publisher
	locker    Locker
	pricing   config.PricingConfig
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires a quote service. A nil locker falls back to process-local locks.
func NewService(ledger Ledger, store Store, publisher Publisher, locker Locker, pricing config.PricingConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Service{
		ledger:    ledger,
		store:     store,
		publisher: publisher,
		locker:    locker,
		pricing:   pricing,
		tracer:    otel.Tracer("wagonmaint/quotes"),
		logger:    logger,
		now:       time.Now,
	}
	s.engine = NewEngine(ledger, func() time.Time { return s.now() })
	return s
}

// CheckStock reconciles a parts list without creating a quote.
func (s *Service) CheckStock(ctx context.Context, parts []models.QuoteLineRequest) (Reconciliation, error) {
	return s.engine.Reconcile(ctx, parts)
}

// Generate prices the request, persists a draft whatever the verdict and
// emits devis.generated.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	rec, err := s.engine.Reconcile(ctx, req.Parts)
	if err != nil {
		return Generation{}, err
	}

	now := s.now().UTC()
	rate := s.pricing.HourlyRate
	if req.HourlyRate != nil {
		rate = *req.HourlyRate
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = models.UrgencyNormal
	}
	proposed := proposedInterventionDate(now, urgency)
	if req.ProposedInterventionDate != nil {
		proposed = *req.ProposedInterventionDate
	}

	quote := models.Quote{
		ID:                       uuid.NewString(),
		InspectionID:             req.InspectionID,
		WagonID:                  req.WagonID,
		ClientCompany:            req.ClientCompany,
		Lines:                    rec.Lines,
		RemovedReferences:        rec.RemovedReferences,
		InterventionHours:        req.InterventionHours,
		HourlyRate:               rate,
		InspectionForfait:        s.pricing.InspectionForfait,
		DiscountPercentage:       req.DiscountPercentage,
		ProposedInterventionDate: proposed,
		Urgency:                  urgency,
		Notes:                    req.Notes,
		CanValidate:              rec.CanValidate,
		Status:                   models.QuoteStatusDraft,
		CreatedAt:                now,
		UpdatedAt:                now,
	}

	if err := s.store.Create(ctx, quote); err != nil {
		return Generation{}, fmt.Errorf("create devis: %w", err)
	}

	s.publish(ctx, models.EventQuoteGenerated, quote.ID, generatedSnapshot(quote, now))

	s.logger.Info("devis generated",
		zap.String("devis_id", quote.ID),
		zap.String("wagon_id", quote.WagonID),
		zap.Bool("can_validate", rec.CanValidate),
		zap.Int("modifications", len(rec.Modifications)))

	return Generation{
		Quote:         quote,
		CanValidate:   rec.CanValidate,
		Modifications: rec.Modifications,
		Analysis:      rec.Analysis,
	}, nil
}

// Get returns a quote by id.
func (s *Service) Get(ctx context.Context, id string) (models.Quote, error) {
	return s.store.Get(ctx, id)
}

// List returns quotes matching filter, newest first.
func (s *Service) List(ctx context.Context, filter models.QuoteFilter) ([]models.Quote, error) {
	return s.store.List(ctx, filter)
}

// Negotiate updates prices, discount or date of a draft quote.
func (s *Service) Negotiate(ctx context.Context, id string, req NegotiateRequest) (models.Quote, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return models.Quote{}, fmt.Errorf("lock devis %s: %w", id, err)
	}
	defer unlock()

	quote, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Quote{}, err
	}
	if quote.Status != models.QuoteStatusDraft {
		return models.Quote{}, models.InvalidStateError("cannot negotiate a %s devis", quote.Status)
	}

	for _, override := range req.NegotiatedParts {
		matched := false
		for i := range quote.Lines {
			if quote.Lines[i].PartReference == override.Reference {
				quote.Lines[i].NegotiatedPrice = override.NegotiatedPrice
				matched = true
			}
		}
		if !matched {
			return models.Quote{}, fmt.Errorf("part %s on devis %s: %w", override.Reference, id, models.ErrNotFound)
		}
	}
	if req.DiscountPercentage != nil {
		quote.DiscountPercentage = *req.DiscountPercentage
	}
	if req.InterventionDate != nil {
		quote.ProposedInterventionDate = *req.InterventionDate
	}
	quote.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, quote, models.QuoteStatusDraft); err != nil {
		return models.Quote{}, err
	}

	s.logger.Info("devis negotiated", zap.String("devis_id", id), zap.String("final_amount", quote.Totals().FinalAmount.StringFixed(2)))
	return quote, nil
}

// Validate commits the stock of a draft and marks it validated. The stock
// is re-checked against the live ledger; the generation-time snapshot is
// never trusted.
func (s *Service) Validate(ctx context.Context, id, confirmedBy, notes string) (models.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "devis.validate")
	defer span.End()
	span.SetAttributes(attribute.String("devis.id", id))

	quote, err := s.validate(ctx, id, confirmedBy, notes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.Quote{}, err
	}

	span.SetStatus(codes.Ok, "devis validated")
	return quote, nil
}

func (s *Service) validate(ctx context.Context, id, confirmedBy, notes string) (models.Quote, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return models.Quote{}, fmt.Errorf("lock devis %s: %w", id, err)
	}
	defer unlock()

	quote, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Quote{}, err
	}
	if quote.Status != models.QuoteStatusDraft {
		return models.Quote{}, models.InvalidStateError("devis %s is already %s", id, quote.Status)
	}
	if !quote.CanValidate {
		return models.Quote{}, models.InvalidStateError("devis %s requires modifications; regenerate it", id)
	}

	// A labor-only quote has nothing to reserve.
	reservations := quote.Reservations()
	if len(reservations) > 0 {
		if err := s.ledger.Reserve(ctx, referenceTypeQuote, quote.ID, reservations); err != nil {
			return models.Quote{}, err
		}
	}

	now := s.now().UTC()
	quote.Status = models.QuoteStatusValidated
	quote.ConfirmedBy = confirmedBy
	quote.ValidatedAt = &now
	quote.UpdatedAt = now
	if notes != "" {
		quote.Notes = notes
	}

	if err := s.store.Update(ctx, quote, models.QuoteStatusDraft); err != nil {
		if len(reservations) == 0 {
			return models.Quote{}, err
		}
		if rerr := s.ledger.Release(ctx, referenceTypeQuote, quote.ID, reservations); rerr != nil {
			s.logger.Error("failed to release stock after aborted validation",
				zap.String("devis_id", id), zap.Error(rerr))
		}
		return models.Quote{}, err
	}

	s.publish(ctx, models.EventQuoteValidated, quote.ID, validatedSnapshot(quote))

	s.logger.Info("devis validated", zap.String("devis_id", id), zap.String("confirmed_by", confirmedBy))
	return quote, nil
}

// Reject closes a draft without touching stock.
func (s *Service) Reject(ctx context.Context, id, reason string) (models.Quote, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return models.Quote{}, fmt.Errorf("lock devis %s: %w", id, err)
	}
	defer unlock()

	quote, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Quote{}, err
	}
	if quote.Status != models.QuoteStatusDraft {
		return models.Quote{}, models.InvalidStateError("cannot reject a %s devis", quote.Status)
	}

	now := s.now().UTC()
	quote.Status = models.QuoteStatusRejected
	quote.RejectedAt = &now
	quote.RejectionReason = reason
	quote.UpdatedAt = now

	if err := s.store.Update(ctx, quote, models.QuoteStatusDraft); err != nil {
		return models.Quote{}, err
	}

	s.publish(ctx, models.EventQuoteRejected, quote.ID, rejectedSnapshot(quote))

	s.logger.Info("devis rejected", zap.String("devis_id", id))
	return quote, nil
}

// ListParts returns catalog parts, optionally for one category.
func (s *Service) ListParts(ctx context.Context, category string) ([]models.Part, error) {
	return s.ledger.ListParts(ctx, category)
}

// GetPart returns a part by reference.
func (s *Service) GetPart(ctx context.Context, reference string) (models.Part, error) {
	return s.ledger.GetPart(ctx, reference)
}

// Categories lists distinct part categories, sorted.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	parts, err := s.ledger.ListParts(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, p := range parts {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	sort.Strings(categories)
	return categories, nil
}

// Restock adds units to a part.
func (s *Service) Restock(ctx context.Context, reference string, quantity int, notes string) (models.Part, error) {
	if quantity <= 0 {
		return models.Part{}, fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}
	part, err := s.ledger.Restock(ctx, reference, quantity, notes)
	if err != nil {
		return models.Part{}, err
	}
	s.logger.Info("part restocked", zap.String("reference", reference), zap.Int("quantity", quantity), zap.Int("stock_quantity", part.StockQuantity))
	return part, nil
}

// Movements returns the ledger history of a part.
func (s *Service) Movements(ctx context.Context, reference string) ([]models.StockMovement, error) {
	if _, err := s.ledger.GetPart(ctx, reference); err != nil {
		return nil, err
	}
	return s.ledger.Movements(ctx, reference)
}

func (s *Service) publish(ctx context.Context, eventType models.EventType, aggregateID string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	event := models.DomainEvent{
		EventType:     eventType,
		EventID:       uuid.NewString(),
		SourceService: config.ServiceName,
		AggregateID:   aggregateID,
		OccurredAt:    s.now().UTC(),
		Payload:       payload,
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.String("devis_id", aggregateID),
			zap.Error(err))
		return
	}
	s.logger.Debug("event published", zap.String("event_type", string(eventType)), zap.String("event_id", event.EventID))
}

func proposedInterventionDate(now time.Time, urgency models.Urgency) time.Time {
	days := 7
	if urgency == models.UrgencyHigh {
		days = 3
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, days)
}

func lockKey(id string) string {
	return "devis:" + id
}
