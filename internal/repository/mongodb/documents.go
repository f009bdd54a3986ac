package mongodb

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

type partDocument struct {
	Reference        string               `bson:"_id"`
	Name             string               `bson:"name"`
	Description      string               `bson:"description,omitempty"`
	Category         string               `bson:"category,omitempty"`
	CatalogPrice     primitive.Decimal128 `bson:"catalog_price"`
	StockQuantity    int                  `bson:"stock_quantity"`
	ReorderThreshold int                  `bson:"reorder_threshold"`
	ReorderQuantity  int                  `bson:"reorder_quantity"`
	LeadTimeDays     int                  `bson:"lead_time_days"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

type movementDocument struct {
	ID            string              `bson:"_id"`
	PartReference string              `bson:"part_reference"`
	Type          models.MovementType `bson:"movement_type"`
	Quantity      int                 `bson:"quantity"`
	ReferenceType string              `bson:"reference_type,omitempty"`
	ReferenceID   string              `bson:"reference_id,omitempty"`
	Notes         string              `bson:"notes,omitempty"`
	CreatedAt     time.Time           `bson:"created_at"`
}

type lineDocument struct {
	PartReference   string               `bson:"part_reference"`
	PartName        string               `bson:"part_name"`
	Quantity        int                  `bson:"quantity"`
	CatalogPrice    primitive.Decimal128 `bson:"catalog_price"`
	NegotiatedPrice primitive.Decimal128 `bson:"negotiated_price"`
	StockAvailable  bool                 `bson:"stock_available"`
}

type quoteDocument struct {
	ID                       string               `bson:"_id"`
	InspectionID             string               `bson:"inspection_id,omitempty"`
	WagonID                  string               `bson:"wagon_id"`
	ClientCompany            string               `bson:"client_company"`
	Lines                    []lineDocument       `bson:"items"`
	RemovedReferences        []string             `bson:"removed_references,omitempty"`
	InterventionHours        primitive.Decimal128 `bson:"intervention_hours"`
	HourlyRate               primitive.Decimal128 `bson:"hourly_rate"`
	InspectionForfait        primitive.Decimal128 `bson:"inspection_forfait"`
	DiscountPercentage       primitive.Decimal128 `bson:"discount_percentage"`
	FinalAmount              primitive.Decimal128 `bson:"final_amount"`
	ProposedInterventionDate time.Time            `bson:"proposed_intervention_date"`
	Urgency                  models.Urgency       `bson:"urgency"`
	Notes                    string               `bson:"notes,omitempty"`
	CanValidate              bool                 `bson:"can_validate"`
	Status                   models.QuoteStatus   `bson:"status"`
	ConfirmedBy              string               `bson:"confirmed_by,omitempty"`
	ValidatedAt              *time.Time           `bson:"validated_at,omitempty"`
	RejectedAt               *time.Time           `bson:"rejected_at,omitempty"`
	RejectionReason          string               `bson:"rejection_reason,omitempty"`
	CreatedAt                time.Time            `bson:"created_at"`
	UpdatedAt                time.Time            `bson:"updated_at"`
}

type notificationDocument struct {
	ID             string                    `bson:"_id"`
	EventType      models.EventType          `bson:"event_type"`
	EventID        string                    `bson:"event_id"`
	SourceService  string                    `bson:"source_service"`
	Target         models.TargetSystem       `bson:"target_erp"`
	Payload        map[string]any            `bson:"payload"`
	Status         models.NotificationStatus `bson:"status"`
	HTTPStatusCode int                       `bson:"http_status_code,omitempty"`
	ResponseBody   string                    `bson:"response_body,omitempty"`
	ErrorMessage   string                    `bson:"error_message,omitempty"`
	RetryCount     int                       `bson:"retry_count"`
	MaxRetries     int                       `bson:"max_retries"`
	NextAttemptAt  *time.Time                `bson:"next_attempt_at,omitempty"`
	SentAt         *time.Time                `bson:"sent_at,omitempty"`
	CreatedAt      time.Time                 `bson:"created_at"`
	UpdatedAt      time.Time                 `bson:"updated_at"`
}

type templateDocument struct {
	EventType models.EventType                       `bson:"_id"`
	Active    bool                                   `bson:"active"`
	Targets   map[models.TargetSystem]map[string]any `bson:"targets"`
	UpdatedAt time.Time                              `bson:"updated_at"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		// Values outside the Decimal128 range never come out of pricing.
		panic(fmt.Sprintf("decimal %s does not fit Decimal128: %v", d, err))
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func newPartDocument(p models.Part) partDocument {
	return partDocument{
		Reference:        p.Reference,
		Name:             p.Name,
		Description:      p.Description,
		Category:         p.Category,
		CatalogPrice:     toDecimal128(p.CatalogPrice),
		StockQuantity:    p.StockQuantity,
		ReorderThreshold: p.ReorderThreshold,
		ReorderQuantity:  p.ReorderQuantity,
		LeadTimeDays:     p.LeadTimeDays,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (d partDocument) model() models.Part {
	return models.Part{
		Reference:        d.Reference,
		Name:             d.Name,
		Description:      d.Description,
		Category:         d.Category,
		CatalogPrice:     fromDecimal128(d.CatalogPrice),
		StockQuantity:    d.StockQuantity,
		ReorderThreshold: d.ReorderThreshold,
		ReorderQuantity:  d.ReorderQuantity,
		LeadTimeDays:     d.LeadTimeDays,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (d movementDocument) model() models.StockMovement {
	return models.StockMovement{
		ID:            d.ID,
		PartReference: d.PartReference,
		Type:          d.Type,
		Quantity:      d.Quantity,
		ReferenceType: d.ReferenceType,
		ReferenceID:   d.ReferenceID,
		Notes:         d.Notes,
		CreatedAt:     d.CreatedAt,
	}
}

// newQuoteDocument also stores the final amount so reports can sort on it;
// reads always recompute totals from the lines.
func newQuoteDocument(q models.Quote) quoteDocument {
	lines := make([]lineDocument, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, lineDocument{
			PartReference:   l.PartReference,
			PartName:        l.PartName,
			Quantity:        l.Quantity,
			CatalogPrice:    toDecimal128(l.CatalogPrice),
			NegotiatedPrice: toDecimal128(l.NegotiatedPrice),
			StockAvailable:  l.StockAvailable,
		})
	}
	return quoteDocument{
		ID:                       q.ID,
		InspectionID:             q.InspectionID,
		WagonID:                  q.WagonID,
		ClientCompany:            q.ClientCompany,
		Lines:                    lines,
		RemovedReferences:        q.RemovedReferences,
		InterventionHours:        toDecimal128(q.InterventionHours),
		HourlyRate:               toDecimal128(q.HourlyRate),
		InspectionForfait:        toDecimal128(q.InspectionForfait),
		DiscountPercentage:       toDecimal128(q.DiscountPercentage),
		FinalAmount:              toDecimal128(q.Totals().FinalAmount),
		ProposedInterventionDate: q.ProposedInterventionDate,
		Urgency:                  q.Urgency,
		Notes:                    q.Notes,
		CanValidate:              q.CanValidate,
		Status:                   q.Status,
		ConfirmedBy:              q.ConfirmedBy,
		ValidatedAt:              q.ValidatedAt,
		RejectedAt:               q.RejectedAt,
		RejectionReason:          q.RejectionReason,
		CreatedAt:                q.CreatedAt,
		UpdatedAt:                q.UpdatedAt,
	}
}

func (d quoteDocument) model() models.Quote {
	lines := make([]models.QuoteLineItem, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, models.QuoteLineItem{
			PartReference:   l.PartReference,
			PartName:        l.PartName,
			Quantity:        l.Quantity,
			CatalogPrice:    fromDecimal128(l.CatalogPrice),
			NegotiatedPrice: fromDecimal128(l.NegotiatedPrice),
			StockAvailable:  l.StockAvailable,
		})
	}
	return models.Quote{
		ID:                       d.ID,
		InspectionID:             d.InspectionID,
		WagonID:                  d.WagonID,
		ClientCompany:            d.ClientCompany,
		Lines:                    lines,
		RemovedReferences:        d.RemovedReferences,
		InterventionHours:        fromDecimal128(d.InterventionHours),
		HourlyRate:               fromDecimal128(d.HourlyRate),
		InspectionForfait:        fromDecimal128(d.InspectionForfait),
		DiscountPercentage:       fromDecimal128(d.DiscountPercentage),
		ProposedInterventionDate: d.ProposedInterventionDate,
		Urgency:                  d.Urgency,
		Notes:                    d.Notes,
		CanValidate:              d.CanValidate,
		Status:                   d.Status,
		ConfirmedBy:              d.ConfirmedBy,
		ValidatedAt:              d.ValidatedAt,
		RejectedAt:               d.RejectedAt,
		RejectionReason:          d.RejectionReason,
		CreatedAt:                d.CreatedAt,
		UpdatedAt:                d.UpdatedAt,
	}
}

func newNotificationDocument(r models.NotificationRecord) notificationDocument {
	return notificationDocument{
		ID:             r.ID,
		EventType:      r.EventType,
		EventID:        r.EventID,
		SourceService:  r.SourceService,
		Target:         r.Target,
		Payload:        r.Payload,
		Status:         r.Status,
		HTTPStatusCode: r.HTTPStatusCode,
		ResponseBody:   r.ResponseBody,
		ErrorMessage:   r.ErrorMessage,
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		NextAttemptAt:  r.NextAttemptAt,
		SentAt:         r.SentAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (d notificationDocument) model() models.NotificationRecord {
	return models.NotificationRecord{
		ID:             d.ID,
		EventType:      d.EventType,
		EventID:        d.EventID,
		SourceService:  d.SourceService,
		Target:         d.Target,
		Payload:        d.Payload,
		Status:         d.Status,
		HTTPStatusCode: d.HTTPStatusCode,
		ResponseBody:   d.ResponseBody,
		ErrorMessage:   d.ErrorMessage,
		RetryCount:     d.RetryCount,
		MaxRetries:     d.MaxRetries,
		NextAttemptAt:  d.NextAttemptAt,
		SentAt:         d.SentAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
