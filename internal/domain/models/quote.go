package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus is the lifecycle status of a quote (devis).
type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "draft"
	QuoteStatusValidated QuoteStatus = "validated"
	QuoteStatusRejected  QuoteStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s QuoteStatus) Terminal() bool {
	return s == QuoteStatusValidated || s == QuoteStatusRejected
}

// Urgency drives the proposed intervention date.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// QuoteLineRequest is one requested part of a quote generation.
type QuoteLineRequest struct {
	Reference       string           `json:"reference" binding:"required"`
	Quantity        int              `json:"quantity" binding:"required,gt=0"`
	NegotiatedPrice *decimal.Decimal `json:"negotiated_price,omitempty"`
}

// QuoteLineItem is a resolved quote line.
//
// StockAvailable is a snapshot taken at generation time. It is display-only:
// validation always re-checks the live ledger.
type QuoteLineItem struct {
	PartReference   string          `json:"part_reference"`
	PartName        string          `json:"part_name"`
	Quantity        int             `json:"quantity"`
	CatalogPrice    decimal.Decimal `json:"catalog_price"`
	NegotiatedPrice decimal.Decimal `json:"negotiated_price"`
	StockAvailable  bool            `json:"stock_available"`
}

// LineTotal is the negotiated price times the quantity.
func (l QuoteLineItem) LineTotal() decimal.Decimal {
	return l.NegotiatedPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is a priced proposal for parts and labor.
type Quote struct {
	ID                       string          `json:"id"`
	InspectionID             string          `json:"inspection_id,omitempty"`
	WagonID                  string          `json:"wagon_id"`
	ClientCompany            string          `json:"client_company"`
	Lines                    []QuoteLineItem `json:"items"`
	RemovedReferences        []string        `json:"removed_references,omitempty"`
	InterventionHours        decimal.Decimal `json:"intervention_hours"`
	HourlyRate               decimal.Decimal `json:"hourly_rate"`
	InspectionForfait        decimal.Decimal `json:"inspection_forfait"`
	DiscountPercentage       decimal.Decimal `json:"discount_percentage"`
	ProposedInterventionDate time.Time       `json:"proposed_intervention_date"`
	Urgency                  Urgency         `json:"urgency"`
	Notes                    string          `json:"notes,omitempty"`
	CanValidate              bool            `json:"can_validate"`
	Status                   QuoteStatus     `json:"status"`
	ConfirmedBy              string          `json:"confirmed_by,omitempty"`
	ValidatedAt              *time.Time      `json:"validated_at,omitempty"`
	RejectedAt               *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason          string          `json:"rejection_reason,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// QuoteTotals is always derived from the quote lines.
type QuoteTotals struct {
	TotalPartsCost    decimal.Decimal `json:"total_parts_cost"`
	TotalLaborCost    decimal.Decimal `json:"total_labor_cost"`
	InspectionForfait decimal.Decimal `json:"inspection_forfait"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	FinalAmount       decimal.Decimal `json:"final_amount"`
}

var hundred = decimal.NewFromInt(100)

// Totals recomputes the pricing breakdown from the lines.
func (q Quote) Totals() QuoteTotals {
	parts := decimal.Zero
	for _, l := range q.Lines {
		parts = parts.Add(l.LineTotal())
	}
	labor := q.InterventionHours.Mul(q.HourlyRate)
	subtotal := q.InspectionForfait.Add(parts).Add(labor)
	discount := subtotal.Mul(q.DiscountPercentage).Div(hundred).Round(2)

	return QuoteTotals{
		TotalPartsCost:    parts,
		TotalLaborCost:    labor,
		InspectionForfait: q.InspectionForfait,
		Subtotal:          subtotal,
		Discount:          discount,
		FinalAmount:       subtotal.Sub(discount),
	}
}

// Reservations aggregates line quantities per part reference, in first-seen order.
func (q Quote) Reservations() []Reservation {
	index := make(map[string]int, len(q.Lines))
	out := make([]Reservation, 0, len(q.Lines))
	for _, l := range q.Lines {
		if i, ok := index[l.PartReference]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.PartReference] = len(out)
		out = append(out, Reservation{PartReference: l.PartReference, Quantity: l.Quantity})
	}
	return out
}

// ModificationAction is the corrective action a client must apply.
type ModificationAction string

const (
	ActionModifyQuantity ModificationAction = "MODIFIER_QUANTITE"
	ActionRemove         ModificationAction = "RETIRER"
)

// ModificationSuggestion tells the client how to make a quote validatable.
type ModificationSuggestion struct {
	Action               ModificationAction `json:"action"`
	PartReference        string             `json:"reference"`
	RequestedQuantity    int                `json:"quantite_demandee"`
	AvailableQuantity    int                `json:"quantite_disponible"`
	SuggestedQuantity    int                `json:"quantite_suggeree"`
	EstimatedRestockDate *time.Time         `json:"estimated_restock_date,omitempty"`
	Message              string             `json:"message"`
}

// QuoteFilter narrows quote listings.
type QuoteFilter struct {
	Status        QuoteStatus
	ClientCompany string
}
