package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const dateFormat = "2006-01-02"

// LineStatus is the availability verdict of one requested line.
type LineStatus string

const (
	LineAvailable    LineStatus = "DISPONIBLE"
	LineInsufficient LineStatus = "STOCK_INSUFFISANT"
	LineNotInCatalog LineStatus = "NOT_IN_CATALOG"
)

// LineAnalysis describes a requested line against the ledger.
type LineAnalysis struct {
	Reference         string          `json:"reference"`
	Name              string          `json:"name"`
	QuantityRequested int             `json:"quantity_requested"`
	QuantityInStock   int             `json:"quantity_in_stock"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	LineTotal         decimal.Decimal `json:"line_total"`
	Status            LineStatus      `json:"status"`
	RestockDate       *time.Time      `json:"restock_date,omitempty"`
}

// Reconciliation is the result of comparing requested lines to the ledger.
type Reconciliation struct {
	Lines             []models.QuoteLineItem
	RemovedReferences []string
	Analysis          []LineAnalysis
	Modifications     []models.ModificationSuggestion
	CanValidate       bool
}

// PartLookup resolves catalog entries by reference.
type PartLookup interface {
	GetPart(ctx context.Context, reference string) (models.Part, error)
}

// Engine prices requested parts against live stock. It never mutates the ledger.
type Engine struct {
	parts PartLookup
	now   func() time.Time
}

// NewEngine builds a reconciliation engine.
func NewEngine(parts PartLookup, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{parts: parts, now: now}
}

// Reconcile walks the requested lines in order. Unknown references are
// excluded from the quote; short lines are kept at the requested quantity so
// the totals reflect what was asked.
func (e *Engine) Reconcile(ctx context.Context, requested []models.QuoteLineRequest) (Reconciliation, error) {
	today := e.now()
	result := Reconciliation{CanValidate: true}

	for _, req := range requested {
		part, err := e.parts.GetPart(ctx, req.Reference)
		if errors.Is(err, models.ErrNotFound) {
			result.CanValidate = false
			result.RemovedReferences = append(result.RemovedReferences, req.Reference)
			result.Analysis = append(result.Analysis, LineAnalysis{
				Reference:         req.Reference,
				Name:              "Unknown",
				QuantityRequested: req.Quantity,
				Status:            LineNotInCatalog,
			})
			result.Modifications = append(result.Modifications, models.ModificationSuggestion{
				Action:            models.ActionRemove,
				PartReference:     req.Reference,
				RequestedQuantity: req.Quantity,
				Message:           fmt.Sprintf("Référence '%s' introuvable dans le catalogue. Retirez-la du devis.", req.Reference),
			})
			continue
		}
		if err != nil {
			return Reconciliation{}, fmt.Errorf("lookup part %s: %w", req.Reference, err)
		}

		price := part.CatalogPrice
		if req.NegotiatedPrice != nil {
			price = *req.NegotiatedPrice
		}
		line := models.QuoteLineItem{
			PartReference:   part.Reference,
			PartName:        part.Name,
			Quantity:        req.Quantity,
			CatalogPrice:    part.CatalogPrice,
			NegotiatedPrice: price,
			StockAvailable:  req.Quantity <= part.StockQuantity,
		}
		analysis := LineAnalysis{
			Reference:         part.Reference,
			Name:              part.Name,
			QuantityRequested: req.Quantity,
			QuantityInStock:   part.StockQuantity,
			UnitPrice:         price,
			LineTotal:         line.LineTotal(),
			Status:            LineAvailable,
		}

		if !line.StockAvailable {
			result.CanValidate = false
			restock := part.RestockDate(today)
			analysis.Status = LineInsufficient
			analysis.RestockDate = &restock
			result.Modifications = append(result.Modifications, models.ModificationSuggestion{
				Action:               models.ActionModifyQuantity,
				PartReference:        part.Reference,
				RequestedQuantity:    req.Quantity,
				AvailableQuantity:    part.StockQuantity,
				SuggestedQuantity:    part.StockQuantity,
				EstimatedRestockDate: &restock,
				Message: fmt.Sprintf("'%s': demandez %d au lieu de %d. Réappro prévu le %s.",
					part.Name, part.StockQuantity, req.Quantity, restock.Format(dateFormat)),
			})
		}

		result.Lines = append(result.Lines, line)
		result.Analysis = append(result.Analysis, analysis)
	}

	return result, nil
}
