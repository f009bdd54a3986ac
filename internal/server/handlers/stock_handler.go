package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/service/quotes"
)

// StockService is the part of the quote service exposed by the stock API.
type StockService interface {
	ListParts(ctx context.Context, category string) ([]models.Part, error)
	GetPart(ctx context.Context, reference string) (models.Part, error)
	Categories(ctx context.Context) ([]string, error)
	CheckStock(ctx context.Context, parts []models.QuoteLineRequest) (quotes.Reconciliation, error)
	Restock(ctx context.Context, reference string, quantity int, notes string) (models.Part, error)
	Movements(ctx context.Context, reference string) ([]models.StockMovement, error)
}

// StockHandler serves the parts catalog and the stock ledger.
type StockHandler struct {
	svc    StockService
	logger *zap.Logger
}

// NewStockHandler constructs the stock HTTP adapter.
func NewStockHandler(svc StockService, logger *zap.Logger) *StockHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockHandler{svc: svc, logger: logger}
}

type partResponse struct {
	models.Part
	Available       bool `json:"available"`
	LowStockWarning bool `json:"low_stock_warning"`
}

func newPartResponse(p models.Part) partResponse {
	return partResponse{Part: p, Available: p.StockQuantity > 0, LowStockWarning: p.LowStock()}
}

// ListParts returns the catalog, optionally filtered by ?category=.
func (h *StockHandler) ListParts(c *gin.Context) {
	parts, err := h.svc.ListParts(c.Request.Context(), c.Query("category"))
	if err != nil {
		respondError(c, h.logger, "failed to list parts", err)
		return
	}

	out := make([]partResponse, 0, len(parts))
	for _, p := range parts {
		out = append(out, newPartResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"parts": out, "total": len(out)})
}

// GetPart returns one part with its low stock warning.
func (h *StockHandler) GetPart(c *gin.Context) {
	part, err := h.svc.GetPart(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, "failed to load part", err)
		return
	}
	c.JSON(http.StatusOK, newPartResponse(part))
}

// Categories lists distinct part categories.
func (h *StockHandler) Categories(c *gin.Context) {
	categories, err := h.svc.Categories(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "failed to list categories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

type checkStockRequest struct {
	Parts []models.QuoteLineRequest `json:"parts" binding:"required,min=1,dive"`
}

// Check reconciles a parts list against the ledger without creating a quote.
func (h *StockHandler) Check(c *gin.Context) {
	var req checkStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "parts list is required", err)
		return
	}

	rec, err := h.svc.CheckStock(c.Request.Context(), req.Parts)
	if err != nil {
		respondError(c, h.logger, "failed to check stock", err)
		return
	}

	resp := gin.H{
		"parts_status": rec.Analysis,
		"summary":      summarize(rec.Analysis),
		"can_proceed":  rec.CanValidate,
	}
	if len(rec.Modifications) > 0 {
		resp["modifications_required"] = rec.Modifications
		resp["message"] = "Des modifications sont nécessaires avant de pouvoir valider le devis."
	} else {
		resp["message"] = "Toutes les pièces sont disponibles. Vous pouvez valider le devis."
	}
	c.JSON(http.StatusOK, resp)
}

type restockRequest struct {
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Notes    string `json:"notes"`
}

// Restock adds units to a part and records a restock movement.
func (h *StockHandler) Restock(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "quantity must be a positive integer", err)
		return
	}

	reference := c.Param("reference")
	notes := req.Notes
	if notes == "" {
		notes = fmt.Sprintf("Restock of %d units", req.Quantity)
	}
	part, err := h.svc.Restock(c.Request.Context(), reference, req.Quantity, notes)
	if err != nil {
		respondError(c, h.logger, "failed to restock part", err)
		return
	}
	c.JSON(http.StatusOK, newPartResponse(part))
}

// Movements returns the ledger history of a part.
func (h *StockHandler) Movements(c *gin.Context) {
	moves, err := h.svc.Movements(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, h.logger, "failed to list movements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": moves, "total": len(moves)})
}

func summarize(analysis []quotes.LineAnalysis) gin.H {
	counts := map[quotes.LineStatus]int{}
	for _, a := range analysis {
		counts[a.Status]++
	}
	return gin.H{
		"total_parts_requested": len(analysis),
		"parts_available":       counts[quotes.LineAvailable],
		"parts_insufficient":    counts[quotes.LineInsufficient],
		"parts_not_found":       counts[quotes.LineNotInCatalog],
	}
}
