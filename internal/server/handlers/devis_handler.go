package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
	"github.com/mamadbah2/wagonmaint/internal/service/quotes"
)

const dateLayout = "2006-01-02"

// QuoteService is the quote lifecycle exposed by the devis API.
type QuoteService interface {
	Generate(ctx context.Context, req quotes.GenerateRequest) (quotes.Generation, error)
	Get(ctx context.Context, id string) (models.Quote, error)
	List(ctx context.Context, filter models.QuoteFilter) ([]models.Quote, error)
	Negotiate(ctx context.Context, id string, req quotes.NegotiateRequest) (models.Quote, error)
	Validate(ctx context.Context, id, confirmedBy, notes string) (models.Quote, error)
	Reject(ctx context.Context, id, reason string) (models.Quote, error)
}

// DevisHandler serves the quote lifecycle.
type DevisHandler struct {
	svc    QuoteService
	logger *zap.Logger
}

// NewDevisHandler constructs the devis HTTP adapter.
func NewDevisHandler(svc QuoteService, logger *zap.Logger) *DevisHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DevisHandler{svc: svc, logger: logger}
}

type quoteResponse struct {
	models.Quote
	Totals models.QuoteTotals `json:"totals"`
}

func newQuoteResponse(q models.Quote) quoteResponse {
	return quoteResponse{Quote: q, Totals: q.Totals()}
}

type generateRequest struct {
	InspectionID             string                    `json:"inspection_id"`
	WagonID                  string                    `json:"wagon_id" binding:"required"`
	ClientCompany            string                    `json:"client_company" binding:"required"`
	Parts                    []models.QuoteLineRequest `json:"parts" binding:"dive"`
	InterventionHours        decimal.Decimal           `json:"intervention_hours"`
	HourlyRate               *decimal.Decimal          `json:"hourly_rate"`
	DiscountPercentage       decimal.Decimal           `json:"discount_percentage"`
	ProposedInterventionDate string                    `json:"proposed_intervention_date"`
	Urgency                  models.Urgency            `json:"urgency" binding:"omitempty,oneof=normal high"`
	Notes                    string                    `json:"notes"`
}

// Generate creates a draft quote and reports what blocks its validation.
func (h *DevisHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "wagon_id and client_company are required", err)
		return
	}
	if err := checkPercentage(req.DiscountPercentage); err != nil {
		badRequest(c, h.logger, "invalid discount_percentage", err)
		return
	}
	if req.InterventionHours.IsNegative() {
		badRequest(c, h.logger, "invalid intervention_hours", fmt.Errorf("must not be negative"))
		return
	}
	proposed, err := parseDate(req.ProposedInterventionDate)
	if err != nil {
		badRequest(c, h.logger, "invalid proposed_intervention_date", err)
		return
	}

	gen, err := h.svc.Generate(c.Request.Context(), quotes.GenerateRequest{
		InspectionID:             req.InspectionID,
		WagonID:                  req.WagonID,
		ClientCompany:            req.ClientCompany,
		Parts:                    req.Parts,
		InterventionHours:        req.InterventionHours,
		HourlyRate:               req.HourlyRate,
		DiscountPercentage:       req.DiscountPercentage,
		ProposedInterventionDate: proposed,
		Urgency:                  req.Urgency,
		Notes:                    req.Notes,
	})
	if err != nil {
		respondError(c, h.logger, "failed to generate devis", err)
		return
	}

	resp := gin.H{
		"devis":          newQuoteResponse(gen.Quote),
		"parts_analysis": gen.Analysis,
		"stock_status":   summarize(gen.Analysis),
		"can_validate":   gen.CanValidate,
	}
	if gen.CanValidate {
		resp["message"] = "Toutes les pièces sont disponibles. Le devis peut être validé."
		resp["next_step"] = fmt.Sprintf("POST /devis/%s/validate avec {\"confirmed_by\": \"votre_nom\"}", gen.Quote.ID)
	} else {
		resp["modifications_required"] = gen.Modifications
		resp["message"] = "Le devis a été créé mais nécessite des modifications avant validation."
		resp["next_step"] = "Modifiez les quantités dans votre demande et régénérez le devis, ou attendez le réapprovisionnement."
	}
	c.JSON(http.StatusCreated, resp)
}

// Get returns a quote with its totals.
func (h *DevisHandler) Get(c *gin.Context) {
	quote, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "failed to load devis", err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(quote))
}

type quoteSummary struct {
	ID                       string             `json:"id"`
	WagonID                  string             `json:"wagon_id"`
	ClientCompany            string             `json:"client_company"`
	FinalAmount              decimal.Decimal    `json:"final_amount"`
	Status                   models.QuoteStatus `json:"status"`
	ProposedInterventionDate time.Time          `json:"proposed_intervention_date"`
	CreatedAt                time.Time          `json:"created_at"`
}

// List returns quotes filtered by ?status= and ?client_company=.
func (h *DevisHandler) List(c *gin.Context) {
	filter := models.QuoteFilter{
		Status:        models.QuoteStatus(c.Query("status")),
		ClientCompany: c.Query("client_company"),
	}
	list, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "failed to list devis", err)
		return
	}

	out := make([]quoteSummary, 0, len(list))
	for _, q := range list {
		out = append(out, quoteSummary{
			ID:                       q.ID,
			WagonID:                  q.WagonID,
			ClientCompany:            q.ClientCompany,
			FinalAmount:              q.Totals().FinalAmount,
			Status:                   q.Status,
			ProposedInterventionDate: q.ProposedInterventionDate,
			CreatedAt:                q.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devis": out, "total": len(out)})
}

type negotiateRequest struct {
	DiscountPercentage  *decimal.Decimal       `json:"discount_percentage"`
	NegotiatedParts     []quotes.PriceOverride `json:"negotiated_parts" binding:"dive"`
	NewInterventionDate string                 `json:"new_intervention_date"`
}

// Negotiate updates the commercial terms of a draft.
func (h *DevisHandler) Negotiate(c *gin.Context) {
	var req negotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "invalid negotiation payload", err)
		return
	}
	if req.DiscountPercentage != nil {
		if err := checkPercentage(*req.DiscountPercentage); err != nil {
			badRequest(c, h.logger, "invalid discount_percentage", err)
			return
		}
	}
	for _, p := range req.NegotiatedParts {
		if p.NegotiatedPrice.IsNegative() {
			badRequest(c, h.logger, "invalid negotiated_price", fmt.Errorf("%s: must not be negative", p.Reference))
			return
		}
	}
	date, err := parseDate(req.NewInterventionDate)
	if err != nil {
		badRequest(c, h.logger, "invalid new_intervention_date", err)
		return
	}

	quote, err := h.svc.Negotiate(c.Request.Context(), c.Param("id"), quotes.NegotiateRequest{
		DiscountPercentage: req.DiscountPercentage,
		NegotiatedParts:    req.NegotiatedParts,
		InterventionDate:   date,
	})
	if err != nil {
		respondError(c, h.logger, "failed to negotiate devis", err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(quote))
}

type validateRequest struct {
	ConfirmedBy string `json:"confirmed_by" binding:"required"`
	Notes       string `json:"notes"`
}

// Validate reserves stock and confirms the quote as an order.
func (h *DevisHandler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "confirmed_by is required", err)
		return
	}

	quote, err := h.svc.Validate(c.Request.Context(), c.Param("id"), req.ConfirmedBy, req.Notes)
	if err != nil {
		respondError(c, h.logger, "failed to validate devis", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"devis": newQuoteResponse(quote),
		"confirmation": gin.H{
			"status":                models.QuoteStatusValidated,
			"message":               "Devis validé avec succès. Les deux ERP vont être notifiés.",
			"notifications_sent_to": models.KnownTargets,
			"next_steps": []string{
				fmt.Sprintf("Intervention prévue le %s", quote.ProposedInterventionDate.Format(dateLayout)),
				fmt.Sprintf("Montant confirmé: %s€", quote.Totals().FinalAmount.StringFixed(2)),
				"Le stock a été réservé pour cette commande",
			},
		},
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// Reject closes a draft.
func (h *DevisHandler) Reject(c *gin.Context) {
	var req rejectRequest
	// An empty body is a rejection without reason.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, h.logger, "invalid rejection payload", err)
			return
		}
	}

	quote, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, h.logger, "failed to reject devis", err)
		return
	}
	c.JSON(http.StatusOK, newQuoteResponse(quote))
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func checkPercentage(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s is outside 0..100", d)
	}
	return nil
}
