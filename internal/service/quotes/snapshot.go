package quotes

import (
	"time"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

func generatedSnapshot(q models.Quote, now time.Time) map[string]any {
	return map[string]any{
		"devis_id":                   q.ID,
		"inspection_id":              q.InspectionID,
		"wagon_id":                   q.WagonID,
		"client_company":             q.ClientCompany,
		"final_amount":               q.Totals().FinalAmount.InexactFloat64(),
		"proposed_intervention_date": q.ProposedInterventionDate.Format(dateFormat),
		"has_stock_issues":           !q.CanValidate,
		"status":                     string(q.Status),
		"created_at":                 now.Format(time.RFC3339),
	}
}

func validatedSnapshot(q models.Quote) map[string]any {
	totals := q.Totals()
	parts := make([]map[string]any, 0, len(q.Lines))
	for _, l := range q.Lines {
		parts = append(parts, map[string]any{
			"reference":  l.PartReference,
			"name":       l.PartName,
			"quantity":   l.Quantity,
			"unit_price": l.NegotiatedPrice.InexactFloat64(),
			"total":      l.LineTotal().InexactFloat64(),
		})
	}

	snapshot := map[string]any{
		"devis_id":           q.ID,
		"inspection_id":      q.InspectionID,
		"wagon_id":           q.WagonID,
		"client_company":     q.ClientCompany,
		"total_parts_cost":   totals.TotalPartsCost.InexactFloat64(),
		"total_labor_cost":   totals.TotalLaborCost.InexactFloat64(),
		"inspection_forfait": totals.InspectionForfait.InexactFloat64(),
		"discount":           totals.Discount.InexactFloat64(),
		"final_amount":       totals.FinalAmount.InexactFloat64(),
		"intervention_date":  q.ProposedInterventionDate.Format(dateFormat),
		"confirmed_by":       q.ConfirmedBy,
		"parts":              parts,
		"status":             string(q.Status),
	}
	if q.ValidatedAt != nil {
		snapshot["validated_at"] = q.ValidatedAt.Format(time.RFC3339)
	}
	return snapshot
}

func rejectedSnapshot(q models.Quote) map[string]any {
	snapshot := map[string]any{
		"devis_id":       q.ID,
		"wagon_id":       q.WagonID,
		"client_company": q.ClientCompany,
		"reason":         q.RejectionReason,
		"status":         string(q.Status),
	}
	if q.RejectedAt != nil {
		snapshot["rejected_at"] = q.RejectedAt.Format(time.RFC3339)
	}
	return snapshot
}
