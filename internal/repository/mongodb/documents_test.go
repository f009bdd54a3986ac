package mongodb

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

func TestDecimal128RoundTrip(t *testing.T) {
	for _, s := range []string{"0", "45.50", "2231.55", "-12.5", "0.0001"} {
		d := decimal.RequireFromString(s)
		assert.True(t, d.Equal(fromDecimal128(toDecimal128(d))), s)
	}
}

func TestQuoteDocumentKeepsLinesAndStatus(t *testing.T) {
	validated := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	q := models.Quote{
		ID:            "DEV-1",
		WagonID:       "WG-7",
		ClientCompany: "WagonLits",
		Lines: []models.QuoteLineItem{{
			PartReference:   "BP-001",
			PartName:        "Brake pad",
			Quantity:        4,
			CatalogPrice:    decimal.RequireFromString("45.50"),
			NegotiatedPrice: decimal.RequireFromString("40"),
			StockAvailable:  true,
		}},
		InterventionHours:  decimal.NewFromInt(3),
		HourlyRate:         decimal.NewFromInt(85),
		InspectionForfait:  decimal.NewFromInt(150),
		DiscountPercentage: decimal.NewFromInt(10),
		Status:             models.QuoteStatusValidated,
		CanValidate:        true,
		ValidatedAt:        &validated,
	}

	doc := newQuoteDocument(q)
	assert.True(t, fromDecimal128(doc.FinalAmount).Equal(q.Totals().FinalAmount))

	back := doc.model()
	require.Len(t, back.Lines, 1)
	assert.Equal(t, "BP-001", back.Lines[0].PartReference)
	assert.True(t, back.Lines[0].NegotiatedPrice.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, models.QuoteStatusValidated, back.Status)
	assert.Equal(t, validated, *back.ValidatedAt)
	assert.True(t, back.Totals().FinalAmount.Equal(q.Totals().FinalAmount))
}

func TestMergeReservationsSortsAndSums(t *testing.T) {
	got := mergeReservations([]models.Reservation{
		{PartReference: "RL-220", Quantity: 1},
		{PartReference: "BP-001", Quantity: 2},
		{PartReference: "RL-220", Quantity: 2},
	})
	assert.Equal(t, []models.Reservation{
		{PartReference: "BP-001", Quantity: 2},
		{PartReference: "RL-220", Quantity: 3},
	}, got)
}
