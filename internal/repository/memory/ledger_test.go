package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

func seedParts() []models.Part {
	return []models.Part{
		{Reference: "BP-001", Name: "Plaquette de frein", Category: "freinage", CatalogPrice: decimal.NewFromInt(45), StockQuantity: 10, LeadTimeDays: 7},
		{Reference: "RL-220", Name: "Roulement", Category: "essieu", CatalogPrice: decimal.NewFromInt(120), StockQuantity: 4, LeadTimeDays: 14},
	}
}

func TestLedger_ReserveIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(seedParts()...)

	err := l.Reserve(ctx, "devis", "q-1", []models.Reservation{
		{PartReference: "BP-001", Quantity: 2},
		{PartReference: "RL-220", Quantity: 5},
	})
	require.ErrorIs(t, err, models.ErrStockUnavailable)

	var unavailable *models.StockUnavailableError
	require.True(t, errors.As(err, &unavailable))
	require.Len(t, unavailable.Shortages, 1)
	assert.Equal(t, models.Shortage{PartReference: "RL-220", Requested: 5, Available: 4}, unavailable.Shortages[0])

	bp, err := l.GetPart(ctx, "BP-001")
	require.NoError(t, err)
	assert.Equal(t, 10, bp.StockQuantity)

	moves, err := l.Movements(ctx, "BP-001")
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestLedger_ReserveMergesDuplicateReferences(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(seedParts()...)

	err := l.Reserve(ctx, "devis", "q-1", []models.Reservation{
		{PartReference: "RL-220", Quantity: 3},
		{PartReference: "RL-220", Quantity: 2},
	})
	require.ErrorIs(t, err, models.ErrStockUnavailable)

	require.NoError(t, l.Reserve(ctx, "devis", "q-2", []models.Reservation{
		{PartReference: "RL-220", Quantity: 2},
		{PartReference: "RL-220", Quantity: 2},
	}))
	rl, err := l.GetPart(ctx, "RL-220")
	require.NoError(t, err)
	assert.Equal(t, 0, rl.StockQuantity)
}

func TestLedger_UnknownPartIsShortage(t *testing.T) {
	l := NewLedger(seedParts()...)
	err := l.Reserve(context.Background(), "devis", "q-1", []models.Reservation{{PartReference: "NOPE", Quantity: 1}})
	require.ErrorIs(t, err, models.ErrStockUnavailable)
}

func TestLedger_ReleaseAndRestockRecordMovements(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(seedParts()...)
	items := []models.Reservation{{PartReference: "BP-001", Quantity: 4}}

	require.NoError(t, l.Reserve(ctx, "devis", "q-1", items))
	require.NoError(t, l.Release(ctx, "devis", "q-1", items))
	part, err := l.Restock(ctx, "BP-001", 5, "livraison fournisseur")
	require.NoError(t, err)
	assert.Equal(t, 15, part.StockQuantity)

	moves, err := l.Movements(ctx, "BP-001")
	require.NoError(t, err)
	require.Len(t, moves, 3)
	assert.Equal(t, models.MovementReservation, moves[0].Type)
	assert.Equal(t, -4, moves[0].Quantity)
	assert.Equal(t, "q-1", moves[0].ReferenceID)
	assert.Equal(t, models.MovementReservationRelease, moves[1].Type)
	assert.Equal(t, 4, moves[1].Quantity)
	assert.Equal(t, models.MovementRestock, moves[2].Type)
	assert.Equal(t, 5, moves[2].Quantity)

	_, err = l.Restock(ctx, "NOPE", 1, "")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedger_ConcurrentReservationsNeverOverCommit(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(seedParts()...)

	var (
		wg      sync.WaitGroup
		granted atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Alternate lock order across goroutines; the ledger sorts internally.
			items := []models.Reservation{{PartReference: "BP-001", Quantity: 1}, {PartReference: "RL-220", Quantity: 1}}
			if i%2 == 0 {
				items[0], items[1] = items[1], items[0]
			}
			if err := l.Reserve(ctx, "devis", "concurrent", items); err == nil {
				granted.Add(1)
			} else {
				assert.ErrorIs(t, err, models.ErrStockUnavailable)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), granted.Load())
	rl, _ := l.GetPart(ctx, "RL-220")
	bp, _ := l.GetPart(ctx, "BP-001")
	assert.Equal(t, 0, rl.StockQuantity)
	assert.Equal(t, 6, bp.StockQuantity)
}

func TestLedger_ListPartsByCategory(t *testing.T) {
	l := NewLedger(seedParts()...)

	all, err := l.ListParts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "RL-220", all[0].Reference)

	braking, err := l.ListParts(context.Background(), "freinage")
	require.NoError(t, err)
	require.Len(t, braking, 1)
	assert.Equal(t, "BP-001", braking[0].Reference)
}
