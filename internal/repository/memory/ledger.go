package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// Ledger is an in-memory stock ledger. Each part carries its own mutex so
// reservations only serialize on the parts they touch.
type Ledger struct {
	mu        sync.RWMutex
	parts     map[string]*partSlot
	movesMu   sync.Mutex
	movements []models.StockMovement
	now       func() time.Time
}

type partSlot struct {
	mu   sync.Mutex
	part models.Part
}

// NewLedger builds a ledger seeded with parts.
func NewLedger(parts ...models.Part) *Ledger {
	l := &Ledger{parts: make(map[string]*partSlot, len(parts)), now: time.Now}
	for _, p := range parts {
		_ = l.UpsertPart(context.Background(), p)
	}
	return l
}

// UpsertPart inserts or replaces a catalog entry.
func (l *Ledger) UpsertPart(_ context.Context, p models.Part) error {
	if p.StockQuantity < 0 {
		return fmt.Errorf("part %s: negative stock %d", p.Reference, p.StockQuantity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.parts[p.Reference]; ok {
		slot.mu.Lock()
		slot.part = p
		slot.mu.Unlock()
		return nil
	}
	l.parts[p.Reference] = &partSlot{part: p}
	return nil
}

// GetPart returns a snapshot of the part.
func (l *Ledger) GetPart(_ context.Context, reference string) (models.Part, error) {
	slot, ok := l.slot(reference)
	if !ok {
		return models.Part{}, fmt.Errorf("part %s: %w", reference, models.ErrNotFound)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.part, nil
}

// ListParts returns parts ordered by category then reference.
func (l *Ledger) ListParts(_ context.Context, category string) ([]models.Part, error) {
	l.mu.RLock()
	slots := make([]*partSlot, 0, len(l.parts))
	for _, s := range l.parts {
		slots = append(slots, s)
	}
	l.mu.RUnlock()

	out := make([]models.Part, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		p := s.part
		s.mu.Unlock()
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Reference < out[j].Reference
	})
	return out, nil
}

// Reserve takes every item or none. Part locks are acquired in reference
// order so concurrent reservations cannot deadlock.
func (l *Ledger) Reserve(_ context.Context, referenceType, referenceID string, items []models.Reservation) error {
	items = mergeReservations(items)

	var shortages []models.Shortage
	slots := make([]*partSlot, 0, len(items))
	for _, item := range items {
		slot, ok := l.slot(item.PartReference)
		if !ok {
			shortages = append(shortages, models.Shortage{PartReference: item.PartReference, Requested: item.Quantity})
			continue
		}
		slots = append(slots, slot)
	}
	if len(shortages) > 0 {
		return &models.StockUnavailableError{Shortages: shortages}
	}

	for _, s := range slots {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range slots {
			s.mu.Unlock()
		}
	}()

	for i, item := range items {
		if available := slots[i].part.StockQuantity; available < item.Quantity {
			shortages = append(shortages, models.Shortage{PartReference: item.PartReference, Requested: item.Quantity, Available: available})
		}
	}
	if len(shortages) > 0 {
		return &models.StockUnavailableError{Shortages: shortages}
	}

	now := l.now().UTC()
	moves := make([]models.StockMovement, 0, len(items))
	for i, item := range items {
		slots[i].part.StockQuantity -= item.Quantity
		slots[i].part.UpdatedAt = now
		moves = append(moves, newMovement(item.PartReference, models.MovementReservation, -item.Quantity, referenceType, referenceID,
			fmt.Sprintf("Reserved for %s %s", referenceType, referenceID), now))
	}
	l.appendMovements(moves...)
	return nil
}

// Release gives reserved units back.
func (l *Ledger) Release(_ context.Context, referenceType, referenceID string, items []models.Reservation) error {
	now := l.now().UTC()
	for _, item := range mergeReservations(items) {
		slot, ok := l.slot(item.PartReference)
		if !ok {
			return fmt.Errorf("part %s: %w", item.PartReference, models.ErrNotFound)
		}
		slot.mu.Lock()
		slot.part.StockQuantity += item.Quantity
		slot.part.UpdatedAt = now
		slot.mu.Unlock()
		l.appendMovements(newMovement(item.PartReference, models.MovementReservationRelease, item.Quantity, referenceType, referenceID,
			fmt.Sprintf("Released from %s %s", referenceType, referenceID), now))
	}
	return nil
}

// Restock adds quantity units to a part.
func (l *Ledger) Restock(_ context.Context, reference string, quantity int, notes string) (models.Part, error) {
	slot, ok := l.slot(reference)
	if !ok {
		return models.Part{}, fmt.Errorf("part %s: %w", reference, models.ErrNotFound)
	}
	now := l.now().UTC()
	slot.mu.Lock()
	slot.part.StockQuantity += quantity
	slot.part.UpdatedAt = now
	part := slot.part
	slot.mu.Unlock()

	l.appendMovements(newMovement(reference, models.MovementRestock, quantity, "", "", notes, now))
	return part, nil
}

// Movements returns the movements of a part, oldest first.
func (l *Ledger) Movements(_ context.Context, reference string) ([]models.StockMovement, error) {
	l.movesMu.Lock()
	defer l.movesMu.Unlock()
	out := make([]models.StockMovement, 0)
	for _, m := range l.movements {
		if m.PartReference == reference {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *Ledger) slot(reference string) (*partSlot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.parts[reference]
	return s, ok
}

func (l *Ledger) appendMovements(moves ...models.StockMovement) {
	l.movesMu.Lock()
	l.movements = append(l.movements, moves...)
	l.movesMu.Unlock()
}

func newMovement(reference string, kind models.MovementType, qty int, referenceType, referenceID, notes string, at time.Time) models.StockMovement {
	return models.StockMovement{
		ID:            uuid.NewString(),
		PartReference: reference,
		Type:          kind,
		Quantity:      qty,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		Notes:         notes,
		CreatedAt:     at,
	}
}

// mergeReservations sums duplicate references and sorts by reference.
func mergeReservations(items []models.Reservation) []models.Reservation {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.PartReference] += it.Quantity
	}
	out := make([]models.Reservation, 0, len(totals))
	for ref, qty := range totals {
		out = append(out, models.Reservation{PartReference: ref, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartReference < out[j].PartReference })
	return out
}
