package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Part is a catalog entry of the stock ledger.
type Part struct {
	Reference        string          `json:"reference"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Category         string          `json:"category,omitempty"`
	CatalogPrice     decimal.Decimal `json:"catalog_price"`
	StockQuantity    int             `json:"stock_quantity"`
	ReorderThreshold int             `json:"reorder_threshold"`
	ReorderQuantity  int             `json:"reorder_quantity"`
	LeadTimeDays     int             `json:"lead_time_days"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// LowStock reports whether the on-hand quantity reached the reorder threshold.
func (p Part) LowStock() bool {
	return p.StockQuantity <= p.ReorderThreshold
}

// RestockDate estimates when the part is back in stock when ordered on day.
func (p Part) RestockDate(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).AddDate(0, 0, p.LeadTimeDays)
}

// MovementType classifies stock ledger entries.
type MovementType string

const (
	MovementReservation        MovementType = "reservation"
	MovementReservationRelease MovementType = "reservation_release"
	MovementRestock            MovementType = "restock"
)

// StockMovement is an append-only ledger entry. Quantity is signed.
type StockMovement struct {
	ID            string       `json:"id"`
	PartReference string       `json:"part_reference"`
	Type          MovementType `json:"movement_type"`
	Quantity      int          `json:"quantity"`
	ReferenceType string       `json:"reference_type,omitempty"`
	ReferenceID   string       `json:"reference_id,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Reservation asks the ledger to take Quantity units of a part.
type Reservation struct {
	PartReference string
	Quantity      int
}

// Shortage explains why a reservation could not be honoured.
type Shortage struct {
	PartReference string `json:"reference"`
	Requested     int    `json:"requested"`
	Available     int    `json:"available"`
}
