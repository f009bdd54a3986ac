package models

import "time"

// TargetSystem identifies a downstream system receiving webhooks.
type TargetSystem string

const (
	// TargetClientERP is the client-side ERP (WagonLits).
	TargetClientERP TargetSystem = "ERP_WAGL"
	// TargetInternalERP is the internal ERP (DevMateriels).
	TargetInternalERP TargetSystem = "ERP_DEMAT"
)

// KnownTargets lists every target in a stable order.
var KnownTargets = []TargetSystem{TargetClientERP, TargetInternalERP}

// NotificationStatus is the delivery state of a NotificationRecord.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationRecord is the durable delivery state of one (event, target) pair.
type NotificationRecord struct {
	ID             string             `json:"id"`
	EventType      EventType          `json:"event_type"`
	EventID        string             `json:"event_id"`
	SourceService  string             `json:"source_service"`
	Target         TargetSystem       `json:"target_erp"`
	Payload        map[string]any     `json:"payload"`
	Status         NotificationStatus `json:"status"`
	HTTPStatusCode int                `json:"http_status_code,omitempty"`
	ResponseBody   string             `json:"response_body,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	RetryCount     int                `json:"retry_count"`
	MaxRetries     int                `json:"max_retries"`
	NextAttemptAt  *time.Time         `json:"next_attempt_at,omitempty"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// DeliveryAttempt is the outcome of one webhook call, applied to a pending record.
type DeliveryAttempt struct {
	HTTPStatusCode int
	ResponseBody   string
	ErrorMessage   string
	At             time.Time
}

// NotificationTemplate maps an event type to per-target static payload fields.
type NotificationTemplate struct {
	EventType EventType                       `json:"event_type"`
	Active    bool                            `json:"active"`
	Targets   map[TargetSystem]map[string]any `json:"targets"`
	UpdatedAt time.Time                       `json:"updated_at"`
}

// NotificationFilter narrows record listings.
type NotificationFilter struct {
	Status    NotificationStatus
	Target    TargetSystem
	EventType EventType
	Limit     int
}

// NotificationStatCount is one bucket of the status/target breakdown.
type NotificationStatCount struct {
	Status NotificationStatus `json:"status"`
	Target TargetSystem       `json:"target_erp"`
	Count  int64              `json:"count"`
}

// NotificationStats summarizes the delivery audit trail.
type NotificationStats struct {
	ByStatusAndTarget []NotificationStatCount `json:"by_status_and_target"`
	Total             int64                   `json:"total"`
	SentToday         int64                   `json:"sent_today"`
}
