package models

import "time"

// EventType names a domain event; it doubles as the broker topic.
type EventType string

const (
	EventInspectionRequested EventType = "inspection.requested"
	EventInspectionScheduled EventType = "inspection.scheduled"
	EventInspectionCompleted EventType = "inspection.completed"
	EventQuoteGenerated      EventType = "devis.generated"
	EventQuoteValidated      EventType = "devis.validated"
	EventQuoteRejected       EventType = "devis.rejected"
)

// AllEventTypes is the set of topics the dispatcher subscribes to.
var AllEventTypes = []EventType{
	EventInspectionRequested,
	EventInspectionScheduled,
	EventInspectionCompleted,
	EventQuoteGenerated,
	EventQuoteValidated,
	EventQuoteRejected,
}

// DomainEvent is an immutable fact emitted after a lifecycle transition commits.
type DomainEvent struct {
	EventType     EventType      `json:"event_type"`
	EventID       string         `json:"event_id"`
	SourceService string         `json:"source_service"`
	AggregateID   string         `json:"aggregate_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
}
