package models

import "time"

// DeliveryReport is the daily snapshot of the notification audit trail.
type DeliveryReport struct {
	Date              time.Time               `bson:"date" json:"date"`
	Total             int64                   `bson:"total" json:"total"`
	Pending           int64                   `bson:"pending" json:"pending"`
	Sent              int64                   `bson:"sent" json:"sent"`
	Failed            int64                   `bson:"failed" json:"failed"`
	SentToday         int64                   `bson:"sent_today" json:"sent_today"`
	ByStatusAndTarget []NotificationStatCount `bson:"by_status_and_target" json:"by_status_and_target"`
	FailedRecords     []FailedDelivery        `bson:"failed_records" json:"failed_records"`
	CreatedAt         time.Time               `bson:"created_at" json:"created_at"`
}

// FailedDelivery is the operator-facing summary of a failed notification.
type FailedDelivery struct {
	NotificationID string       `bson:"notification_id" json:"notification_id"`
	EventType      EventType    `bson:"event_type" json:"event_type"`
	EventID        string       `bson:"event_id" json:"event_id"`
	Target         TargetSystem `bson:"target_erp" json:"target_erp"`
	HTTPStatusCode int          `bson:"http_status_code" json:"http_status_code"`
	ErrorMessage   string       `bson:"error_message" json:"error_message"`
	RetryCount     int          `bson:"retry_count" json:"retry_count"`
	UpdatedAt      time.Time    `bson:"updated_at" json:"updated_at"`
}
