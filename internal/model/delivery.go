package model

import "time"

// DeliveryAttempt is one dispatch attempt row in the delivery audit log.
type DeliveryAttempt struct {
	EmailID     string    `db:"email_id"     json:"email_id"`
	Provider    string    `db:"provider"     json:"provider"`
	Status      Status    `db:"status"       json:"status"` // sent|failed
	Error       string    `db:"error"        json:"error,omitempty"`
	Recipients  uint32    `db:"recipients"   json:"recipients"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
	DurationMs  int64     `db:"duration_ms"  json:"duration_ms"`
}
