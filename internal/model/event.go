package model

import "time"

// StatusEvent is the payload published to Kafka on every terminal transition.
type StatusEvent struct {
	ID         string    `json:"id"` // email ULID
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Recipients int       `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
}
