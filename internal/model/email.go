package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Recipients is the ordered address list of an email, stored as a JSON column.
type Recipients []string

func (r Recipients) Value() (driver.Value, error) {
	if r == nil {
		r = Recipients{}
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *Recipients) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*r = nil
		return nil
	default:
		return fmt.Errorf("scan recipients: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan recipients: %w", err)
	}
	*r = out
	return nil
}

// Email is the DB entity persisted in the emails table.
type Email struct {
	ID           string     `db:"id"            json:"id"`
	Recipients   Recipients `db:"recipients"    json:"recipients"`
	Subject      string     `db:"subject"       json:"subject"`
	Body         string     `db:"body"          json:"body"`
	ScheduledAt  time.Time  `db:"scheduled_at"  json:"scheduled_time"`
	Status       Status     `db:"status"        json:"status"`
	LastError    *string    `db:"last_error"    json:"last_error,omitempty"`
	DispatchedAt *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// IsDue reports whether e is scheduled and its time is at or before asOf.
func (e Email) IsDue(asOf time.Time) bool {
	return e.Status == StatusScheduled && !e.ScheduledAt.After(asOf)
}

// EmailPatch holds the partial fields of an update. Nil fields are left unchanged.
type EmailPatch struct {
	Recipients   Recipients
	Subject      *string
	Body         *string
	ScheduledAt  *time.Time
	Status       *Status
	LastError    *string
	DispatchedAt *time.Time
}

func (p EmailPatch) Empty() bool {
	return p.Recipients == nil && p.Subject == nil && p.Body == nil && p.ScheduledAt == nil &&
		p.Status == nil && p.LastError == nil && p.DispatchedAt == nil
}

// Apply copies the non-nil fields of p onto e.
func (p EmailPatch) Apply(e *Email) {
	if p.Recipients != nil {
		e.Recipients = append(Recipients(nil), p.Recipients...)
	}
	if p.Subject != nil {
		e.Subject = *p.Subject
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
	if p.ScheduledAt != nil {
		e.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.LastError != nil {
		s := *p.LastError
		e.LastError = &s
	}
	if p.DispatchedAt != nil {
		t := p.DispatchedAt.UTC()
		e.DispatchedAt = &t
	}
}

// ListFilter narrows an admin listing. Zero Status means any.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
