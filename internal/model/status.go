package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a scheduled email.
// The zero value is not a valid status.
type Status uint8

const (
	StatusScheduled Status = iota + 1
	StatusSent
	StatusFailed
)

var statusNames = map[Status]string{
	StatusScheduled: "scheduled",
	StatusSent:      "sent",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransitionTo allows only scheduled -> sent and scheduled -> failed.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusScheduled && next.IsTerminal()
}

// ParseStatus normalizes input. Returns (value, true) if valid.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "scheduled":
		return StatusScheduled, true
	case "sent":
		return StatusSent, true
	case "failed":
		return StatusFailed, true
	default:
		return 0, false
	}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, ok := ParseStatus(string(b))
	if !ok {
		return fmt.Errorf("invalid status %q", string(b))
	}
	*s = v
	return nil
}

// Value stores the status as its text name.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return s.String(), nil
}

func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("scan status: unsupported type %T", src)
	}
}
