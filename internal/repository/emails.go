package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/model"
)

// EmailsRepository is the registry of scheduled emails.
//
// Get, UpdateFields and Delete return model.ErrNotFound for unknown ids.
// The *IfStatus variants apply the write only while the stored status equals
// expected, otherwise they return model.ErrStateConflict and leave the row as is.
// UpdateFields itself enforces no business rule.
type EmailsRepository interface {
	Create(ctx context.Context, e model.Email) error
	Get(ctx context.Context, id string) (model.Email, error)
	UpdateFields(ctx context.Context, id string, patch model.EmailPatch) (model.Email, error)
	UpdateFieldsIfStatus(ctx context.Context, id string, expected model.Status, patch model.EmailPatch) (model.Email, error)
	Delete(ctx context.Context, id string) (model.Email, error)
	DeleteIfStatus(ctx context.Context, id string, expected model.Status) (model.Email, error)
	// FindDue returns records with scheduled_at <= asOf and the given status.
	FindDue(ctx context.Context, asOf time.Time, status model.Status) ([]model.Email, error)
	List(ctx context.Context, f model.ListFilter) ([]model.Email, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

func normalizeFilter(f model.ListFilter) model.ListFilter {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// checkInsertable enforces the storage-level required fields and rejects a
// scheduled time before now. A time equal to now is accepted.
func checkInsertable(e model.Email, now time.Time) error {
	verr := &model.ValidationError{}
	if e.ID == "" {
		verr.Add("id", "required")
	}
	if len(e.Recipients) == 0 {
		verr.Add("recipients", "required")
	}
	if e.ScheduledAt.IsZero() {
		verr.Add("scheduled_time", "required")
	} else if e.ScheduledAt.Before(now) {
		verr.Add("scheduled_time", "in_past")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// checkExpected guards the *IfStatus writes: the stored status must equal expected
// and a status change in the patch must be a legal transition out of it.
func checkExpected(cur model.Status, expected *model.Status, patch model.EmailPatch) error {
	if expected == nil {
		return nil
	}
	if cur != *expected {
		return fmt.Errorf("%w: status is %s", model.ErrStateConflict, cur)
	}
	if patch.Status != nil && *patch.Status != cur && !cur.CanTransitionTo(*patch.Status) {
		return fmt.Errorf("%w: %s -> %s not allowed", model.ErrStateConflict, cur, *patch.Status)
	}
	return nil
}
