package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/model"
)

// MemoryEmailsRepository keeps emails in process memory. Used for
// storage.driver=memory and in tests.
type MemoryEmailsRepository struct {
	mu   sync.Mutex
	rows  map[string]model.Email
	clock clock.Clock
}

func NewMemoryEmailsRepository() *MemoryEmailsRepository {
	return &MemoryEmailsRepository{
		rows:  make(map[string]model.Email),
		clock: clock.System{},
	}
}

// WithClock replaces the clock used for timestamps and the past-time check.
func (r *MemoryEmailsRepository) WithClock(c clock.Clock) *MemoryEmailsRepository {
	r.clock = c
	return r
}

func (r *MemoryEmailsRepository) now() time.Time { return r.clock.Now().UTC() }

var _ EmailsRepository = (*MemoryEmailsRepository)(nil)

func clone(e model.Email) model.Email {
	out := e
	if e.Recipients != nil {
		out.Recipients = append(model.Recipients(nil), e.Recipients...)
	}
	if e.LastError != nil {
		s := *e.LastError
		out.LastError = &s
	}
	if e.DispatchedAt != nil {
		t := *e.DispatchedAt
		out.DispatchedAt = &t
	}
	return out
}

func (r *MemoryEmailsRepository) Create(_ context.Context, e model.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := checkInsertable(e, now); err != nil {
		return err
	}

	if _, ok := r.rows[e.ID]; ok {
		return fmt.Errorf("duplicate email id %s", e.ID)
	}
	e.Status = model.StatusScheduled
	e.ScheduledAt = e.ScheduledAt.UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	r.rows[e.ID] = clone(e)
	return nil
}

func (r *MemoryEmailsRepository) Get(_ context.Context, id string) (model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rows[id]
	if !ok {
		return model.Email{}, model.ErrNotFound
	}
	return clone(e), nil
}

func (r *MemoryEmailsRepository) UpdateFields(_ context.Context, id string, patch model.EmailPatch) (model.Email, error) {
	return r.update(id, nil, patch)
}

func (r *MemoryEmailsRepository) UpdateFieldsIfStatus(_ context.Context, id string, expected model.Status, patch model.EmailPatch) (model.Email, error) {
	return r.update(id, &expected, patch)
}

func (r *MemoryEmailsRepository) update(id string, expected *model.Status, patch model.EmailPatch) (model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[id]
	if !ok {
		return model.Email{}, model.ErrNotFound
	}
	if err := checkExpected(cur.Status, expected, patch); err != nil {
		return model.Email{}, err
	}
	if patch.Empty() {
		return clone(cur), nil
	}
	patch.Apply(&cur)
	cur.UpdatedAt = r.now()
	r.rows[id] = clone(cur)
	return clone(cur), nil
}

func (r *MemoryEmailsRepository) Delete(_ context.Context, id string) (model.Email, error) {
	return r.delete(id, nil)
}

func (r *MemoryEmailsRepository) DeleteIfStatus(_ context.Context, id string, expected model.Status) (model.Email, error) {
	return r.delete(id, &expected)
}

func (r *MemoryEmailsRepository) delete(id string, expected *model.Status) (model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.rows[id]
	if !ok {
		return model.Email{}, model.ErrNotFound
	}
	if expected != nil && cur.Status != *expected {
		return model.Email{}, fmt.Errorf("%w: status is %s", model.ErrStateConflict, cur.Status)
	}
	delete(r.rows, id)
	return cur, nil
}

func (r *MemoryEmailsRepository) FindDue(_ context.Context, asOf time.Time, status model.Status) ([]model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Email
	for _, e := range r.rows {
		if e.Status == status && !e.ScheduledAt.After(asOf) {
			out = append(out, clone(e))
		}
	}
	sortByScheduled(out, false)
	return out, nil
}

func (r *MemoryEmailsRepository) List(_ context.Context, f model.ListFilter) ([]model.Email, error) {
	f = normalizeFilter(f)

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Email, 0, len(r.rows))
	for _, e := range r.rows {
		if f.Status.Valid() && e.Status != f.Status {
			continue
		}
		out = append(out, clone(e))
	}
	sortByScheduled(out, true)

	if f.Offset >= len(out) {
		return []model.Email{}, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortByScheduled(rows []model.Email, desc bool) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			if desc {
				return a.ScheduledAt.After(b.ScheduledAt)
			}
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.ID < b.ID
	})
}
