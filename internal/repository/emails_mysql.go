package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmoiron/sqlx"
)

const emailColumns = `id, recipients, subject, body, scheduled_at, status, last_error, dispatched_at, created_at, updated_at`

type MySQLEmailsRepository struct {
	db    *sqlx.DB
	clock clock.Clock
}

func NewMySQLEmailsRepository(db *sqlx.DB) *MySQLEmailsRepository {
	return &MySQLEmailsRepository{db: db, clock: clock.System{}}
}

// WithClock replaces the clock used for timestamps and the past-time check.
func (r *MySQLEmailsRepository) WithClock(c clock.Clock) *MySQLEmailsRepository {
	r.clock = c
	return r
}

func (r *MySQLEmailsRepository) now() time.Time { return r.clock.Now().UTC() }

var _ EmailsRepository = (*MySQLEmailsRepository)(nil)

func (r *MySQLEmailsRepository) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

// Create inserts a new row with status=scheduled.
func (r *MySQLEmailsRepository) Create(ctx context.Context, e model.Email) error {
	now := r.now()
	if err := checkInsertable(e, now); err != nil {
		return err
	}
	e.Status = model.StatusScheduled
	e.ScheduledAt = e.ScheduledAt.UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt

	const q = `
		INSERT INTO emails
		    (id, recipients, subject, body, scheduled_at, status, last_error, dispatched_at, created_at, updated_at)
		VALUES
		    (:id, :recipients, :subject, :body, :scheduled_at, :status, :last_error, :dispatched_at, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}

func (r *MySQLEmailsRepository) Get(ctx context.Context, id string) (model.Email, error) {
	var e model.Email
	err := r.db.GetContext(ctx, &e, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Email{}, model.ErrNotFound
	}
	if err != nil {
		return model.Email{}, err
	}
	return e, nil
}

func (r *MySQLEmailsRepository) UpdateFields(ctx context.Context, id string, patch model.EmailPatch) (model.Email, error) {
	return r.update(ctx, id, nil, patch)
}

func (r *MySQLEmailsRepository) UpdateFieldsIfStatus(ctx context.Context, id string, expected model.Status, patch model.EmailPatch) (model.Email, error) {
	return r.update(ctx, id, &expected, patch)
}

// update locks the row, checks the expected status (if any) and writes the patched row
// in the same transaction, so a concurrent status transition cannot slip in between.
func (r *MySQLEmailsRepository) update(ctx context.Context, id string, expected *model.Status, patch model.EmailPatch) (model.Email, error) {
	const q = `
		UPDATE emails
		SET recipients    = :recipients,
		    subject       = :subject,
		    body          = :body,
		    scheduled_at  = :scheduled_at,
		    status        = :status,
		    last_error    = :last_error,
		    dispatched_at = :dispatched_at,
		    updated_at    = :updated_at
		WHERE id = :id
	`
	var out model.Email
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkExpected(cur.Status, expected, patch); err != nil {
			return err
		}
		if patch.Empty() {
			out = cur
			return nil
		}

		patch.Apply(&cur)
		cur.UpdatedAt = r.now()
		if _, err := tx.NamedExecContext(ctx, q, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return model.Email{}, err
	}
	return out, nil
}

func (r *MySQLEmailsRepository) Delete(ctx context.Context, id string) (model.Email, error) {
	return r.delete(ctx, id, nil)
}

func (r *MySQLEmailsRepository) DeleteIfStatus(ctx context.Context, id string, expected model.Status) (model.Email, error) {
	return r.delete(ctx, id, &expected)
}

func (r *MySQLEmailsRepository) delete(ctx context.Context, id string, expected *model.Status) (model.Email, error) {
	var out model.Email
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		cur, err := r.getForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if expected != nil && cur.Status != *expected {
			return fmt.Errorf("%w: status is %s", model.ErrStateConflict, cur.Status)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return model.Email{}, err
	}
	return out, nil
}

func (r *MySQLEmailsRepository) getForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (model.Email, error) {
	var e model.Email
	err := tx.GetContext(ctx, &e, `SELECT `+emailColumns+` FROM emails WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Email{}, model.ErrNotFound
	}
	return e, err
}

func (r *MySQLEmailsRepository) FindDue(ctx context.Context, asOf time.Time, status model.Status) ([]model.Email, error) {
	q := `SELECT ` + emailColumns + `
		FROM emails
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC`

	var rows []model.Email
	if err := r.db.SelectContext(ctx, &rows, q, status, asOf.UTC()); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MySQLEmailsRepository) List(ctx context.Context, f model.ListFilter) ([]model.Email, error) {
	f = normalizeFilter(f)

	q := `SELECT ` + emailColumns + ` FROM emails`
	args := []any{}
	if f.Status.Valid() {
		q += " WHERE status = ?"
		args = append(args, f.Status)
	}
	q += " ORDER BY scheduled_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	var rows []model.Email
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
