package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmoiron/sqlx"
)

var ErrAuditDisabled = errors.New("delivery audit log is disabled")

// DeliveriesRepository appends and lists dispatch attempts (ClickHouse audit log).
type DeliveriesRepository interface {
	Record(ctx context.Context, a model.DeliveryAttempt) error
	ListByEmail(ctx context.Context, emailID string, limit int) ([]model.DeliveryAttempt, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) DeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

// Record inserts a single attempt. clickhouse-go batches inserts per prepared
// statement inside a transaction, so even one row goes through Begin/Prepare/Commit.
func (r *chDeliveriesRepository) Record(ctx context.Context, a model.DeliveryAttempt) error {
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mailsched.email_deliveries
		    (email_id, provider, status, error, recipients, attempted_at, duration_ms)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx,
		a.EmailID, a.Provider, a.Status.String(), a.Error, a.Recipients, a.AttemptedAt.UTC(), a.DurationMs,
	); err != nil {
		return err
	}
	return tx.Commit()
}

type deliveryRow struct {
	EmailID     string    `db:"email_id"`
	Provider    string    `db:"provider"`
	Status      string    `db:"status"`
	Error       string    `db:"error"`
	Recipients  uint32    `db:"recipients"`
	AttemptedAt time.Time `db:"attempted_at"`
	DurationMs  int64     `db:"duration_ms"`
}

func (r *chDeliveriesRepository) ListByEmail(ctx context.Context, emailID string, limit int) ([]model.DeliveryAttempt, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	const q = `
		SELECT email_id, provider, status, error, recipients, attempted_at, duration_ms
		FROM mailsched.email_deliveries
		WHERE email_id = ?
		ORDER BY attempted_at DESC
		LIMIT ?
	`
	var rows []deliveryRow
	if err := r.ch.SelectContext(ctx, &rows, q, emailID, limit); err != nil {
		return nil, err
	}

	out := make([]model.DeliveryAttempt, 0, len(rows))
	for _, rw := range rows {
		st, _ := model.ParseStatus(rw.Status)
		out = append(out, model.DeliveryAttempt{
			EmailID:     rw.EmailID,
			Provider:    rw.Provider,
			Status:      st,
			Error:       rw.Error,
			Recipients:  rw.Recipients,
			AttemptedAt: rw.AttemptedAt,
			DurationMs:  rw.DurationMs,
		})
	}
	return out, nil
}

// NopDeliveriesRepository is used when clickhouse.enabled=false.
type NopDeliveriesRepository struct{}

func (NopDeliveriesRepository) Record(context.Context, model.DeliveryAttempt) error { return nil }

func (NopDeliveriesRepository) ListByEmail(context.Context, string, int) ([]model.DeliveryAttempt, error) {
	return nil, ErrAuditDisabled
}
