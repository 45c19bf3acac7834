package emails

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/metrics"
	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/util"
	"github.com/jmehdipour/email-scheduler/internal/validation"
	"go.uber.org/zap"
)

// CreateInput is the payload of a new scheduled email.
type CreateInput struct {
	Recipients  []string  `json:"recipients"     validate:"required,min=1,dive,required,email"`
	Subject     string    `json:"subject"        validate:"required"`
	Body        string    `json:"body"           validate:"required"`
	ScheduledAt time.Time `json:"scheduled_time" validate:"required"`
}

// UpdateInput is a partial edit. Nil fields are left unchanged.
type UpdateInput struct {
	Recipients  []string   `json:"recipients,omitempty"`
	Subject     *string    `json:"subject,omitempty"`
	Body        *string    `json:"body,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_time,omitempty"`
}

// Service holds the admission rules for scheduled emails: validation, id
// assignment and the "only while scheduled" guard on edits and deletes.
type Service struct {
	repo     repository.EmailsRepository
	clock    clock.Clock
	validate *validation.Validator
	log      *zap.Logger
}

// New constructs the emails service.
func New(repo repository.EmailsRepository, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		clock:    clk,
		validate: validation.New(),
		log:      log,
	}
}

// Create validates in, assigns a ULID and stores the email as scheduled.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Email, error) {
	in.Recipients = util.NormalizeRecipients(in.Recipients)
	in.ScheduledAt = in.ScheduledAt.UTC()

	verr := &model.ValidationError{}
	if err := s.validate.Validate(in); err != nil {
		merged, ok := validation.ToModel(err).(*model.ValidationError)
		if !ok {
			return model.Email{}, err
		}
		verr = merged
	}
	checkNotBlank(verr, "subject", in.Subject)
	checkNotBlank(verr, "body", in.Body)
	s.checkNotPast(verr, in.ScheduledAt)
	if len(verr.Fields) > 0 {
		return model.Email{}, verr
	}

	now := s.clock.Now()
	e := model.Email{
		ID:          util.NewAt(now),
		Recipients:  model.Recipients(in.Recipients),
		Subject:     in.Subject,
		Body:        in.Body,
		ScheduledAt: in.ScheduledAt,
		Status:      model.StatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return model.Email{}, fmt.Errorf("create email: %w", err)
	}

	metrics.EmailsTotal.WithLabelValues("scheduled").Inc()
	s.log.Info("email scheduled",
		zap.String("email_id", e.ID),
		zap.Time("scheduled_time", e.ScheduledAt),
		zap.Int("recipients", len(e.Recipients)),
	)

	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Email, error) {
	if !util.ValidID(id) {
		return model.Email{}, model.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f model.ListFilter) ([]model.Email, error) {
	return s.repo.List(ctx, f)
}

// Update applies in to a scheduled email. Emails already sent or failed are
// rejected with model.ErrStateConflict.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Email, error) {
	if !util.ValidID(id) {
		return model.Email{}, model.ErrNotFound
	}

	patch, err := s.buildPatch(in)
	if err != nil {
		return model.Email{}, err
	}

	e, err := s.repo.UpdateFieldsIfStatus(ctx, id, model.StatusScheduled, patch)
	if err != nil {
		return model.Email{}, err
	}

	metrics.EmailsTotal.WithLabelValues("updated").Inc()
	s.log.Info("email updated", zap.String("email_id", id))

	return e, nil
}

// Delete removes a scheduled email and returns it.
func (s *Service) Delete(ctx context.Context, id string) (model.Email, error) {
	if !util.ValidID(id) {
		return model.Email{}, model.ErrNotFound
	}

	e, err := s.repo.DeleteIfStatus(ctx, id, model.StatusScheduled)
	if err != nil {
		return model.Email{}, err
	}

	metrics.EmailsTotal.WithLabelValues("deleted").Inc()
	s.log.Info("email deleted", zap.String("email_id", id))

	return e, nil
}

func (s *Service) buildPatch(in UpdateInput) (model.EmailPatch, error) {
	var patch model.EmailPatch
	verr := &model.ValidationError{}

	if in.Recipients != nil {
		rcpts := util.NormalizeRecipients(in.Recipients)
		if len(rcpts) == 0 {
			verr.Add("recipients", "min")
		}
		for _, r := range rcpts {
			if err := s.validate.Var(r, "email"); err != nil {
				verr.Add("recipients", "email")
				break
			}
		}
		patch.Recipients = model.Recipients(rcpts)
	}
	if in.Subject != nil {
		checkNotBlank(verr, "subject", *in.Subject)
		patch.Subject = in.Subject
	}
	if in.Body != nil {
		checkNotBlank(verr, "body", *in.Body)
		patch.Body = in.Body
	}
	if in.ScheduledAt != nil {
		t := in.ScheduledAt.UTC()
		if t.IsZero() {
			verr.Add("scheduled_time", "required")
		} else {
			s.checkNotPast(verr, t)
		}
		patch.ScheduledAt = &t
	}

	if len(verr.Fields) > 0 {
		return model.EmailPatch{}, verr
	}
	if patch.Empty() {
		return model.EmailPatch{}, model.NewValidationError("patch", "empty")
	}

	return patch, nil
}

// checkNotBlank reports a whitespace-only value as "required", unless the
// validator already did.
func checkNotBlank(verr *model.ValidationError, field, v string) {
	if strings.TrimSpace(v) == "" && !slices.Contains(verr.Fields[field], "required") {
		verr.Add(field, "required")
	}
}

// checkNotPast rejects a scheduled time strictly before now.
func (s *Service) checkNotPast(verr *model.ValidationError, t time.Time) {
	if t.IsZero() {
		return
	}
	if t.Before(s.clock.Now()) {
		verr.Add("scheduled_time", "in_past")
	}
}
