package emails

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func newService() (*Service, *repository.MemoryEmailsRepository, *clock.Manual) {
	clk := clock.NewManual(now)
	repo := repository.NewMemoryEmailsRepository().WithClock(clk)
	return New(repo, clk, nil), repo, clk
}

func validInput() CreateInput {
	return CreateInput{
		Recipients:  []string{"a@x.com"},
		Subject:     "Hi",
		Body:        "Hello",
		ScheduledAt: now.Add(time.Hour),
	}
}

func fieldsOf(t *testing.T, err error) map[string][]string {
	t.Helper()
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr), "expected *model.ValidationError, got %v", err)
	return verr.Fields
}

func TestCreate_Scheduled(t *testing.T) {
	svc, repo, _ := newService()

	e, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, e.Status)
	assert.Len(t, e.ID, 26)
	assert.Equal(t, model.Recipients{"a@x.com"}, e.Recipients)
	assert.True(t, now.Equal(e.CreatedAt))

	stored, err := repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, stored.ID)
	assert.Equal(t, model.StatusScheduled, stored.Status)
}

func TestCreate_NormalizesRecipientsAndTime(t *testing.T) {
	svc, _, _ := newService()

	in := validInput()
	in.Recipients = []string{" a@X.com ", "A@x.com", "b@x.com"}
	in.ScheduledAt = now.Add(time.Hour).In(time.FixedZone("EST", -5*3600))

	e, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.Recipients{"a@x.com", "b@x.com"}, e.Recipients)
	assert.Equal(t, time.UTC, e.ScheduledAt.Location())
}

func TestCreate_ScheduledAtNowIsAccepted(t *testing.T) {
	svc, _, _ := newService()

	in := validInput()
	in.ScheduledAt = now
	_, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
}

func TestCreate_Validation(t *testing.T) {
	cases := map[string]struct {
		mutate func(*CreateInput)
		field  string
		tag    string
	}{
		"past time":         {func(in *CreateInput) { in.ScheduledAt = now.Add(-time.Second) }, "scheduled_time", "in_past"},
		"missing time":      {func(in *CreateInput) { in.ScheduledAt = time.Time{} }, "scheduled_time", "required"},
		"no recipients":     {func(in *CreateInput) { in.Recipients = nil }, "recipients", "min"},
		"blank recipients":  {func(in *CreateInput) { in.Recipients = []string{" ", ""} }, "recipients", "min"},
		"invalid recipient": {func(in *CreateInput) { in.Recipients = []string{"a@x.com", "nope"} }, "recipients", "email"},
		"missing subject":   {func(in *CreateInput) { in.Subject = "" }, "subject", "required"},
		"missing body":      {func(in *CreateInput) { in.Body = "" }, "body", "required"},
		"blank subject":     {func(in *CreateInput) { in.Subject = "   " }, "subject", "required"},
		"blank body":        {func(in *CreateInput) { in.Body = "\n\t " }, "body", "required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc, repo, _ := newService()
			in := validInput()
			tc.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			require.ErrorIs(t, err, model.ErrValidation)
			assert.Contains(t, fieldsOf(t, err)[tc.field], tc.tag)

			list, err := repo.List(context.Background(), model.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, list, "nothing is stored on validation failure")
		})
	}
}

func TestCreate_EmptySubjectReportedOnce(t *testing.T) {
	svc, _, _ := newService()
	in := validInput()
	in.Subject = ""

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, []string{"required"}, fieldsOf(t, err)["subject"])
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newService()
	e, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	subject := "Updated"
	at := now.Add(3 * time.Hour)
	got, err := svc.Update(context.Background(), e.ID, UpdateInput{
		Subject:     &subject,
		ScheduledAt: &at,
		Recipients:  []string{"c@x.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Updated", got.Subject)
	assert.Equal(t, "Hello", got.Body)
	assert.True(t, at.Equal(got.ScheduledAt))
	assert.Equal(t, model.Recipients{"c@x.com"}, got.Recipients)
	assert.Equal(t, model.StatusScheduled, got.Status)
}

func TestUpdate_PastTimeRejectedAndUnchanged(t *testing.T) {
	svc, repo, clk := newService()
	e, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)
	past := now.Add(10 * time.Minute)
	_, err = svc.Update(context.Background(), e.ID, UpdateInput{ScheduledAt: &past})
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, fieldsOf(t, err)["scheduled_time"], "in_past")

	stored, err := repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, e.ScheduledAt.Equal(stored.ScheduledAt))
}

func TestUpdate_InvalidFields(t *testing.T) {
	svc, _, _ := newService()
	e, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	blank := "  "
	_, err = svc.Update(context.Background(), e.ID, UpdateInput{Body: &blank, Recipients: []string{"bad"}})
	fields := fieldsOf(t, err)
	assert.Contains(t, fields["body"], "required")
	assert.Contains(t, fields["recipients"], "email")

	_, err = svc.Update(context.Background(), e.ID, UpdateInput{})
	assert.Contains(t, fieldsOf(t, err)["patch"], "empty")
}

func TestUpdateDelete_TerminalConflict(t *testing.T) {
	for _, st := range []model.Status{model.StatusSent, model.StatusFailed} {
		t.Run(st.String(), func(t *testing.T) {
			svc, repo, _ := newService()
			e, err := svc.Create(context.Background(), validInput())
			require.NoError(t, err)

			_, err = repo.UpdateFields(context.Background(), e.ID, model.EmailPatch{Status: &st})
			require.NoError(t, err)

			subject := "too late"
			_, err = svc.Update(context.Background(), e.ID, UpdateInput{Subject: &subject})
			require.ErrorIs(t, err, model.ErrStateConflict)

			_, err = svc.Delete(context.Background(), e.ID)
			require.ErrorIs(t, err, model.ErrStateConflict)

			stored, err := repo.Get(context.Background(), e.ID)
			require.NoError(t, err)
			assert.Equal(t, st, stored.Status)
			assert.Equal(t, "Hi", stored.Subject)
		})
	}
}

func TestDelete(t *testing.T) {
	svc, repo, _ := newService()
	e, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	deleted, err := svc.Delete(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, deleted.ID)

	_, err = repo.Get(context.Background(), e.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUnknownIDs(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	subject := "x"

	for _, id := range []string{"not-a-ulid", "01HZZZZZZZZZZZZZZZZZZZZZZZ"} {
		_, err := svc.Get(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound, id)
		_, err = svc.Update(ctx, id, UpdateInput{Subject: &subject})
		assert.ErrorIs(t, err, model.ErrNotFound, id)
		_, err = svc.Delete(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound, id)
	}
}
