package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/config"
	"github.com/jmehdipour/email-scheduler/internal/dispatcher"
	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"github.com/jmehdipour/email-scheduler/internal/service/emails"
	"github.com/jmehdipour/email-scheduler/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

type okSender struct{ err error }

func (s okSender) Send(context.Context, dispatcher.OutboundEmail) (dispatcher.Receipt, error) {
	return dispatcher.Receipt{Provider: "stub"}, s.err
}

type fakeLoop struct{ running bool }

func (l *fakeLoop) Start() bool {
	changed := !l.running
	l.running = true
	return changed
}

func (l *fakeLoop) Stop() bool {
	changed := l.running
	l.running = false
	return changed
}

func (l *fakeLoop) IsRunning() bool { return l.running }

type busyRunner struct{}

func (busyRunner) RunCycle(context.Context) (worker.CycleResult, error) {
	return worker.CycleResult{}, worker.ErrCycleInProgress
}

type testEnv struct {
	srv    *Server
	repo   *repository.MemoryEmailsRepository
	clock  *clock.Manual
	worker *worker.DispatchWorker
	loop   *fakeLoop
}

func newEnv(t *testing.T, cfg config.Config, sendErr error) *testEnv {
	t.Helper()

	clk := clock.NewManual(now)
	repo := repository.NewMemoryEmailsRepository().WithClock(clk)

	w := worker.NewDispatchWorker(repo, okSender{err: sendErr}, "no-reply@example.com")
	w.Clock = clk

	env := &testEnv{repo: repo, clock: clk, worker: w, loop: &fakeLoop{}}
	env.srv = NewServer(cfg, Deps{
		Emails: emails.New(repo, clk, nil),
		Loop:   env.loop,
		Runner: w,
		Providers: func() []dispatcher.ProviderStatus {
			return []dispatcher.ProviderStatus{{Name: "stub", Ready: true}}
		},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errBody struct {
	Error  string              `json:"error"`
	Fields map[string][]string `json:"fields"`
}

func createBody(at time.Time) string {
	return `{"recipients":["a@x.com"],"subject":"Hi","body":"Hello","scheduled_time":"` + at.Format(time.RFC3339) + `"}`
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateGet(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)

	rec := env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Hour)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Email](t, rec)
	assert.Equal(t, model.StatusScheduled, created.Status)
	assert.Equal(t, model.Recipients{"a@x.com"}, created.Recipients)

	rec = env.do(t, http.MethodGet, "/v1/emails/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Email](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, now.Add(time.Hour).Equal(got.ScheduledAt))
}

func TestCreate_Validation(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)

	rec := env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(-time.Hour)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errBody](t, rec)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Contains(t, body.Fields["scheduled_time"], "in_past")

	rec = env.do(t, http.MethodPost, "/v1/emails", `{"recipients":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errBody](t, rec).Fields, "body")

	list, err := env.repo.List(context.Background(), model.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGet_NotFound(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)

	rec := env.do(t, http.MethodGet, "/v1/emails/01HZZZZZZZZZZZZZZZZZZZZZZZ", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errBody](t, rec).Error)
}

func TestPatchDelete_WhileScheduled(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)
	created := decode[model.Email](t, env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Hour))))

	rec := env.do(t, http.MethodPatch, "/v1/emails/"+created.ID, `{"subject":"Changed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Changed", decode[model.Email](t, rec).Subject)

	rec = env.do(t, http.MethodDelete, "/v1/emails/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[model.Email](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/v1/emails/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenario_SentThenDeleteConflicts(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)
	created := decode[model.Email](t, env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Hour))))
	assert.Equal(t, model.StatusScheduled, created.Status)

	env.clock.Advance(2 * time.Hour)
	rec := env.do(t, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["sent"])

	rec = env.do(t, http.MethodDelete, "/v1/emails/"+created.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "state_conflict", decode[errBody](t, rec).Error)

	rec = env.do(t, http.MethodPatch, "/v1/emails/"+created.ID, `{"subject":"late"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	got := decode[model.Email](t, env.do(t, http.MethodGet, "/v1/emails/"+created.ID, ""))
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, "Hi", got.Subject)
}

func TestScenario_FailedIsNotRetried(t *testing.T) {
	env := newEnv(t, config.Config{}, &dispatcher.DeliveryError{Provider: "stub", Err: assert.AnError})
	created := decode[model.Email](t, env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Hour))))

	env.clock.Advance(2 * time.Hour)
	rec := env.do(t, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["failed"])

	rec = env.do(t, http.MethodPost, "/v1/scheduler/run", "")
	assert.Equal(t, 0, decode[map[string]int](t, rec)["due"])

	got := decode[model.Email](t, env.do(t, http.MethodGet, "/v1/emails/"+created.ID, ""))
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
}

func TestList(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)
	for i := 1; i <= 3; i++ {
		rec := env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Duration(i)*time.Hour)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/v1/emails?status=scheduled&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Count   int           `json:"count"`
		Results []model.Email `json:"results"`
	}](t, rec)
	assert.Equal(t, 2, page.Count)

	rec = env.do(t, http.MethodGet, "/v1/emails?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errBody](t, rec).Fields, "status")

	rec = env.do(t, http.MethodGet, "/v1/emails?limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliveries_AuditDisabled(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)
	created := decode[model.Email](t, env.do(t, http.MethodPost, "/v1/emails", createBody(now.Add(time.Hour))))

	rec := env.do(t, http.MethodGet, "/v1/emails/"+created.ID+"/deliveries", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerControl(t *testing.T) {
	env := newEnv(t, config.Config{}, nil)

	rec := env.do(t, http.MethodGet, "/v1/scheduler/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[schedulerStatus](t, rec)
	assert.False(t, st.Running)
	assert.Equal(t, []dispatcher.ProviderStatus{{Name: "stub", Ready: true}}, st.Providers)

	rec = env.do(t, http.MethodPost, "/v1/scheduler/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.loop.running)

	rec = env.do(t, http.MethodPost, "/v1/scheduler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.loop.running)
}

func TestSchedulerRun_InProgress(t *testing.T) {
	srv := NewServer(config.Config{}, Deps{
		Emails: emails.New(repository.NewMemoryEmailsRepository(), clock.NewManual(now), nil),
		Runner: busyRunner{},
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/run", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "cycle_in_progress")
}

type ctxRunner struct{ err error }

func (r *ctxRunner) RunCycle(ctx context.Context) (worker.CycleResult, error) {
	r.err = ctx.Err()
	return worker.CycleResult{}, nil
}

func TestSchedulerRun_DetachedFromRequest(t *testing.T) {
	runner := &ctxRunner{}
	srv := NewServer(config.Config{}, Deps{
		Emails: emails.New(repository.NewMemoryEmailsRepository(), clock.NewManual(now), nil),
		Runner: runner,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/scheduler/run", nil).WithContext(ctx)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, runner.err, "a dropped client must not cancel the cycle")
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{APIKeys: []config.APIKey{{Name: "ops", Key: "s3cret"}}}}
	env := newEnv(t, cfg, nil)

	rec := env.do(t, http.MethodGet, "/v1/emails", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/emails", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/emails", "", "X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")
}
