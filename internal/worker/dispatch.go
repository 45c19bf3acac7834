package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/clock"
	"github.com/jmehdipour/email-scheduler/internal/dispatcher"
	"github.com/jmehdipour/email-scheduler/internal/metrics"
	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/jmehdipour/email-scheduler/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStorage         = errors.New("storage unavailable")
	ErrCycleInProgress = errors.New("dispatch cycle already in progress")
)

// Sender delivers one message. *dispatcher.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, msg dispatcher.OutboundEmail) (dispatcher.Receipt, error)
}

// DeliveryLog receives one row per dispatch attempt.
type DeliveryLog interface {
	Record(ctx context.Context, a model.DeliveryAttempt) error
}

// EventPublisher emits terminal status transitions.
type EventPublisher interface {
	PublishStatus(ctx context.Context, ev model.StatusEvent) error
}

// CycleResult summarizes one RunCycle.
type CycleResult struct {
	Due    int
	Sent   int
	Failed int
	// Lost counts records whose terminal write found the row deleted or no longer scheduled.
	Lost int
	// WriteErrors counts records whose terminal write failed on storage; they stay
	// scheduled and are picked up again by the next cycle.
	WriteErrors int
	// Skipped counts records left untouched because the cycle was cancelled first.
	Skipped int
}

// DispatchWorker:
// - scans the registry for due scheduled emails,
// - hands each one to the Sender exactly once per cycle,
// - writes the terminal status back with a write conditional on "scheduled".
type DispatchWorker struct {
	// Dependencies
	Emails     repository.EmailsRepository
	Sender     Sender
	Deliveries DeliveryLog    // optional
	Events     EventPublisher // optional
	Clock      clock.Clock
	Log        *zap.Logger

	// Behavior
	From    string // envelope sender for every message
	Workers int    // max sends in flight per cycle

	mu sync.Mutex
}

// NewDispatchWorker builds a worker with sane defaults.
func NewDispatchWorker(emails repository.EmailsRepository, sender Sender, from string) *DispatchWorker {
	return &DispatchWorker{
		Emails:  emails,
		Sender:  sender,
		Clock:   clock.System{},
		Log:     zap.NewNop(),
		From:    from,
		Workers: 4,
	}
}

// Tick is the scheduler callback. Cycle errors are logged and never stop the loop.
func (w *DispatchWorker) Tick(ctx context.Context) {
	res, err := w.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		w.logger().Warn("dispatch cycle skipped: previous cycle still running")
	case err != nil:
		w.logger().Error("dispatch cycle failed", zap.Error(err))
	case res.Due > 0:
		w.logger().Info("dispatch cycle done",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Int("lost", res.Lost),
			zap.Int("write_errors", res.WriteErrors),
			zap.Int("skipped", res.Skipped),
		)
	}
}

// RunCycle dispatches every email that is due at the clock's current time.
// Only one cycle runs at a time; a concurrent call returns ErrCycleInProgress.
func (w *DispatchWorker) RunCycle(ctx context.Context) (CycleResult, error) {
	if !w.mu.TryLock() {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return CycleResult{}, ErrCycleInProgress
	}
	defer w.mu.Unlock()

	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	now := w.now()
	due, err := w.Emails.FindDue(ctx, now, model.StatusScheduled)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("storage_error").Inc()
		return CycleResult{}, fmt.Errorf("%w: find due: %v", ErrStorage, err)
	}
	metrics.DueEmails.Set(float64(len(due)))

	var sent, failed, lost, writeErrs, skipped atomic.Int64

	workers := w.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, e := range due {
		e := e
		g.Go(func() error {
			switch w.processOne(gctx, e, now) {
			case outcomeSent:
				sent.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeLost:
				lost.Add(1)
			case outcomeWriteError:
				writeErrs.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			}
			// per-record failures never cancel the rest of the cycle
			return nil
		})
	}
	_ = g.Wait()

	metrics.CyclesTotal.WithLabelValues("ok").Inc()

	return CycleResult{
		Due:         len(due),
		Sent:        int(sent.Load()),
		Failed:      int(failed.Load()),
		Lost:        int(lost.Load()),
		WriteErrors: int(writeErrs.Load()),
		Skipped:     int(skipped.Load()),
	}, nil
}

type outcome int

const (
	outcomeWriteError outcome = iota
	outcomeSent
	outcomeFailed
	outcomeLost
	outcomeSkipped
)

// writeTimeout bounds the bookkeeping after a send.
const writeTimeout = 10 * time.Second

// processOne sends e and records the result. A panic anywhere in here is confined
// to this record.
//
// Cancellation is honored only before the send starts. Once committed, the send
// runs detached from ctx so a shutdown or a dropped manual trigger cannot turn
// an interrupted attempt into a terminal failure; the sender's own timeout
// bounds it instead.
func (w *DispatchWorker) processOne(ctx context.Context, e model.Email, now time.Time) (out outcome) {
	log := w.logger().With(zap.String("email_id", e.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while dispatching email", zap.Any("panic", r), zap.Stack("stack"))
			out = outcomeWriteError
		}
	}()

	if !e.IsDue(now) {
		return outcomeLost
	}
	if ctx.Err() != nil {
		return outcomeSkipped
	}

	msg := dispatcher.OutboundEmail{
		EmailID: e.ID,
		From:    w.From,
		To:      []string(e.Recipients),
		Subject: e.Subject,
		Body:    e.Body,
	}

	sctx := context.WithoutCancel(ctx)
	rcpt, sendErr := w.Sender.Send(sctx, msg)

	next := model.StatusSent
	var errText string
	if sendErr != nil {
		next = model.StatusFailed
		errText = sendErr.Error()
		log.Warn("email delivery failed",
			zap.String("provider", providerOf(rcpt, sendErr)),
			zap.Error(sendErr),
		)
	}

	wctx, cancel := context.WithTimeout(sctx, writeTimeout)
	defer cancel()

	at := w.now()
	w.recordAttempt(wctx, log, model.DeliveryAttempt{
		EmailID:     e.ID,
		Provider:    providerOf(rcpt, sendErr),
		Status:      next,
		Error:       errText,
		Recipients:  uint32(len(e.Recipients)),
		AttemptedAt: at,
		DurationMs:  rcpt.Duration.Milliseconds(),
	})

	patch := model.EmailPatch{Status: &next, DispatchedAt: &at}
	if sendErr != nil {
		patch.LastError = &errText
	}

	if _, err := w.Emails.UpdateFieldsIfStatus(wctx, e.ID, model.StatusScheduled, patch); err != nil {
		if errors.Is(err, model.ErrStateConflict) || errors.Is(err, model.ErrNotFound) {
			// edited to terminal or deleted while the send was in flight
			metrics.EmailsTotal.WithLabelValues("lost").Inc()
			log.Warn("terminal status write lost", zap.String("status", next.String()), zap.Error(err))
			return outcomeLost
		}
		log.Error("terminal status write failed", zap.String("status", next.String()), zap.Error(err))
		return outcomeWriteError
	}

	metrics.EmailsTotal.WithLabelValues(next.String()).Inc()
	w.publish(wctx, log, model.StatusEvent{
		ID:         e.ID,
		Status:     next,
		Error:      errText,
		Recipients: len(e.Recipients),
		OccurredAt: at,
	})

	if sendErr != nil {
		return outcomeFailed
	}
	return outcomeSent
}

func (w *DispatchWorker) recordAttempt(ctx context.Context, log *zap.Logger, a model.DeliveryAttempt) {
	if w.Deliveries == nil {
		return
	}
	if err := w.Deliveries.Record(ctx, a); err != nil {
		log.Warn("delivery log write failed", zap.Error(err))
	}
}

func (w *DispatchWorker) publish(ctx context.Context, log *zap.Logger, ev model.StatusEvent) {
	if w.Events == nil {
		return
	}
	if err := w.Events.PublishStatus(ctx, ev); err != nil {
		log.Warn("status event publish failed", zap.Error(err))
	}
}

func (w *DispatchWorker) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now().UTC()
}

func (w *DispatchWorker) logger() *zap.Logger {
	if w.Log == nil {
		return zap.NewNop()
	}
	return w.Log
}

func providerOf(r dispatcher.Receipt, err error) string {
	if r.Provider != "" {
		return r.Provider
	}
	var de *dispatcher.DeliveryError
	if errors.As(err, &de) && de.Provider != "" {
		return de.Provider
	}
	return "none"
}
