package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-events-api/internal/mailer"
	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/pkg/jobs"
)

// ReminderSource lists registered attendees of events starting in a window.
type ReminderSource interface {
	ListRemindersDue(ctx context.Context, from, to time.Time) ([]models.RegistrationDetail, error)
}

// Handlers processes the queued tasks: outbound emails and the daily
// reminder sweep.
type Handlers struct {
	sender    mailer.Sender
	reminders ReminderSource
	enqueuer  jobs.Enqueuer
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandlers wires the task handlers.
func NewHandlers(sender mailer.Sender, reminders ReminderSource, enqueuer jobs.Enqueuer, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		sender:    sender,
		reminders: reminders,
		enqueuer:  enqueuer,
		logger:    logger,
		now:       time.Now,
	}
}

// Register attaches the handlers to the asynq mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(jobs.TypeEmailSend, h.HandleEmailSend)
	mux.HandleFunc(jobs.TypeReminderSweep, h.HandleReminderSweep)
}

// HandleEmailSend delivers one queued notification email. Errors are returned
// so asynq retries with backoff.
func (h *Handlers) HandleEmailSend(ctx context.Context, task *asynq.Task) error {
	var payload jobs.EmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal email payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Recipient == "" {
		h.logger.Warn("email task without recipient", zap.String("kind", string(payload.Kind)))
		return nil
	}
	if err := h.sender.Send(payload); err != nil {
		h.logger.Error("email delivery failed",
			zap.String("kind", string(payload.Kind)),
			zap.String("recipient", payload.Recipient),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// HandleReminderSweep finds every registered attendee of an event starting
// tomorrow and queues a reminder email for each.
func (h *Handlers) HandleReminderSweep(ctx context.Context, _ *asynq.Task) error {
	// Tomorrow's calendar day in UTC.
	today := h.now().UTC().Truncate(24 * time.Hour)
	from := today.Add(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	due, err := h.reminders.ListRemindersDue(ctx, from, to)
	if err != nil {
		return fmt.Errorf("reminder sweep: %w", err)
	}

	queued := 0
	for _, entry := range due {
		if entry.StudentEmail == "" {
			continue
		}
		if err := h.enqueuer.EnqueueEmail(ctx, jobs.EmailPayload{
			Kind:       jobs.EmailReminder,
			Recipient:  entry.StudentEmail,
			EventTitle: entry.EventTitle,
			EventVenue: entry.EventVenue,
			StartTime:  entry.EventStart,
			Status:     string(entry.Status),
		}); err != nil {
			h.logger.Warn("queue reminder",
				zap.String("registration_id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		queued++
	}

	h.logger.Info("reminder sweep complete",
		zap.Time("window_start", from),
		zap.Int("due", len(due)),
		zap.Int("queued", queued),
	)
	return nil
}
