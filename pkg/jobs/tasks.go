package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names routed by the worker's ServeMux.
const (
	TypeEmailSend     = "email:send"
	TypeReminderSweep = "reminder:sweep"
)

// Queue names in priority order.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// EmailKind selects the template rendered by the mailer.
type EmailKind string

const (
	EmailConfirmation   EmailKind = "confirmation"
	EmailPromotion      EmailKind = "promotion"
	EmailCancellation   EmailKind = "cancellation"
	EmailReminder       EmailKind = "reminder"
	EmailEventCancelled EmailKind = "event_cancelled"
	EmailPasswordReset  EmailKind = "reset"
)

// EmailPayload carries everything the worker needs to render and send one
// notification email.
type EmailPayload struct {
	Kind       EmailKind `json:"kind"`
	Recipient  string    `json:"recipient"`
	EventTitle string    `json:"event_title"`
	EventVenue string    `json:"event_venue"`
	StartTime  time.Time `json:"start_time"`
	Status     string    `json:"status"`
	QRCode     string    `json:"qr_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// ReminderSweepPayload triggers the next-day reminder scan. Empty for now;
// kept as a struct so the schedule can later be scoped per campus.
type ReminderSweepPayload struct{}

// Enqueuer abstracts the job queue so core services can dispatch
// notifications without depending on asynq directly.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload EmailPayload) error
}

// Client is the asynq-backed Enqueuer used in production.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{inner: asynq.NewClient(opt)}
}

// EnqueueEmail queues an email task on the default queue with retries.
func (c *Client) EnqueueEmail(ctx context.Context, payload EmailPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}
	task := asynq.NewTask(TypeEmailSend, raw)
	if _, err := c.inner.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeEmailSend, err)
	}
	return nil
}

// Close releases the underlying asynq client.
func (c *Client) Close() error {
	return c.inner.Close()
}

// NoopEnqueuer drops every task. Used in tests.
type NoopEnqueuer struct{}

// EnqueueEmail discards the payload.
func (NoopEnqueuer) EnqueueEmail(context.Context, EmailPayload) error { return nil }
