package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/realtime"
	"github.com/noah-isme/campus-events-api/internal/repository"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
	"github.com/noah-isme/campus-events-api/pkg/jobs"
)

// cooldownWindow blocks re-registration for the same event after a
// cancellation. Measured from the cancellation timestamp.
const cooldownWindow = 15 * time.Minute

// seatTxRetries bounds retries of the seat transactions on serialization
// failures and deadlocks.
const seatTxRetries = 3

// RegistrationStore is the registration persistence surface the service needs.
type RegistrationStore interface {
	FindByPair(ctx context.Context, eventID, studentID string) (*models.Registration, error)
	Delete(ctx context.Context, id string) error
	FindScheduleConflict(ctx context.Context, studentID string, start, end time.Time, excludeEventID string) (*models.ConflictingEvent, error)
	CreateWithSeat(ctx context.Context, eventID, studentID string) (*models.Registration, int, error)
	SetQRCode(ctx context.Context, id, qrCode string) error
	CancelWithPromotion(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error)
}

// EventReader resolves events for registration checks.
type EventReader interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
}

// UserReader resolves notification recipients.
type UserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RegistrationMetrics records seat-allocation outcomes.
type RegistrationMetrics interface {
	RegistrationCreated(status models.RegistrationStatus)
	WaitlistPromotion()
}

type noopRegistrationMetrics struct{}

func (noopRegistrationMetrics) RegistrationCreated(models.RegistrationStatus) {}
func (noopRegistrationMetrics) WaitlistPromotion()                            {}

// RegistrationService owns the registration state machine: seat grants,
// waitlisting, cancellation with FIFO promotion, the re-registration cooldown
// and the schedule-conflict guard. Notifications, tickets and realtime pushes
// are dispatched after commit and never fail the state transition.
type RegistrationService struct {
	registrations RegistrationStore
	events        EventReader
	users         UserReader
	tickets       *TicketService
	enqueuer      jobs.Enqueuer
	publisher     realtime.Publisher
	metrics       RegistrationMetrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewRegistrationService wires the registration service. Enqueuer, publisher
// and metrics may be nil; they default to no-ops.
func NewRegistrationService(
	registrations RegistrationStore,
	events EventReader,
	users UserReader,
	tickets *TicketService,
	enqueuer jobs.Enqueuer,
	publisher realtime.Publisher,
	metrics RegistrationMetrics,
	logger *zap.Logger,
) *RegistrationService {
	if enqueuer == nil {
		enqueuer = jobs.NoopEnqueuer{}
	}
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	if metrics == nil {
		metrics = noopRegistrationMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		registrations: registrations,
		events:        events,
		users:         users,
		tickets:       tickets,
		enqueuer:      enqueuer,
		publisher:     publisher,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// Register attempts to claim a seat for the student. When the event is full
// the registration lands on the waitlist instead; either way exactly one
// active registration exists per (event, student) pair afterwards.
func (s *RegistrationService) Register(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}
	if event.Status == models.EventCancelled {
		return nil, appErrors.ErrEventCancelled
	}

	if err := s.checkPairHistory(ctx, eventID, studentID); err != nil {
		return nil, err
	}

	conflict, err := s.registrations.FindScheduleConflict(ctx, studentID, event.StartTime, event.EndTime, event.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "check schedule")
	}
	if conflict != nil {
		return nil, appErrors.WithDetails(appErrors.ErrScheduleConflict, map[string]interface{}{
			"conflicting_event_id":    conflict.ID,
			"conflicting_event_title": conflict.Title,
			"conflicting_start_time":  conflict.StartTime,
			"conflicting_end_time":    conflict.EndTime,
		})
	}

	var (
		reg   *models.Registration
		seats int
	)
	for attempt := 1; ; attempt++ {
		reg, seats, err = s.registrations.CreateWithSeat(ctx, eventID, studentID)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrUniqueViolation) {
			// Lost the race against a concurrent attempt by the same student.
			return nil, appErrors.ErrAlreadyRegistered
		}
		if repository.IsRetryable(err) && attempt < seatTxRetries {
			s.logger.Warn("register retry",
				zap.String("event_id", eventID),
				zap.String("student_id", studentID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "register")
	}

	s.metrics.RegistrationCreated(reg.Status)

	if reg.Status == models.StatusRegistered {
		s.attachTicket(ctx, reg)
	}
	s.notifyRegistered(ctx, event, reg)
	s.publishSeatState(ctx, event, seats, "")
	if err := s.publisher.Publish(ctx, realtime.TopicRegistrationCreated, realtime.RegistrationCreated{
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		StudentID:      reg.StudentID,
		Status:         string(reg.Status),
	}); err != nil {
		s.logger.Warn("publish registration", zap.String("registration_id", reg.ID), zap.Error(err))
	}

	return reg, nil
}

// checkPairHistory enforces pair uniqueness and the cooldown. A cancelled row
// past its cooldown is purged so the insert can reuse the pair.
func (s *RegistrationService) checkPairHistory(ctx context.Context, eventID, studentID string) error {
	existing, err := s.registrations.FindByPair(ctx, eventID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load registration")
	}

	if existing.Status.Active() {
		return appErrors.WithDetails(appErrors.ErrAlreadyRegistered, map[string]interface{}{
			"status": existing.Status,
		})
	}

	if existing.CancelledAt != nil {
		deadline := existing.CancelledAt.Add(cooldownWindow)
		if remaining := deadline.Sub(s.now()); remaining > 0 {
			minutes := int(math.Ceil(remaining.Minutes()))
			return appErrors.WithDetails(appErrors.ErrCooldownActive, map[string]interface{}{
				"retry_after_minutes": minutes,
			})
		}
	}

	if err := s.registrations.Delete(ctx, existing.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "purge cancelled registration")
	}
	return nil
}

// Cancel cancels the student's active registration. When the registration
// held a seat, the waitlist head (if any) is promoted in the same transaction.
func (s *RegistrationService) Cancel(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}

	existing, err := s.registrations.FindByPair(ctx, eventID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load registration")
	}
	if existing.Status == models.StatusCancelled {
		return nil, appErrors.ErrAlreadyCancelled
	}

	var outcome *repository.CancelOutcome
	for attempt := 1; ; attempt++ {
		outcome, err = s.registrations.CancelWithPromotion(ctx, eventID, studentID, reason, details)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrNoActiveRegistration) {
			// Lost the race against a concurrent cancellation of the same row.
			return nil, appErrors.ErrAlreadyCancelled
		}
		if repository.IsRetryable(err) && attempt < seatTxRetries {
			s.logger.Warn("cancel retry",
				zap.String("event_id", eventID),
				zap.String("student_id", studentID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "cancel")
	}

	if outcome.Promoted != nil {
		s.metrics.WaitlistPromotion()
		s.attachTicket(ctx, outcome.Promoted)
		s.notifyPromoted(ctx, event, outcome.Promoted)
		if err := s.publisher.Publish(ctx, realtime.TopicPromotion, realtime.Promotion{
			EventID:        event.ID,
			RegistrationID: outcome.Promoted.ID,
			StudentID:      outcome.Promoted.StudentID,
		}); err != nil {
			s.logger.Warn("publish promotion", zap.String("registration_id", outcome.Promoted.ID), zap.Error(err))
		}
	}

	s.publishSeatStateCounts(ctx, event.ID, outcome.SeatsAvailable, outcome.TotalRegistered, outcome.Cancelled.ID)
	s.notifyCancelled(ctx, event, outcome.Cancelled, reason)

	return outcome, nil
}

// ListMine returns the student's registrations joined with event details.
func (s *RegistrationService) ListMine(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	details, err := s.registrations.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list registrations")
	}
	return details, nil
}

// attachTicket issues and stores the entry ticket for a seated registration.
func (s *RegistrationService) attachTicket(ctx context.Context, reg *models.Registration) {
	if s.tickets == nil {
		return
	}
	code := s.tickets.Issue(reg.EventID, reg.StudentID)
	if code == "" {
		return
	}
	if err := s.registrations.SetQRCode(ctx, reg.ID, code); err != nil {
		s.logger.Warn("store ticket", zap.String("registration_id", reg.ID), zap.Error(err))
		return
	}
	reg.QRCode = &code
}

func (s *RegistrationService) notifyRegistered(ctx context.Context, event *models.Event, reg *models.Registration) {
	recipient := s.recipient(ctx, reg.StudentID)
	if recipient == "" {
		return
	}
	payload := jobs.EmailPayload{
		Kind:       jobs.EmailConfirmation,
		Recipient:  recipient,
		EventTitle: event.Title,
		EventVenue: event.Venue,
		StartTime:  event.StartTime,
		Status:     string(reg.Status),
	}
	if reg.QRCode != nil {
		payload.QRCode = *reg.QRCode
	}
	if err := s.enqueuer.EnqueueEmail(ctx, payload); err != nil {
		s.logger.Warn("enqueue confirmation", zap.String("registration_id", reg.ID), zap.Error(err))
	}
}

func (s *RegistrationService) notifyPromoted(ctx context.Context, event *models.Event, reg *models.Registration) {
	recipient := s.recipient(ctx, reg.StudentID)
	if recipient == "" {
		return
	}
	payload := jobs.EmailPayload{
		Kind:       jobs.EmailPromotion,
		Recipient:  recipient,
		EventTitle: event.Title,
		EventVenue: event.Venue,
		StartTime:  event.StartTime,
		Status:     string(models.StatusRegistered),
	}
	if reg.QRCode != nil {
		payload.QRCode = *reg.QRCode
	}
	if err := s.enqueuer.EnqueueEmail(ctx, payload); err != nil {
		s.logger.Warn("enqueue promotion", zap.String("registration_id", reg.ID), zap.Error(err))
	}
}

func (s *RegistrationService) notifyCancelled(ctx context.Context, event *models.Event, reg *models.Registration, reason string) {
	recipient := s.recipient(ctx, reg.StudentID)
	if recipient == "" {
		return
	}
	if err := s.enqueuer.EnqueueEmail(ctx, jobs.EmailPayload{
		Kind:       jobs.EmailCancellation,
		Recipient:  recipient,
		EventTitle: event.Title,
		EventVenue: event.Venue,
		StartTime:  event.StartTime,
		Status:     string(models.StatusCancelled),
		Reason:     reason,
	}); err != nil {
		s.logger.Warn("enqueue cancellation", zap.String("registration_id", reg.ID), zap.Error(err))
	}
}

func (s *RegistrationService) recipient(ctx context.Context, studentID string) string {
	user, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		s.logger.Warn("resolve recipient", zap.String("student_id", studentID), zap.Error(err))
		return ""
	}
	return user.Email
}

// publishSeatState derives the registered count from the seats invariant:
// at rest registered == capacity - seats_available.
func (s *RegistrationService) publishSeatState(ctx context.Context, event *models.Event, seats int, cancelledRegID string) {
	s.publishSeatStateCounts(ctx, event.ID, seats, event.Capacity-seats, cancelledRegID)
}

func (s *RegistrationService) publishSeatStateCounts(ctx context.Context, eventID string, seats, registered int, cancelledRegID string) {
	if err := s.publisher.Publish(ctx, realtime.TopicEventUpdated, realtime.EventUpdate{
		EventID:         eventID,
		SeatsAvailable:  seats,
		TotalRegistered: registered,
		CancelledRegID:  cancelledRegID,
	}); err != nil {
		s.logger.Warn("publish seat state", zap.String("event_id", eventID), zap.Error(err))
	}
}
