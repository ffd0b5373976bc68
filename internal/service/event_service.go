package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/realtime"
	"github.com/noah-isme/campus-events-api/internal/repository"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
	"github.com/noah-isme/campus-events-api/pkg/export"
	"github.com/noah-isme/campus-events-api/pkg/jobs"
)

// EventStore is the event persistence surface the service needs.
type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	FindByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	Update(ctx context.Context, event *models.Event) error
	DeleteCascade(ctx context.Context, id string) (int, error)
}

// RosterReader lists an event's active registrations with attendee contacts.
type RosterReader interface {
	ListActiveByEvent(ctx context.Context, eventID string) ([]models.RegistrationDetail, error)
	CountByStatus(ctx context.Context, eventID string, status models.RegistrationStatus) (int, error)
}

// CreateEventInput carries the fields accepted when publishing an event.
type CreateEventInput struct {
	Title       string               `json:"title" validate:"required,min=3,max=200"`
	Description string               `json:"description" validate:"required"`
	Category    models.EventCategory `json:"category" validate:"required,oneof=Technical Cultural Sports Academic Social"`
	Venue       string               `json:"venue" validate:"required"`
	StartTime   time.Time            `json:"start_time" validate:"required"`
	EndTime     time.Time            `json:"end_time" validate:"required"`
	Capacity    int                  `json:"capacity" validate:"required,min=1"`
	Price       float64              `json:"price" validate:"min=0"`
	ImageURL    string               `json:"image_url" validate:"omitempty,url"`
}

// UpdateEventInput carries the mutable fields of an existing event.
type UpdateEventInput struct {
	Title       string               `json:"title" validate:"required,min=3,max=200"`
	Description string               `json:"description" validate:"required"`
	Category    models.EventCategory `json:"category" validate:"required,oneof=Technical Cultural Sports Academic Social"`
	Venue       string               `json:"venue" validate:"required"`
	StartTime   time.Time            `json:"start_time" validate:"required"`
	EndTime     time.Time            `json:"end_time" validate:"required"`
	Capacity    int                  `json:"capacity" validate:"required,min=1"`
	Price       float64              `json:"price" validate:"min=0"`
	ImageURL    string               `json:"image_url" validate:"omitempty,url"`
	Status      models.EventStatus   `json:"status" validate:"omitempty,oneof=upcoming ongoing completed cancelled"`
}

// EventDetail is an event plus its live registration counts.
type EventDetail struct {
	models.Event
	RegisteredCount int `json:"registered_count"`
	WaitlistedCount int `json:"waitlisted_count"`
}

// ExportFormat selects the roster export encoding.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// ExportFile is a rendered roster ready to stream to the client.
type ExportFile struct {
	Content     []byte
	ContentType string
	Filename    string
}

// EventService manages the event lifecycle: publishing, capacity changes,
// rosters and cascade deletion with attendee notification.
type EventService struct {
	events        EventStore
	registrations RosterReader
	enqueuer      jobs.Enqueuer
	publisher     realtime.Publisher
	csv           *export.CSVExporter
	pdf           *export.PDFExporter
	validate      *validator.Validate
	logger        *zap.Logger
}

// NewEventService wires the event service. Enqueuer and publisher may be nil.
func NewEventService(
	events EventStore,
	registrations RosterReader,
	enqueuer jobs.Enqueuer,
	publisher realtime.Publisher,
	logger *zap.Logger,
) *EventService {
	if enqueuer == nil {
		enqueuer = jobs.NoopEnqueuer{}
	}
	if publisher == nil {
		publisher = realtime.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventService{
		events:        events,
		registrations: registrations,
		enqueuer:      enqueuer,
		publisher:     publisher,
		csv:           export.NewCSVExporter(),
		pdf:           export.NewPDFExporter(),
		validate:      validator.New(),
		logger:        logger,
	}
}

// Create publishes a new event owned by the organizer. Seats open at capacity.
func (s *EventService) Create(ctx context.Context, organizerID string, input CreateEventInput) (*models.Event, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event")
	}
	if !input.StartTime.Before(input.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	event := &models.Event{
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		OrganizerID: organizerID,
		Venue:       input.Venue,
		StartTime:   input.StartTime,
		EndTime:     input.EndTime,
		Capacity:    input.Capacity,
		Price:       input.Price,
		ImageURL:    input.ImageURL,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "create event")
	}

	s.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("organizer_id", organizerID),
		zap.Int("capacity", event.Capacity),
	)
	return event, nil
}

// List returns events matching the filter with pagination metadata.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]models.Event, *models.Pagination, error) {
	events, total, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list events")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return events, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one event with its registration counts.
func (s *EventService) Get(ctx context.Context, id string) (*EventDetail, error) {
	event, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}

	registered, err := s.registrations.CountByStatus(ctx, id, models.StatusRegistered)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "count registered")
	}
	waitlisted, err := s.registrations.CountByStatus(ctx, id, models.StatusWaitlisted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "count waitlisted")
	}

	return &EventDetail{Event: *event, RegisteredCount: registered, WaitlistedCount: waitlisted}, nil
}

// Update modifies an event the actor owns (admins may edit any). Capacity
// changes keep the seats invariant: the write moves seats by the capacity
// delta in a single guarded statement, so seats claimed concurrently are
// preserved and capacity can never drop below the booked count. Raising
// capacity frees seats but never auto-promotes; waitlisted students claim
// them on their next attempt or the next cancellation cycle.
func (s *EventService) Update(ctx context.Context, actorID string, actorRole models.UserRole, id string, input UpdateEventInput) (*models.Event, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event")
	}
	if !input.StartTime.Before(input.EndTime) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	event, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}
	if err := authorizeOwner(event, actorID, actorRole); err != nil {
		return nil, err
	}

	booked := event.Capacity - event.SeatsAvailable

	event.Title = input.Title
	event.Description = input.Description
	event.Category = input.Category
	event.Venue = input.Venue
	event.StartTime = input.StartTime
	event.EndTime = input.EndTime
	event.Capacity = input.Capacity
	event.Price = input.Price
	event.ImageURL = input.ImageURL
	if input.Status != "" {
		event.Status = input.Status
	}

	if err := s.events.Update(ctx, event); err != nil {
		if errors.Is(err, repository.ErrCapacityBelowBooked) {
			return nil, appErrors.WithDetails(appErrors.ErrInvalidCapacity, map[string]interface{}{
				"booked_seats": booked,
			})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "update event")
	}

	if err := s.publisher.Publish(ctx, realtime.TopicEventUpdated, realtime.EventUpdate{
		EventID:         event.ID,
		SeatsAvailable:  event.SeatsAvailable,
		TotalRegistered: event.Capacity - event.SeatsAvailable,
	}); err != nil {
		s.logger.Warn("publish event update", zap.String("event_id", event.ID), zap.Error(err))
	}
	return event, nil
}

// Delete removes an event and all of its registrations. Every active attendee
// is notified before the rows disappear; returns how many registrations were
// removed.
func (s *EventService) Delete(ctx context.Context, actorID string, actorRole models.UserRole, id string) (int, error) {
	event, err := s.events.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}
	if err := authorizeOwner(event, actorID, actorRole); err != nil {
		return 0, err
	}

	attendees, err := s.registrations.ListActiveByEvent(ctx, id)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list attendees")
	}
	for _, attendee := range attendees {
		if attendee.StudentEmail == "" {
			continue
		}
		if err := s.enqueuer.EnqueueEmail(ctx, jobs.EmailPayload{
			Kind:       jobs.EmailEventCancelled,
			Recipient:  attendee.StudentEmail,
			EventTitle: event.Title,
			EventVenue: event.Venue,
			StartTime:  event.StartTime,
			Status:     string(attendee.Status),
		}); err != nil {
			s.logger.Warn("enqueue event cancellation",
				zap.String("event_id", id),
				zap.String("student_id", attendee.StudentID),
				zap.Error(err),
			)
		}
	}

	removed, err := s.events.DeleteCascade(ctx, id)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "delete event")
	}

	s.logger.Info("event deleted",
		zap.String("event_id", id),
		zap.Int("registrations_removed", removed),
	)
	return removed, nil
}

// Roster returns the active registrations for an event the actor may manage.
func (s *EventService) Roster(ctx context.Context, actorID string, actorRole models.UserRole, eventID string) ([]models.RegistrationDetail, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}
	if err := authorizeOwner(event, actorID, actorRole); err != nil {
		return nil, err
	}

	roster, err := s.registrations.ListActiveByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list roster")
	}
	return roster, nil
}

// Export renders the roster in the requested format.
func (s *EventService) Export(ctx context.Context, actorID string, actorRole models.UserRole, eventID string, format ExportFormat) (*ExportFile, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "load event")
	}
	if err := authorizeOwner(event, actorID, actorRole); err != nil {
		return nil, err
	}

	roster, err := s.registrations.ListActiveByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "list roster")
	}

	data := export.Dataset{
		Headers: []string{"Name", "Email", "Status", "Registered At"},
	}
	for _, entry := range roster {
		data.Rows = append(data.Rows, map[string]string{
			"Name":          entry.StudentName,
			"Email":         entry.StudentEmail,
			"Status":        string(entry.Status),
			"Registered At": entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	slug := strings.ToLower(strings.ReplaceAll(event.Title, " ", "-"))
	switch format {
	case ExportCSV:
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render csv")
		}
		return &ExportFile{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("%s-attendees.csv", slug),
		}, nil
	case ExportPDF:
		content, err := s.pdf.Render(data, event.Title+" Attendees")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render pdf")
		}
		return &ExportFile{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("%s-attendees.pdf", slug),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// authorizeOwner permits the owning organizer and admins.
func authorizeOwner(event *models.Event, actorID string, actorRole models.UserRole) error {
	if actorRole == models.RoleAdmin || event.OrganizerID == actorID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the organizer or an admin can manage this event")
}
