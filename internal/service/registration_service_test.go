package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-events-api/internal/models"
	"github.com/noah-isme/campus-events-api/internal/repository"
	appErrors "github.com/noah-isme/campus-events-api/pkg/errors"
)

type registrationStoreMock struct {
	findByPairFn          func(ctx context.Context, eventID, studentID string) (*models.Registration, error)
	deleteFn              func(ctx context.Context, id string) error
	findConflictFn        func(ctx context.Context, studentID string, start, end time.Time, excludeEventID string) (*models.ConflictingEvent, error)
	createWithSeatFn      func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error)
	setQRCodeFn           func(ctx context.Context, id, qrCode string) error
	cancelWithPromotionFn func(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error)
	listByStudentFn       func(ctx context.Context, studentID string) ([]models.RegistrationDetail, error)
}

func (m *registrationStoreMock) FindByPair(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
	if m.findByPairFn == nil {
		return nil, sql.ErrNoRows
	}
	return m.findByPairFn(ctx, eventID, studentID)
}

func (m *registrationStoreMock) Delete(ctx context.Context, id string) error {
	if m.deleteFn == nil {
		return nil
	}
	return m.deleteFn(ctx, id)
}

func (m *registrationStoreMock) FindScheduleConflict(ctx context.Context, studentID string, start, end time.Time, excludeEventID string) (*models.ConflictingEvent, error) {
	if m.findConflictFn == nil {
		return nil, nil
	}
	return m.findConflictFn(ctx, studentID, start, end, excludeEventID)
}

func (m *registrationStoreMock) CreateWithSeat(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
	return m.createWithSeatFn(ctx, eventID, studentID)
}

func (m *registrationStoreMock) SetQRCode(ctx context.Context, id, qrCode string) error {
	if m.setQRCodeFn == nil {
		return nil
	}
	return m.setQRCodeFn(ctx, id, qrCode)
}

func (m *registrationStoreMock) CancelWithPromotion(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error) {
	return m.cancelWithPromotionFn(ctx, eventID, studentID, reason, details)
}

func (m *registrationStoreMock) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	return m.listByStudentFn(ctx, studentID)
}

type eventReaderMock struct {
	findByIDFn func(ctx context.Context, id string) (*models.Event, error)
}

func (m *eventReaderMock) FindByID(ctx context.Context, id string) (*models.Event, error) {
	return m.findByIDFn(ctx, id)
}

type userReaderMock struct {
	findByIDFn func(ctx context.Context, id string) (*models.User, error)
}

func (m *userReaderMock) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDFn == nil {
		return &models.User{ID: id, Email: id + "@campus.edu"}, nil
	}
	return m.findByIDFn(ctx, id)
}

type metricsRecorderMock struct {
	created  []models.RegistrationStatus
	promoted int
}

func (m *metricsRecorderMock) RegistrationCreated(status models.RegistrationStatus) {
	m.created = append(m.created, status)
}

func (m *metricsRecorderMock) WaitlistPromotion() { m.promoted++ }

func testEvent() *models.Event {
	start := time.Date(2026, 9, 10, 14, 0, 0, 0, time.UTC)
	return &models.Event{
		ID:             "evt-1",
		Title:          "Robotics Workshop",
		Venue:          "Lab 2",
		StartTime:      start,
		EndTime:        start.Add(2 * time.Hour),
		Capacity:       30,
		SeatsAvailable: 5,
		Status:         models.EventUpcoming,
	}
}

func newRegistrationService(store *registrationStoreMock, events *eventReaderMock, metrics *metricsRecorderMock) *RegistrationService {
	if events == nil {
		events = &eventReaderMock{findByIDFn: func(ctx context.Context, id string) (*models.Event, error) {
			return testEvent(), nil
		}}
	}
	var rec RegistrationMetrics
	if metrics != nil {
		rec = metrics
	}
	return NewRegistrationService(store, events, &userReaderMock{}, NewTicketService(nil), nil, nil, rec, nil)
}

func TestRegisterGrantsSeat(t *testing.T) {
	var storedQR string
	store := &registrationStoreMock{
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			return &models.Registration{ID: "reg-1", EventID: eventID, StudentID: studentID, Status: models.StatusRegistered}, 4, nil
		},
		setQRCodeFn: func(ctx context.Context, id, qrCode string) error {
			storedQR = qrCode
			return nil
		},
	}
	metrics := &metricsRecorderMock{}
	svc := newRegistrationService(store, nil, metrics)

	reg, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRegistered, reg.Status)
	require.NotNil(t, reg.QRCode)
	require.Equal(t, *reg.QRCode, storedQR)
	require.Contains(t, storedQR, "data:image/png;base64,")
	require.Equal(t, []models.RegistrationStatus{models.StatusRegistered}, metrics.created)
}

func TestRegisterWaitlistsWhenFullWithoutTicket(t *testing.T) {
	store := &registrationStoreMock{
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			return &models.Registration{ID: "reg-2", EventID: eventID, StudentID: studentID, Status: models.StatusWaitlisted}, 0, nil
		},
		setQRCodeFn: func(ctx context.Context, id, qrCode string) error {
			t.Fatal("waitlisted registration must not receive a ticket")
			return nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	reg, err := svc.Register(context.Background(), "evt-1", "stu-2")
	require.NoError(t, err)
	require.Equal(t, models.StatusWaitlisted, reg.Status)
	require.Nil(t, reg.QRCode)
}

func TestRegisterRejectsActivePair(t *testing.T) {
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-1", Status: models.StatusWaitlisted}, nil
		},
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			t.Fatal("must not insert while an active registration exists")
			return nil, 0, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	_, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyRegistered))
	require.Equal(t, models.StatusWaitlisted, appErrors.FromError(err).Details["status"])
}

func TestRegisterCooldownStillActive(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cancelledAt := now.Add(-14*time.Minute - 59*time.Second)
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-1", Status: models.StatusCancelled, CancelledAt: &cancelledAt}, nil
		},
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			t.Fatal("must not insert during cooldown")
			return nil, 0, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)
	svc.now = func() time.Time { return now }

	_, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrCooldownActive))
	// One second of cooldown left still rounds up to a whole minute.
	require.Equal(t, 1, appErrors.FromError(err).Details["retry_after_minutes"])
}

func TestRegisterCooldownElapsedPurgesStaleRow(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cancelledAt := now.Add(-15*time.Minute - time.Second)
	var purged string
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-stale", Status: models.StatusCancelled, CancelledAt: &cancelledAt}, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			purged = id
			return nil
		},
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			return &models.Registration{ID: "reg-new", EventID: eventID, StudentID: studentID, Status: models.StatusRegistered}, 3, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)
	svc.now = func() time.Time { return now }

	reg, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.NoError(t, err)
	require.Equal(t, "reg-stale", purged)
	require.Equal(t, "reg-new", reg.ID)
}

func TestRegisterScheduleConflict(t *testing.T) {
	store := &registrationStoreMock{
		findConflictFn: func(ctx context.Context, studentID string, start, end time.Time, excludeEventID string) (*models.ConflictingEvent, error) {
			return &models.ConflictingEvent{ID: "evt-9", Title: "Annual Debate", StartTime: start, EndTime: end}, nil
		},
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			t.Fatal("must not insert with a conflicting schedule")
			return nil, 0, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	_, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrScheduleConflict))
	require.Equal(t, "Annual Debate", appErrors.FromError(err).Details["conflicting_event_title"])
}

func TestRegisterMapsUniqueViolationToConflict(t *testing.T) {
	store := &registrationStoreMock{
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			return nil, 0, repository.ErrUniqueViolation
		},
	}
	svc := newRegistrationService(store, nil, nil)

	_, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyRegistered))
}

func TestRegisterRetriesSerializationFailure(t *testing.T) {
	attempts := 0
	store := &registrationStoreMock{
		createWithSeatFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
			attempts++
			if attempts < 3 {
				return nil, 0, &pq.Error{Code: "40001"}
			}
			return &models.Registration{ID: "reg-1", EventID: eventID, StudentID: studentID, Status: models.StatusRegistered}, 1, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	reg, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, models.StatusRegistered, reg.Status)
}

func TestRegisterEventCancelled(t *testing.T) {
	events := &eventReaderMock{findByIDFn: func(ctx context.Context, id string) (*models.Event, error) {
		event := testEvent()
		event.Status = models.EventCancelled
		return event, nil
	}}
	svc := newRegistrationService(&registrationStoreMock{}, events, nil)

	_, err := svc.Register(context.Background(), "evt-1", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrEventCancelled))
}

func TestRegisterEventNotFound(t *testing.T) {
	events := &eventReaderMock{findByIDFn: func(ctx context.Context, id string) (*models.Event, error) {
		return nil, sql.ErrNoRows
	}}
	svc := newRegistrationService(&registrationStoreMock{}, events, nil)

	_, err := svc.Register(context.Background(), "evt-missing", "stu-1")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCancelPromotesWaitlistHead(t *testing.T) {
	now := time.Now().UTC()
	promotedQR := ""
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-1", Status: models.StatusRegistered}, nil
		},
		cancelWithPromotionFn: func(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error) {
			return &repository.CancelOutcome{
				Cancelled: &models.Registration{ID: "reg-1", EventID: eventID, StudentID: studentID,
					Status: models.StatusCancelled, CancelledAt: &now},
				Promoted: &models.Registration{ID: "reg-2", EventID: eventID, StudentID: "stu-2",
					Status: models.StatusRegistered},
				FreedSeat:       true,
				SeatsAvailable:  0,
				TotalRegistered: 1,
			}, nil
		},
		setQRCodeFn: func(ctx context.Context, id, qrCode string) error {
			require.Equal(t, "reg-2", id)
			promotedQR = qrCode
			return nil
		},
	}
	metrics := &metricsRecorderMock{}
	svc := newRegistrationService(store, nil, metrics)

	outcome, err := svc.Cancel(context.Background(), "evt-1", "stu-1", "Change of Plans", "")
	require.NoError(t, err)
	require.NotNil(t, outcome.Promoted)
	require.Equal(t, 1, metrics.promoted)
	require.NotEmpty(t, promotedQR)
	require.Equal(t, models.StatusCancelled, outcome.Cancelled.Status)
}

func TestCancelAlreadyCancelled(t *testing.T) {
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-1", Status: models.StatusCancelled}, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	_, err := svc.Cancel(context.Background(), "evt-1", "stu-1", "Change of Plans", "")
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyCancelled))
}

func TestCancelLosingRaceReportsAlreadyCancelled(t *testing.T) {
	attempts := 0
	store := &registrationStoreMock{
		findByPairFn: func(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
			return &models.Registration{ID: "reg-1", Status: models.StatusRegistered}, nil
		},
		cancelWithPromotionFn: func(ctx context.Context, eventID, studentID, reason, details string) (*repository.CancelOutcome, error) {
			// A second cancel for the same pair committed first.
			attempts++
			return nil, repository.ErrNoActiveRegistration
		},
	}
	svc := newRegistrationService(store, nil, nil)

	_, err := svc.Cancel(context.Background(), "evt-1", "stu-1", "Change of Plans", "")
	require.True(t, appErrors.Is(err, appErrors.ErrAlreadyCancelled))
	require.Equal(t, 1, attempts)
}

func TestCancelRegistrationNotFound(t *testing.T) {
	svc := newRegistrationService(&registrationStoreMock{}, nil, nil)

	_, err := svc.Cancel(context.Background(), "evt-1", "stu-1", "Change of Plans", "")
	require.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestListMine(t *testing.T) {
	store := &registrationStoreMock{
		listByStudentFn: func(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
			return []models.RegistrationDetail{{EventTitle: "Robotics Workshop"}}, nil
		},
	}
	svc := newRegistrationService(store, nil, nil)

	details, err := svc.ListMine(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
}
