package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-events-api/internal/models"
)

// RegistrationRepository handles persistence of registrations. It is also the
// only writer of events.seats_available outside explicit capacity changes:
// seat claims and releases happen inside its transactions so the capacity
// invariant can never be observed mid-flight.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `id, event_id, student_id, status, qr_code, cancelled_at,
        cancellation_reason, cancellation_details, created_at, updated_at`

// CancelOutcome reports what a cancellation transaction did.
type CancelOutcome struct {
	Cancelled       *models.Registration
	Promoted        *models.Registration
	FreedSeat       bool
	SeatsAvailable  int
	TotalRegistered int
}

// FindByPair returns the most recent registration row for the (event, student)
// pair, or sql.ErrNoRows.
func (r *RegistrationRepository) FindByPair(ctx context.Context, eventID, studentID string) (*models.Registration, error) {
	query := fmt.Sprintf(`SELECT %s FROM registrations WHERE event_id = $1 AND student_id = $2
        ORDER BY created_at DESC, id DESC LIMIT 1`, registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, eventID, studentID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Delete removes a registration row outright. Used to purge a cancelled row
// once its cooldown has expired so the pair can register afresh.
func (r *RegistrationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

// FindScheduleConflict reports the first event overlapping the candidate
// window among the student's registered events. Overlap is open-interval:
// back-to-back events sharing a boundary instant do not conflict. Returns
// (nil, nil) when the window is clear.
func (r *RegistrationRepository) FindScheduleConflict(ctx context.Context, studentID string, start, end time.Time, excludeEventID string) (*models.ConflictingEvent, error) {
	query := `SELECT e.id, e.title, e.start_time, e.end_time
        FROM registrations r
        JOIN events e ON e.id = r.event_id
        WHERE r.student_id = $1 AND r.status = $2
          AND e.end_time > $3 AND e.start_time < $4`
	args := []interface{}{studentID, models.StatusRegistered, start, end}
	if excludeEventID != "" {
		query += fmt.Sprintf(" AND e.id <> $%d", len(args)+1)
		args = append(args, excludeEventID)
	}
	query += " LIMIT 1"

	var conflict models.ConflictingEvent
	if err := r.db.GetContext(ctx, &conflict, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find schedule conflict: %w", err)
	}
	return &conflict, nil
}

// CreateWithSeat atomically decides the seat and inserts the registration:
// the conditional decrement only succeeds while seats remain, so two
// concurrent attempts against the last seat produce exactly one registered
// and one waitlisted row. A violation of the active-pair unique index is
// surfaced as ErrUniqueViolation.
func (r *RegistrationRepository) CreateWithSeat(ctx context.Context, eventID, studentID string) (*models.Registration, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE events SET seats_available = seats_available - 1, updated_at = NOW()
         WHERE id = $1 AND seats_available > 0`, eventID)
	if err != nil {
		return nil, 0, fmt.Errorf("claim seat: %w", err)
	}
	claimed, _ := res.RowsAffected()

	status := models.StatusWaitlisted
	if claimed > 0 {
		status = models.StatusRegistered
	}

	now := time.Now().UTC()
	reg := &models.Registration{
		ID:        uuid.NewString(),
		EventID:   eventID,
		StudentID: studentID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO registrations (id, event_id, student_id, status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		reg.ID, reg.EventID, reg.StudentID, reg.Status, reg.CreatedAt, reg.UpdatedAt); err != nil {
		return nil, 0, mapUniqueViolation(err)
	}

	var seats int
	if err := tx.GetContext(ctx, &seats, `SELECT seats_available FROM events WHERE id = $1`, eventID); err != nil {
		return nil, 0, fmt.Errorf("read seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit register: %w", err)
	}
	return reg, seats, nil
}

// SetQRCode attaches the encoded ticket after the registration has committed.
// Ticket issuance is best-effort, so failures here never undo a registration.
func (r *RegistrationRepository) SetQRCode(ctx context.Context, id, qrCode string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE registrations SET qr_code = $2, updated_at = NOW() WHERE id = $1`, id, qrCode); err != nil {
		return fmt.Errorf("set qr code: %w", err)
	}
	return nil
}

// CancelWithPromotion cancels the pair's active registration and, when it
// held a seat, promotes the waitlist head inside the same transaction. The
// event row is locked first so concurrent registrations observe either the
// pre-cancellation or the post-promotion state, never a seat that is free
// but not yet offered to the waitlist.
func (r *RegistrationRepository) CancelWithPromotion(ctx context.Context, eventID, studentID, reason, details string) (*CancelOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var event models.Event
	if err := tx.GetContext(ctx, &event,
		`SELECT id, capacity, seats_available FROM events WHERE id = $1 FOR UPDATE`, eventID); err != nil {
		return nil, fmt.Errorf("lock event: %w", err)
	}

	var reg models.Registration
	query := fmt.Sprintf(`SELECT %s FROM registrations
        WHERE event_id = $1 AND student_id = $2 AND status <> $3
        ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`, registrationColumns)
	if err := tx.GetContext(ctx, &reg, query, eventID, studentID, models.StatusCancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The row was cancelled or purged between the caller's check and
			// this lock.
			return nil, ErrNoActiveRegistration
		}
		return nil, fmt.Errorf("load registration: %w", err)
	}

	outcome := &CancelOutcome{}

	if reg.Status == models.StatusRegistered {
		outcome.FreedSeat = true
		if event.SeatsAvailable < event.Capacity {
			event.SeatsAvailable++
		}

		var head models.Registration
		headQuery := fmt.Sprintf(`SELECT %s FROM registrations
            WHERE event_id = $1 AND status = $2
            ORDER BY created_at, id LIMIT 1 FOR UPDATE SKIP LOCKED`, registrationColumns)
		err := tx.GetContext(ctx, &head, headQuery, eventID, models.StatusWaitlisted)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE registrations SET status = $2, updated_at = NOW() WHERE id = $1`,
				head.ID, models.StatusRegistered); err != nil {
				return nil, fmt.Errorf("promote waitlisted: %w", err)
			}
			head.Status = models.StatusRegistered
			outcome.Promoted = &head
			if event.SeatsAvailable > 0 {
				event.SeatsAvailable--
			}
		case errors.Is(err, sql.ErrNoRows):
			// Nobody waitlisted; the freed seat stays available.
		default:
			return nil, fmt.Errorf("select waitlist head: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE events SET seats_available = $2, updated_at = NOW() WHERE id = $1`,
			eventID, event.SeatsAvailable); err != nil {
			return nil, fmt.Errorf("write seats: %w", err)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE registrations SET status = $2, cancelled_at = $3, cancellation_reason = $4,
         cancellation_details = $5, updated_at = $3 WHERE id = $1`,
		reg.ID, models.StatusCancelled, now, reason, details); err != nil {
		return nil, fmt.Errorf("cancel registration: %w", err)
	}
	reg.Status = models.StatusCancelled
	reg.CancelledAt = &now
	reg.CancellationReason = &reason
	reg.CancellationDetails = &details
	outcome.Cancelled = &reg
	outcome.SeatsAvailable = event.SeatsAvailable

	if err := tx.GetContext(ctx, &outcome.TotalRegistered,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`,
		eventID, models.StatusRegistered); err != nil {
		return nil, fmt.Errorf("count registered: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return outcome, nil
}

// CountByStatus returns how many registrations an event holds in a status.
func (r *RegistrationRepository) CountByStatus(ctx context.Context, eventID string, status models.RegistrationStatus) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`, eventID, status); err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return count, nil
}

// ListByStudent returns the student's registrations joined with their events,
// newest first.
func (r *RegistrationRepository) ListByStudent(ctx context.Context, studentID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.event_id, r.student_id, r.status, r.qr_code, r.cancelled_at,
        r.cancellation_reason, r.cancellation_details, r.created_at, r.updated_at,
        e.title AS event_title, e.venue AS event_venue, e.start_time AS event_start,
        e.end_time AS event_end, e.status AS event_status
        FROM registrations r
        JOIN events e ON e.id = r.event_id
        WHERE r.student_id = $1
        ORDER BY r.created_at DESC`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, studentID); err != nil {
		return nil, fmt.Errorf("list student registrations: %w", err)
	}
	return details, nil
}

// ListActiveByEvent returns active registrations with student contact info,
// in waitlist order. Serves the organizer roster, its export, and the
// cascade-delete notification fan-out.
func (r *RegistrationRepository) ListActiveByEvent(ctx context.Context, eventID string) ([]models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.event_id, r.student_id, r.status, r.qr_code, r.cancelled_at,
        r.cancellation_reason, r.cancellation_details, r.created_at, r.updated_at,
        e.title AS event_title, e.venue AS event_venue, e.start_time AS event_start,
        e.end_time AS event_end, e.status AS event_status,
        u.full_name AS student_name, u.email AS student_email
        FROM registrations r
        JOIN events e ON e.id = r.event_id
        JOIN users u ON u.id = r.student_id
        WHERE r.event_id = $1 AND r.status IN ($2, $3)
        ORDER BY r.created_at, r.id`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, eventID, models.StatusRegistered, models.StatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list event registrations: %w", err)
	}
	return details, nil
}

// ListRemindersDue returns registered attendees of events starting inside the
// window, for the daily reminder sweep.
func (r *RegistrationRepository) ListRemindersDue(ctx context.Context, from, to time.Time) ([]models.RegistrationDetail, error) {
	const query = `SELECT r.id, r.event_id, r.student_id, r.status, r.qr_code, r.cancelled_at,
        r.cancellation_reason, r.cancellation_details, r.created_at, r.updated_at,
        e.title AS event_title, e.venue AS event_venue, e.start_time AS event_start,
        e.end_time AS event_end, e.status AS event_status,
        u.full_name AS student_name, u.email AS student_email
        FROM registrations r
        JOIN events e ON e.id = r.event_id
        JOIN users u ON u.id = r.student_id
        WHERE r.status = $1 AND e.start_time >= $2 AND e.start_time < $3`
	var details []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &details, query, models.StatusRegistered, from, to); err != nil {
		return nil, fmt.Errorf("list reminders due: %w", err)
	}
	return details, nil
}
