package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/campus-events-api/internal/models"
)

// EventRepository handles persistence of events.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, title, description, category, organizer_id, venue, start_time, end_time,
        capacity, seats_available, price, image_url, is_paid, status, created_at, updated_at`

// Create persists a new event. Seats available always start at capacity.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	event.SeatsAvailable = event.Capacity
	event.IsPaid = event.Price > 0
	if event.Status == "" {
		event.Status = models.EventUpcoming
	}
	const query = `INSERT INTO events (id, title, description, category, organizer_id, venue, start_time, end_time,
        capacity, seats_available, price, image_url, is_paid, status, created_at, updated_at)
        VALUES (:id, :title, :description, :category, :organizer_id, :venue, :start_time, :end_time,
        :capacity, :seats_available, :price, :image_url, :is_paid, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// FindByID returns an event by its ID.
func (r *EventRepository) FindByID(ctx context.Context, id string) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns events filtered by category and a case-insensitive title search.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM events%s ORDER BY start_time LIMIT %d OFFSET %d`,
		eventColumns, clause, size, offset)

	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM events" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}
	return events, total, nil
}

// Update persists mutable event fields in one statement. A capacity change
// moves seats_available by the capacity delta, so a seat claimed between the
// caller's read and this write stays claimed; the guard refuses to shrink
// capacity below the seats already booked. On success the event's
// SeatsAvailable reflects the committed row.
func (r *EventRepository) Update(ctx context.Context, event *models.Event) error {
	event.UpdatedAt = time.Now().UTC()
	event.IsPaid = event.Price > 0
	const query = `UPDATE events SET title = :title, description = :description, category = :category,
        venue = :venue, start_time = :start_time, end_time = :end_time,
        seats_available = seats_available + (:capacity - capacity), capacity = :capacity,
        price = :price, image_url = :image_url, is_paid = :is_paid, status = :status,
        updated_at = :updated_at
        WHERE id = :id AND capacity - seats_available <= :capacity
        RETURNING seats_available`
	rows, err := r.db.NamedQueryContext(ctx, query, event)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return ErrCapacityBelowBooked
	}
	if err := rows.Scan(&event.SeatsAvailable); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// DeleteCascade removes the event and all of its registrations in one
// transaction, returning how many registrations were removed. Callers must
// dispatch cancellation notices before invoking this.
func (r *EventRepository) DeleteCascade(ctx context.Context, id string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete event: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE event_id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete registrations: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete event: %w", err)
	}
	return int(removed), nil
}
