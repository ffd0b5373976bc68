package models

import "time"

// EventCategory classifies events for search and filtering.
type EventCategory string

const (
	CategoryTechnical EventCategory = "Technical"
	CategoryCultural  EventCategory = "Cultural"
	CategorySports    EventCategory = "Sports"
	CategoryAcademic  EventCategory = "Academic"
	CategorySocial    EventCategory = "Social"
)

// EventStatus is the advisory lifecycle tag. Seat logic does not gate on it,
// but cancelled events are not registrable.
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Event represents a campus event with finite seating.
//
// Invariant: 0 <= SeatsAvailable <= Capacity, and at rest
// SeatsAvailable == Capacity - count(registered registrations).
type Event struct {
	ID             string        `db:"id" json:"id"`
	Title          string        `db:"title" json:"title"`
	Description    string        `db:"description" json:"description"`
	Category       EventCategory `db:"category" json:"category"`
	OrganizerID    string        `db:"organizer_id" json:"organizer_id"`
	Venue          string        `db:"venue" json:"venue"`
	StartTime      time.Time     `db:"start_time" json:"start_time"`
	EndTime        time.Time     `db:"end_time" json:"end_time"`
	Capacity       int           `db:"capacity" json:"capacity"`
	SeatsAvailable int           `db:"seats_available" json:"seats_available"`
	Price          float64       `db:"price" json:"price"`
	ImageURL       string        `db:"image_url" json:"image_url"`
	IsPaid         bool          `db:"is_paid" json:"is_paid"`
	Status         EventStatus   `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// EventFilter captures filtering criteria for listing events.
type EventFilter struct {
	Category EventCategory
	Search   string
	Page     int
	PageSize int
}

// ConflictingEvent names the event that blocks a registration attempt.
type ConflictingEvent struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	StartTime time.Time `db:"start_time" json:"start_time"`
	EndTime   time.Time `db:"end_time" json:"end_time"`
}
