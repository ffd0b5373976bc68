package models

import "time"

// RegistrationStatus is the seat-allocation state of one registration.
// cancelled is terminal; a banned pair re-registers via delete-and-recreate
// once the cooldown has elapsed, never by reactivating the cancelled row.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusWaitlisted RegistrationStatus = "waitlisted"
	StatusCancelled  RegistrationStatus = "cancelled"
)

// Active reports whether the status occupies the unique (event, student) slot.
func (s RegistrationStatus) Active() bool {
	return s == StatusRegistered || s == StatusWaitlisted
}

// Registration is one student's registration attempt for one event.
// Waitlist order is the explicit total order (created_at, id) ascending.
type Registration struct {
	ID                  string             `db:"id" json:"id"`
	EventID             string             `db:"event_id" json:"event_id"`
	StudentID           string             `db:"student_id" json:"student_id"`
	Status              RegistrationStatus `db:"status" json:"status"`
	QRCode              *string            `db:"qr_code" json:"qr_code,omitempty"`
	CancelledAt         *time.Time         `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason  *string            `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancellationDetails *string            `db:"cancellation_details" json:"cancellation_details,omitempty"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// RegistrationDetail joins a registration with its event for student-facing
// listings and with the student profile for organizer rosters.
type RegistrationDetail struct {
	Registration
	EventTitle   string      `db:"event_title" json:"event_title"`
	EventVenue   string      `db:"event_venue" json:"event_venue"`
	EventStart   time.Time   `db:"event_start" json:"event_start"`
	EventEnd     time.Time   `db:"event_end" json:"event_end"`
	EventStatus  EventStatus `db:"event_status" json:"event_status"`
	StudentName  string      `db:"student_name" json:"student_name,omitempty"`
	StudentEmail string      `db:"student_email" json:"student_email,omitempty"`
}
