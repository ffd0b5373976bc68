package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrUniqueViolation is returned when an insert trips the partial unique
// index guarding "one active registration per (event, student)".
var ErrUniqueViolation = errors.New("unique constraint violation")

// ErrCapacityBelowBooked is returned when an event update would shrink
// capacity below the seats already booked.
var ErrCapacityBelowBooked = errors.New("capacity below booked seats")

// ErrNoActiveRegistration is returned when a cancellation finds no active
// row for the pair inside the transaction.
var ErrNoActiveRegistration = errors.New("no active registration")

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ErrUniqueViolation
	}
	return err
}

// IsRetryable reports whether the error is a transient conflict (serialization
// failure or deadlock) that the caller may retry a bounded number of times.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	code := string(pqErr.Code)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}
