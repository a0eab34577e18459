package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrCapacityExceeded  = errors.New("guests exceed table capacity")
	ErrTableNotFound     = errors.New("table not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrSlotOccupied      = errors.New("slot is already booked")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict is returned when a reservation loses a race for its slot.
	ErrConflict = fmt.Errorf("reservation conflict: %w", ErrSlotOccupied)

	ErrConcurrentModification = errors.New("concurrent modification")
	ErrReserveTimeout         = errors.New("timed out waiting for slot lock")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError is an ErrInvalidTransition carrying the attempted move.
type TransitionError struct {
	From BookingStatus
	To   BookingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CapacityError is an ErrCapacityExceeded carrying the numbers involved.
type CapacityError struct {
	Guests   int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("guests %d exceed table capacity %d", e.Guests, e.Capacity)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}
