// Package booking implements the booking lifecycle: creation, status transitions
// and payment updates.
package booking

import "tablebook/internal/models"

// FSM manages booking status transitions.
type FSM struct {
	transitions map[models.BookingStatus][]models.BookingStatus
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.BookingStatus][]models.BookingStatus{
			models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
			models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted, models.StatusNoShow},
			models.StatusCancelled: nil,
			models.StatusCompleted: nil,
			models.StatusNoShow:    nil,
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to models.BookingStatus) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Allowed lists the statuses reachable from from.
func (f *FSM) Allowed(from models.BookingStatus) []models.BookingStatus {
	out := make([]models.BookingStatus, len(f.transitions[from]))
	copy(out, f.transitions[from])
	return out
}

// Known reports whether s is a status the machine knows about.
func (f *FSM) Known(s models.BookingStatus) bool {
	_, ok := f.transitions[s]
	return ok
}
