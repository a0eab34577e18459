// Package events carries booking notifications from the lifecycle to its subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tablebook/internal/models"
)

// Type names an event kind.
type Type string

const (
	BookingCreated       Type = "booking.created"
	BookingStatusChanged Type = "booking.status_changed"
)

// Event represents a lightweight domain event.
type Event struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	RestaurantID string          `json:"restaurantId"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// BookingEvent is the payload of both booking event types.
type BookingEvent struct {
	BookingID    string               `json:"bookingId"`
	RestaurantID string               `json:"restaurantId"`
	TableID      string               `json:"tableId"`
	Date         models.Date          `json:"date"`
	TimeSlot     models.TimeSlot      `json:"timeSlot"`
	OldStatus    models.BookingStatus `json:"oldStatus,omitempty"`
	NewStatus    models.BookingStatus `json:"newStatus"`
}

// Handler reacts to an event. A returned error schedules a redelivery.
type Handler func(ctx context.Context, event Event) error

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(event Event)
}

// NewBookingEvent builds an event describing b. oldStatus is empty for creations.
func NewBookingEvent(t Type, b *models.Booking, oldStatus models.BookingStatus) (Event, error) {
	payload, err := json.Marshal(BookingEvent{
		BookingID:    b.ID,
		RestaurantID: b.RestaurantID,
		TableID:      b.TableID,
		Date:         b.Date,
		TimeSlot:     b.TimeSlot,
		OldStatus:    oldStatus,
		NewStatus:    b.Status,
	})
	if err != nil {
		return Event{}, fmt.Errorf("marshal booking event: %w", err)
	}
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		RestaurantID: b.RestaurantID,
		Payload:      payload,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Booking decodes the payload of a booking event.
func (e Event) Booking() (BookingEvent, error) {
	var be BookingEvent
	if err := json.Unmarshal(e.Payload, &be); err != nil {
		return BookingEvent{}, fmt.Errorf("decode booking event %s: %w", e.ID, err)
	}
	return be, nil
}
