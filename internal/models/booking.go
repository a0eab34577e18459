package models

import (
	"fmt"
	"strings"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

// ActiveStatuses are the statuses that hold a slot.
var ActiveStatuses = []BookingStatus{StatusPending, StatusConfirmed}

// ParseBookingStatus converts an API value into a BookingStatus.
func ParseBookingStatus(s string) (BookingStatus, error) {
	switch BookingStatus(strings.TrimSpace(s)) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return BookingStatus(strings.TrimSpace(s)), nil
	case "noShow", "noshow":
		return StatusNoShow, nil
	case "canceled":
		return StatusCancelled, nil
	default:
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown booking status %q", s)}
	}
}

// IsActive reports whether a booking in this status occupies its slot.
func (s BookingStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// IsTerminal reports whether no further transitions are possible.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// PaymentStatus tracks the money side of a booking, independent of its lifecycle.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(strings.TrimSpace(s)) {
	case PaymentUnpaid, PaymentPaid, PaymentRefunded:
		return PaymentStatus(strings.TrimSpace(s)), nil
	default:
		return "", &ValidationError{Field: "paymentStatus", Message: fmt.Sprintf("unknown payment status %q", s)}
	}
}

// Booking is a reservation of one table for one service slot on one date.
type Booking struct {
	ID              string        `json:"id"`
	RestaurantID    string        `json:"restaurantId"`
	TableID         string        `json:"tableId"`
	ClientID        string        `json:"clientId"`
	Date            Date          `json:"date"`
	TimeSlot        TimeSlot      `json:"timeSlot"`
	Guests          int           `json:"guests"`
	Status          BookingStatus `json:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	TotalPrice      int64         `json:"totalPrice"` // minor currency units
	SpecialRequests string        `json:"specialRequests,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Version         int64         `json:"version"`
}

// Key returns the conflict key the booking occupies while active.
func (b *Booking) Key() SlotKey {
	return SlotKey{TableID: b.TableID, Date: b.Date, TimeSlot: b.TimeSlot}
}

// IsActive reports whether the booking currently holds its slot.
func (b *Booking) IsActive() bool {
	return b.Status.IsActive()
}

// SlotKey identifies a bookable unit: one table, one date, one service slot.
type SlotKey struct {
	TableID  string
	Date     Date
	TimeSlot TimeSlot
}

func (k SlotKey) String() string {
	return k.TableID + "|" + k.Date.String() + "|" + string(k.TimeSlot)
}
