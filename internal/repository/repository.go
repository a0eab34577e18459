// Package repository defines the persistence contracts for bookings and tables and
// provides the in-memory and gorm-backed implementations.
package repository

import (
	"context"

	"tablebook/internal/models"
)

// BookingFilter narrows ListBookings. Zero fields match everything.
type BookingFilter struct {
	RestaurantID string
	TableID      string
	ClientID     string
	From         models.Date // inclusive
	To           models.Date // inclusive
	Statuses     []models.BookingStatus
	Limit        int
}

// Matches reports whether b satisfies the filter.
func (f BookingFilter) Matches(b *models.Booking) bool {
	if f.RestaurantID != "" && b.RestaurantID != f.RestaurantID {
		return false
	}
	if f.TableID != "" && b.TableID != f.TableID {
		return false
	}
	if f.ClientID != "" && b.ClientID != f.ClientID {
		return false
	}
	if !f.From.IsZero() && b.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && b.Date.After(f.To) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if b.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// BookingStore persists bookings.
//
// CreateBooking fails with models.ErrConflict when another active booking holds the key.
// UpdateBooking is a compare-and-swap on Version: it fails with
// models.ErrConcurrentModification if the stored version differs from expectedVersion,
// and on success the stored and passed booking carry expectedVersion+1.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]models.Booking, error)
	ListActiveBookings(ctx context.Context) ([]models.Booking, error)
}

// TableStore persists tables. Tables are never removed, only marked maintenance.
type TableStore interface {
	GetTable(ctx context.Context, id string) (*models.Table, error)
	ListTables(ctx context.Context, restaurantID string) ([]models.Table, error)
	ListAllTables(ctx context.Context) ([]models.Table, error)
	UpsertTable(ctx context.Context, t *models.Table) error
	UpdateTableStatus(ctx context.Context, id string, status models.TableStatus) (*models.Table, error)
}

// Store is the full persistence collaborator.
type Store interface {
	BookingStore
	TableStore
	Ping(ctx context.Context) error
	Close() error
}
