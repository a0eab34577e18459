package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablebook/internal/models"
	"tablebook/internal/repository"
)

var _ repository.Store = (*DB)(nil)

const bookingColumns = `id, restaurant_id, table_id, client_id, date, time_slot, guests,
	status, payment_status, total_price, special_requests, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                   models.Booking
		date, slot          string
		status, payment     string
		specialRequests     sql.NullString
		createdAt, updateAt time.Time
	)
	err := row.Scan(
		&b.ID, &b.RestaurantID, &b.TableID, &b.ClientID, &date, &slot, &b.Guests,
		&status, &payment, &b.TotalPrice, &specialRequests, &createdAt, &updateAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	d, err := models.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	b.Date = d
	b.TimeSlot = models.TimeSlot(slot)
	b.Status = models.BookingStatus(status)
	b.PaymentStatus = models.PaymentStatus(payment)
	b.SpecialRequests = specialRequests.String
	b.CreatedAt = createdAt.UTC()
	b.UpdatedAt = updateAt.UTC()
	return &b, nil
}

func (db *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.Version == 0 {
		b.Version = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RestaurantID, b.TableID, b.ClientID, b.Date.String(), string(b.TimeSlot), b.Guests,
		string(b.Status), string(b.PaymentStatus), b.TotalPrice, b.SpecialRequests,
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(), b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return b, nil
}

// UpdateBooking writes the mutable fields guarded by the version column.
func (db *DB) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = ?, payment_status = ?, guests = ?, total_price = ?, special_requests = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(b.Status), string(b.PaymentStatus), b.Guests, b.TotalPrice, b.SpecialRequests,
		b.UpdatedAt.UTC(), b.ID, expectedVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("update booking %s: %w", b.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, b.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrBookingNotFound
		}
		if err != nil {
			return fmt.Errorf("update booking %s: %w", b.ID, err)
		}
		return models.ErrConcurrentModification
	}

	b.Version = expectedVersion + 1
	return nil
}

func (db *DB) ListBookings(ctx context.Context, filter repository.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if filter.RestaurantID != "" {
		where = append(where, "restaurant_id = ?")
		args = append(args, filter.RestaurantID)
	}
	if filter.TableID != "" {
		where = append(where, "table_id = ?")
		args = append(args, filter.TableID)
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, filter.To.String())
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date, time_slot, table_id, created_at`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (db *DB) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	return db.ListBookings(ctx, repository.BookingFilter{Statuses: models.ActiveStatuses})
}
