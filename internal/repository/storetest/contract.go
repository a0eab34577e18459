// Package storetest holds the behaviour every repository.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/models"
	"tablebook/internal/repository"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) repository.Store

func booking(id, table, date, slot string, status models.BookingStatus) *models.Booking {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Booking{
		ID:            id,
		RestaurantID:  "R1",
		TableID:       table,
		ClientID:      "C1",
		Date:          models.MustParseDate(date),
		TimeSlot:      models.TimeSlot(slot),
		Guests:        2,
		Status:        status,
		PaymentStatus: models.PaymentUnpaid,
		TotalPrice:    1000,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// Run exercises the Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("booking round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b := booking("b1", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)
		b.SpecialRequests = "window seat"
		require.NoError(t, s.CreateBooking(ctx, b))

		got, err := s.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, b.TableID, got.TableID)
		assert.Equal(t, b.Date, got.Date)
		assert.Equal(t, b.TimeSlot, got.TimeSlot)
		assert.Equal(t, "window seat", got.SpecialRequests)
		assert.Equal(t, int64(1000), got.TotalPrice)
		assert.Equal(t, int64(1), got.Version)

		_, err = s.GetBooking(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrBookingNotFound)
	})

	t.Run("one active booking per key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateBooking(ctx, booking("b1", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)))
		err := s.CreateBooking(ctx, booking("b2", "T1", "2024-05-01", "18:00-20:00", models.StatusConfirmed))
		assert.ErrorIs(t, err, models.ErrConflict)

		// inactive rows never collide
		require.NoError(t, s.CreateBooking(ctx, booking("b3", "T1", "2024-05-01", "18:00-20:00", models.StatusCancelled)))
		require.NoError(t, s.CreateBooking(ctx, booking("b4", "T1", "2024-05-01", "20:00-22:00", models.StatusPending)))
	})

	t.Run("compare and swap update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateBooking(ctx, booking("b1", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)))

		b, err := s.GetBooking(ctx, "b1")
		require.NoError(t, err)
		b.Status = models.StatusConfirmed
		require.NoError(t, s.UpdateBooking(ctx, b, 1))
		assert.Equal(t, int64(2), b.Version)

		stale := *b
		stale.Status = models.StatusCancelled
		assert.ErrorIs(t, s.UpdateBooking(ctx, &stale, 1), models.ErrConcurrentModification)

		got, err := s.GetBooking(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, got.Status)
		assert.Equal(t, int64(2), got.Version)

		missing := booking("ghost", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)
		assert.ErrorIs(t, s.UpdateBooking(ctx, missing, 1), models.ErrBookingNotFound)
	})

	t.Run("cancel frees the key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateBooking(ctx, booking("b1", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)))
		b, err := s.GetBooking(ctx, "b1")
		require.NoError(t, err)
		b.Status = models.StatusCancelled
		require.NoError(t, s.UpdateBooking(ctx, b, b.Version))

		require.NoError(t, s.CreateBooking(ctx, booking("b2", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)))
	})

	t.Run("concurrent inserts for one key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := string(rune('a' + i))
				if err := s.CreateBooking(ctx, booking(id, "T1", "2024-05-01", "18:00-20:00", models.StatusPending)); err == nil {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("list bookings with filter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateBooking(ctx, booking("b1", "T1", "2024-05-01", "18:00-20:00", models.StatusPending)))
		require.NoError(t, s.CreateBooking(ctx, booking("b2", "T2", "2024-05-01", "12:00-14:00", models.StatusConfirmed)))
		require.NoError(t, s.CreateBooking(ctx, booking("b3", "T1", "2024-05-03", "18:00-20:00", models.StatusCancelled)))
		other := booking("b4", "T9", "2024-05-01", "18:00-20:00", models.StatusPending)
		other.RestaurantID = "R2"
		require.NoError(t, s.CreateBooking(ctx, other))

		all, err := s.ListBookings(ctx, repository.BookingFilter{RestaurantID: "R1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b2", "b1", "b3"}, ids(all))

		day, err := s.ListBookings(ctx, repository.BookingFilter{
			RestaurantID: "R1",
			From:         models.MustParseDate("2024-05-01"),
			To:           models.MustParseDate("2024-05-01"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b2", "b1"}, ids(day))

		active, err := s.ListActiveBookings(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b1", "b2", "b4"}, ids(active))

		limited, err := s.ListBookings(ctx, repository.BookingFilter{RestaurantID: "R1", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("tables", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		t1 := &models.Table{ID: "T1", RestaurantID: "R1", Name: "Window", Capacity: 4, Type: models.TableIndoor, Status: models.TableAvailable}
		require.NoError(t, s.UpsertTable(ctx, t1))
		require.NoError(t, s.UpsertTable(ctx, &models.Table{ID: "T2", RestaurantID: "R1", Name: "Bar", Capacity: 2, Type: models.TableBar, Status: models.TableAvailable}))
		require.NoError(t, s.UpsertTable(ctx, &models.Table{ID: "T3", RestaurantID: "R2", Name: "Patio", Capacity: 6, Type: models.TableOutdoor, Status: models.TableAvailable}))

		got, err := s.GetTable(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, "Window", got.Name)
		assert.Equal(t, models.TableIndoor, got.Type)

		t1.Capacity = 6
		require.NoError(t, s.UpsertTable(ctx, t1))
		got, err = s.GetTable(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, 6, got.Capacity)

		list, err := s.ListTables(ctx, "R1")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		all, err := s.ListAllTables(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		updated, err := s.UpdateTableStatus(ctx, "T2", models.TableMaintenance)
		require.NoError(t, err)
		assert.Equal(t, models.TableMaintenance, updated.Status)

		_, err = s.GetTable(ctx, "T404")
		assert.ErrorIs(t, err, models.ErrTableNotFound)
		_, err = s.UpdateTableStatus(ctx, "T404", models.TableCleaning)
		assert.ErrorIs(t, err, models.ErrTableNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func ids(list []models.Booking) []string {
	out := make([]string, 0, len(list))
	for _, b := range list {
		out = append(out, b.ID)
	}
	return out
}
