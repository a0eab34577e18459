package sweeper

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/availability"
	"tablebook/internal/booking"
	"tablebook/internal/conflict"
	"tablebook/internal/models"
	"tablebook/internal/repository"
	"tablebook/internal/slots"
)

func TestSweeper_RunOnce(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	store := repository.NewMemoryStore()
	for _, id := range []string{"T1", "T2", "T3"} {
		require.NoError(t, store.UpsertTable(ctx, &models.Table{
			ID: id, RestaurantID: "R1", Name: id, Capacity: 4,
			Type: models.TableIndoor, Status: models.TableAvailable,
		}))
	}
	catalog, err := slots.NewCatalog([]string{"12:00-14:00", "18:00-20:00", "20:00-22:00"}, time.UTC)
	require.NoError(t, err)
	index := conflict.NewIndex(conflict.NewLocalLocker(), time.Second, &logger)
	checker := availability.NewChecker(store, index, catalog, &logger)
	lifecycle := booking.NewLifecycle(store, checker, index, nil, booking.Config{DepositPerGuest: 100}, &logger)

	create := func(table, slot string) *models.Booking {
		b, err := lifecycle.CreateBooking(ctx, booking.CreateRequest{
			RestaurantID: "R1", TableID: table, ClientID: "C1",
			Date: models.MustParseDate("2024-05-01"), TimeSlot: models.TimeSlot(slot), Guests: 2,
		})
		require.NoError(t, err)
		return b
	}

	lunch := create("T1", "12:00-14:00")
	_, err = lifecycle.Transition(ctx, lunch.ID, models.StatusConfirmed)
	require.NoError(t, err)
	unconfirmed := create("T2", "18:00-20:00")
	late := create("T3", "20:00-22:00")

	s := New(Config{Grace: 30 * time.Minute, Parallelism: 2}, store, lifecycle, catalog, &logger)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC) }

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Completed: 1, Expired: 1}, res)

	got, err := store.GetBooking(ctx, lunch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	got, err = store.GetBooking(ctx, unconfirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	got, err = store.GetBooking(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	assert.False(t, index.IsOccupied(lunch.Key()))
	assert.False(t, index.IsOccupied(unconfirmed.Key()))
	assert.True(t, index.IsOccupied(late.Key()))

	// nothing left to do until the late slot is over
	res, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

type mockTransitioner struct {
	mock.Mock
}

func (m *mockTransitioner) Transition(ctx context.Context, id string, target models.BookingStatus) (*models.Booking, error) {
	args := m.Called(ctx, id, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type fixedClock struct{}

func (fixedClock) Ends(date models.Date, slot models.TimeSlot) (time.Time, error) {
	_, end, err := slot.Bounds(date, time.UTC)
	return end, err
}

func TestSweeper_Outcomes(t *testing.T) {
	ctx := context.Background()
	day := models.MustParseDate("2024-05-01")

	source := new(mockSource)
	source.On("ListActiveBookings", mock.Anything).Return([]models.Booking{
		{ID: "moved", Date: day, TimeSlot: "12:00-14:00", Status: models.StatusConfirmed},
		{ID: "broken", Date: day, TimeSlot: "12:00-14:00", Status: models.StatusPending},
		{ID: "garbled", Date: day, TimeSlot: "noon", Status: models.StatusPending},
	}, nil)

	lifecycle := new(mockTransitioner)
	lifecycle.On("Transition", mock.Anything, "moved", models.StatusCompleted).
		Return(nil, &models.TransitionError{From: models.StatusCancelled, To: models.StatusCompleted})
	lifecycle.On("Transition", mock.Anything, "broken", models.StatusCancelled).
		Return(nil, errors.New("store unavailable"))

	s := New(Config{}, source, lifecycle, fixedClock{}, nil)
	s.now = func() time.Time { return time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC) }

	res, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2, Failed: 1}, res)
	lifecycle.AssertExpectations(t)
}

func TestSweeper_ListError(t *testing.T) {
	source := new(mockSource)
	source.On("ListActiveBookings", mock.Anything).Return(nil, errors.New("boom"))

	s := New(Config{}, source, new(mockTransitioner), fixedClock{}, nil)
	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "boom")
}

type countingSource struct {
	calls atomic.Int32
}

func (c *countingSource) ListActiveBookings(context.Context) ([]models.Booking, error) {
	c.calls.Add(1)
	return nil, nil
}

func TestSweeper_StartStop(t *testing.T) {
	source := &countingSource{}

	s := New(Config{Interval: 10 * time.Millisecond}, source, new(mockTransitioner), fixedClock{}, nil)
	s.Start()
	s.Start()

	assert.Eventually(t, func() bool {
		return source.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}
