package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/availability"
	"tablebook/internal/conflict"
	"tablebook/internal/events"
	"tablebook/internal/models"
	"tablebook/internal/repository"
	"tablebook/internal/slots"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	index     *conflict.Index
	publisher *recordingPublisher
	svc       *Lifecycle
}

func newFixture(t *testing.T, store repository.BookingStore) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	tables := repository.NewMemoryStore()
	require.NoError(t, tables.UpsertTable(ctx, &models.Table{ID: "T1", RestaurantID: "R1", Name: "Window", Capacity: 4, Type: models.TableIndoor, Status: models.TableAvailable}))
	require.NoError(t, tables.UpsertTable(ctx, &models.Table{ID: "T2", RestaurantID: "R1", Name: "Hall", Capacity: 8, Type: models.TableIndoor, Status: models.TableAvailable}))
	if store == nil {
		store = tables
	}

	catalog, err := slots.NewCatalog([]string{"12:00-14:00", "18:00-20:00", "20:00-22:00"}, time.UTC)
	require.NoError(t, err)

	index := conflict.NewIndex(conflict.NewLocalLocker(), time.Second, &logger)
	checker := availability.NewChecker(tables, index, catalog, &logger)
	pub := &recordingPublisher{}
	svc := NewLifecycle(store, checker, index, pub, Config{DepositPerGuest: 500}, &logger)

	return &fixture{store: tables, index: index, publisher: pub, svc: svc}
}

func request(guests int) CreateRequest {
	return CreateRequest{
		RestaurantID: "R1",
		TableID:      "T1",
		ClientID:     "C1",
		Date:         models.MustParseDate("2024-05-01"),
		TimeSlot:     "18:00-20:00",
		Guests:       guests,
	}
}

func TestLifecycle_Scenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.CreateBooking(ctx, request(4))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, models.PaymentUnpaid, first.PaymentStatus)
	assert.Equal(t, int64(2000), first.TotalPrice)
	assert.NotEmpty(t, first.ID)

	_, err = f.svc.CreateBooking(ctx, request(2))
	assert.ErrorIs(t, err, models.ErrSlotOccupied)

	confirmed, err := f.svc.Transition(ctx, first.ID, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	_, err = f.svc.Transition(ctx, first.ID, models.StatusPending)
	var trErr *models.TransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, models.StatusConfirmed, trErr.From)

	_, err = f.svc.Transition(ctx, first.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, f.index.IsOccupied(first.Key()))

	second, err := f.svc.CreateBooking(ctx, request(3))
	require.NoError(t, err)
	assert.True(t, f.index.IsOccupied(second.Key()))

	before := f.index.Len()
	other := request(5)
	other.TimeSlot = "20:00-22:00"
	_, err = f.svc.CreateBooking(ctx, other)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
	assert.Equal(t, before, f.index.Len())

	assert.Equal(t, []events.Type{
		events.BookingCreated,
		events.BookingStatusChanged,
		events.BookingStatusChanged,
		events.BookingCreated,
	}, f.publisher.types())
}

func TestLifecycle_CreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(r *CreateRequest)
		wantErr error
	}{
		{"zero guests", func(r *CreateRequest) { r.Guests = 0 }, models.ErrValidation},
		{"negative guests", func(r *CreateRequest) { r.Guests = -2 }, models.ErrValidation},
		{"unknown slot", func(r *CreateRequest) { r.TimeSlot = "evening" }, models.ErrValidation},
		{"missing date", func(r *CreateRequest) { r.Date = models.Date{} }, models.ErrValidation},
		{"missing client", func(r *CreateRequest) { r.ClientID = " " }, models.ErrValidation},
		{"unknown table", func(r *CreateRequest) { r.TableID = "T404" }, models.ErrTableNotFound},
		{"other restaurant", func(r *CreateRequest) { r.RestaurantID = "R2" }, models.ErrTableNotFound},
		{"too many guests", func(r *CreateRequest) { r.Guests = 5 }, models.ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(2)
			tt.mutate(&req)
			_, err := f.svc.CreateBooking(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.index.Len())
		})
	}

	list, err := f.store.ListBookings(ctx, repository.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.publisher.types())
}

func TestLifecycle_ConcurrentCreate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	const attempts = 20
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateBooking(ctx, request(2))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, models.ErrSlotOccupied)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	active, err := f.store.ListActiveBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestLifecycle_CancelTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, request(2))
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, b.ID, models.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, b.ID, models.StatusCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := f.svc.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestLifecycle_TerminalStatusesFreeSlot(t *testing.T) {
	for _, target := range []models.BookingStatus{models.StatusCompleted, models.StatusNoShow} {
		t.Run(string(target), func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()

			b, err := f.svc.CreateBooking(ctx, request(2))
			require.NoError(t, err)
			_, err = f.svc.Transition(ctx, b.ID, models.StatusConfirmed)
			require.NoError(t, err)
			assert.True(t, f.index.IsOccupied(b.Key()))

			_, err = f.svc.Transition(ctx, b.ID, target)
			require.NoError(t, err)
			assert.False(t, f.index.IsOccupied(b.Key()))
		})
	}
}

func TestLifecycle_TransitionErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Transition(ctx, "missing", models.StatusConfirmed)
	assert.ErrorIs(t, err, models.ErrBookingNotFound)

	_, err = f.svc.Transition(ctx, "missing", models.BookingStatus("archived"))
	assert.ErrorIs(t, err, models.ErrValidation)

	b, err := f.svc.CreateBooking(ctx, request(2))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, b.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.True(t, f.index.IsOccupied(b.Key()))
}

func TestLifecycle_UpdatePayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b, err := f.svc.CreateBooking(ctx, request(2))
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, b.ID, models.StatusCancelled)
	require.NoError(t, err)

	updated, err := f.svc.UpdatePayment(ctx, b.ID, models.PaymentRefunded)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, updated.PaymentStatus)
	assert.Equal(t, models.StatusCancelled, updated.Status)

	_, err = f.svc.UpdatePayment(ctx, "missing", models.PaymentPaid)
	assert.ErrorIs(t, err, models.ErrBookingNotFound)

	_, err = f.svc.UpdatePayment(ctx, b.ID, models.PaymentStatus("stolen"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLifecycle_Recover(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	kept, err := f.svc.CreateBooking(ctx, request(2))
	require.NoError(t, err)
	gone := request(2)
	gone.TimeSlot = "12:00-14:00"
	cancelled, err := f.svc.CreateBooking(ctx, gone)
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, cancelled.ID, models.StatusCancelled)
	require.NoError(t, err)

	f.index.Reindex(nil)
	require.Equal(t, 0, f.index.Len())

	n, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.index.IsOccupied(kept.Key()))
}

func TestLifecycle_SharedStoreReplicas(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	store := repository.NewMemoryStore()
	require.NoError(t, store.UpsertTable(ctx, &models.Table{ID: "T1", RestaurantID: "R1", Name: "Window", Capacity: 4, Type: models.TableIndoor, Status: models.TableAvailable}))
	catalog, err := slots.NewCatalog([]string{"12:00-14:00", "18:00-20:00"}, time.UTC)
	require.NoError(t, err)
	locker := conflict.NewLocalLocker()

	replica := func() (*Lifecycle, *conflict.Index) {
		index := conflict.NewIndex(locker, time.Second, &logger)
		checker := availability.NewChecker(store, index, catalog, &logger)
		return NewLifecycle(store, checker, index, &recordingPublisher{}, Config{DepositPerGuest: 500}, &logger), index
	}
	a, indexA := replica()
	b, indexB := replica()

	first, err := a.CreateBooking(ctx, request(2))
	require.NoError(t, err)
	assert.True(t, indexA.IsOccupied(first.Key()))
	assert.False(t, indexB.IsOccupied(first.Key()))

	_, err = b.Transition(ctx, first.ID, models.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, indexA.IsOccupied(first.Key()))

	second, err := a.CreateBooking(ctx, request(3))
	require.NoError(t, err)
	holder, ok := indexA.Holder(second.Key())
	require.True(t, ok)
	assert.Equal(t, second.ID, holder)

	t.Run("booking held by the other replica", func(t *testing.T) {
		_, err := b.CreateBooking(ctx, request(2))
		assert.ErrorIs(t, err, models.ErrConflict)
		assert.False(t, indexB.IsOccupied(second.Key()))
	})
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	b := *args.Get(0).(*models.Booking)
	return &b, args.Error(1)
}

func (m *mockStore) UpdateBooking(ctx context.Context, b *models.Booking, expectedVersion int64) error {
	return m.Called(ctx, b, expectedVersion).Error(0)
}

func (m *mockStore) ListBookings(ctx context.Context, filter repository.BookingFilter) ([]models.Booking, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *mockStore) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Booking), args.Error(1)
}

func TestLifecycle_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("failed insert leaves the index untouched", func(t *testing.T) {
		store := new(mockStore)
		f := newFixture(t, store)
		store.On("CreateBooking", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

		_, err := f.svc.CreateBooking(ctx, request(2))
		require.Error(t, err)
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, 0, f.index.Len())
		assert.Empty(t, f.publisher.types())
	})

	t.Run("conflict from another instance", func(t *testing.T) {
		store := new(mockStore)
		f := newFixture(t, store)
		store.On("CreateBooking", mock.Anything, mock.Anything).Return(models.ErrConflict).Once()

		_, err := f.svc.CreateBooking(ctx, request(2))
		assert.ErrorIs(t, err, models.ErrConflict)
		assert.Equal(t, 0, f.index.Len())
	})

	t.Run("concurrent update is retried on fresh state", func(t *testing.T) {
		store := new(mockStore)
		f := newFixture(t, store)

		v1 := &models.Booking{ID: "b1", Status: models.StatusPending, Version: 1}
		v2 := &models.Booking{ID: "b1", Status: models.StatusPending, PaymentStatus: models.PaymentPaid, Version: 2}
		store.On("GetBooking", mock.Anything, "b1").Return(v1, nil).Once()
		store.On("UpdateBooking", mock.Anything, mock.Anything, int64(1)).Return(models.ErrConcurrentModification).Once()
		store.On("GetBooking", mock.Anything, "b1").Return(v2, nil).Once()
		store.On("UpdateBooking", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
			return b.Status == models.StatusConfirmed && b.PaymentStatus == models.PaymentPaid
		}), int64(2)).Return(nil).Once()

		updated, err := f.svc.Transition(ctx, "b1", models.StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, updated.Status)
		store.AssertExpectations(t)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		store := new(mockStore)
		f := newFixture(t, store)

		store.On("GetBooking", mock.Anything, "b1").Return(&models.Booking{ID: "b1", Status: models.StatusPending, Version: 1}, nil)
		store.On("UpdateBooking", mock.Anything, mock.Anything, int64(1)).Return(models.ErrConcurrentModification)

		_, err := f.svc.Transition(ctx, "b1", models.StatusConfirmed)
		assert.ErrorIs(t, err, models.ErrConcurrentModification)
		store.AssertNumberOfCalls(t, "UpdateBooking", defaultCASRetries)
	})
}
