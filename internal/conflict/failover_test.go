package conflict

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Lock(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	l := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Lock", ctx, "k1").Return(noop, nil).Once()

		unlock, err := l.Lock(ctx, "k1")
		assert.NoError(t, err)
		assert.NotNil(t, unlock)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Lock", ctx, "k2").Return(nil, errors.New("connection refused")).Once()
		fallback.On("Lock", ctx, "k2").Return(noop, nil).Once()

		unlock, err := l.Lock(ctx, "k2")
		assert.NoError(t, err)
		assert.NotNil(t, unlock)
		assert.True(t, l.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackDuringCooldown", func(t *testing.T) {
		fallback.On("Lock", ctx, "k3").Return(noop, nil).Once()

		_, err := l.Lock(ctx, "k3")
		assert.NoError(t, err)
		primary.AssertNotCalled(t, "Lock", ctx, "k3")
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		l.isDown.Store(true)
		l.lastCheck = time.Now().Add(-2 * time.Minute)

		primary.On("Lock", ctx, "k4").Return(noop, nil).Once()

		_, err := l.Lock(ctx, "k4")
		assert.NoError(t, err)
		assert.False(t, l.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("ContentionTimeoutIsNotAnOutage", func(t *testing.T) {
		expired, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-expired.Done()

		primary.On("Lock", expired, "k5").Return(nil, context.DeadlineExceeded).Once()

		_, err := l.Lock(expired, "k5")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, l.isDown.Load())
		fallback.AssertNotCalled(t, "Lock", expired, "k5")
	})
}
