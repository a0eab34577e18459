package conflict

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
)

// FailoverLocker uses primary while it is healthy and fallback while it is not.
// A failed primary is retried once per retryAfter.
type FailoverLocker struct {
	primary    Locker
	fallback   Locker
	logger     *zerolog.Logger
	retryAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLocker(primary, fallback Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:    primary,
		fallback:   fallback,
		logger:     logger,
		retryAfter: time.Minute,
	}
}

// SetRetryAfter changes how often a failed primary is retried.
func (f *FailoverLocker) SetRetryAfter(d time.Duration) {
	if d > 0 {
		f.mu.Lock()
		f.retryAfter = d
		f.mu.Unlock()
	}
}

func (f *FailoverLocker) Lock(ctx context.Context, key string) (func(), error) {
	if f.shouldTryPrimary() {
		unlock, err := f.primary.Lock(ctx, key)
		if err == nil {
			if f.isDown.CompareAndSwap(true, false) {
				f.logger.Info().Msg("primary lock backend recovered")
				metrics.IncLockerFailover("to_primary")
			}
			return unlock, nil
		}
		// Contention that ran out the caller's deadline says nothing about backend health.
		if ctx.Err() != nil {
			return nil, err
		}
		f.markDown(err)
	}
	return f.fallback.Lock(ctx, key)
}

func (f *FailoverLocker) shouldTryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) >= f.retryAfter {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *FailoverLocker) markDown(err error) {
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
	if !f.isDown.Swap(true) {
		f.logger.Error().Err(err).Msg("primary lock backend failed; using fallback")
		metrics.IncLockerFailover("to_fallback")
	}
}
