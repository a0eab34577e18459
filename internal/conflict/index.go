// Package conflict keeps the set of active bookings keyed by table, date and slot,
// and serializes reservations of the same key.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/models"
)

const DefaultReserveTimeout = 2 * time.Second

// Index maps each occupied SlotKey to the booking that holds it.
type Index struct {
	mu        sync.RWMutex
	active    map[models.SlotKey]string
	byBooking map[string]models.SlotKey

	locker  Locker
	timeout time.Duration
	logger  *zerolog.Logger

	// holderActive confirms an entry against the store. Other processes sharing the
	// store may have released a booking this index still holds.
	holderActive func(ctx context.Context, bookingID string) (bool, error)
}

// NewIndex builds an empty index. timeout bounds how long Reserve waits for a key lock.
func NewIndex(locker Locker, timeout time.Duration, logger *zerolog.Logger) *Index {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if timeout <= 0 {
		timeout = DefaultReserveTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "conflict_index").Logger()
	return &Index{
		active:    make(map[models.SlotKey]string),
		byBooking: make(map[string]models.SlotKey),
		locker:    locker,
		timeout:   timeout,
		logger:    &l,
	}
}

// IsOccupied reports whether an active booking holds key.
func (ix *Index) IsOccupied(key models.SlotKey) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.active[key]
	return ok
}

// Holder returns the booking holding key.
func (ix *Index) Holder(key models.SlotKey) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.active[key]
	return id, ok
}

// SetHolderCheck installs the store lookup used to confirm a holder before it blocks
// a reservation. Without one every entry is trusted.
func (ix *Index) SetHolderCheck(check func(ctx context.Context, bookingID string) (bool, error)) {
	ix.mu.Lock()
	ix.holderActive = check
	ix.mu.Unlock()
}

// Occupied is IsOccupied confirmed through the holder check. A holder that is no
// longer active is dropped and the key reported free.
func (ix *Index) Occupied(ctx context.Context, key models.SlotKey) (bool, error) {
	holder, ok := ix.Holder(key)
	if !ok {
		return false, nil
	}
	return ix.confirmHolder(ctx, key, holder)
}

func (ix *Index) confirmHolder(ctx context.Context, key models.SlotKey, holder string) (bool, error) {
	ix.mu.RLock()
	check := ix.holderActive
	ix.mu.RUnlock()
	if check == nil {
		return true, nil
	}

	active, err := check(ctx, holder)
	if err != nil {
		return false, fmt.Errorf("confirm slot holder %s: %w", holder, err)
	}
	if !active {
		ix.dropStale(key, holder)
	}
	return active, nil
}

func (ix *Index) dropStale(key models.SlotKey, holder string) {
	ix.mu.Lock()
	dropped := ix.active[key] == holder
	if dropped {
		delete(ix.active, key)
		delete(ix.byBooking, holder)
	}
	n := len(ix.active)
	ix.mu.Unlock()

	if dropped {
		metrics.SetIndexEntries(n)
		ix.logger.Info().Str("key", key.String()).Str("booking_id", holder).Msg("dropped stale slot holder")
	}
}

// Len returns the number of occupied keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.active)
}

// Reserve marks the booking's key as held. It fails with models.ErrConflict if another
// booking already holds it.
func (ix *Index) Reserve(ctx context.Context, b *models.Booking) error {
	return ix.ReserveWith(ctx, b, nil)
}

// ReserveWith is Reserve with a commit step run inside the key's critical section.
// The key is recorded only when commit succeeds, so a failed commit leaves no trace.
func (ix *Index) ReserveWith(ctx context.Context, b *models.Booking, commit func(context.Context) error) error {
	if b == nil || b.ID == "" {
		return &models.ValidationError{Field: "id", Message: "booking id is required"}
	}
	key := b.Key()

	lockCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	started := time.Now()
	unlock, err := ix.locker.Lock(lockCtx, "slot:"+key.String())
	metrics.ObserveReserveWait(time.Since(started))
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			ix.logger.Warn().Str("key", key.String()).Dur("timeout", ix.timeout).Msg("reserve timed out")
			return models.ErrReserveTimeout
		default:
			return fmt.Errorf("acquire slot lock: %w", err)
		}
	}
	defer unlock()

	if holder, taken := ix.Holder(key); taken {
		if holder == b.ID {
			return nil
		}
		active, err := ix.confirmHolder(ctx, key, holder)
		if err != nil {
			return err
		}
		if active {
			return models.ErrConflict
		}
	}

	if commit != nil {
		if err := commit(ctx); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	ix.active[key] = b.ID
	ix.byBooking[b.ID] = key
	n := len(ix.active)
	ix.mu.Unlock()

	metrics.SetIndexEntries(n)
	return nil
}

// Release frees the key held by bookingID. Unknown ids are ignored.
func (ix *Index) Release(bookingID string) {
	ix.mu.Lock()
	key, ok := ix.byBooking[bookingID]
	if ok {
		delete(ix.byBooking, bookingID)
		if ix.active[key] == bookingID {
			delete(ix.active, key)
		}
	}
	n := len(ix.active)
	ix.mu.Unlock()

	if ok {
		metrics.SetIndexEntries(n)
	}
}

// Reindex replaces the index contents with the active bookings in list.
// When the list holds two active bookings for one key the earlier one wins.
func (ix *Index) Reindex(bookings []models.Booking) int {
	active := make(map[models.SlotKey]string, len(bookings))
	byBooking := make(map[string]models.SlotKey, len(bookings))
	created := make(map[models.SlotKey]time.Time, len(bookings))

	for i := range bookings {
		b := &bookings[i]
		if !b.IsActive() {
			continue
		}
		key := b.Key()
		if holder, dup := active[key]; dup {
			ix.logger.Error().
				Str("key", key.String()).
				Str("booking_id", b.ID).
				Str("holder_id", holder).
				Msg("duplicate active booking for slot")
			if !b.CreatedAt.Before(created[key]) {
				continue
			}
			delete(byBooking, holder)
		}
		active[key] = b.ID
		byBooking[b.ID] = key
		created[key] = b.CreatedAt
	}

	ix.mu.Lock()
	ix.active = active
	ix.byBooking = byBooking
	n := len(active)
	ix.mu.Unlock()

	metrics.SetIndexEntries(n)
	ix.logger.Info().Int("entries", n).Msg("conflict index rebuilt")
	return n
}
