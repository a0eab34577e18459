package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"tablebook/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in maps. It enforces the same uniqueness and
// version rules as the SQL stores.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
	active   map[models.SlotKey]string
	tables   map[string]models.Table
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]models.Booking),
		active:   make(map[models.SlotKey]string),
		tables:   make(map[string]models.Table),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bookings[b.ID]; exists {
		return models.ErrConflict
	}
	if b.IsActive() {
		if _, taken := s.active[b.Key()]; taken {
			return models.ErrConflict
		}
		s.active[b.Key()] = b.ID
	}
	if b.Version == 0 {
		b.Version = 1
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, models.ErrBookingNotFound
	}
	return &b, nil
}

func (s *MemoryStore) UpdateBooking(_ context.Context, b *models.Booking, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.bookings[b.ID]
	if !ok {
		return models.ErrBookingNotFound
	}
	if current.Version != expectedVersion {
		return models.ErrConcurrentModification
	}

	if current.IsActive() && s.active[current.Key()] == current.ID {
		delete(s.active, current.Key())
	}
	if b.IsActive() {
		if holder, taken := s.active[b.Key()]; taken && holder != b.ID {
			if current.IsActive() {
				s.active[current.Key()] = current.ID
			}
			return models.ErrConflict
		}
		s.active[b.Key()] = b.ID
	}

	b.Version = expectedVersion + 1
	s.bookings[b.ID] = *b
	return nil
}

func (s *MemoryStore) ListBookings(_ context.Context, filter BookingFilter) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		b := b
		if filter.Matches(&b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListActiveBookings(ctx context.Context) ([]models.Booking, error) {
	return s.ListBookings(ctx, BookingFilter{Statuses: models.ActiveStatuses})
}

func (s *MemoryStore) GetTable(_ context.Context, id string) (*models.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, models.ErrTableNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ListTables(_ context.Context, restaurantID string) ([]models.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Table, 0)
	for _, t := range s.tables {
		if t.RestaurantID == restaurantID {
			out = append(out, t)
		}
	}
	sortTables(out)
	return out, nil
}

func (s *MemoryStore) ListAllTables(_ context.Context) ([]models.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sortTables(out)
	return out, nil
}

func (s *MemoryStore) UpsertTable(_ context.Context, t *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.tables[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tables[t.ID] = *t
	return nil
}

func (s *MemoryStore) UpdateTableStatus(_ context.Context, id string, status models.TableStatus) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, models.ErrTableNotFound
	}
	t.Status = status
	t.UpdatedAt = s.now()
	s.tables[id] = t
	return &t, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func sortBookings(list []models.Booking) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.TimeSlot != b.TimeSlot {
			return a.TimeSlot < b.TimeSlot
		}
		if a.TableID != b.TableID {
			return a.TableID < b.TableID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func sortTables(list []models.Table) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].RestaurantID != list[j].RestaurantID {
			return list[i].RestaurantID < list[j].RestaurantID
		}
		return list[i].ID < list[j].ID
	})
}
