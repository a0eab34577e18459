package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tablebook/internal/availability"
	"tablebook/internal/events"
	"tablebook/internal/metrics"
	"tablebook/internal/models"
	"tablebook/internal/repository"
)

const defaultCASRetries = 3

// Config holds lifecycle settings.
type Config struct {
	// DepositPerGuest is charged per guest in minor currency units.
	DepositPerGuest int64
	// CASRetries bounds re-reads after a concurrent modification.
	CASRetries int
}

// Index is the part of the conflict index the lifecycle drives.
type Index interface {
	ReserveWith(ctx context.Context, b *models.Booking, commit func(context.Context) error) error
	Release(bookingID string)
	Reindex(bookings []models.Booking) int
	SetHolderCheck(check func(ctx context.Context, bookingID string) (bool, error))
}

// CreateRequest is the input of CreateBooking.
type CreateRequest struct {
	RestaurantID    string          `json:"restaurantId"`
	TableID         string          `json:"tableId"`
	ClientID        string          `json:"clientId"`
	Date            models.Date     `json:"date"`
	TimeSlot        models.TimeSlot `json:"timeSlot"`
	Guests          int             `json:"guests"`
	SpecialRequests string          `json:"specialRequests,omitempty"`
}

// Lifecycle creates bookings and moves them through their statuses.
type Lifecycle struct {
	store     repository.BookingStore
	checker   *availability.Checker
	index     Index
	fsm       *FSM
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewLifecycle(
	store repository.BookingStore,
	checker *availability.Checker,
	index Index,
	publisher events.Publisher,
	cfg Config,
	logger *zerolog.Logger,
) *Lifecycle {
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = defaultCASRetries
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking_lifecycle").Logger()
	lc := &Lifecycle{
		store:     store,
		checker:   checker,
		index:     index,
		fsm:       NewFSM(),
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    &l,
	}
	index.SetHolderCheck(lc.holderActive)
	return lc
}

// holderActive reports whether the store still considers the booking active.
func (s *Lifecycle) holderActive(ctx context.Context, id string) (bool, error) {
	b, err := s.store.GetBooking(ctx, id)
	if errors.Is(err, models.ErrBookingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.IsActive(), nil
}

// FSM exposes the transition table.
func (s *Lifecycle) FSM() *FSM {
	return s.fsm
}

// CreateBooking validates the request, checks availability, reserves the slot and
// persists a pending booking. On any failure nothing is stored and the index is unchanged.
func (s *Lifecycle) CreateBooking(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		metrics.IncBookingCreated(resultLabel(models.ErrValidation))
		return nil, &models.ValidationError{Field: "clientId", Message: "is required"}
	}

	query := availability.Query{
		RestaurantID: req.RestaurantID,
		TableID:      req.TableID,
		Date:         req.Date,
		TimeSlot:     req.TimeSlot,
		Guests:       req.Guests,
	}
	if err := s.checker.CheckAvailability(ctx, query); err != nil {
		s.rejectCreate(req, err)
		return nil, err
	}

	now := s.now().UTC()
	b := &models.Booking{
		ID:              uuid.NewString(),
		RestaurantID:    req.RestaurantID,
		TableID:         req.TableID,
		ClientID:        req.ClientID,
		Date:            req.Date,
		TimeSlot:        req.TimeSlot,
		Guests:          req.Guests,
		Status:          models.StatusPending,
		PaymentStatus:   models.PaymentUnpaid,
		TotalPrice:      int64(req.Guests) * s.cfg.DepositPerGuest,
		SpecialRequests: strings.TrimSpace(req.SpecialRequests),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	err := s.index.ReserveWith(ctx, b, func(ctx context.Context) error {
		return s.store.CreateBooking(ctx, b)
	})
	if err != nil {
		s.rejectCreate(req, err)
		if isBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	metrics.IncBookingCreated("ok")
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("table_id", b.TableID).
		Str("date", b.Date.String()).
		Str("time_slot", string(b.TimeSlot)).
		Str("status", string(b.Status)).
		Int("guests", b.Guests).
		Msg("booking created")

	s.publish(events.BookingCreated, b, "")
	return b, nil
}

func (s *Lifecycle) rejectCreate(req CreateRequest, err error) {
	metrics.IncBookingCreated(resultLabel(err))
	ev := s.logger.Debug()
	if !isBusiness(err) {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("table_id", req.TableID).
		Str("date", req.Date.String()).
		Str("time_slot", string(req.TimeSlot)).
		Int("guests", req.Guests).
		Msg("booking rejected")
}

// Transition moves a booking to target. Leaving the active set frees the slot.
func (s *Lifecycle) Transition(ctx context.Context, id string, target models.BookingStatus) (*models.Booking, error) {
	if !s.fsm.Known(target) {
		metrics.IncTransition(string(target), "validation")
		return nil, &models.ValidationError{Field: "status", Message: fmt.Sprintf("unknown booking status %q", target)}
	}

	var oldStatus models.BookingStatus
	updated, err := s.updateWithRetry(ctx, id, func(b *models.Booking) error {
		if !s.fsm.CanTransition(b.Status, target) {
			return &models.TransitionError{From: b.Status, To: target}
		}
		oldStatus = b.Status
		b.Status = target
		return nil
	})
	if err != nil {
		metrics.IncTransition(string(target), resultLabel(err))
		if isBusiness(err) {
			s.logger.Debug().Err(err).Str("booking_id", id).Str("target", string(target)).Msg("transition rejected")
			return nil, err
		}
		s.logger.Error().Err(err).Str("booking_id", id).Str("target", string(target)).Msg("transition failed")
		return nil, fmt.Errorf("transition booking %s: %w", id, err)
	}

	if oldStatus.IsActive() && !target.IsActive() {
		s.index.Release(updated.ID)
	}

	metrics.IncTransition(string(target), "ok")
	s.logger.Info().
		Str("booking_id", updated.ID).
		Str("table_id", updated.TableID).
		Str("date", updated.Date.String()).
		Str("time_slot", string(updated.TimeSlot)).
		Str("old_status", string(oldStatus)).
		Str("status", string(updated.Status)).
		Msg("booking status changed")

	s.publish(events.BookingStatusChanged, updated, oldStatus)
	return updated, nil
}

// UpdatePayment sets the payment status. Only the booking's existence is required.
func (s *Lifecycle) UpdatePayment(ctx context.Context, id string, status models.PaymentStatus) (*models.Booking, error) {
	if _, err := models.ParsePaymentStatus(string(status)); err != nil {
		return nil, err
	}

	updated, err := s.updateWithRetry(ctx, id, func(b *models.Booking) error {
		b.PaymentStatus = status
		return nil
	})
	if err != nil {
		if isBusiness(err) {
			return nil, err
		}
		return nil, fmt.Errorf("update payment of booking %s: %w", id, err)
	}

	metrics.IncPaymentUpdated(string(status))
	s.logger.Info().
		Str("booking_id", updated.ID).
		Str("table_id", updated.TableID).
		Str("date", updated.Date.String()).
		Str("time_slot", string(updated.TimeSlot)).
		Str("status", string(updated.Status)).
		Str("payment_status", string(status)).
		Msg("booking payment updated")
	return updated, nil
}

// updateWithRetry reads the booking, applies mutate and writes it back guarded by
// the version read. A concurrent write triggers a fresh read, up to CASRetries times.
func (s *Lifecycle) updateWithRetry(ctx context.Context, id string, mutate func(b *models.Booking) error) (*models.Booking, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		current, err := s.store.GetBooking(ctx, id)
		if err != nil {
			return nil, err
		}

		next := *current
		if err := mutate(&next); err != nil {
			return nil, err
		}
		next.UpdatedAt = s.now().UTC()

		err = s.store.UpdateBooking(ctx, &next, current.Version)
		if err == nil {
			return &next, nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug().Str("booking_id", id).Int("attempt", attempt+1).Msg("concurrent booking update, re-reading")
	}
	return nil, lastErr
}

// GetBooking returns a booking by id.
func (s *Lifecycle) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// ListBookings returns bookings matching filter.
func (s *Lifecycle) ListBookings(ctx context.Context, filter repository.BookingFilter) ([]models.Booking, error) {
	return s.store.ListBookings(ctx, filter)
}

// Recover rebuilds the conflict index from the store's active bookings.
func (s *Lifecycle) Recover(ctx context.Context) (int, error) {
	active, err := s.store.ListActiveBookings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active bookings: %w", err)
	}
	n := s.index.Reindex(active)
	s.logger.Info().Int("active", n).Msg("conflict index recovered from store")
	return n, nil
}

func (s *Lifecycle) publish(t events.Type, b *models.Booking, oldStatus models.BookingStatus) {
	if s.publisher == nil {
		return
	}
	e, err := events.NewBookingEvent(t, b, oldStatus)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("build event")
		return
	}
	s.publisher.Publish(e)
}

func isBusiness(err error) bool {
	for _, target := range []error{
		models.ErrValidation,
		models.ErrCapacityExceeded,
		models.ErrTableNotFound,
		models.ErrBookingNotFound,
		models.ErrSlotOccupied,
		models.ErrInvalidTransition,
		models.ErrConcurrentModification,
		models.ErrReserveTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, models.ErrTableNotFound), errors.Is(err, models.ErrBookingNotFound):
		return "not_found"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrSlotOccupied):
		return "occupied"
	case errors.Is(err, models.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, models.ErrConcurrentModification):
		return "concurrent"
	case errors.Is(err, models.ErrReserveTimeout):
		return "timeout"
	default:
		return "error"
	}
}
