// Package sweeper applies the time-driven lifecycle rules: a confirmed booking whose slot
// is over becomes completed, a pending one that was never confirmed is cancelled.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/models"
)

// Config holds configuration for the sweeper.
type Config struct {
	// Interval between sweeps. Default: 1 minute.
	Interval time.Duration
	// Grace after the slot end before a booking is swept. Default: 30 minutes.
	Grace time.Duration
	// Parallelism limits concurrent transitions. Default: 4.
	Parallelism int
}

// BookingSource lists bookings that still hold a slot.
type BookingSource interface {
	ListActiveBookings(ctx context.Context) ([]models.Booking, error)
}

// Transitioner moves a booking to another status.
type Transitioner interface {
	Transition(ctx context.Context, id string, target models.BookingStatus) (*models.Booking, error)
}

// SlotClock resolves when a slot finishes on a date.
type SlotClock interface {
	Ends(date models.Date, slot models.TimeSlot) (time.Time, error)
}

// Result counts what one sweep did.
type Result struct {
	Completed int
	Expired   int
	Skipped   int
	Failed    int
}

type Sweeper struct {
	cfg       Config
	bookings  BookingSource
	lifecycle Transitioner
	clock     SlotClock
	now       func() time.Time
	logger    *zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(cfg Config, bookings BookingSource, lifecycle Transitioner, clock SlotClock, logger *zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sweeper").Logger()

	return &Sweeper{
		cfg:       cfg,
		bookings:  bookings,
		lifecycle: lifecycle,
		clock:     clock,
		now:       time.Now,
		logger:    &l,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("grace", s.cfg.Grace).
		Msg("Sweeper started")
}

// Stop waits for the running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("Sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	s.sweep()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed")
	}
}

// RunOnce performs a single sweep over the active bookings.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	active, err := s.bookings.ListActiveBookings(ctx)
	if err != nil {
		return res, err
	}

	now := s.now()
	var due []models.Booking
	for _, b := range active {
		end, err := s.clock.Ends(b.Date, b.TimeSlot)
		if err != nil {
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Str("time_slot", string(b.TimeSlot)).Msg("Cannot resolve slot end")
			res.Skipped++
			continue
		}
		if now.Before(end.Add(s.cfg.Grace)) {
			continue
		}
		due = append(due, b)
	}

	if len(due) == 0 {
		return res, nil
	}
	s.logger.Debug().Int("count", len(due)).Msg("Found bookings past their slot")

	var completed, expired, skipped, failed atomic.Int32
	sem := make(chan struct{}, s.cfg.Parallelism)
	var wg sync.WaitGroup

	for _, b := range due {
		target := models.StatusCompleted
		if b.Status == models.StatusPending {
			target = models.StatusCancelled
		}

		wg.Add(1)
		sem <- struct{}{} // acquire

		go func(b models.Booking, target models.BookingStatus) {
			defer wg.Done()
			defer func() { <-sem }() // release

			_, err := s.lifecycle.Transition(ctx, b.ID, target)
			switch {
			case err == nil:
				metrics.IncSweeperTransition(string(target))
				if target == models.StatusCompleted {
					completed.Add(1)
				} else {
					expired.Add(1)
				}
			case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrBookingNotFound):
				// moved by someone else since the listing
				skipped.Add(1)
			default:
				failed.Add(1)
				s.logger.Error().Err(err).
					Str("booking_id", b.ID).
					Str("target", string(target)).
					Msg("Failed to sweep booking")
			}
		}(b, target)
	}

	wg.Wait()

	res.Completed = int(completed.Load())
	res.Expired = int(expired.Load())
	res.Skipped += int(skipped.Load())
	res.Failed = int(failed.Load())

	s.logger.Info().
		Int("completed", res.Completed).
		Int("expired", res.Expired).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Sweep finished")
	return res, nil
}
