// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tablebook/internal/availability"
	"tablebook/internal/booking"
	"tablebook/internal/events"
	"tablebook/internal/repository"
)

// Config holds HTTP settings.
type Config struct {
	// RateLimit is requests per second per client IP, 0 disables limiting.
	RateLimit float64
	RateBurst int
	// StreamBuffer is the per-listener event buffer of the SSE stream.
	StreamBuffer int
	// KeepAlive is the SSE ping interval.
	KeepAlive time.Duration
}

// Server wires HTTP handlers to the booking core.
type Server struct {
	lifecycle *booking.Lifecycle
	checker   *availability.Checker
	tables    repository.TableStore
	hub       *events.Hub
	cfg       Config
	logger    *zerolog.Logger
	engine    *gin.Engine

	// closing ends open event streams so shutdown does not wait on them.
	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(
	lifecycle *booking.Lifecycle,
	checker *availability.Checker,
	tables repository.TableStore,
	hub *events.Hub,
	cfg Config,
	logger *zerolog.Logger,
) *Server {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 32
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	s := &Server{
		lifecycle: lifecycle,
		checker:   checker,
		tables:    tables,
		hub:       hub,
		cfg:       cfg,
		logger:    &l,
		closing:   make(chan struct{}),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(Recovery(s.logger), AccessLog(s.logger), Metrics())
	if s.cfg.RateLimit > 0 {
		r.Use(RateLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst))
	}

	r.GET("/time-slots", s.listTimeSlots)

	bookings := r.Group("/bookings")
	{
		bookings.POST("", s.createBooking)
		bookings.GET("/:id", s.getBooking)
		bookings.PATCH("/:id/status", s.updateStatus)
		bookings.PATCH("/:id/payment", s.updatePayment)
	}

	restaurants := r.Group("/restaurants/:id")
	{
		restaurants.GET("/bookings", s.listBookings)
		restaurants.GET("/bookings/export", s.exportBookings)
		restaurants.GET("/tables", s.listTables)
		restaurants.GET("/tables/available", s.availableTables)
		restaurants.GET("/tables/:tableId/slots", s.tableSlots)
		restaurants.GET("/events", s.streamEvents)
	}

	tables := r.Group("/tables")
	{
		tables.PATCH("/:id/status", s.updateTableStatus)
		tables.DELETE("/:id", s.deleteTable)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "route not found", Code: "not_found"})
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
// WriteTimeout stays unset since event streams outlive any fixed deadline.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.closeOnce.Do(func() { close(s.closing) })
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
