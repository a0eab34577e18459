package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// LogSink writes every event to the structured log.
func LogSink(logger *zerolog.Logger) Handler {
	return func(_ context.Context, e Event) error {
		ev := logger.Info().
			Str("event_id", e.ID).
			Str("type", string(e.Type)).
			Str("restaurant_id", e.RestaurantID)
		if be, err := e.Booking(); err == nil {
			ev = ev.Str("booking_id", be.BookingID).
				Str("table_id", be.TableID).
				Str("date", be.Date.String()).
				Str("time_slot", string(be.TimeSlot)).
				Str("old_status", string(be.OldStatus)).
				Str("new_status", string(be.NewStatus))
		}
		ev.Msg("booking event")
		return nil
	}
}

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables pacing
	Burst     int
}

// WebhookSink POSTs events as JSON to a fixed URL.
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &WebhookSink{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// Handle delivers one event. Any non-2xx answer counts as a failure.
func (s *WebhookSink) Handle(ctx context.Context, e Event) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", e.ID)
	req.Header.Set("X-Event-Type", string(e.Type))
	if s.secret != "" {
		req.Header.Set("X-Webhook-Secret", s.secret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	return nil
}
