package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
)

// RetryConfig holds configuration for redelivery.
type RetryConfig struct {
	// MaxAttempts caps deliveries per event and subscriber. 0 retries until shutdown.
	MaxAttempts int
	// Delays between attempts; the last one repeats.
	Delays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		Delays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

func (r RetryConfig) delay(attempt int) time.Duration {
	if len(r.Delays) == 0 {
		return time.Second
	}
	if attempt <= 0 {
		return r.Delays[0]
	}
	if attempt > len(r.Delays) {
		return r.Delays[len(r.Delays)-1]
	}
	return r.Delays[attempt-1]
}

// BusConfig holds configuration for the bus.
type BusConfig struct {
	Workers        int
	AttemptTimeout time.Duration
	Retry          RetryConfig
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Workers:        4,
		AttemptTimeout: 10 * time.Second,
		Retry:          DefaultRetryConfig(),
	}
}

type subscriber struct {
	name    string
	handler Handler
}

type delivery struct {
	event   Event
	sub     *subscriber
	attempt int
}

// Bus delivers every published event to every subscriber at least once.
// Publish only appends to an in-memory queue and never blocks on subscribers.
type Bus struct {
	cfg    BusConfig
	logger *zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []delivery
	subs    []*subscriber
	closing bool
	started bool

	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	retries sync.WaitGroup
}

// NewBus constructs an idle bus. Call Start to launch the workers.
func NewBus(cfg BusConfig, logger *zerolog.Logger) *Bus {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBusConfig().Workers
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultBusConfig().AttemptTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "event_bus").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:    cfg,
		logger: &l,
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe registers a named handler for every event type.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, &subscriber{name: name, handler: handler})
}

// Publish queues the event for every subscriber.
func (b *Bus) Publish(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		b.logger.Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("event published after shutdown, dropped")
		return
	}
	for _, sub := range b.subs {
		b.queue = append(b.queue, delivery{event: event, sub: sub})
	}
	metrics.SetEventsQueue(len(b.queue))
	b.cond.Broadcast()
}

// Start launches the delivery workers.
func (b *Bus) Start() {
	b.mu.Lock()
	if b.started || b.closing {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.logger.Info().Int("workers", b.cfg.Workers).Msg("event bus started")
}

// Close stops accepting events, drains the queue and waits for the workers.
// Redeliveries still waiting for their delay are dropped. If ctx expires first,
// in-flight handlers are cancelled.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	started := b.started
	pending := len(b.queue)
	b.cond.Broadcast()
	b.mu.Unlock()

	close(b.stopCh)

	if !started && pending > 0 {
		b.logger.Warn().Int("pending", pending).Msg("event bus closed before start, queue dropped")
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.retries.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		b.logger.Info().Msg("event bus stopped")
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued deliveries.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Bus) next() (delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 && !b.closing {
		b.cond.Wait()
	}
	if len(b.queue) == 0 {
		return delivery{}, false
	}
	d := b.queue[0]
	b.queue[0] = delivery{}
	b.queue = b.queue[1:]
	metrics.SetEventsQueue(len(b.queue))
	return d, true
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		d, ok := b.next()
		if !ok {
			return
		}
		b.deliver(d)
	}
}

func (b *Bus) deliver(d delivery) {
	d.attempt++

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.AttemptTimeout)
	err := safeCall(ctx, d.sub.handler, d.event)
	cancel()

	if err == nil {
		metrics.IncEventDelivered(d.sub.name, "ok")
		return
	}

	log := b.logger.With().
		Str("subscriber", d.sub.name).
		Str("event_id", d.event.ID).
		Str("type", string(d.event.Type)).
		Int("attempt", d.attempt).
		Err(err).
		Logger()

	if limit := b.cfg.Retry.MaxAttempts; limit > 0 && d.attempt >= limit {
		metrics.IncEventDelivered(d.sub.name, "dropped")
		log.Error().Msg("max delivery attempts exceeded, event dropped")
		return
	}

	metrics.IncEventDelivered(d.sub.name, "retry")
	delay := b.cfg.Retry.delay(d.attempt)
	log.Warn().Dur("delay", delay).Msg("event delivery failed, retrying")
	b.scheduleRetry(d, delay)
}

func (b *Bus) scheduleRetry(d delivery, delay time.Duration) {
	b.retries.Add(1)
	go func() {
		defer b.retries.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-b.stopCh:
			metrics.IncEventDelivered(d.sub.name, "dropped")
			b.logger.Warn().
				Str("subscriber", d.sub.name).
				Str("event_id", d.event.ID).
				Msg("shutdown before redelivery, event dropped")
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closing {
			metrics.IncEventDelivered(d.sub.name, "dropped")
			return
		}
		b.queue = append(b.queue, d)
		metrics.SetEventsQueue(len(b.queue))
		b.cond.Broadcast()
	}()
}

func safeCall(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return h(ctx, e)
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", p.value)
}
