package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// AMQPConfig holds broker settings for the AMQP sink.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string // optional durable queue bound to every booking event
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a connection and channel; close releases both.
type dialFunc func(url string) (ch amqpChannel, close func() error, err error)

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	closeAll := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return ch, closeAll, nil
}

// AMQPSink publishes events to a durable topic exchange with the event type as
// routing key. The connection is opened lazily and reopened after a failure.
type AMQPSink struct {
	cfg    AMQPConfig
	dial   dialFunc
	logger *zerolog.Logger

	mu       sync.Mutex
	ch       amqpChannel
	closeFn  func() error
	declared bool
}

func NewAMQPSink(cfg AMQPConfig, logger *zerolog.Logger) *AMQPSink {
	if cfg.Exchange == "" {
		cfg.Exchange = "tablebook.events"
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "amqp_sink").Logger()
	return &AMQPSink{cfg: cfg, dial: dialAMQP, logger: &l}
}

func (s *AMQPSink) connect() error {
	if s.ch != nil {
		return nil
	}
	ch, closeFn, err := s.dial(s.cfg.URL)
	if err != nil {
		return err
	}
	if err := s.declare(ch); err != nil {
		_ = closeFn()
		return err
	}
	s.ch = ch
	s.closeFn = closeFn
	s.logger.Info().Str("exchange", s.cfg.Exchange).Msg("connected to broker")
	return nil
}

func (s *AMQPSink) declare(ch amqpChannel) error {
	if err := ch.ExchangeDeclare(s.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if s.cfg.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(s.cfg.Queue, "booking.#", s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

func (s *AMQPSink) resetLocked() {
	if s.closeFn != nil {
		_ = s.closeFn()
	}
	s.ch = nil
	s.closeFn = nil
}

// Handle publishes one event as a persistent message.
func (s *AMQPSink) Handle(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := s.ch.PublishWithContext(ctx, s.cfg.Exchange, string(e.Type), false, false, msg); err != nil {
		s.logger.Warn().Err(err).Str("event_id", e.ID).Msg("publish failed, dropping connection")
		s.resetLocked()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}
