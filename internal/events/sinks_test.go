package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWebhookSink(t *testing.T) {
	var received Event
	var headers http.Header
	status := http.StatusNoContent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, Secret: "s3cret", Timeout: time.Second})
	e, err := NewBookingEvent(BookingCreated, testBooking(), "")
	require.NoError(t, err)

	require.NoError(t, sink.Handle(context.Background(), e))
	assert.Equal(t, e.ID, received.ID)
	assert.Equal(t, BookingCreated, received.Type)
	assert.Equal(t, "s3cret", headers.Get("X-Webhook-Secret"))
	assert.Equal(t, string(BookingCreated), headers.Get("X-Event-Type"))

	status = http.StatusBadGateway
	err = sink.Handle(context.Background(), e)
	assert.ErrorContains(t, err, "502")
}

func TestWebhookSink_RateLimitHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(WebhookConfig{URL: srv.URL, RateLimit: 0.001, Burst: 1})
	require.NoError(t, sink.Handle(context.Background(), Event{ID: "e1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Handle(ctx, Event{ID: "e2"})
	assert.ErrorContains(t, err, "rate limiter")
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func (m *mockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg.DeliveryMode, msg.MessageId).Error(0)
}

func (m *mockChannel) Close() error { return nil }

func TestAMQPSink(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ch := new(mockChannel)
	dials := 0

	sink := NewAMQPSink(AMQPConfig{URL: "amqp://test", Exchange: "bookings", Queue: "bookings.audit"}, &logger)
	sink.dial = func(string) (amqpChannel, func() error, error) {
		dials++
		return ch, func() error { return nil }, nil
	}

	ch.On("ExchangeDeclare", "bookings", "topic", true).Return(nil)
	ch.On("QueueDeclare", "bookings.audit", true).Return(nil)
	ch.On("QueueBind", "bookings.audit", "booking.#", "bookings").Return(nil)

	e := Event{ID: "e1", Type: BookingCreated}
	ch.On("PublishWithContext", "bookings", "booking.created", amqp.Persistent, "e1").Return(nil).Once()
	require.NoError(t, sink.Handle(context.Background(), e))

	t.Run("publish failure drops the connection", func(t *testing.T) {
		e2 := Event{ID: "e2", Type: BookingStatusChanged}
		ch.On("PublishWithContext", "bookings", "booking.status_changed", amqp.Persistent, "e2").
			Return(errors.New("channel closed")).Once()
		assert.Error(t, sink.Handle(context.Background(), e2))

		ch.On("PublishWithContext", "bookings", "booking.status_changed", amqp.Persistent, "e2").Return(nil).Once()
		assert.NoError(t, sink.Handle(context.Background(), e2))
		assert.Equal(t, 2, dials)
	})

	t.Run("dial failure is returned", func(t *testing.T) {
		require.NoError(t, sink.Close())
		sink.dial = func(string) (amqpChannel, func() error, error) {
			return nil, nil, errors.New("connection refused")
		}
		assert.ErrorContains(t, sink.Handle(context.Background(), e), "connection refused")
	})

	ch.AssertExpectations(t)
}

func TestHub(t *testing.T) {
	hub := NewHub()
	r1, cancel1 := hub.Listen("R1", 4)
	r2, cancel2 := hub.Listen("R2", 4)
	defer cancel2()

	require.NoError(t, hub.Handle(context.Background(), Event{ID: "e1", RestaurantID: "R1"}))

	select {
	case e := <-r1:
		assert.Equal(t, "e1", e.ID)
	case <-time.After(time.Second):
		t.Fatal("listener did not receive event")
	}
	assert.Len(t, r2, 0)

	t.Run("full listener drops instead of blocking", func(t *testing.T) {
		slow, cancel := hub.Listen("R3", 1)
		defer cancel()
		for i := 0; i < 5; i++ {
			require.NoError(t, hub.Handle(context.Background(), Event{ID: "x", RestaurantID: "R3"}))
		}
		assert.Len(t, slow, 1)
	})

	cancel1()
	cancel1()
	_, open := <-r1
	assert.False(t, open)
	assert.Equal(t, 0, hub.Listeners("R1"))
	assert.Equal(t, 1, hub.Listeners("R2"))
}
