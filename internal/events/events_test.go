package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleEvent() OrderPlacedEvent {
	return OrderPlacedEvent{
		EventID:    "evt-1",
		EventType:  OrderPlacedType,
		OrderID:    "ord-1",
		Status:     models.OrderStatusPending,
		TotalPrice: 240,
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []OrderPlacedEvent
	err    error
}

func (h *recordingHandler) HandleOrderPlaced(_ context.Context, ev OrderPlacedEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type flakyHandler struct {
	failures int
	calls    int
}

func (h *flakyHandler) HandleOrderPlaced(context.Context, OrderPlacedEvent) error {
	h.calls++
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestNewOrderPlacedEvent_FallsBackToSentOrder(t *testing.T) {
	sent := &models.Order{
		Subtotal: 180, DeliveryCharge: 60, TotalPrice: 240,
		Address: models.Address{Name: "A", Phone: "01712345678", Address: "X"},
		Items:   []models.OrderItem{{ProductID: "p1", Quantity: 2}},
	}
	ev := NewOrderPlacedEvent(&models.OrderRecord{ID: "ord-9"}, sent, "cart", "BDT")

	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, OrderPlacedType, ev.EventType)
	assert.Equal(t, models.OrderStatusPending, ev.Status)
	assert.Equal(t, 240, ev.TotalPrice)
	assert.Equal(t, sent.Address, ev.Address)
	assert.Len(t, ev.Items, 1)
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestDecodeOrderPlaced(t *testing.T) {
	_, err := DecodeOrderPlaced([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = DecodeOrderPlaced([]byte(`{"event_id":"x"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	ev, err := DecodeOrderPlaced([]byte(`{"order_id":"ord-1","total_price":50}`))
	require.NoError(t, err)
	assert.Equal(t, 50, ev.TotalPrice)
}

func TestKafkaProducer_Publish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, NewProducerConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev OrderPlacedEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.OrderID != "ord-1" || ev.EventTime.IsZero() {
			return errors.New("unexpected payload")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaProducerFrom(sp, "", testLogger())
	require.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))
	assert.ErrorIs(t, p.PublishOrderPlaced(context.Background(), sampleEvent()), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestKafkaProducer_CancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, NewProducerConfig())
	p := NewKafkaProducerFrom(sp, OrderPlacedTopic, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishOrderPlaced(ctx, sampleEvent()), context.Canceled)
	require.NoError(t, p.Close())
}

func TestConsumerGroupHandler_Process(t *testing.T) {
	payload, err := json.Marshal(sampleEvent())
	require.NoError(t, err)

	t.Run("handled event is committed", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		handler := &recordingHandler{}
		h := &consumerGroupHandler{handler: handler, dlq: dlq, topic: OrderPlacedTopic, logger: testLogger()}

		ok := h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: payload})
		assert.True(t, ok)
		require.Len(t, handler.events, 1)
		assert.Equal(t, "ord-1", handler.events[0].OrderID)
		require.NoError(t, dlq.Close())
	})

	t.Run("transient handler failure is retried", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		handler := &flakyHandler{failures: 2}
		h := &consumerGroupHandler{handler: handler, dlq: dlq, topic: OrderPlacedTopic, retry: fastRetry(3), logger: testLogger()}

		assert.True(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: payload}))
		assert.Equal(t, 3, handler.calls)
		require.NoError(t, dlq.Close())
	})

	t.Run("exhausted retries go to dead letter topic", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		dlq.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			ev, err := DecodeOrderPlaced(val)
			if err != nil {
				return err
			}
			if ev.OrderID != "ord-1" {
				return errors.New("wrong order dead-lettered")
			}
			return nil
		})
		handler := &recordingHandler{err: errors.New("db down")}
		h := &consumerGroupHandler{handler: handler, dlq: dlq, topic: OrderPlacedTopic, retry: fastRetry(2), logger: testLogger()}

		assert.True(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: payload}))
		assert.Equal(t, 3, handler.count())
		require.NoError(t, dlq.Close())
	})

	t.Run("handler and dead letter failure keeps message", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		dlq.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		h := &consumerGroupHandler{handler: &recordingHandler{err: errors.New("db down")}, dlq: dlq, topic: OrderPlacedTopic, retry: fastRetry(0), logger: testLogger()}

		assert.False(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: payload}))
		require.NoError(t, dlq.Close())
	})

	t.Run("shutdown during retries keeps message", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		h := &consumerGroupHandler{handler: &recordingHandler{err: errors.New("db down")}, dlq: dlq, topic: OrderPlacedTopic, retry: fastRetry(3), logger: testLogger()}

		assert.False(t, h.process(ctx, &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: payload}))
		require.NoError(t, dlq.Close())
	})

	t.Run("malformed event goes to dead letter topic", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		dlq.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if string(val) != "garbage" {
				return errors.New("payload not preserved")
			}
			return nil
		})
		handler := &recordingHandler{}
		h := &consumerGroupHandler{handler: handler, dlq: dlq, topic: OrderPlacedTopic, logger: testLogger()}

		assert.True(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: []byte("garbage")}))
		assert.Empty(t, handler.events)
		require.NoError(t, dlq.Close())
	})

	t.Run("dead letter failure keeps message", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		dlq.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		h := &consumerGroupHandler{handler: &recordingHandler{}, dlq: dlq, topic: OrderPlacedTopic, logger: testLogger()}

		assert.False(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: OrderPlacedTopic, Value: []byte("garbage")}))
		require.NoError(t, dlq.Close())
	})

	t.Run("foreign topic is skipped", func(t *testing.T) {
		dlq := mocks.NewSyncProducer(t, NewProducerConfig())
		handler := &recordingHandler{}
		h := &consumerGroupHandler{handler: handler, dlq: dlq, topic: OrderPlacedTopic, logger: testLogger()}

		assert.True(t, h.process(context.Background(), &sarama.ConsumerMessage{Topic: "other", Value: payload}))
		assert.Empty(t, handler.events)
		require.NoError(t, dlq.Close())
	})
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(testLogger())
	assert.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))
	assert.NoError(t, p.Close())
}

func TestEventTimeIsSetOnPublish(t *testing.T) {
	ch := newFakeChannel()
	p, err := newRabbitPublisher(ch, "", testLogger())
	require.NoError(t, err)

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))

	require.Len(t, ch.published, 1)
	ev, err := DecodeOrderPlaced(ch.published[0].msg.Body)
	require.NoError(t, err)
	assert.True(t, ev.EventTime.After(before))
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyPublisher) PublishOrderPlaced(context.Context, OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return sarama.ErrOutOfBrokers
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func TestRetryingPublisher(t *testing.T) {
	t.Run("recovers from transient failures", func(t *testing.T) {
		next := &flakyPublisher{failures: 2}
		p := NewRetryingPublisher(next, fastRetry(3), testLogger())

		require.NoError(t, p.PublishOrderPlaced(context.Background(), sampleEvent()))
		assert.Equal(t, 3, next.calls)
	})

	t.Run("gives up after the policy", func(t *testing.T) {
		next := &flakyPublisher{failures: 10}
		p := NewRetryingPublisher(next, fastRetry(2), testLogger())

		assert.ErrorIs(t, p.PublishOrderPlaced(context.Background(), sampleEvent()), sarama.ErrOutOfBrokers)
		assert.Equal(t, 3, next.calls)
		assert.NoError(t, p.Close())
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		next := &flakyPublisher{failures: 10}
		p := NewRetryingPublisher(next, RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour}, testLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, p.PublishOrderPlaced(ctx, sampleEvent()), context.DeadlineExceeded)
		assert.Equal(t, 1, next.calls)
	})
}
