package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/circuitbreaker"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/websocket"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

type published struct {
	channel string
	typ     string
	data    interface{}
}

type fakeHub struct {
	mu   sync.Mutex
	sent []published
}

func (h *fakeHub) Publish(channel, messageType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, published{channel, messageType, data})
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.OrderPlacedEvent
	err    error
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, ev events.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

type panickingTracker struct{}

func (panickingTracker) Name() string                           { return "broken" }
func (panickingTracker) Track(context.Context, Purchase) error { panic("nil map") }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func samplePurchase() Purchase {
	return Purchase{
		Channel:  "session-1",
		Source:   "cart",
		Currency: "BDT",
		Order: &models.Order{
			Subtotal: 180, DeliveryCharge: 60, TotalPrice: 240,
			Items: []models.OrderItem{
				{ProductID: "p1", Quantity: 2, SellingPrice: 90, Discount: 10},
				{ProductID: "p2", Quantity: 1, SellingPrice: 0},
			},
		},
		Record: &models.OrderRecord{ID: "ord-1", Status: models.OrderStatusPending, TotalPrice: 240},
	}
}

func TestDispatcher_RunsAllTrackers(t *testing.T) {
	hub := &fakeHub{}
	pub := &fakePublisher{}
	d := NewDispatcher(nil, quietLogger(), NewDataLayerTracker(hub), NewPixelTracker(hub), NewConversionTracker(pub))

	d.Dispatch(samplePurchase())

	require.Len(t, hub.sent, 2)
	types := []string{hub.sent[0].typ, hub.sent[1].typ}
	assert.ElementsMatch(t, []string{websocket.TypeDataLayerPurchase, websocket.TypePixelPurchase}, types)
	for _, s := range hub.sent {
		assert.Equal(t, "session-1", s.channel)
	}

	require.Len(t, pub.events, 1)
	assert.Equal(t, "ord-1", pub.events[0].OrderID)
	assert.Equal(t, "cart", pub.events[0].Source)
	assert.Equal(t, 240, pub.events[0].TotalPrice)
}

func TestDispatcher_FailuresAreIsolated(t *testing.T) {
	hub := &fakeHub{}
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(nil, quietLogger(), panickingTracker{}, NewConversionTracker(pub), NewPixelTracker(hub))

	assert.NotPanics(t, func() { d.Dispatch(samplePurchase()) })
	assert.Len(t, hub.sent, 1)
}

type failingTracker struct {
	mu    sync.Mutex
	calls int
}

func (t *failingTracker) Name() string { return "pixel" }
func (t *failingTracker) Track(context.Context, Purchase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return errors.New("sink down")
}

type hangingTracker struct {
	release chan struct{}
}

func (t *hangingTracker) Name() string { return "datalayer" }
func (t *hangingTracker) Track(context.Context, Purchase) error {
	<-t.release
	return nil
}

func TestDispatcher_BreakerSkipsDeadSink(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 2, Timeout: time.Minute}, quietLogger())
	sink := &failingTracker{}
	d := NewDispatcher(breakers, quietLogger(), sink)

	for i := 0; i < 5; i++ {
		d.Dispatch(samplePurchase())
	}

	assert.Equal(t, 2, sink.calls, "breaker should stop calls after two failures")
	assert.Equal(t, circuitbreaker.StateOpen, breakers.GetOrCreate("pixel").State())
}

func TestDispatcher_ConversionBypassesOpenBreaker(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute}, quietLogger())
	_ = breakers.GetOrCreate("conversion").Execute(context.Background(), func(context.Context) error {
		return errors.New("earlier failure")
	})
	require.Equal(t, circuitbreaker.StateOpen, breakers.GetOrCreate("conversion").State())

	pub := &fakePublisher{}
	d := NewDispatcher(breakers, quietLogger(), NewConversionTracker(pub))
	d.Dispatch(samplePurchase())

	require.Len(t, pub.events, 1)
	assert.Equal(t, "ord-1", pub.events[0].OrderID)
}

func TestDispatcher_HangingSinkTimesOut(t *testing.T) {
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{MaxFailures: 1, Timeout: time.Minute}, quietLogger())
	sink := &hangingTracker{release: make(chan struct{})}
	defer close(sink.release)

	d := NewDispatcher(breakers, quietLogger(), sink)
	d.timeout = 20 * time.Millisecond

	start := time.Now()
	d.Dispatch(samplePurchase())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, circuitbreaker.StateOpen, breakers.GetOrCreate("datalayer").State(), "a timeout counts as a failure")
}

func TestDataLayerPayload(t *testing.T) {
	hub := &fakeHub{}
	require.NoError(t, NewDataLayerTracker(hub).Track(context.Background(), samplePurchase()))

	push, ok := hub.sent[0].data.(DataLayerPush)
	require.True(t, ok)
	assert.Equal(t, "purchase", push.Event)
	assert.Equal(t, "ord-1", push.Ecommerce.TransactionID)
	assert.Equal(t, 240, push.Ecommerce.Value)
	assert.Equal(t, 60, push.Ecommerce.Shipping)
	assert.Len(t, push.Ecommerce.Items, 2)
}

func TestPixelPayload(t *testing.T) {
	hub := &fakeHub{}
	require.NoError(t, NewPixelTracker(hub).Track(context.Background(), samplePurchase()))

	ev, ok := hub.sent[0].data.(PixelEvent)
	require.True(t, ok)
	assert.Equal(t, "Purchase", ev.Event)
	assert.Equal(t, "ord-1", ev.EventID)
	assert.Equal(t, []string{"p1", "p2"}, ev.ContentIDs)
	assert.Equal(t, 3, ev.NumItems)
}

func TestTrackersRejectEmptyPurchase(t *testing.T) {
	hub := &fakeHub{}
	assert.Error(t, NewDataLayerTracker(hub).Track(context.Background(), Purchase{}))
	assert.Error(t, NewPixelTracker(hub).Track(context.Background(), Purchase{}))
	assert.Error(t, NewConversionTracker(&fakePublisher{}).Track(context.Background(), Purchase{}))
	assert.Empty(t, hub.sent)
}
