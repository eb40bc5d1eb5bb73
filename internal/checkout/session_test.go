package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/analytics"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var validForm = Form{Name: "Rahim", Phone: "01712345678", Address: "House 1", Zone: "inside_zone"}

type fakeOrders struct {
	mu     sync.Mutex
	calls  []*models.Order
	err    error
	block  chan struct{}
	called chan struct{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, order *models.Order) (*models.OrderRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, order)
	f.mu.Unlock()

	if f.called != nil {
		f.called <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &orders.TransportError{Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.OrderRecord{ID: "ord-1", Status: models.OrderStatusPending, TotalPrice: order.TotalPrice}, nil
}

func (f *fakeOrders) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTracker struct {
	mu        sync.Mutex
	purchases []analytics.Purchase
}

func (t *fakeTracker) Dispatch(p analytics.Purchase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purchases = append(t.purchases, p)
}

func (t *fakeTracker) first() analytics.Purchase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.purchases[0]
}

func (t *fakeTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.purchases)
}

func newTestManager(o OrderCreator, tr PurchaseTracker, autoClose time.Duration) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewManager(Deps{Orders: o, Tracker: tr, AutoClose: autoClose, Currency: "BDT", Logger: logger})
}

func cartWithItem(t *testing.T) *cart.Store {
	t.Helper()
	store := cart.NewStore(nil)
	_, err := store.Add(models.CartItem{ID: "p1", Price: 90, OriginalPrice: 100, Quantity: 2})
	require.NoError(t, err)
	return store
}

func TestSubmit_CartSuccess(t *testing.T) {
	o := &fakeOrders{}
	tr := &fakeTracker{}
	m := newTestManager(o, tr, time.Minute)
	store := cartWithItem(t)

	s, err := m.OpenCart("cart-1", store)
	require.NoError(t, err)

	rec, err := s.Submit(context.Background(), validForm)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", rec.ID)

	require.Equal(t, 1, o.callCount())
	sent := o.calls[0]
	assert.Equal(t, 180, sent.Subtotal)
	assert.Equal(t, 60, sent.DeliveryCharge)
	assert.Equal(t, 240, sent.TotalPrice)

	assert.Equal(t, StateSuccess, s.State())
	assert.Zero(t, store.Len(), "cart is cleared after success")
	require.Eventually(t, func() bool { return tr.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, s.ID(), tr.first().Channel)

	_, err = s.Submit(context.Background(), validForm)
	assert.ErrorIs(t, err, ErrAlreadyPlaced)
	assert.Equal(t, 1, o.callCount())
}

// Scenario D: server-reported failure keeps the cart and shows the server text.
func TestSubmit_BusinessFailure(t *testing.T) {
	o := &fakeOrders{err: &orders.RejectedError{StatusCode: 200, Message: "Out of stock"}}
	tr := &fakeTracker{}
	m := newTestManager(o, tr, time.Minute)
	store := cartWithItem(t)
	before := store.Items()

	s, err := m.OpenCart("cart-1", store)
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), validForm)
	var serr *SubmitError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "Out of stock", serr.Message)

	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "Out of stock", snap.Message)
	assert.Equal(t, validForm, snap.Form, "form is kept for retry")
	assert.Equal(t, before, store.Items())
	assert.Zero(t, tr.count())

	// quantity stays editable after a failure
	require.NoError(t, store.Increment(before[0].LineID))
}

// Scenario E: transport failure shows the network message and allows a retry.
func TestSubmit_NetworkFailureThenRetry(t *testing.T) {
	o := &fakeOrders{err: &orders.TransportError{Err: errors.New("connection refused")}}
	tr := &fakeTracker{}
	m := newTestManager(o, tr, time.Minute)

	s, err := m.OpenCart("cart-1", cartWithItem(t))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), validForm)
	require.Error(t, err)
	assert.Equal(t, MessageNetworkFailure, s.Snapshot().Message)
	assert.Equal(t, StateFailed, s.State())
	assert.Zero(t, tr.count())

	o.err = nil
	_, err = s.Submit(context.Background(), validForm)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, s.State())
	assert.Equal(t, 2, o.callCount(), "each submit is exactly one request")
}

func TestSubmit_ValidationDoesNotChangeState(t *testing.T) {
	o := &fakeOrders{}
	m := newTestManager(o, nil, time.Minute)
	s, err := m.OpenCart("cart-1", cartWithItem(t))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), Form{Name: "A"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, StateIdle, s.State())
	assert.Zero(t, o.callCount())
}

func TestSubmit_EmptyCart(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, time.Minute)
	s, err := m.OpenCart("cart-1", cart.NewStore(nil))
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), validForm)
	assert.ErrorIs(t, err, orders.ErrEmptyOrder)
	assert.Equal(t, StateIdle, s.State())
}

func TestSubmit_RejectsConcurrentSubmit(t *testing.T) {
	o := &fakeOrders{block: make(chan struct{}), called: make(chan struct{}, 1)}
	m := newTestManager(o, nil, time.Minute)
	s, err := m.OpenCart("cart-1", cartWithItem(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), validForm)
		done <- err
	}()
	<-o.called

	_, err = s.Submit(context.Background(), validForm)
	assert.ErrorIs(t, err, ErrSubmitInProgress)
	assert.ErrorIs(t, s.Close(), ErrSubmitInProgress)
	assert.Equal(t, StateSubmitting, s.State())

	close(o.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, o.callCount())
}

type blockingTracker struct {
	release chan struct{}
}

func (t *blockingTracker) Dispatch(analytics.Purchase) { <-t.release }

func TestSubmit_SlowTrackingDoesNotHoldSuccess(t *testing.T) {
	tr := &blockingTracker{release: make(chan struct{})}
	defer close(tr.release)
	m := newTestManager(&fakeOrders{}, tr, time.Minute)
	store := cartWithItem(t)
	s, err := m.OpenCart("cart-1", store)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Submit(context.Background(), validForm)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateSuccess, s.State())
	assert.Zero(t, store.Len())
}

func TestSubmit_CallerCancelDoesNotAbortOrder(t *testing.T) {
	o := &fakeOrders{block: make(chan struct{}), called: make(chan struct{}, 1)}
	m := newTestManager(o, nil, time.Minute)
	store := cartWithItem(t)
	s, err := m.OpenCart("cart-1", store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, validForm)
		done <- err
	}()

	<-o.called
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateSubmitting, s.State())

	close(o.block)
	require.NoError(t, <-done)
	assert.Equal(t, StateSuccess, s.State())
	assert.Zero(t, store.Len())
	assert.Equal(t, 1, o.callCount())
}

func TestSession_AutoClose(t *testing.T) {
	var mu sync.Mutex
	var states []State
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(Deps{
		Orders:    &fakeOrders{},
		AutoClose: 20 * time.Millisecond,
		Logger:    logger,
		OnChange: func(s Snapshot) {
			mu.Lock()
			states = append(states, s.State)
			mu.Unlock()
		},
	})

	s, err := m.OpenCart("cart-1", cartWithItem(t))
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), validForm)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Nil(t, snap.Order)
	assert.Empty(t, snap.Message)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSubmitting, StateSuccess, StateIdle}, states)
}

func TestSession_ManualCloseBeatsTimer(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, 30*time.Millisecond)
	s, err := m.OpenCart("cart-1", cartWithItem(t))
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), validForm)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateIdle, s.State())

	// the stale timer must not touch the next attempt
	_, err = s.cart.Add(models.CartItem{ID: "p2", Price: 10})
	require.NoError(t, err)
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateFailed, s.State())
}

func TestBuyNowSession(t *testing.T) {
	product := models.Product{
		ID:    "p3",
		Price: 40,
		Attributes: []models.AttributeGroup{
			{Title: "Size", Values: []string{"S", "M"}},
		},
		BundleProducts: []models.BundleProduct{{ID: "b1", Price: 30}, {ID: "b2", Price: 20}},
	}
	o := &fakeOrders{}
	m := newTestManager(o, nil, time.Minute)
	linked := cartWithItem(t)

	s, err := m.OpenBuyNow(orders.BuyNow{Product: product, Quantity: 1}, "cart-1", linked)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, s.Snapshot().BuyNow.BundleIDs, "all bundles selected by default")

	require.NoError(t, s.UpdateBuyNow(BuyNowUpdate{BundleIDs: []string{"b1"}, Selected: map[string]string{"Size": "M"}}))
	assert.Error(t, s.UpdateBuyNow(BuyNowUpdate{Selected: map[string]string{"Size": "XXL"}}))
	zero := 0
	assert.ErrorIs(t, s.UpdateBuyNow(BuyNowUpdate{Quantity: &zero}), orders.ErrInvalidQuantity)

	plan, err := s.Quote("outside_zone")
	require.NoError(t, err)
	assert.Equal(t, 70.0, plan.Subtotal)
	assert.True(t, plan.Shipping.Free)

	_, err = s.Submit(context.Background(), Form{Name: "A", Phone: "01912345678", Address: "B", Zone: "outside_zone"})
	require.NoError(t, err)

	sent := o.calls[0]
	assert.Equal(t, 70, sent.TotalPrice)
	assert.Equal(t, 0, sent.DeliveryCharge)
	assert.Equal(t, []models.AttributePair{{Title: "Size", Value: "M"}}, sent.Items[0].Attributes)
	assert.Zero(t, linked.Len())

	two := 2
	assert.ErrorIs(t, s.UpdateBuyNow(BuyNowUpdate{Quantity: &two}), ErrSessionLocked)
}

func TestManager_GetRemovePrune(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, time.Minute)

	_, err := m.OpenCart("c", nil)
	assert.ErrorIs(t, err, ErrCartRequired)
	_, err = m.OpenBuyNow(orders.BuyNow{}, "", nil)
	assert.ErrorIs(t, err, orders.ErrMissingProduct)

	s, err := m.OpenCart("c", cart.NewStore(nil))
	require.NoError(t, err)
	got, err := m.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, m.Remove(s.ID()))
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = m.OpenCart("c", cart.NewStore(nil))
	require.NoError(t, err)
	assert.Equal(t, 0, m.Prune(time.Hour))
	assert.Equal(t, 1, m.Prune(-time.Second))
	assert.Zero(t, m.Len())
}

func TestManager_PruneKeepsSubmittingSession(t *testing.T) {
	m := newTestManager(&fakeOrders{}, nil, time.Minute)
	s, err := m.OpenCart("c", cartWithItem(t))
	require.NoError(t, err)

	s.mu.Lock()
	s.state = StateSubmitting
	s.lastActivity = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	assert.Equal(t, 0, m.Prune(time.Minute))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, StateSubmitting, s.State())

	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()

	assert.Equal(t, 1, m.Prune(time.Minute))
	assert.Zero(t, m.Len())
}
