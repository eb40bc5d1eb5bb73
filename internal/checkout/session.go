// Package checkout drives one order placement from form submission to the
// success or failure state shown to the customer.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/analytics"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

type Mode string

const (
	ModeBuyNow Mode = "buy_now"
	ModeCart   Mode = "cart"
)

var (
	ErrSubmitInProgress = errors.New("order submission already in progress")
	ErrAlreadyPlaced    = errors.New("order already placed for this session")
	ErrSessionLocked    = errors.New("checkout cannot change while submitting or after success")
)

// SubmitError is a failed submission. Message is what the customer sees.
type SubmitError struct {
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return fmt.Sprintf("submit order: %v", e.Err) }
func (e *SubmitError) Unwrap() error { return e.Err }

// OrderCreator places an order with the remote order API.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.OrderRecord, error)
}

// PurchaseTracker receives every placed order.
type PurchaseTracker interface {
	Dispatch(p analytics.Purchase)
}

// Deps are shared by every session of a Manager.
type Deps struct {
	Orders    OrderCreator
	Tracker   PurchaseTracker
	AutoClose time.Duration
	Currency  string
	// OnChange observes every state transition, outside the session lock.
	OnChange func(Snapshot)
	Logger   *logrus.Logger
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID      string              `json:"id"`
	Mode    Mode                `json:"mode"`
	CartID  string              `json:"cart_id,omitempty"`
	State   State               `json:"state"`
	Message string              `json:"message,omitempty"`
	Form    Form                `json:"form"`
	Order   *models.OrderRecord `json:"order,omitempty"`
	BuyNow  *BuyNowView         `json:"buy_now,omitempty"`
}

type BuyNowView struct {
	ProductID         string            `json:"product_id"`
	Quantity          int               `json:"quantity"`
	Selected          map[string]string `json:"selected_attributes,omitempty"`
	BundleIDs         []string          `json:"bundle_ids"`
	ForceFreeShipping bool              `json:"force_free_shipping"`
}

// BuyNowUpdate changes a buy-now session. Nil fields are left alone.
type BuyNowUpdate struct {
	Quantity  *int              `json:"quantity,omitempty"`
	Selected  map[string]string `json:"selected_attributes,omitempty"`
	BundleIDs []string          `json:"bundle_ids,omitempty"`
}

type Session struct {
	id     string
	mode   Mode
	cartID string
	cart   *cart.Store
	deps   *Deps

	mu           sync.Mutex
	state        State
	buyNow       orders.BuyNow
	form         Form
	message      string
	record       *models.OrderRecord
	closeTimer   *time.Timer
	generation   int
	lastActivity time.Time
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:      s.id,
		Mode:    s.mode,
		CartID:  s.cartID,
		State:   s.state,
		Message: s.message,
		Form:    s.form,
		Order:   s.record,
	}
	if s.mode == ModeBuyNow {
		snap.BuyNow = &BuyNowView{
			ProductID:         s.buyNow.Product.ID,
			Quantity:          s.buyNow.Quantity,
			Selected:          s.buyNow.Selected,
			BundleIDs:         append([]string{}, s.buyNow.BundleIDs...),
			ForceFreeShipping: s.buyNow.ForceFreeShipping,
		}
	}
	return snap
}

// Quote prices the current state for zone without submitting anything.
func (s *Session) Quote(zone shipping.Zone) (*orders.Plan, error) {
	s.mu.Lock()
	b := s.buyNow
	s.mu.Unlock()

	if s.mode == ModeCart {
		return orders.PlanCart(s.cart.Items(), zone)
	}
	return orders.PlanBuyNow(b, zone)
}

// UpdateBuyNow edits quantity, attributes or bundle selection. It is allowed
// while idle or after a failure.
func (s *Session) UpdateBuyNow(u BuyNowUpdate) error {
	if s.mode != ModeBuyNow {
		return fmt.Errorf("session %s is not a buy-now session", s.id)
	}

	s.mu.Lock()
	if s.state == StateSubmitting || s.state == StateSuccess {
		s.mu.Unlock()
		return ErrSessionLocked
	}

	next := s.buyNow
	if u.Quantity != nil {
		if *u.Quantity < 1 {
			s.mu.Unlock()
			return orders.ErrInvalidQuantity
		}
		next.Quantity = *u.Quantity
	}
	if u.Selected != nil {
		if err := bundle.ValidateSelection(next.Product.Attributes, u.Selected); err != nil {
			s.mu.Unlock()
			return err
		}
		next.Selected = copyMap(u.Selected)
	}
	if u.BundleIDs != nil {
		next.BundleIDs = append([]string{}, u.BundleIDs...)
	}
	s.buyNow = next
	s.lastActivity = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Submit validates the form, composes the order and posts it once. Any
// failure leaves the cart and the buy-now state as they were. The post is
// not cancelled with ctx; only the order client's timeout bounds it.
// Purchase tracking runs in the background after the cart is cleared.
func (s *Session) Submit(ctx context.Context, form Form) (*models.OrderRecord, error) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	switch s.state {
	case StateSubmitting:
		s.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateSuccess:
		s.mu.Unlock()
		return nil, ErrAlreadyPlaced
	}

	addr, zone, err := form.Validate()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	order, err := s.compose(zone, addr)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.state = StateSubmitting
	s.form = form
	s.message = ""
	s.lastActivity = time.Now()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	log := s.deps.Logger.WithFields(logrus.Fields{
		"session_id":  s.id,
		"mode":        s.mode,
		"total_price": order.TotalPrice,
	})

	rec, err := s.deps.Orders.CreateOrder(ctx, order)
	if err != nil {
		msg := UserMessage(err)
		log.WithError(err).Warn("Order submission failed")

		s.mu.Lock()
		s.state = StateFailed
		s.message = msg
		snap = s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)
		return nil, &SubmitError{Message: msg, Err: err}
	}

	s.mu.Lock()
	s.state = StateSuccess
	s.record = rec
	s.message = MessageOrderPlaced
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	log.WithField("order_id", rec.ID).Info("Order placed")

	if s.cart != nil {
		s.cart.Clear()
	}

	s.mu.Lock()
	if s.generation == gen {
		s.closeTimer = time.AfterFunc(s.deps.AutoClose, func() { s.autoClose(gen) })
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if s.deps.Tracker != nil {
		go s.deps.Tracker.Dispatch(analytics.Purchase{
			Channel:  s.id,
			Source:   string(s.mode),
			Currency: s.deps.Currency,
			Order:    order,
			Record:   rec,
		})
	}

	return rec, nil
}

// compose must be called with s.mu held.
func (s *Session) compose(zone shipping.Zone, addr models.Address) (*models.Order, error) {
	if s.mode == ModeCart {
		return orders.ComposeCart(s.cart.Items(), zone, addr)
	}
	return orders.ComposeBuyNow(s.buyNow, zone, addr)
}

// Close dismisses the session and resets it to Idle. Closing while a
// submission is in flight is refused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return ErrSubmitInProgress
	}
	s.resetLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Session) autoClose(gen int) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateSuccess {
		s.mu.Unlock()
		return
	}
	s.resetLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.deps.Logger.WithField("session_id", s.id).Debug("Checkout auto-closed")
	s.notify(snap)
}

func (s *Session) resetLocked() {
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	s.generation++
	s.state = StateIdle
	s.message = ""
	s.record = nil
	s.form = Form{}
	s.lastActivity = time.Now()
}

// closeIfIdle resets the session when its last activity is before cutoff.
// A session mid-submission is never closed.
func (s *Session) closeIfIdle(cutoff time.Time) bool {
	s.mu.Lock()
	if s.state == StateSubmitting || !s.lastActivity.Before(cutoff) {
		s.mu.Unlock()
		return false
	}
	s.resetLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

func (s *Session) notify(snap Snapshot) {
	if s.deps.OnChange != nil {
		s.deps.OnChange(snap)
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
