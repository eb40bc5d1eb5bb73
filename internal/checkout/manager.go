package checkout

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/cart"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
)

const DefaultAutoClose = 30 * time.Second

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrCartRequired    = errors.New("cart checkout needs a cart")
)

// Manager owns the open checkout sessions.
type Manager struct {
	deps     Deps
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	if deps.AutoClose <= 0 {
		deps.AutoClose = DefaultAutoClose
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// OpenBuyNow starts a single-product checkout. A nil BundleIDs selects every
// bundle product. cartStore is optional; when given it is cleared after a
// successful order.
func (m *Manager) OpenBuyNow(b orders.BuyNow, cartID string, cartStore *cart.Store) (*Session, error) {
	if b.Product.ID == "" {
		return nil, orders.ErrMissingProduct
	}
	if b.Quantity < 1 {
		b.Quantity = 1
	}
	if err := bundle.ValidateSelection(b.Product.Attributes, b.Selected); err != nil {
		return nil, err
	}
	if b.BundleIDs == nil {
		b.BundleIDs = bundle.DefaultSelection(b.Product.BundleProducts)
	}
	if b.Selected != nil {
		b.Selected = copyMap(b.Selected)
	}

	s := m.newSession(ModeBuyNow, cartID, cartStore)
	s.buyNow = b
	m.add(s)
	return s, nil
}

// OpenCart starts a checkout of every line in the cart.
func (m *Manager) OpenCart(cartID string, cartStore *cart.Store) (*Session, error) {
	if cartStore == nil {
		return nil, ErrCartRequired
	}
	s := m.newSession(ModeCart, cartID, cartStore)
	m.add(s)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Prune drops sessions with no activity for longer than maxIdle. In-flight
// submissions are kept.
func (m *Manager) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.closeIfIdle(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.deps.Logger.WithField("removed", removed).Debug("Pruned checkout sessions")
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) newSession(mode Mode, cartID string, store *cart.Store) *Session {
	return &Session{
		id:           uuid.NewString(),
		mode:         mode,
		cartID:       cartID,
		cart:         store,
		deps:         &m.deps,
		state:        StateIdle,
		lastActivity: time.Now(),
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.deps.Logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"mode":       s.mode,
	}).Info("Checkout session opened")
}
