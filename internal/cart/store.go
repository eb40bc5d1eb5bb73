// Package cart owns shopping carts. A Store is the single writer of one cart;
// everything else observes it through Subscribe.
package cart

import (
	"errors"
	"strings"
	"sync"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var (
	ErrLineNotFound    = errors.New("cart line not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidItem     = errors.New("cart item requires a product id")
)

// Listener receives a snapshot of the items after every mutation. Listeners
// run synchronously in mutation order and must not mutate the store.
type Listener func(items []models.CartItem)

type Store struct {
	mu        sync.Mutex
	notifyMu  sync.Mutex
	items     []models.CartItem
	listeners map[int]Listener
	nextID    int
}

// NewStore builds a store seeded with items, typically a loaded snapshot.
func NewStore(items []models.CartItem) *Store {
	s := &Store{listeners: make(map[int]Listener)}
	for _, it := range items {
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		if it.LineID == "" {
			it.LineID = models.LineKey(it.ID, it.Attributes)
		}
		s.items = append(s.items, it)
	}
	return s
}

// Subscribe registers l and returns a func that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Add puts an item in the cart. An item with the same product and attributes
// as an existing line increases that line's quantity instead.
func (s *Store) Add(item models.CartItem) (models.CartItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return models.CartItem{}, ErrInvalidItem
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	item.Attributes = copyAttrs(item.Attributes)
	item.LineID = models.LineKey(item.ID, item.Attributes)

	var line models.CartItem
	s.mutate(func() error {
		for i := range s.items {
			if s.items[i].LineID == item.LineID {
				s.items[i].Quantity += item.Quantity
				line = s.items[i]
				return nil
			}
		}
		s.items = append(s.items, item)
		line = item
		return nil
	})
	return line, nil
}

func (s *Store) Increment(lineID string) error {
	return s.mutate(func() error {
		i := s.indexOf(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		s.items[i].Quantity++
		return nil
	})
}

// Decrement lowers the quantity by one but never below 1. Use Remove to drop
// a line.
func (s *Store) Decrement(lineID string) error {
	return s.mutate(func() error {
		i := s.indexOf(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		if s.items[i].Quantity > 1 {
			s.items[i].Quantity--
		}
		return nil
	})
}

func (s *Store) SetQuantity(lineID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	return s.mutate(func() error {
		i := s.indexOf(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		s.items[i].Quantity = quantity
		return nil
	})
}

func (s *Store) Remove(lineID string) error {
	return s.mutate(func() error {
		i := s.indexOf(lineID)
		if i < 0 {
			return ErrLineNotFound
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		return nil
	})
}

func (s *Store) Clear() {
	s.mutate(func() error {
		s.items = nil
		return nil
	})
}

// Items returns a copy of the current lines.
func (s *Store) Items() []models.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// mutate applies fn under the lock and, when it succeeds, notifies listeners
// before the next mutation can notify its own.
func (s *Store) mutate(fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	items := s.snapshot()
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.notifyMu.Lock()
	s.mu.Unlock()

	defer s.notifyMu.Unlock()
	for _, l := range listeners {
		l(items)
	}
	return nil
}

func (s *Store) indexOf(lineID string) int {
	for i := range s.items {
		if s.items[i].LineID == lineID {
			return i
		}
	}
	return -1
}

func (s *Store) snapshot() []models.CartItem {
	out := make([]models.CartItem, len(s.items))
	for i, it := range s.items {
		it.Attributes = copyAttrs(it.Attributes)
		out[i] = it
	}
	return out
}

func copyAttrs(attrs []models.AttributePair) []models.AttributePair {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]models.AttributePair, len(attrs))
	copy(out, attrs)
	return out
}
