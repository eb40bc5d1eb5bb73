package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

const saveTimeout = 5 * time.Second

// ChangeFunc observes mutations of any cart held by a Registry.
type ChangeFunc func(cartID string, items []models.CartItem)

// Registry maps cart ids to their stores. Stores are loaded lazily from the
// repository and every mutation is written back to it.
type Registry struct {
	mu        sync.Mutex
	carts     map[string]*Store
	detach    map[string]func()
	repo      Repository
	logger    *logrus.Logger
	observers []ChangeFunc
}

func NewRegistry(repo Repository, logger *logrus.Logger) *Registry {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Registry{
		carts:  make(map[string]*Store),
		detach: make(map[string]func()),
		repo:   repo,
		logger: logger,
	}
}

// OnChange registers fn for every cart, including ones opened later.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Create opens a new empty cart and persists it.
func (r *Registry) Create(ctx context.Context) (string, *Store, error) {
	id := uuid.NewString()
	if err := r.repo.Save(ctx, id, nil); err != nil {
		return "", nil, err
	}

	store := NewStore(nil)
	r.mu.Lock()
	r.attach(id, store)
	r.mu.Unlock()

	r.logger.WithField("cart_id", id).Info("Cart created")
	return id, store, nil
}

// Get returns the store of cartID, loading it on first use.
func (r *Registry) Get(ctx context.Context, cartID string) (*Store, error) {
	r.mu.Lock()
	if s, ok := r.carts[cartID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	items, err := r.repo.Load(ctx, cartID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another request may have loaded it meanwhile
	if s, ok := r.carts[cartID]; ok {
		return s, nil
	}
	s := NewStore(items)
	r.attach(cartID, s)
	return s, nil
}

// Delete forgets the cart and its snapshot. A store still held elsewhere,
// such as by a checkout session, is no longer persisted.
func (r *Registry) Delete(ctx context.Context, cartID string) error {
	r.mu.Lock()
	unsubscribe := r.detach[cartID]
	delete(r.carts, cartID)
	delete(r.detach, cartID)
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if err := r.repo.Delete(ctx, cartID); err != nil && !errors.Is(err, ErrCartNotFound) {
		return err
	}
	return nil
}

// attach must be called with r.mu held.
func (r *Registry) attach(cartID string, s *Store) {
	r.carts[cartID] = s
	r.detach[cartID] = s.Subscribe(func(items []models.CartItem) {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.repo.Save(ctx, cartID, items); err != nil {
			r.logger.WithError(err).WithField("cart_id", cartID).Error("Failed to persist cart")
		}

		r.mu.Lock()
		observers := append([]ChangeFunc(nil), r.observers...)
		r.mu.Unlock()
		for _, fn := range observers {
			fn(cartID, items)
		}
	})
}
