package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var ErrCartNotFound = errors.New("cart not found")

// Repository persists cart snapshots. Load returns ErrCartNotFound for an
// unknown cart.
type Repository interface {
	Load(ctx context.Context, cartID string) ([]models.CartItem, error)
	Save(ctx context.Context, cartID string, items []models.CartItem) error
	Delete(ctx context.Context, cartID string) error
}

type postgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository stores each cart as one JSONB row in cart_snapshots.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Load(ctx context.Context, cartID string) ([]models.CartItem, error) {
	const q = `SELECT items FROM cart_snapshots WHERE cart_id = $1`

	var raw []byte
	if err := r.db.QueryRowContext(ctx, q, cartID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("load cart %s: %w", cartID, err)
	}

	var items []models.CartItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", cartID, err)
	}
	return items, nil
}

func (r *postgresRepository) Save(ctx context.Context, cartID string, items []models.CartItem) error {
	if items == nil {
		items = []models.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", cartID, err)
	}

	const upsert = `
INSERT INTO cart_snapshots (cart_id, items, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (cart_id) DO UPDATE
SET items = EXCLUDED.items, updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, upsert, cartID, raw); err != nil {
		return fmt.Errorf("save cart %s: %w", cartID, err)
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, cartID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_snapshots WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("delete cart %s: %w", cartID, err)
	}
	return nil
}

// MemoryRepository keeps snapshots in process. Used when no database is
// configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string][]models.CartItem
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string][]models.CartItem)}
}

func (m *MemoryRepository) Load(_ context.Context, cartID string) ([]models.CartItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.carts[cartID]
	if !ok {
		return nil, ErrCartNotFound
	}
	out := make([]models.CartItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemoryRepository) Save(_ context.Context, cartID string, items []models.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CartItem, len(items))
	copy(out, items)
	m.carts[cartID] = out
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, cartID)
	return nil
}
