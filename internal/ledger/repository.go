// Package ledger keeps the admin copy of every placed order, fed by the
// order.placed event stream.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var ErrOrderNotFound = errors.New("order not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Order struct {
	ID             string             `json:"id"`
	EventID        string             `json:"event_id"`
	Status         string             `json:"status"`
	Source         string             `json:"source"`
	Currency       string             `json:"currency"`
	Address        models.Address     `json:"address"`
	Subtotal       int                `json:"subtotal"`
	DeliveryCharge int                `json:"delivery_charge"`
	TotalPrice     int                `json:"total_price"`
	Items          []models.OrderItem `json:"order_items,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// ListFilter narrows List. An empty Status lists every order.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type Repository interface {
	// Record stores the order carried by ev. It reports false when the
	// order was already stored.
	Record(ctx context.Context, ev events.OrderPlacedEvent) (bool, error)
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*Order, error)
}

type repo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repo{db: db}
}

const (
	insertOrderSQL = `INSERT INTO orders (id, event_id, status, source, currency, customer_name, customer_phone, customer_address, subtotal, delivery_charge, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	insertItemSQL = `INSERT INTO order_items (order_id, position, product_id, quantity, attributes, price, discount, selling_price, subtotal, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	selectOrderSQL = `SELECT id, event_id, status, source, currency, customer_name, customer_phone, customer_address, subtotal, delivery_charge, total_price, created_at, updated_at
		FROM orders WHERE id = $1`

	selectItemsSQL = `SELECT product_id, quantity, attributes, price, discount, selling_price, subtotal, total
		FROM order_items WHERE order_id = $1 ORDER BY position`

	listOrdersSQL = `SELECT id, event_id, status, source, currency, customer_name, customer_phone, customer_address, subtotal, delivery_charge, total_price, created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	listOrdersByStatusSQL = `SELECT id, event_id, status, source, currency, customer_name, customer_phone, customer_address, subtotal, delivery_charge, total_price, created_at, updated_at
		FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	lockStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	updateStatusSQL = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`
)

func (r *repo) Record(ctx context.Context, ev events.OrderPlacedEvent) (bool, error) {
	status := ev.Status
	if !ValidStatus(status) {
		status = models.OrderStatusPending
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertOrderSQL,
		ev.OrderID, ev.EventID, status, ev.Source, ev.Currency,
		ev.Address.Name, ev.Address.Phone, ev.Address.Address,
		ev.Subtotal, ev.DeliveryCharge, ev.TotalPrice, ev.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return false, nil
	}

	for i, it := range ev.Items {
		attrs, err := json.Marshal(nonNilAttributes(it.Attributes))
		if err != nil {
			return false, fmt.Errorf("marshal attributes: %w", err)
		}
		_, err = tx.ExecContext(ctx, insertItemSQL,
			ev.OrderID, i, it.ProductID, it.Quantity, attrs,
			it.Price, it.Discount, it.SellingPrice, it.Subtotal, it.Total,
		)
		if err != nil {
			return false, fmt.Errorf("insert order_item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.EventID, &o.Status, &o.Source, &o.Currency,
		&o.Address.Name, &o.Address.Phone, &o.Address.Address,
		&o.Subtotal, &o.DeliveryCharge, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, selectItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    models.OrderItem
			attrs []byte
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &attrs, &it.Price, &it.Discount,
			&it.SellingPrice, &it.Subtotal, &it.Total); err != nil {
			return nil, fmt.Errorf("scan order_item: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &it.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes: %w", err)
			}
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return o, nil
}

// List returns order headers, newest first. Items are not loaded.
func (r *repo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	f = f.normalized()

	var (
		rows *sql.Rows
		err  error
	)
	if f.Status == "" {
		rows, err = r.db.QueryContext(ctx, listOrdersSQL, f.Limit, f.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx, listOrdersByStatusSQL, f.Status, f.Limit, f.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// UpdateStatus moves an order to status if the transition table allows it.
func (r *repo) UpdateStatus(ctx context.Context, id, status string) (*Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, lockStatusSQL, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select status: %w", err)
	}

	if err := CheckTransition(current, status); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, updateStatusSQL, status, id); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return r.Get(ctx, id)
}

func nonNilAttributes(a []models.AttributePair) []models.AttributePair {
	if a == nil {
		return []models.AttributePair{}
	}
	return a
}
