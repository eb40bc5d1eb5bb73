package main

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// rejection is an order failure whose text is shown to the shopper as is.
type rejection string

func (r rejection) Error() string { return string(r) }

const (
	errOutOfStock     rejection = "Out of stock"
	errUnknownProduct rejection = "Product not found"
	errEmptyOrder     rejection = "Order has no items"
	errTotalMismatch  rejection = "Total price does not match subtotal and delivery charge"
)

// mockStore is the in-memory catalog and order book of the mock API.
type mockStore struct {
	mutex      sync.RWMutex
	products   map[string]*models.Product
	categories []models.Category
	orders     map[string]*models.OrderRecord
}

func newMockStore(products []models.Product, categories []models.Category) *mockStore {
	s := &mockStore{
		products:   make(map[string]*models.Product, len(products)),
		categories: categories,
		orders:     make(map[string]*models.OrderRecord),
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

func (s *mockStore) list(search, category string, page, limit int) []models.Product {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(p.Title), search) {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if limit <= 0 {
		return out
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(out) {
		return []models.Product{}
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end]
}

func (s *mockStore) get(id string) (models.Product, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

func (s *mockStore) listCategories() []models.Category {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]models.Category, len(s.categories))
	copy(out, s.categories)
	for i := range out {
		for _, p := range s.products {
			if p.Category == out[i].Slug {
				out[i].Count++
			}
		}
	}
	return out
}

// place checks stock for every line and only then reserves it, so a
// rejected order changes nothing.
func (s *mockStore) place(o models.Order) (*models.OrderRecord, error) {
	if len(o.Items) == 0 {
		return nil, errEmptyOrder
	}
	if o.TotalPrice != o.Subtotal+o.DeliveryCharge {
		return nil, errTotalMismatch
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	wanted := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		if _, ok := s.products[it.ProductID]; !ok {
			return nil, errUnknownProduct
		}
		wanted[it.ProductID] += it.Quantity
	}
	for id, qty := range wanted {
		if s.products[id].Stock < qty {
			return nil, errOutOfStock
		}
	}
	for id, qty := range wanted {
		s.products[id].Stock -= qty
	}

	rec := &models.OrderRecord{
		ID:             uuid.NewString(),
		Status:         models.OrderStatusPending,
		Items:          o.Items,
		Subtotal:       o.Subtotal,
		DeliveryCharge: o.DeliveryCharge,
		TotalPrice:     o.TotalPrice,
		Address:        o.Address,
		CreatedAt:      time.Now().UTC(),
	}
	s.orders[rec.ID] = rec
	return rec, nil
}

func (s *mockStore) orderCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.orders)
}

func seedCategories() []models.Category {
	return []models.Category{
		{ID: "cat-1", Name: "Clothing", Slug: "clothing"},
		{ID: "cat-2", Name: "Accessories", Slug: "accessories"},
		{ID: "cat-3", Name: "Gifts", Slug: "gifts"},
	}
}

func seedProducts() []models.Product {
	return []models.Product{
		{
			ID:       "prod-shirt",
			Title:    "Cotton Panjabi",
			Price:    1450,
			Discount: 10,
			Stock:    25,
			Category: "clothing",
			Attributes: []models.AttributeGroup{
				{Title: "Size", Values: []string{"M", "L", "XL"}},
				{Title: "Color", Values: []string{"White", "Navy"}},
			},
			BundleProducts: []models.BundleProduct{
				{
					ID:                "prod-cap",
					Title:             "Prayer Cap",
					Price:             120,
					OriginalPrice:     150,
					DefaultAttributes: []models.AttributePair{{Title: "Color", Value: "White"}},
				},
				{ID: "prod-attar", Title: "Attar 6ml", Price: 250, Variant: "6ml"},
			},
		},
		{
			ID:             "prod-watch",
			Title:          "Leather Strap Watch",
			Price:          2200,
			Stock:          5,
			Category:       "accessories",
			IsFreeShipping: true,
		},
		{
			ID:       "prod-cap",
			Title:    "Prayer Cap",
			Price:    150,
			Discount: 20,
			Stock:    100,
			Category: "accessories",
			Attributes: []models.AttributeGroup{
				{Title: "Color", Values: []string{"White", "Black"}},
			},
		},
		{
			ID:       "prod-attar",
			Title:    "Attar 6ml",
			Price:    250,
			Stock:    2,
			Category: "gifts",
		},
	}
}
