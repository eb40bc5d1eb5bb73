package cart

import (
	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// Summary is the priced view of a cart for one delivery zone.
type Summary struct {
	Items          []models.CartItem `json:"items"`
	ItemCount      int               `json:"item_count"`
	Subtotal       int               `json:"subtotal"`
	DeliveryCharge int               `json:"delivery_charge"`
	TotalPrice     int               `json:"total_price"`
	FreeShipping   bool              `json:"free_shipping"`
	Zone           shipping.Zone     `json:"zone"`
}

// Summarize prices items the same way a cart checkout would. An empty cart
// has an all-zero summary.
func Summarize(items []models.CartItem, zone shipping.Zone) (Summary, error) {
	sum := Summary{Items: items, Zone: zone}
	if sum.Items == nil {
		sum.Items = []models.CartItem{}
	}
	if len(items) == 0 {
		if _, err := shipping.Charge(zone); err != nil {
			return Summary{}, err
		}
		return sum, nil
	}

	plan, err := orders.PlanCart(items, zone)
	if err != nil {
		return Summary{}, err
	}
	order := orders.Compose(plan, models.Address{})

	for _, it := range items {
		sum.ItemCount += it.Quantity
	}
	sum.Subtotal = order.Subtotal
	sum.DeliveryCharge = order.DeliveryCharge
	sum.TotalPrice = order.TotalPrice
	sum.FreeShipping = plan.Shipping.Free
	return sum, nil
}

// Summary prices the store's current items.
func (s *Store) Summary(zone shipping.Zone) (Summary, error) {
	return Summarize(s.Items(), zone)
}
