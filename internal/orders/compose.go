package orders

import (
	"errors"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/bundle"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/pricing"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/shipping"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var (
	ErrEmptyOrder      = errors.New("order must contain at least one item")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrMissingProduct  = errors.New("product is required")
)

// BuyNow is the state of a single-product checkout.
type BuyNow struct {
	Product  models.Product
	Quantity int
	// Selected maps attribute-group title to the chosen value.
	Selected  map[string]string
	BundleIDs []string
	// ForceFreeShipping is set when checkout starts from the bundle offer.
	ForceFreeShipping bool
}

// Plan is a priced, not yet addressed, order.
type Plan struct {
	Lines             []bundle.Line     `json:"-"`
	Subtotal          float64           `json:"subtotal"`
	BundleCount       int               `json:"bundle_count"`
	BundleTotal       float64           `json:"bundle_total"`
	ThresholdEligible bool              `json:"bundle_threshold_eligible"`
	Shipping          shipping.Decision `json:"shipping"`
}

// PlanBuyNow prices the primary product with its selected bundle products and
// decides the delivery charge.
func PlanBuyNow(b BuyNow, zone shipping.Zone) (*Plan, error) {
	if b.Product.ID == "" {
		return nil, ErrMissingProduct
	}
	if b.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if err := bundle.ValidateSelection(b.Product.Attributes, b.Selected); err != nil {
		return nil, err
	}

	price := pricing.Calculate(b.Product.Price, b.Product.Discount)
	primary := bundle.Line{
		ProductID:      b.Product.ID,
		Title:          b.Product.Title,
		UnitPrice:      price.SalePrice,
		OriginalPrice:  price.OriginalPrice,
		Quantity:       b.Quantity,
		Attributes:     bundle.SelectedPairs(b.Product.Attributes, b.Selected),
		IsFreeShipping: b.Product.IsFreeShipping,
	}

	agg := bundle.Aggregate(primary, b.BundleIDs, b.Product.BundleProducts, bundle.FallbackOmit)

	decision, err := shipping.Evaluate(shipping.Input{
		ProductFreeShipping: b.Product.IsFreeShipping,
		ForceFreeShipping:   b.ForceFreeShipping,
		BundleCount:         agg.BundleCount,
		Zone:                zone,
	})
	if err != nil {
		return nil, err
	}

	return &Plan{
		Lines:             agg.Lines,
		Subtotal:          agg.Subtotal,
		BundleCount:       agg.BundleCount,
		BundleTotal:       agg.BundleTotal,
		ThresholdEligible: shipping.ThresholdEligible(agg.BundleTotal),
		Shipping:          decision,
	}, nil
}

// PlanCart prices every cart line. Lines without attributes carry the
// Default/Standard placeholder.
func PlanCart(items []models.CartItem, zone shipping.Zone) (*Plan, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	lines := make([]bundle.Line, 0, len(items))
	amounts := make([]float64, 0, len(items))
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, ErrInvalidQuantity
		}
		l := bundle.Line{
			ProductID:      it.ID,
			Title:          it.Title,
			UnitPrice:      it.Price,
			OriginalPrice:  it.OriginalPrice,
			Quantity:       it.Quantity,
			Attributes:     bundle.ApplyFallback(it.Attributes, bundle.FallbackPlaceholder),
			IsFreeShipping: it.IsFreeShipping,
		}
		lines = append(lines, l)
		amounts = append(amounts, l.Subtotal())
	}

	decision, err := shipping.EvaluateCart(items, zone)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Lines:    lines,
		Subtotal: pricing.Sum(amounts...),
		Shipping: decision,
	}, nil
}

// Compose turns a plan into the wire order. Money totals are rounded to
// whole units and TotalPrice is derived from the rounded parts.
func Compose(p *Plan, addr models.Address) *models.Order {
	items := make([]models.OrderItem, 0, len(p.Lines))
	for _, l := range p.Lines {
		items = append(items, orderItem(l))
	}

	delivery := p.Shipping.Charge
	if p.Shipping.Free {
		delivery = 0
	}
	subtotal := pricing.RoundCurrency(p.Subtotal)

	return &models.Order{
		DeliveryCharge: delivery,
		Subtotal:       subtotal,
		TotalPrice:     subtotal + delivery,
		Address:        addr,
		Items:          items,
	}
}

func orderItem(l bundle.Line) models.OrderItem {
	original := l.OriginalPrice
	if original < l.UnitPrice {
		original = l.UnitPrice
	}
	discount := pricing.Sum(original, -l.UnitPrice)
	subtotal := l.Subtotal()

	attrs := l.Attributes
	if attrs == nil {
		attrs = []models.AttributePair{}
	}

	return models.OrderItem{
		ProductID:    l.ProductID,
		Quantity:     l.Quantity,
		Attributes:   attrs,
		Price:        original,
		Discount:     discount,
		SellingPrice: l.UnitPrice,
		Subtotal:     subtotal,
		Total:        subtotal,
	}
}

// ComposeBuyNow plans and composes a single-product order in one step.
func ComposeBuyNow(b BuyNow, zone shipping.Zone, addr models.Address) (*models.Order, error) {
	p, err := PlanBuyNow(b, zone)
	if err != nil {
		return nil, err
	}
	return Compose(p, addr), nil
}

// ComposeCart plans and composes a cart order in one step.
func ComposeCart(items []models.CartItem, zone shipping.Zone, addr models.Address) (*models.Order, error) {
	p, err := PlanCart(items, zone)
	if err != nil {
		return nil, err
	}
	return Compose(p, addr), nil
}
