// Package bundle merges a primary product with its selected companion
// products into order-ready lines.
package bundle

import (
	"strings"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/pricing"
	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

// FallbackPolicy decides what a line carries when none of its attribute
// sources yields a pair.
type FallbackPolicy int

const (
	// FallbackOmit emits no attribute and lets the order API apply its default.
	FallbackOmit FallbackPolicy = iota
	// FallbackPlaceholder emits Default/Standard.
	FallbackPlaceholder
)

func (p FallbackPolicy) String() string {
	switch p {
	case FallbackOmit:
		return "omit"
	case FallbackPlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

var (
	PlaceholderAttribute = models.AttributePair{Title: "Default", Value: "Standard"}
	variantTitle         = "Variant"
)

// Line is one order-ready row.
type Line struct {
	ProductID      string
	Title          string
	UnitPrice      float64
	OriginalPrice  float64
	Quantity       int
	Attributes     []models.AttributePair
	IsFreeShipping bool
	IsBundle       bool
}

// Subtotal is UnitPrice x Quantity.
func (l Line) Subtotal() float64 {
	return pricing.LineTotal(l.UnitPrice, l.Quantity)
}

type Result struct {
	Lines       []Line
	Subtotal    float64
	BundleCount int
	BundleTotal float64
}

// Bundles returns the companion lines only.
func (r Result) Bundles() []Line {
	if len(r.Lines) <= 1 {
		return nil
	}
	return r.Lines[1:]
}

// ResolveAttribute picks the representative attribute of a bundle product.
// Sources are tried in order: attribute, attributes, defaultAttributes, and
// finally the variant name. The first non-empty pair wins.
func ResolveAttribute(b models.BundleProduct) (models.AttributePair, bool) {
	for _, a := range b.Attribute {
		if p := trimPair(a); !p.IsZero() {
			return p, true
		}
	}

	for _, g := range b.Attributes {
		title := strings.TrimSpace(g.Title)
		if title == "" {
			continue
		}
		for _, v := range g.Values {
			if v = strings.TrimSpace(v); v != "" {
				return models.AttributePair{Title: title, Value: v}, true
			}
		}
	}

	for _, a := range b.DefaultAttributes {
		if p := trimPair(a); !p.IsZero() {
			return p, true
		}
	}

	if v := strings.TrimSpace(b.Variant); v != "" {
		return models.AttributePair{Title: variantTitle, Value: v}, true
	}

	return models.AttributePair{}, false
}

// ApplyFallback returns attrs unchanged when it has at least one usable pair,
// otherwise whatever the policy prescribes.
func ApplyFallback(attrs []models.AttributePair, policy FallbackPolicy) []models.AttributePair {
	out := make([]models.AttributePair, 0, len(attrs))
	for _, a := range attrs {
		if p := trimPair(a); !p.IsZero() {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		return out
	}
	if policy == FallbackPlaceholder {
		return []models.AttributePair{PlaceholderAttribute}
	}
	return []models.AttributePair{}
}

// DefaultSelection selects every bundle product, which is what a shopper
// sees before touching the checkboxes.
func DefaultSelection(bundles []models.BundleProduct) []string {
	ids := make([]string, 0, len(bundles))
	for _, b := range bundles {
		ids = append(ids, b.ID)
	}
	return ids
}

// Aggregate puts the primary line first and then every selected bundle
// product in listing order. Selection is a set: unknown ids are ignored and
// duplicates collapse. Bundle lines always have quantity 1.
func Aggregate(primary Line, selected []string, bundles []models.BundleProduct, policy FallbackPolicy) Result {
	if primary.Quantity < 1 {
		primary.Quantity = 1
	}
	primary.IsBundle = false
	primary.Attributes = copyPairs(primary.Attributes)

	chosen := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		chosen[id] = struct{}{}
	}

	res := Result{Lines: []Line{primary}}
	amounts := []float64{primary.Subtotal()}
	bundleAmounts := make([]float64, 0, len(selected))

	for _, b := range bundles {
		if _, ok := chosen[b.ID]; !ok {
			continue
		}
		// a product listed twice is still one selection
		delete(chosen, b.ID)

		var attrs []models.AttributePair
		if pair, ok := ResolveAttribute(b); ok {
			attrs = []models.AttributePair{pair}
		} else {
			attrs = ApplyFallback(nil, policy)
		}

		price := b.Price
		if price < 0 {
			price = 0
		}

		res.Lines = append(res.Lines, Line{
			ProductID:      b.ID,
			Title:          b.Title,
			UnitPrice:      price,
			OriginalPrice:  b.OriginalPrice,
			Quantity:       1,
			Attributes:     attrs,
			IsFreeShipping: b.IsFreeShipping,
			IsBundle:       true,
		})
		amounts = append(amounts, price)
		bundleAmounts = append(bundleAmounts, price)
	}

	res.BundleCount = len(res.Lines) - 1
	res.BundleTotal = pricing.Sum(bundleAmounts...)
	res.Subtotal = pricing.Sum(amounts...)
	return res
}

// BundleFromProduct derives a bundle entry from a full product record,
// computing its net price with the product's own discount.
func BundleFromProduct(p models.Product) models.BundleProduct {
	price := pricing.Calculate(p.Price, p.Discount)
	b := models.BundleProduct{
		ID:             p.ID,
		Title:          p.Title,
		Price:          price.SalePrice,
		Attributes:     p.Attributes,
		IsFreeShipping: p.IsFreeShipping,
		Thumbnail:      p.Thumbnail,
	}
	if price.SalePrice < price.OriginalPrice {
		b.OriginalPrice = price.OriginalPrice
	}
	return b
}

func trimPair(p models.AttributePair) models.AttributePair {
	return models.AttributePair{
		Title: strings.TrimSpace(p.Title),
		Value: strings.TrimSpace(p.Value),
	}
}

func copyPairs(in []models.AttributePair) []models.AttributePair {
	if in == nil {
		return []models.AttributePair{}
	}
	out := make([]models.AttributePair, len(in))
	copy(out, in)
	return out
}
