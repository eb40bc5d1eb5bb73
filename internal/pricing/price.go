// Package pricing derives sale prices and currency amounts for the storefront.
// All arithmetic goes through decimal so that 0.1-style discounts do not
// leak float noise into order payloads.
package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Price is the presentation view of a product price.
type Price struct {
	OriginalPrice      float64 `json:"original_price"`
	SalePrice          float64 `json:"sale_price"`
	DiscountPercentage float64 `json:"discount_percentage"`
}

// Calculate applies a percentage discount to a base price. Negative inputs
// are treated as zero and the discount used for the sale price is capped at
// 100, so SalePrice never exceeds OriginalPrice. It never fails.
func Calculate(price, discount float64) Price {
	if price < 0 {
		price = 0
	}
	if discount < 0 {
		discount = 0
	}

	effective := decimal.NewFromFloat(discount)
	if effective.GreaterThan(hundred) {
		effective = hundred
	}

	original := decimal.NewFromFloat(price)
	factor := decimal.NewFromInt(1).Sub(effective.Div(hundred))
	sale := original.Mul(factor).Round(2)

	return Price{
		OriginalPrice:      price,
		SalePrice:          sale.InexactFloat64(),
		DiscountPercentage: discount,
	}
}

// DiscountAmount is the per-unit amount taken off by the discount.
func (p Price) DiscountAmount() float64 {
	return decimal.NewFromFloat(p.OriginalPrice).
		Sub(decimal.NewFromFloat(p.SalePrice)).
		Round(2).
		InexactFloat64()
}

// LineTotal multiplies a unit price by a quantity, rounded to 2 places.
func LineTotal(unit float64, quantity int) float64 {
	return decimal.NewFromFloat(unit).
		Mul(decimal.NewFromInt(int64(quantity))).
		Round(2).
		InexactFloat64()
}

// Sum adds amounts without accumulating float error.
func Sum(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	return total.Round(2).InexactFloat64()
}

// RoundCurrency rounds to whole currency units, half away from zero.
func RoundCurrency(amount float64) int {
	return int(decimal.NewFromFloat(amount).Round(0).IntPart())
}
