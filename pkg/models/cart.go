package models

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

type CartItem struct {
	LineID         string          `json:"line_id"`
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Price          float64         `json:"price"`
	OriginalPrice  float64         `json:"original_price,omitempty"`
	Quantity       int             `json:"quantity"`
	Attributes     []AttributePair `json:"attributes"`
	IsFreeShipping bool            `json:"is_free_shipping"`
	Thumbnail      string          `json:"thumbnail,omitempty"`
}

// LineKey identifies a cart line by product and chosen attributes, so the
// same product in two sizes occupies two lines. The result is URL safe.
func LineKey(productID string, attrs []AttributePair) string {
	if len(attrs) == 0 {
		return productID
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, a.Title+"="+a.Value)
	}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return productID + "-" + hex.EncodeToString(sum[:4])
}
