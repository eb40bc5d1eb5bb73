package models

type AttributePair struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// IsZero reports whether the pair carries no usable title/value.
func (p AttributePair) IsZero() bool {
	return p.Title == "" || p.Value == ""
}

type AttributeGroup struct {
	Title  string   `json:"title"`
	Values []string `json:"values"`
}

type Product struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	Price          float64          `json:"price"`
	Discount       float64          `json:"discount"`
	Stock          int              `json:"stock"`
	IsFreeShipping bool             `json:"is_free_shipping"`
	Category       string           `json:"category,omitempty"`
	Attributes     []AttributeGroup `json:"attributes,omitempty"`
	BundleProducts []BundleProduct  `json:"bundle_products,omitempty"`
	Thumbnail      string           `json:"thumbnail,omitempty"`
	Images         []string         `json:"images,omitempty"`
}

// BundleProduct is a companion product offered next to a primary product.
// Price is already net of the companion's own discount.
type BundleProduct struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Price             float64          `json:"price"`
	OriginalPrice     float64          `json:"original_price,omitempty"`
	Attribute         []AttributePair  `json:"attribute,omitempty"`
	Attributes        []AttributeGroup `json:"attributes,omitempty"`
	DefaultAttributes []AttributePair  `json:"defaultAttributes,omitempty"`
	Variant           string           `json:"variant,omitempty"`
	IsFreeShipping    bool             `json:"is_free_shipping,omitempty"`
	Thumbnail         string           `json:"thumbnail,omitempty"`
}

type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count,omitempty"`
}
