package domain

import "time"

// Product is a catalog entry. Variants is filled by catalog reads only.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	PriceCents  int64     `json:"price_cents"`
	SKU         string    `json:"sku"`
	Stock       int64     `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	Variants    []Variant `json:"variants,omitempty"`
}

// Variant adjusts the base product price by PriceDeltaCents.
type Variant struct {
	ID              int64  `json:"id"`
	ProductID       int64  `json:"product_id"`
	Name            string `json:"name"`
	PriceDeltaCents int64  `json:"price_delta_cents"`
	SKUVariant      string `json:"sku_variant"`
	Stock           int64  `json:"stock"`
}

// UnitPrice returns the price of one unit of p in the given variant (nil for none).
func (p *Product) UnitPrice(v *Variant) int64 {
	if v == nil {
		return p.PriceCents
	}
	return p.PriceCents + v.PriceDeltaCents
}
