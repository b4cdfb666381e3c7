package domain

import "time"

// Order and payment states.
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderRefunded  = "refunded"
	OrderCancelled = "cancelled"

	PaymentPending  = "pending"
	PaymentCaptured = "captured"
	PaymentRefunded = "refunded"
)

// Cart belongs to exactly one user.
type Cart struct {
	ID     int64      `json:"id"`
	UserID int64      `json:"user_id"`
	Items  []CartItem `json:"items"`
}

// CartItem is a priced line snapshot joined with its product and variant.
type CartItem struct {
	ID                 int64   `json:"id"`
	CartID             int64   `json:"cart_id"`
	ProductID          int64   `json:"product_id"`
	VariantID          *int64  `json:"variant_id"`
	Qty                int64   `json:"qty"`
	PriceCentsSnapshot int64   `json:"price_cents_snapshot"`
	Name               string  `json:"name,omitempty"`
	Description        string  `json:"description,omitempty"`
	PriceCents         int64   `json:"price_cents,omitempty"`
	ProductSKU         string  `json:"product_sku,omitempty"`
	VariantName        *string `json:"variant_name,omitempty"`
	PriceDeltaCents    *int64  `json:"price_delta_cents,omitempty"`
	SKUVariant         *string `json:"sku_variant,omitempty"`
}

// UnitPrice is the current catalog price of one unit of the line.
func (c *CartItem) UnitPrice() int64 {
	if c.PriceDeltaCents == nil {
		return c.PriceCents
	}
	return c.PriceCents + *c.PriceDeltaCents
}

// Order is a placed order with its lines, payment and refunds.
type Order struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	Status     string      `json:"status"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	Items      []OrderItem `json:"items"`
	Payment    *Payment    `json:"payment"`
	Refunds    []Refund    `json:"refunds"`
}

// OrderItem is a line of an order; PriceCentsSnapshot is the line total.
type OrderItem struct {
	ID                 int64   `json:"id"`
	OrderID            int64   `json:"order_id"`
	ProductID          int64   `json:"product_id"`
	VariantID          *int64  `json:"variant_id"`
	Qty                int64   `json:"qty"`
	PriceCentsSnapshot int64   `json:"price_cents_snapshot"`
	Name               string  `json:"name,omitempty"`
	VariantName        *string `json:"variant_name,omitempty"`
}

// NewOrderLine is an order line to be inserted.
type NewOrderLine struct {
	ProductID int64
	VariantID *int64
	Qty       int64
	LineCents int64
}

// Payment is the single payment record of an order.
type Payment struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	CardLast4 *string   `json:"card_last4"`
	TxnRef    *string   `json:"txn_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// Refund records money returned for an order.
type Refund struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
