package models

import "time"

// Order metadata keys. Payment state lives in the order's metadata bag
// because the commerce backend's native payment_status field is not
// writable through this integration.
const (
	MetaPaymentCaptured    = "payment_captured"
	MetaPaymentStatus      = "payment_status"
	MetaPaymentIntentID    = "payment_intent_id"
	MetaPaymentConfirmedAt = "payment_confirmed_at"
	MetaCartID             = "cart_id"
	MetaActivityLog        = "activity_log"
	MetaCreatedFrom        = "created_from"
	MetaReceiptURL         = "receipt_url"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

// Order is the commerce backend's order entity, reduced to the fields
// this service reads and writes. Total is in major units.
type Order struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CurrencyCode string         `json:"currency_code"`
	Total        float64        `json:"total"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Captured reports whether the order's metadata already marks the
// payment as captured. All reconciliation entry points agree on this
// flag.
func (o *Order) Captured() bool {
	if o.Metadata == nil {
		return false
	}
	captured, ok := o.Metadata[MetaPaymentCaptured].(bool)
	return ok && captured
}

// ActivityEntry is one append-only audit-trail entry inside order
// metadata.
type ActivityEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Status    string `json:"status"`
}

type OrderItemInput struct {
	Title     string         `json:"title"`
	Quantity  int            `json:"quantity"`
	UnitPrice float64        `json:"unit_price"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type CreateOrderInput struct {
	Email         string           `json:"email"`
	CurrencyCode  string           `json:"currency_code"`
	Total         float64          `json:"total"`
	Subtotal      float64          `json:"subtotal"`
	TaxTotal      float64          `json:"tax_total"`
	ShippingTotal float64          `json:"shipping_total"`
	DiscountTotal float64          `json:"discount_total"`
	Items         []OrderItemInput `json:"items"`
	Metadata      map[string]any   `json:"metadata"`
}
