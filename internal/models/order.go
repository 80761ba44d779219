package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type FinancialStatus string

const (
	FinancialPending           FinancialStatus = "pending"
	FinancialAuthorized        FinancialStatus = "authorized"
	FinancialPartiallyPaid     FinancialStatus = "partially_paid"
	FinancialPaid              FinancialStatus = "paid"
	FinancialPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialRefunded          FinancialStatus = "refunded"
	FinancialVoided            FinancialStatus = "voided"
)

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentPartial     FulfillmentStatus = "partial"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
)

type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID                uuid.UUID         `json:"id"`
	OrderNumber       string            `json:"order_number"`
	UserID            string            `json:"user_id"`
	Email             string            `json:"email"`
	Status            OrderStatus       `json:"status"`
	FinancialStatus   FinancialStatus   `json:"financial_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	Tax               decimal.Decimal   `json:"tax"`
	Shipping          decimal.Decimal   `json:"shipping"`
	Discount          decimal.Decimal   `json:"discount"`
	Total             decimal.Decimal   `json:"total"`
	Currency          string            `json:"currency"`
	BillingAddress    *Address          `json:"billing_address,omitempty"`
	ShippingAddress   *Address          `json:"shipping_address,omitempty"`
	Tags              []string          `json:"tags"`
	Notes             string            `json:"notes,omitempty"`
	TrackingNumber    string            `json:"tracking_number,omitempty"`
	TrackingCarrier   string            `json:"tracking_carrier,omitempty"`
	TrackingURL       string            `json:"tracking_url,omitempty"`
	CancelReason      string            `json:"cancel_reason,omitempty"`
	LineItems         []LineItem        `json:"line_items"`
	Discounts         []Discount        `json:"discounts"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	ShippedAt         *time.Time        `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
}

// BalanceHolds reports whether Total equals Subtotal + Tax + Shipping - Discount.
func (o *Order) BalanceHolds() bool {
	expected := o.Subtotal.Add(o.Tax).Add(o.Shipping).Sub(o.Discount)
	return expected.Equal(o.Total) && !o.Total.IsNegative()
}

// Clone returns a deep copy so callers can diff before/after states.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		c.BillingAddress = &addr
	}
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		c.ShippingAddress = &addr
	}
	c.Tags = append([]string(nil), o.Tags...)
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	c.Discounts = append([]Discount(nil), o.Discounts...)
	c.ProcessedAt = cloneTime(o.ProcessedAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

type LineItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	ProductID  string          `json:"product_id"`
	VariantID  string          `json:"variant_id,omitempty"`
	SKU        string          `json:"sku,omitempty"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
	Properties map[string]any  `json:"properties,omitempty"`
}

type DiscountKind string

const (
	DiscountPercentage  DiscountKind = "percentage"
	DiscountFixedAmount DiscountKind = "fixed_amount"
	DiscountShipping    DiscountKind = "shipping"
)

// Discount is the frozen result of resolving a discount at order creation.
type Discount struct {
	ID      uuid.UUID       `json:"id"`
	OrderID uuid.UUID       `json:"order_id"`
	Code    string          `json:"code"`
	Kind    DiscountKind    `json:"kind"`
	Value   decimal.Decimal `json:"value"`
	Amount  decimal.Decimal `json:"amount"`
}

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAdmin  ActorType = "admin"
	ActorSystem ActorType = "system"
)

const (
	EventOrderCreated        = "created"
	EventOrderUpdated        = "updated"
	EventOrderCancelled      = "cancelled"
	EventPaymentIntent       = "payment_intent_created"
	EventPaymentSucceeded    = "payment_succeeded"
	EventPaymentFailed       = "payment_failed"
	EventOrderRefundCreated  = "refund_created"
	EventOrderRefundSettled  = "refund_succeeded"
	EventOrderRefundRejected = "refund_failed"
)

// OrderEvent is an append-only audit record.
type OrderEvent struct {
	ID        uuid.UUID      `json:"id"`
	OrderID   uuid.UUID      `json:"order_id"`
	Type      string         `json:"type"`
	ActorType ActorType      `json:"actor_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Previous  map[string]any `json:"previous,omitempty"`
	Current   map[string]any `json:"current,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type OrderFilter struct {
	UserID string
	Status OrderStatus
	Limit  int
	Offset int
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
