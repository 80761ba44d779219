package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart is keyed by its owner: a user id or "guest:<session>".
type Cart struct {
	ID        uuid.UUID      `json:"id"`
	OwnerKey  string         `json:"owner_key"`
	Items     []CartLineItem `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the cart is past its expiry at now.
func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

type CartLineItem struct {
	ID         uuid.UUID      `json:"id"`
	CartID     uuid.UUID      `json:"cart_id"`
	ProductID  string         `json:"product_id"`
	VariantID  string         `json:"variant_id,omitempty"`
	Quantity   int            `json:"quantity"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
